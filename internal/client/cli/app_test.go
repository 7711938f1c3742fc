package cli

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientcfg "profkeeper/internal/client/config"
	"profkeeper/internal/cryptox"
	"profkeeper/internal/logging"
	"profkeeper/internal/protocol"
	"profkeeper/internal/server/handler"
	"profkeeper/internal/server/store"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate test key: %v", err)
		}
	})
	return testKey
}

func startServer(t *testing.T) string {
	t.Helper()

	ch, err := cryptox.NewChannel(testPrivateKey(t))
	require.NoError(t, err)
	h := handler.New(ch, store.NewMemStore(nil, nil, ""), logging.NopLogger{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go h.Serve(context.Background(), conn)
		}
	}()

	return ln.Addr().String()
}

// newTestApp builds an App pointed at addr, with the key cache and working
// files under a temp dir and output captured in a buffer.
func newTestApp(t *testing.T, addr string) (*App, *bytes.Buffer) {
	t.Helper()

	cfg := &clientcfg.Config{
		ServerEndpointAddr: addr,
		KeyFile:            filepath.Join(t.TempDir(), "server_pub.pem"),
		RequestTimeout:     5 * time.Second,
	}

	var out bytes.Buffer
	app := NewApp(cfg)
	app.out = &out
	app.reader = bufio.NewReader(strings.NewReader(""))
	return app, &out
}

func TestApp_KeyCommand(t *testing.T) {
	addr := startServer(t)
	app, out := newTestApp(t, addr)

	require.NoError(t, app.Run(context.Background(), []string{"key"}))

	pem, err := os.ReadFile(app.config.KeyFile)
	require.NoError(t, err)
	assert.Len(t, pem, protocol.LenRSAPubKey)
	assert.Contains(t, out.String(), app.config.KeyFile)
}

func TestApp_RegisterAndList(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)
	app, out := newTestApp(t, addr)
	stubPassword(t, []byte("secret123"), nil)

	require.NoError(t, app.Run(ctx, []string{"reg", "alice"}))

	// The key was fetched implicitly and cached for the next run.
	_, err := os.Stat(app.config.KeyFile)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"all", "alice"}))
	assert.Contains(t, out.String(), "alice")
}

func TestApp_SetAndGet(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)
	app, out := newTestApp(t, addr)
	stubPassword(t, []byte("secret123"), nil)

	require.NoError(t, app.Run(ctx, []string{"reg", "alice"}))

	dir := t.TempDir()
	src := filepath.Join(dir, "profile.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello world"), 0o600))
	require.NoError(t, app.Run(ctx, []string{"set", "alice", src}))

	// get writes <target>.file.dat in the working directory.
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.Chdir(dir))

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"get", "alice", "alice"}))

	got, err := os.ReadFile(filepath.Join(dir, "alice.file.dat"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
	assert.Contains(t, out.String(), "alice.file.dat")
}

func TestApp_WrongPassword(t *testing.T) {
	ctx := context.Background()
	addr := startServer(t)
	app, _ := newTestApp(t, addr)

	stubPassword(t, []byte("secret123"), nil)
	require.NoError(t, app.Run(ctx, []string{"reg", "alice"}))

	stubPassword(t, []byte("wrong"), nil)
	err := app.Run(ctx, []string{"all", "alice"})
	assert.ErrorIs(t, err, protocol.ErrLogin)
}

func TestApp_Usage(t *testing.T) {
	app, _ := newTestApp(t, "127.0.0.1:1")

	tests := []struct {
		name string
		args []string
	}{
		{name: "no args", args: nil},
		{name: "unknown command", args: []string{"frobnicate", "alice"}},
		{name: "missing username", args: []string{"reg"}},
		{name: "set without file", args: []string{"set", "alice"}},
		{name: "get without target", args: []string{"get", "alice"}},
	}

	stubPassword(t, []byte("pw"), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := app.Run(context.Background(), tt.args)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestApp_MissingContentFile(t *testing.T) {
	addr := startServer(t)
	app, _ := newTestApp(t, addr)
	stubPassword(t, []byte("secret123"), nil)

	err := app.Run(context.Background(), []string{"set", "alice", "does-not-exist.txt"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUsage)
}
