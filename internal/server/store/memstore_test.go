package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profkeeper/internal/protocol"
	"profkeeper/internal/server/snapshot"
)

func newVolatileStore() *MemStore {
	return NewMemStore(nil, nil, "")
}

func TestMemStore_CreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newVolatileStore()

	require.NoError(t, s.Create(ctx, "alice", "secret123"))
	require.NoError(t, s.Authenticate(ctx, "alice", "secret123"))

	err := s.Create(ctx, "alice", "other")
	assert.True(t, errors.Is(err, protocol.ErrUserExists))

	// Unknown user and wrong password produce the identical error.
	errUnknown := s.Authenticate(ctx, "bob", "secret123")
	errWrongPass := s.Authenticate(ctx, "alice", "wrong")
	assert.True(t, errors.Is(errUnknown, protocol.ErrLogin))
	assert.True(t, errors.Is(errWrongPass, protocol.ErrLogin))
	assert.Equal(t, errUnknown, errWrongPass)
}

func TestMemStore_ContentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newVolatileStore()
	require.NoError(t, s.Create(ctx, "alice", "secret123"))

	// Absent before any SET.
	_, err := s.GetContent(ctx, "alice")
	assert.True(t, errors.Is(err, protocol.ErrNoData))

	_, err = s.GetContent(ctx, "bob")
	assert.True(t, errors.Is(err, protocol.ErrNoUser))

	blob := []byte("hello")
	require.NoError(t, s.SetContent(ctx, "alice", blob))
	got, err := s.GetContent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Zero-length content is a value, not absence.
	require.NoError(t, s.SetContent(ctx, "alice", []byte{}))
	got, err = s.GetContent(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Len(t, got, 0)

	err = s.SetContent(ctx, "bob", blob)
	assert.True(t, errors.Is(err, protocol.ErrNoUser))
}

func TestMemStore_ContentIsCopied(t *testing.T) {
	ctx := context.Background()
	s := newVolatileStore()
	require.NoError(t, s.Create(ctx, "alice", "pw"))

	blob := []byte("hello")
	require.NoError(t, s.SetContent(ctx, "alice", blob))
	blob[0] = 'X'

	got, err := s.GetContent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got[1] = 'Y'
	again, err := s.GetContent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), again)
}

func TestMemStore_ListUsernames_RegistrationOrder(t *testing.T) {
	ctx := context.Background()
	s := newVolatileStore()

	// Deliberately not alphabetical: the listing must preserve insertion
	// order, not sort.
	for _, name := range []string{"zoe", "alice", "mike"} {
		require.NoError(t, s.Create(ctx, name, "pw"))
	}

	names, err := s.ListUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"zoe", "alice", "mike"}, names)
}

func TestMemStore_ConcurrentCreate_OneWinner(t *testing.T) {
	ctx := context.Background()
	s := newVolatileStore()

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make([]error, goroutines)

	for i := range goroutines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, "alice", "pw")
		}(i)
	}
	wg.Wait()

	var ok, exists int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, protocol.ErrUserExists):
			exists++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, goroutines-1, exists)
}

func TestMemStore_ConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := newVolatileStore()
	require.NoError(t, s.Create(ctx, "alice", "pw"))

	// Writers flip between two blobs while readers check they only ever see
	// one of them whole.
	a := bytes.Repeat([]byte{'a'}, 128)
	b := bytes.Repeat([]byte{'b'}, 128)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				blob := a
				if i%2 == 1 {
					blob = b
				}
				_ = s.SetContent(ctx, "alice", blob)
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				got, err := s.GetContent(ctx, "alice")
				if errors.Is(err, protocol.ErrNoData) {
					continue
				}
				if err != nil {
					t.Errorf("GetContent: %v", err)
					return
				}
				if !bytes.Equal(got, a) && !bytes.Equal(got, b) {
					t.Errorf("observed torn content: %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestMemStore_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.dat")

	s := NewMemStore(snapshot.NewFileSink(path), nil, "")
	require.NoError(t, s.Load(ctx))

	require.NoError(t, s.Create(ctx, "alice", "secret123"))
	require.NoError(t, s.Create(ctx, "bob", "hunter2"))
	require.NoError(t, s.Create(ctx, "carol", "pw3"))
	require.NoError(t, s.SetContent(ctx, "alice", []byte("hello")))
	require.NoError(t, s.SetContent(ctx, "carol", []byte{}))
	require.NoError(t, s.Persist(ctx))

	// Simulated restart.
	s2 := NewMemStore(snapshot.NewFileSink(path), nil, "")
	require.NoError(t, s2.Load(ctx))

	names, err := s2.ListUsernames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)

	require.NoError(t, s2.Authenticate(ctx, "alice", "secret123"))
	require.NoError(t, s2.Authenticate(ctx, "bob", "hunter2"))

	got, err := s2.GetContent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	// bob never set content: still absent after the round trip.
	_, err = s2.GetContent(ctx, "bob")
	assert.True(t, errors.Is(err, protocol.ErrNoData))

	// carol's empty content survives as empty, not absent.
	got, err = s2.GetContent(ctx, "carol")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Len(t, got, 0)
}

func TestMemStore_LoadMissingSnapshotIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(snapshot.NewFileSink(filepath.Join(t.TempDir(), "none.dat")), nil, "")
	require.NoError(t, s.Load(ctx))

	names, err := s.ListUsernames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemStore_PersistFansOutToExtraSinks(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.dat")
	extra := &captureSink{}

	s := NewMemStore(snapshot.NewFileSink(path), []snapshot.Sink{extra}, "")
	require.NoError(t, s.Create(ctx, "alice", "pw"))
	require.NoError(t, s.Persist(ctx))

	file := snapshot.NewFileSink(path)
	onDisk, err := file.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, onDisk, extra.data)
}

type captureSink struct {
	data []byte
}

func (c *captureSink) Put(ctx context.Context, data []byte) error {
	c.data = append([]byte(nil), data...)
	return nil
}
