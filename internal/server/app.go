// Package server initializes and runs the main application server.
// It loads or generates the RSA key pair, configures the account store,
// handles graceful shutdown, and runs the TCP accept loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"profkeeper/internal/cryptox"
	"profkeeper/internal/logging"
	"profkeeper/internal/server/config"
	"profkeeper/internal/server/handler"
	"profkeeper/internal/server/snapshot"
	"profkeeper/internal/server/store"
)

// overridable in tests
var timeNow = time.Now

type App struct {
	config  *config.Config
	logger  logging.Logger
	store   store.Store
	handler *handler.Handler
}

func NewApp(c *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	key, err := cryptox.LoadOrGenerateKey(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("key init error: %w", err)
	}

	channel, err := cryptox.NewChannel(key)
	if err != nil {
		return nil, fmt.Errorf("key init error: %w", err)
	}

	st, err := newStore(c)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	h := handler.New(channel, st, logger)

	return &App{config: c, logger: logger, store: st, handler: h}, nil
}

// newStore selects PostgreSQL when a DSN is configured and the snapshotting
// in-memory store otherwise. The S3 sink is attached only when a base
// endpoint is set.
func newStore(c *config.Config) (store.Store, error) {
	if c.DatabaseDSN != "" {
		return store.NewPostgresStore(c.DatabaseDSN)
	}

	var extra []snapshot.Sink
	if c.S3BaseEndpoint != "" {
		extra = append(extra, snapshot.NewS3Sink(snapshot.S3Config{
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			ObjectKey:    c.S3ObjectKey,
		}))
	}

	ms := store.NewMemStore(snapshot.NewFileSink(c.SnapshotFile), extra, c.SnapshotPassphrase)
	if err := ms.Load(context.Background()); err != nil {
		return nil, err
	}
	return ms, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// startTCPServer accepts connections until ctx is cancelled and serves each
// one on its own goroutine. An authenticated BYE cancels the context, which
// closes the listener; already accepted connections are drained before
// returning.
func (app *App) startTCPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	listen, err := net.Listen("tcp", app.config.Addr)
	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping TCP server...")
		listen.Close()
	}()

	app.logger.Info(ctx, "Starting TCP server", "address", app.config.Addr)

	var wg sync.WaitGroup

	for {
		conn, err := listen.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				app.logger.Error(ctx, err.Error())
				cancelFunc()
			}
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			app.serveConn(ctx, conn, cancelFunc)
		}()
	}

	wg.Wait()
}

func (app *App) serveConn(ctx context.Context, conn net.Conn, cancelFunc context.CancelFunc) {
	if app.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(timeNow().Add(app.config.ReadTimeout)); err != nil {
			app.logger.Warn(ctx, "setting read deadline failed", "error", err.Error())
		}
	}

	if halt := app.handler.Serve(ctx, conn); halt {
		app.logger.Info(ctx, "Halt requested, shutting down")
		cancelFunc()
	}
}

// Run starts the server and blocks until a signal arrives or a client
// requests a halt. On a clean shutdown the store is persisted a final time
// before closing.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startTCPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.store.Persist(context.Background()); err != nil {
		app.logger.Error(ctx, "final persist failed", "error", err.Error())
	}
	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, "store close failed", "error", err.Error())
	}

	app.logger.Info(ctx, "Server stopped")
}
