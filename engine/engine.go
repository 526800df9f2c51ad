// Package engine serves HTTP for a runner: it binds the listener, reports
// start, starts worker slots, serves requests and shuts down gracefully.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go-php-runner/logging"
	"go-php-runner/runner"
)

var ErrNotRunning = errors.New("engine is not running")

// Config configures an HTTP engine.
type Config struct {
	Addr string

	// Workers and TaskWorkers are the worker slots announced to the hooks.
	Workers     int
	TaskWorkers int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	Logger *slog.Logger
}

// HTTP is a runner.Engine on top of net/http.
type HTTP struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	hooks   runner.Hooks
	addr    net.Addr
	reloads []func() error
	ready   chan struct{}
}

func New(cfg Config) *HTTP {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	return &HTTP{
		cfg:    cfg,
		logger: logging.OrNop(cfg.Logger).With("component", "engine"),
		ready:  make(chan struct{}),
	}
}

// OnReload registers fn to run on every Reload, after the worker start
// callbacks.
func (e *HTTP) OnReload(fn func() error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reloads = append(e.reloads, fn)
}

// Ready is closed once the listener is bound, or binding failed.
func (e *HTTP) Ready() <-chan struct{} { return e.ready }

// Addr is the bound address, nil before Ready.
func (e *HTTP) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Start binds the listener and serves until ctx is done, then drains
// in-flight requests for up to ShutdownTimeout.
func (e *HTTP) Start(ctx context.Context, hooks runner.Hooks) error {
	ln, err := net.Listen("tcp", e.cfg.Addr)
	if err != nil {
		close(e.ready)
		return fmt.Errorf("listen %s: %w", e.cfg.Addr, err)
	}

	e.mu.Lock()
	e.hooks = hooks
	e.addr = ln.Addr()
	e.mu.Unlock()

	pid := os.Getpid()
	hooks.OnStart(runner.ServerInfo{
		MasterPID:     pid,
		ManagerPID:    pid,
		WorkerNum:     e.cfg.Workers,
		TaskWorkerNum: e.cfg.TaskWorkers,
	})
	if err := e.startWorkers(ctx, hooks); err != nil {
		_ = ln.Close()
		hooks.OnShutdown()
		return err
	}

	srv := &http.Server{
		Handler:           hooks,
		ReadHeaderTimeout: e.cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(e.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	e.logger.Info("listening", "addr", ln.Addr().String())
	close(e.ready)

	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			e.logger.Warn("graceful shutdown incomplete", "error", serr)
			_ = srv.Close()
		}
		err = <-errCh
	}

	e.mu.Lock()
	e.hooks = nil
	e.mu.Unlock()
	hooks.OnShutdown()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (e *HTTP) startWorkers(ctx context.Context, hooks runner.Hooks) error {
	g, _ := errgroup.WithContext(ctx)
	for id := 0; id < e.cfg.Workers+e.cfg.TaskWorkers; id++ {
		g.Go(func() error {
			hooks.OnWorkerStart(id)
			return nil
		})
	}
	return g.Wait()
}

// Reload restarts every worker slot and runs the reload hooks.
func (e *HTTP) Reload() error {
	e.mu.Lock()
	hooks := e.hooks
	reloads := append([]func() error(nil), e.reloads...)
	e.mu.Unlock()

	if hooks == nil {
		return ErrNotRunning
	}

	e.logger.Info("reloading workers")
	if err := e.startWorkers(context.Background(), hooks); err != nil {
		return err
	}

	g := new(errgroup.Group)
	for _, fn := range reloads {
		g.Go(fn)
	}
	return g.Wait()
}
