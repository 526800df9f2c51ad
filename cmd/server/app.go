package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go-php-runner/accesslog"
	"go-php-runner/config"
	"go-php-runner/engine"
	"go-php-runner/message"
	"go-php-runner/pidfile"
	"go-php-runner/runner"
	"go-php-runner/server"
	"go-php-runner/static"
)

// start wires the runner together from cfg and blocks until ctx is done.
func start(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pid, err := pidfile.New(cfg.PIDFilePath())
	if err != nil {
		return err
	}
	// refuse before spawning any PHP worker
	if err := runner.EnsureNotRunning(pid); err != nil {
		return err
	}

	srv, err := server.NewServer(cfg.ServerConfig(logger))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	if cfg.HotReload {
		if err := srv.EnableHotReload(cfg.ProjectRoot); err != nil {
			logger.Warn("hot reload disabled", "error", err)
		} else {
			logger.Info("hot reload enabled")
		}
	}

	var (
		stat  *static.StatCache
		files *static.Handler
	)
	if cfg.Static.Enabled {
		stat = static.NewStatCache()
		files, err = cfg.StaticHandler(stat, logger)
		if err != nil {
			return err
		}
		if cfg.Static.Watch {
			if err := stat.Watch(ctx, files.Root(), logger); err != nil {
				logger.Warn("static watch disabled", "error", err)
			}
		}
	}

	metrics := NewMetrics()
	sinks := accessLogs{metrics}
	if cfg.AccessLog.Enabled {
		sink, closeSink, err := newAccessLog(cfg, logger)
		if err != nil {
			return err
		}
		defer closeSink()
		sinks = append(sinks, sink)
	}

	r := runner.New(pid, srv,
		runner.WithStatic(files),
		runner.WithRequestFactory(&message.Factory{MaxBodyBytes: cfg.MaxBodyBytes}),
		runner.WithErrorResponder(message.ErrorResponder{Logger: logger}),
		runner.WithEmitter(message.Emitter{}),
		runner.WithAccessLog(sinks),
		runner.WithProcessNamer(runner.OSProcessNamer{}),
		runner.WithProcessPrefix(cfg.ProcessName),
		runner.WithWorkDir(cfg.ProjectRoot),
		runner.WithLogger(logger),
	)

	eng := engine.New(cfg.EngineConfig(logger))
	eng.OnReload(func() error {
		srv.ForceRecycleWorkers()
		if stat != nil {
			stat.Clear()
		}
		return nil
	})

	go watchReload(ctx, eng, logger)

	if cfg.AdminAddr != "" {
		go serveAdmin(ctx, cfg.AdminAddr, adminHandler(srv, metrics, eng.Reload, logger), logger)
	}

	logger.Info("starting",
		"addr", cfg.ServerAddr,
		"fast_workers", cfg.FastWorkers,
		"slow_workers", cfg.SlowWorkers,
		"timeout_ms", cfg.RequestTimeoutMs,
		"max_requests", cfg.MaxRequestsPerWorker,
		"document_root", staticRoot(files),
		"pid_file", pid.Path(),
	)
	return r.Run(ctx, eng)
}

func staticRoot(h *static.Handler) string {
	if h == nil {
		return "-"
	}
	return h.Root()
}

// newAccessLog returns the configured access log sink: a file when one is
// configured, otherwise the application logger.
func newAccessLog(cfg *config.Config, logger *slog.Logger) (*accesslog.Logger, func(), error) {
	f, err := accesslog.NewFormatter(cfg.AccessLog.Format, accesslog.WithServerName(cfg.AccessLog.ServerName))
	if err != nil {
		return nil, nil, err
	}
	if cfg.AccessLog.File == "" {
		return accesslog.NewLogger(f, logger), func() {}, nil
	}

	path := cfg.Resolve(cfg.AccessLog.File)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open access log: %w", err)
	}
	return accesslog.NewWriterLogger(f, file), func() { _ = file.Close() }, nil
}

// watchReload calls eng.Reload for every reload signal until ctx is done.
func watchReload(ctx context.Context, eng *engine.HTTP, logger *slog.Logger) {
	ch := make(chan os.Signal, 1)
	notifyReload(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			logger.Info("reload signal received")
			if err := eng.Reload(); err != nil {
				logger.Error("reload", "error", err)
			}
		}
	}
}

func serveAdmin(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) {
	logger = logger.With("component", "admin")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("admin listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("admin listen", "error", err)
	}
}
