// Package runner dispatches requests to the static pipeline or the
// application and drives the server lifecycle: pid file, working
// directory, process names.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go-php-runner/accesslog"
	"go-php-runner/logging"
	"go-php-runner/message"
	"go-php-runner/pidfile"
	"go-php-runner/static"
)

// State is the lifecycle state of a Runner.
type State int32

const (
	NotStarted State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrAlreadyStarted = errors.New("runner was already started")
)

// Runner implements Hooks for an Engine.
type Runner struct {
	state     atomic.Int32
	workerNum atomic.Int64

	pid     *pidfile.File
	static  *static.Handler
	app     Application
	factory RequestFactory
	errs    ErrorResponder
	emitter Emitter
	access  AccessLog
	namer   ProcessNamer
	clock   Clock
	chdir   func(dir string) error
	workDir string
	prefix  string
	logger  *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStatic serves static resources through h before the application.
func WithStatic(h *static.Handler) Option { return func(r *Runner) { r.static = h } }

func WithRequestFactory(f RequestFactory) Option { return func(r *Runner) { r.factory = f } }
func WithErrorResponder(e ErrorResponder) Option { return func(r *Runner) { r.errs = e } }
func WithEmitter(e Emitter) Option               { return func(r *Runner) { r.emitter = e } }
func WithAccessLog(l AccessLog) Option           { return func(r *Runner) { r.access = l } }
func WithProcessNamer(n ProcessNamer) Option     { return func(r *Runner) { r.namer = n } }
func WithClock(c Clock) Option                   { return func(r *Runner) { r.clock = c } }
func WithChdir(fn func(string) error) Option     { return func(r *Runner) { r.chdir = fn } }
func WithLogger(l *slog.Logger) Option           { return func(r *Runner) { r.logger = l } }

// WithWorkDir overrides the working directory restored on every start.
// By default it is the directory current when New is called.
func WithWorkDir(dir string) Option { return func(r *Runner) { r.workDir = dir } }

// WithProcessPrefix sets the prefix of process names, "go-php" by default.
func WithProcessPrefix(p string) Option { return func(r *Runner) { r.prefix = p } }

// New returns a runner for app that records its pids in pid.
func New(pid *pidfile.File, app Application, opts ...Option) *Runner {
	r := &Runner{
		pid:     pid,
		app:     app,
		factory: &message.Factory{},
		emitter: message.Emitter{},
		access:  nopAccessLog{},
		namer:   OSProcessNamer{},
		clock:   systemClock{},
		chdir:   os.Chdir,
		prefix:  "go-php",
	}
	if wd, err := os.Getwd(); err == nil {
		r.workDir = wd
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).With("component", "runner")
	if r.errs == nil {
		r.errs = message.ErrorResponder{Logger: r.logger}
	}
	return r
}

func (r *Runner) State() State { return State(r.state.Load()) }

// EnsureNotRunning fails with ErrAlreadyRunning when pid names two live
// processes.
func EnsureNotRunning(pid *pidfile.File) error {
	if pid == nil {
		return nil
	}
	if rec, ok := pid.Read(); ok && rec.Running() {
		return fmt.Errorf("%w (master %d, manager %d, pid file %s)", ErrAlreadyRunning, rec.MasterPID, rec.ManagerPID, pid.Path())
	}
	return nil
}

// Run starts eng and blocks until it returns. A server that is already
// running is detected before the engine binds anything.
func (r *Runner) Run(ctx context.Context, eng Engine) error {
	if err := EnsureNotRunning(r.pid); err != nil {
		return err
	}
	if r.State() != NotStarted {
		return ErrAlreadyStarted
	}

	stop := context.AfterFunc(ctx, func() {
		if r.state.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
			r.logger.Info("shutting down")
		}
	})
	defer stop()

	return eng.Start(ctx, r)
}

// OnStart records the pids, restores the working directory and names the
// master process.
func (r *Runner) OnStart(info ServerInfo) {
	if !r.state.CompareAndSwap(int32(NotStarted), int32(Running)) {
		r.logger.Warn("start callback in unexpected state", "state", r.State().String())
		return
	}
	r.workerNum.Store(int64(info.WorkerNum))

	if r.pid != nil {
		if err := r.pid.Write(info.MasterPID, info.ManagerPID); err != nil {
			r.logger.Error("write pid file", "error", err)
		}
	}
	r.restoreWorkDir()
	r.setName(r.prefix + "-master")

	r.logger.Info("server started",
		"master_pid", info.MasterPID,
		"manager_pid", info.ManagerPID,
		"workers", info.WorkerNum,
		"task_workers", info.TaskWorkerNum,
	)
}

// OnWorkerStart prepares worker id. Ids at or above the worker count belong
// to task workers.
func (r *Runner) OnWorkerStart(id int) {
	r.restoreWorkDir()

	name := r.prefix + "-worker-" + strconv.Itoa(id)
	if int64(id) >= r.workerNum.Load() {
		name = r.prefix + "-task-worker-" + strconv.Itoa(id)
	}
	r.setName(name)

	r.logger.Info("worker started", "worker", id, "name", name)
}

// OnShutdown removes the pid file.
func (r *Runner) OnShutdown() {
	if !r.state.CompareAndSwap(int32(ShuttingDown), int32(Stopped)) &&
		!r.state.CompareAndSwap(int32(Running), int32(Stopped)) {
		r.logger.Warn("shutdown callback in unexpected state", "state", r.State().String())
		return
	}

	if r.pid != nil && !r.pid.Delete() {
		r.logger.Warn("could not delete pid file", "path", r.pid.Path())
	}
	r.logger.Info("server stopped")
}

// ServeHTTP tries the static pipeline first and falls back to the
// application. Every request is answered and logged.
func (r *Runner) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := r.clock.Now()

	if r.static != nil {
		if resp, ok := r.static.Handle(static.NewResponseWriterTransport(w), req); ok {
			r.access.Log(accesslog.FromStatic(req, resp, start, r.clock.Now()))
			return
		}
	}

	msg, err := r.factory.NewRequest(req)
	if err != nil {
		r.logger.Warn("bad request", "method", req.Method, "path", req.URL.Path, "error", err)
		r.emit(w, req, r.errs.Respond(err), start)
		return
	}

	resp, err := r.app.Handle(req.Context(), msg)
	if err != nil {
		r.logger.Error("application error", "id", msg.ID, "method", msg.Method, "path", msg.Path, "error", err)
		resp = r.errs.Respond(err)
		resp.ID = msg.ID
	}
	r.emit(w, req, resp, start)
}

func (r *Runner) emit(w http.ResponseWriter, req *http.Request, resp *message.Response, start time.Time) {
	n, err := r.emitter.Emit(w, req, resp)
	rec := accesslog.FromApplication(req, resp, n, start, r.clock.Now())
	if err != nil {
		rec.Aborted = true
		r.logger.Warn("emit response", "path", req.URL.Path, "error", err)
	}
	r.access.Log(rec)
}

func (r *Runner) restoreWorkDir() {
	if r.workDir == "" {
		return
	}
	if err := r.chdir(r.workDir); err != nil {
		r.logger.Warn("restore working directory", "dir", r.workDir, "error", err)
	}
}

func (r *Runner) setName(name string) {
	if err := r.namer.SetProcessName(name); err != nil {
		r.logger.Debug("set process name", "name", name, "error", err)
	}
}
