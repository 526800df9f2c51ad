package server

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-php-runner/logging"
	"go-php-runner/message"
)

// maxFrameSize bounds a single length-prefixed JSON frame from a worker.
const maxFrameSize = 10 * 1024 * 1024

var errNoScript = errors.New("worker has no script to run")

// WorkerConfig describes how a PHP worker process is started.
type WorkerConfig struct {
	// Command is the PHP binary, "php" by default.
	Command string
	// Script is the worker entry point, relative to Dir unless absolute.
	Script string
	Dir    string
	Env    []string

	MaxRequests    int
	RequestTimeout time.Duration

	Logger *slog.Logger
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Command == "" {
		c.Command = "php"
	}
	if c.Script == "" {
		c.Script = filepath.Join("php", "worker.php")
	}
	c.Logger = logging.OrNop(c.Logger)
	return c
}

// Worker is one long-lived PHP process. Requests are written to its stdin
// and responses read from its stdout, each as a 4-byte big-endian length
// followed by JSON.
type Worker struct {
	cfg            WorkerConfig
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	mu             sync.Mutex
	dead           bool
	deadMu         sync.RWMutex
	maxRequests    int
	requestTimeout time.Duration
	requestCount   uint64
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	cfg = cfg.withDefaults()
	w := &Worker{
		cfg:            cfg,
		maxRequests:    cfg.MaxRequests,
		requestTimeout: cfg.RequestTimeout,
	}
	if err := w.spawn(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) logger() *slog.Logger {
	return logging.OrNop(w.cfg.Logger)
}

// spawn starts the process. Callers hold w.mu or own w exclusively.
func (w *Worker) spawn() error {
	if w.cfg.Script == "" {
		return errNoScript
	}

	cmd := exec.Command(w.cfg.Command, w.cfg.Script)
	cmd.Dir = w.cfg.Dir
	if len(w.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), w.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return err
	}

	cmd.Stderr = slog.NewLogLogger(w.logger().Handler(), slog.LevelWarn).Writer()

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("start %s %s: %w", w.cfg.Command, w.cfg.Script, err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = stdout
	return nil
}

func (w *Worker) isDead() bool {
	w.deadMu.RLock()
	defer w.deadMu.RUnlock()
	return w.dead
}

func (w *Worker) markDead() {
	w.deadMu.Lock()
	w.dead = true
	w.deadMu.Unlock()
}

// kill stops the process, if any, and waits for it.
func (w *Worker) kill() {
	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	if w.stdout != nil {
		_ = w.stdout.Close()
	}
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
	}
	w.cmd = nil
}

func (w *Worker) restart() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.kill()
	if err := w.spawn(); err != nil {
		return err
	}

	w.deadMu.Lock()
	w.dead = false
	w.deadMu.Unlock()

	atomic.StoreUint64(&w.requestCount, 0)

	w.logger().Info("restarted php worker", "dir", w.cfg.Dir, "pid", w.cmd.Process.Pid)
	return nil
}

// Close stops the worker process.
func (w *Worker) Close() {
	w.markDead()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.kill()
}

// Handle sends req and waits for the response. A worker whose pipe broke is
// restarted and the request retried once. After MaxRequests requests the
// worker is recycled before its next request.
func (w *Worker) Handle(req *message.Request) (*message.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if w.isDead() {
			if err := w.restart(); err != nil {
				return nil, err
			}
		}

		resp, err := w.handleRequest(req)
		if err != nil {
			if isBrokenPipe(err) {
				w.markDead()
				continue
			}
			return nil, err
		}

		n := atomic.AddUint64(&w.requestCount, 1)
		if w.maxRequests > 0 && int(n) >= w.maxRequests {
			w.markDead()
		}

		return resp, nil
	}

	return nil, io.ErrUnexpectedEOF
}

func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "write |1:") ||
		strings.Contains(msg, "read |0:")
}

func writeFrame(dst io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err = dst.Write(frame)
	return err
}

func readFrame(src io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(src, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameSize {
		return io.ErrUnexpectedEOF
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(src, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (w *Worker) handleRequest(req *message.Request) (*message.Response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stdin == nil || w.stdout == nil {
		return nil, io.ErrClosedPipe
	}
	if err := writeFrame(w.stdin, req); err != nil {
		return nil, err
	}

	type result struct {
		resp *message.Response
		err  error
	}

	stdout := w.stdout
	resCh := make(chan result, 1)
	go func() {
		var resp message.Response
		if err := readFrame(stdout, &resp); err != nil {
			resCh <- result{nil, err}
			return
		}
		resCh <- result{&resp, nil}
	}()

	if w.requestTimeout > 0 {
		timer := time.NewTimer(w.requestTimeout)
		defer timer.Stop()
		select {
		case res := <-resCh:
			return res.resp, res.err
		case <-timer.C:
			w.markDead()
			if w.cmd != nil && w.cmd.Process != nil {
				_ = w.cmd.Process.Kill()
			}
			return nil, fmt.Errorf("worker request timeout after %s", w.requestTimeout)
		}
	}

	res := <-resCh
	return res.resp, res.err
}
