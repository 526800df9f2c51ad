package server

import (
	"io"
	"testing"
	"time"

	"go-php-runner/message"
)

// newFakeWorker returns a Worker whose stdin/stdout are in-memory pipes.
// The fake answers every request with label + ":" + req.Path so tests can
// tell which worker handled it.
func newFakeWorker(t *testing.T, label string, timeout time.Duration) *Worker {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	w := &Worker{
		stdin:          stdinW,
		stdout:         stdoutR,
		maxRequests:    1000,
		requestTimeout: timeout,
	}

	go func() {
		defer stdinR.Close()
		defer stdoutW.Close()

		for {
			var req message.Request
			if err := readFrame(stdinR, &req); err != nil {
				return
			}

			resp := message.Response{
				ID:     req.ID,
				Status: 200,
				Headers: map[string]string{
					"X-Worker": label,
				},
				Body: label + ":" + req.Path,
			}
			if err := writeFrame(stdoutW, &resp); err != nil {
				return
			}
		}
	}()

	t.Cleanup(w.Close)
	return w
}

// newFakePool builds a WorkerPool with n fake workers labeled w0, w1, ...
func newFakePool(t *testing.T, n int, timeout time.Duration) *WorkerPool {
	t.Helper()
	workers := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, newFakeWorker(t, "w"+string(rune('0'+i)), timeout))
	}

	return &WorkerPool{workers: workers}
}
