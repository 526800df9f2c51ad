package server

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"go-php-runner/message"
)

func TestWorkerHandleHappyPath(t *testing.T) {
	w := newFakeWorker(t, "w0", time.Second)

	resp, err := w.Handle(&message.Request{
		ID:     "abc",
		Method: "GET",
		Path:   "/test",
	})

	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if resp.Status != 200 {
		t.Fatalf("expected status 200, got %d", resp.Status)
	}

	if resp.Body != "w0:/test" {
		t.Fatalf("unexpected response body: %q", resp.Body)
	}

	if resp.ID != "abc" {
		t.Fatalf("expected response id to echo request id, got %q", resp.ID)
	}
}

func TestWorkerRecyclesAfterMaxRequests(t *testing.T) {
	w := newFakeWorker(t, "w0", time.Second)
	w.maxRequests = 2

	for i := 0; i < 2; i++ {
		if _, err := w.Handle(&message.Request{ID: "1", Method: "GET", Path: "/"}); err != nil {
			t.Fatalf("Handle %d: %v", i, err)
		}
	}

	if !w.isDead() {
		t.Fatalf("expected worker to be marked for recycle after max requests")
	}
}

func TestIsBrokenPipe(t *testing.T) {
	if !isBrokenPipe(io.EOF) {
		t.Fatalf("expected io.EOF to be treated as broken pipe")
	}

	if !isBrokenPipe(errors.New("write |1: broken pipe")) {
		t.Fatalf("expected write error to be treated as broken pipe")
	}

	if isBrokenPipe(nil) {
		t.Fatalf("nil error should not be broken pipe")
	}

	if isBrokenPipe(errors.New("some other error")) {
		t.Fatalf("unexpected error treated as broken pipe")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := &message.Request{ID: "1", Method: "POST", Path: "/x?y=1", Headers: map[string][]string{"A": {"b"}}, Body: "hi"}
	if err := writeFrame(&buf, in); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	if got := buf.Bytes()[:4]; got[0] != 0 || got[1] != 0 {
		t.Fatalf("unexpected length prefix % x", got)
	}

	var out message.Request
	if err := readFrame(&buf, &out); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if out.Path != in.Path || out.Body != in.Body || out.Headers["A"][0] != "b" {
		t.Fatalf("round trip mismatch: %#v", out)
	}
}

func TestReadFrameRejectsEmptyAndOversized(t *testing.T) {
	var v message.Response
	if err := readFrame(bytes.NewReader([]byte{0, 0, 0, 0}), &v); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF for empty frame, got %v", err)
	}
	if err := readFrame(bytes.NewReader([]byte{0xff, 0, 0, 0}), &v); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF for oversized frame, got %v", err)
	}
}

func TestWorkerPoolDispatch(t *testing.T) {
	pool := newFakePool(t, 2, time.Second)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		resp, err := pool.Dispatch(&message.Request{ID: "1", Method: "GET", Path: "/foo"})
		if err != nil {
			t.Fatalf("Pool.Dispatch error: %v", err)
		}
		if resp.Status != 200 {
			t.Fatalf("expected 200 from fake worker, got %d", resp.Status)
		}
		seen[resp.Headers["X-Worker"]] = true
	}

	if !seen["w0"] || !seen["w1"] {
		t.Fatalf("expected round robin over both workers, saw %v", seen)
	}
}

func TestWorkerTimeoutMarksDead(t *testing.T) {
	// no responding goroutine, so the request can only fail
	w := &Worker{
		stdin:          nopWriteCloser{},
		stdout:         nopReadCloser{},
		maxRequests:    1000,
		requestTimeout: time.Millisecond,
	}

	_, err := w.Handle(&message.Request{
		ID:     "1",
		Method: "GET",
		Path:   "/timeout",
	})

	if err == nil {
		t.Fatalf("expected timeout error from Handle")
	}

	if !w.isDead() {
		t.Fatalf("expected worker to be marked dead after timeout")
	}
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

type nopReadCloser struct{}

func (nopReadCloser) Read(p []byte) (int, error) { return 0, io.EOF }
func (nopReadCloser) Close() error               { return nil }
