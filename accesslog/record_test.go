package accesslog

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-php-runner/logging"
	"go-php-runner/message"
	"go-php-runner/static"
)

func TestFromStatic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	stages, err := static.DefaultStages(static.Options{})
	require.NoError(t, err)
	h, err := static.NewHandler(dir, stages)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	rw := httptest.NewRecorder()
	resp, ok := h.Handle(static.NewResponseWriterTransport(rw), req)
	require.True(t, ok)

	rec := FromStatic(req, resp, begin, end)
	assert.Equal(t, http.StatusOK, rec.Status)
	assert.Equal(t, int64(5), rec.BodySize)
	assert.Equal(t, filepath.Join(h.Root(), "a.txt"), rec.Filename)
	assert.Equal(t, "text/plain", rec.Header.Get("Content-Type"))
	assert.Equal(t, "5", rec.Header.Get("Content-Length"))
	assert.Equal(t, HandlerStatic, rec.Handler)
}

func TestFromStaticGzipHeaders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(strings.Repeat("hello ", 100)), 0o644))

	stages, err := static.DefaultStages(static.Options{GzipLevel: 6})
	require.NoError(t, err)
	h, err := static.NewHandler(dir, stages)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rw := httptest.NewRecorder()
	resp, ok := h.Handle(static.NewResponseWriterTransport(rw), req)
	require.True(t, ok)
	require.Equal(t, "gzip", rw.Header().Get("Content-Encoding"))

	f, err := NewFormatter("%{Content-Encoding}o %{Content-Length}o %X")
	require.NoError(t, err)
	assert.Equal(t, "gzip - -", f.Format(FromStatic(req, resp, begin, end)))
}

func TestFromApplication(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api", nil)
	resp := &message.Response{ID: "abc", Headers: map[string]string{"x-powered-by": "php"}, Body: "ok"}

	rec := FromApplication(req, resp, 2, begin, end)
	assert.Equal(t, http.StatusOK, rec.Status, "zero status means 200")
	assert.Equal(t, int64(2), rec.BodySize)
	assert.Equal(t, "php", rec.Header.Get("X-Powered-By"))
	assert.Equal(t, "abc", rec.RequestID)
	assert.Equal(t, HandlerApplication, rec.Handler)
	assert.Empty(t, rec.Filename)
}

func TestWriterLogger(t *testing.T) {
	f, err := NewFormatter("%m %U %>s")
	require.NoError(t, err)

	var buf bytes.Buffer
	l := NewWriterLogger(f, &buf)
	l.Log(testRecord())
	l.Log(testRecord())

	assert.Equal(t, "GET /content.txt 200\nGET /content.txt 200\n", buf.String())
}

func TestSlogLogger(t *testing.T) {
	f, err := NewFormatter("common")
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: slog.LevelInfo, Format: logging.FormatJSON, Output: &buf})
	NewLogger(f, logger).Log(testRecord())

	out := buf.String()
	assert.True(t, strings.Contains(out, `"component":"access"`), out)
	assert.True(t, strings.Contains(out, `"request_id":"req-1"`), out)
	assert.True(t, strings.Contains(out, `GET /content.txt?v=1 HTTP/1.1`), out)
}
