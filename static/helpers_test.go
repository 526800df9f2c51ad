package static

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingTransport records what a handler writes instead of sending it.
type recordingTransport struct {
	status    int
	headers   map[string]string
	sendFiles []string
	writes    [][]byte
	body      bytes.Buffer
	ended     int
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{headers: make(map[string]string)}
}

func (t *recordingTransport) SetStatus(code int)           { t.status = code }
func (t *recordingTransport) SetHeader(name, value string) { t.headers[name] = value }

func (t *recordingTransport) SendFile(filename string) (int64, error) {
	t.sendFiles = append(t.sendFiles, filename)
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, err
	}
	n, err := t.body.Write(data)
	return int64(n), err
}

func (t *recordingTransport) Write(p []byte) (int, error) {
	t.writes = append(t.writes, append([]byte(nil), p...))
	return t.body.Write(p)
}

func (t *recordingTransport) End() error {
	t.ended++
	return nil
}

// writeFile creates name under dir with content and a fixed mtime.
func writeFile(t *testing.T, dir, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func newRequest(method, target string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func boolPtr(b bool) *bool { return &b }

var fixedMtime = time.Date(2024, time.March, 10, 12, 30, 45, 0, time.UTC)
