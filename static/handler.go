package static

import (
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go-php-runner/logging"
)

// Handler serves files under a document root through a stage list.
type Handler struct {
	root   string
	stages []Stage
	stat   *StatCache
	logger *slog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithStatCache lets the handler drop cached metadata of files that
// disappeared. Pass the cache shared by the stages.
func WithStatCache(c *StatCache) HandlerOption {
	return func(h *Handler) { h.stat = c }
}

// NewHandler fails with a *ConfigError when root is not an existing directory.
func NewHandler(root string, stages []Stage, opts ...HandlerOption) (*Handler, error) {
	if root == "" {
		return nil, &ConfigError{Setting: "document_root", Err: ErrInvalidRoot}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &ConfigError{Setting: "document_root", Value: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return nil, &ConfigError{Setting: "document_root", Value: root, Err: ErrInvalidRoot}
	}

	h := &Handler{
		root:   filepath.Clean(abs),
		stages: append([]Stage(nil), stages...),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrNop(h.logger).With("component", "static")
	return h, nil
}

// Root is the absolute document root.
func (h *Handler) Root() string { return h.root }

// Filename maps a request path into the document root. Paths that would
// leave the root, or contain NUL, are rejected.
func (h *Handler) Filename(urlPath string) (string, bool) {
	if strings.IndexByte(urlPath, 0) >= 0 {
		return "", false
	}
	if !strings.HasPrefix(urlPath, "/") {
		urlPath = "/" + urlPath
	}
	name := filepath.Join(h.root, filepath.FromSlash(path.Clean(urlPath)))
	if name != h.root && !strings.HasPrefix(name, h.root+string(filepath.Separator)) {
		return "", false
	}
	return name, true
}

// Resolve runs the pipeline for req. It reports false when req is not a
// static resource request.
func (h *Handler) Resolve(req *http.Request) (*Response, bool) {
	filename, ok := h.Filename(req.URL.Path)
	if !ok {
		return nil, false
	}

	resp := NewQueue(h.stages...).Invoke(req, filename)
	if resp.IsFailure() {
		return nil, false
	}
	// stages may have answered from cached metadata; the file itself must
	// still be there
	if info, err := os.Stat(filename); err != nil || !info.Mode().IsRegular() {
		if h.stat != nil {
			h.stat.Forget(filename)
		}
		return nil, false
	}
	resp.filename = filename
	return resp, true
}

// Handle resolves req and, when it is a static resource, writes the
// response to t. The returned response carries the emitted content length
// and every header sent, including those set by the content emitter.
func (h *Handler) Handle(t Transport, req *http.Request) (*Response, bool) {
	resp, ok := h.Resolve(req)
	if !ok {
		return nil, false
	}
	t = &capturingTransport{Transport: t, resp: resp}

	t.SetStatus(resp.Status)
	for _, hd := range resp.Headers() {
		t.SetHeader(hd.Name, hd.Value)
	}

	if !resp.SendContent() {
		if err := t.End(); err != nil {
			h.logger.Warn("end response", "path", req.URL.Path, "error", err)
		}
		return resp, true
	}

	n, err := resp.emit(t, resp.filename)
	resp.SetContentLength(n)
	if err != nil {
		h.logger.Warn("emit content", "path", req.URL.Path, "file", resp.filename, "error", err)
		_ = t.End()
	}
	return resp, true
}

// capturingTransport mirrors headers written by content emitters into the
// response so the access log sees what went on the wire.
type capturingTransport struct {
	Transport
	resp *Response
}

func (t *capturingTransport) SetHeader(name, value string) {
	t.resp.SetHeader(name, value)
	t.Transport.SetHeader(name, value)
}
