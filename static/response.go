package static

import (
	"net/http"
	"os"
	"strconv"
)

// ContentEmitter writes the body for filename to t and returns the number of
// body bytes written.
type ContentEmitter func(t Transport, filename string) (int64, error)

// Header is a single response header as set by a stage.
type Header struct {
	Name  string
	Value string
}

// Response describes the answer to a static resource request. Stages mutate
// it on the way back out of the queue.
type Response struct {
	Status int

	names         []string
	values        map[string]string
	sendContent   bool
	failure       bool
	emitter       ContentEmitter
	filename      string
	contentLength int64
}

// NewResponse returns a 200 response with content enabled and no headers.
func NewResponse() *Response {
	return &Response{
		Status:      http.StatusOK,
		values:      make(map[string]string),
		sendContent: true,
	}
}

// newFailure returns a response meaning "not a static resource".
func newFailure() *Response {
	r := NewResponse()
	r.failure = true
	r.sendContent = false
	return r
}

// SetHeader sets name to value. Names are kept as given; setting the same
// name again replaces the value but keeps its original position.
func (r *Response) SetHeader(name, value string) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = value
}

// Header returns the value set for name.
func (r *Response) Header(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Headers returns the headers in the order they were first set.
func (r *Response) Headers() []Header {
	out := make([]Header, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, Header{Name: name, Value: r.values[name]})
	}
	return out
}

// HTTPHeader returns the headers as an http.Header.
func (r *Response) HTTPHeader() http.Header {
	h := make(http.Header, len(r.names))
	for _, name := range r.names {
		h.Set(name, r.values[name])
	}
	return h
}

// DisableContent suppresses the body.
func (r *Response) DisableContent() { r.sendContent = false }

// SendContent reports whether a body will be emitted.
func (r *Response) SendContent() bool { return r.sendContent }

// IsFailure reports whether the request is not a servable static resource.
func (r *Response) IsFailure() bool { return r.failure }

// SetContentEmitter replaces the default full-file emitter.
func (r *Response) SetContentEmitter(e ContentEmitter) { r.emitter = e }

// SetContentLength records the number of body bytes sent.
func (r *Response) SetContentLength(n int64) { r.contentLength = n }

// ContentLength is the number of body bytes sent. It is only meaningful
// after the handler emitted the response.
func (r *Response) ContentLength() int64 { return r.contentLength }

// Filename is the file the response was resolved against.
func (r *Response) Filename() string { return r.filename }

func (r *Response) emit(t Transport, filename string) (int64, error) {
	if r.emitter == nil {
		return SendFile(t, filename)
	}
	return r.emitter(t, filename)
}

// SendFile is the default content emitter: it sets Content-Length and hands
// the whole file to the transport's file-send path.
func SendFile(t Transport, filename string) (int64, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return 0, err
	}
	t.SetHeader("Content-Length", strconv.FormatInt(info.Size(), 10))
	return t.SendFile(filename)
}
