package static

import (
	"io"
	"net/http"
	"os"
)

// Transport is where a static response is written to.
type Transport interface {
	SetStatus(code int)
	SetHeader(name, value string)

	// SendFile writes the whole file as the body.
	SendFile(filename string) (int64, error)

	// Write writes one chunk of a streamed body.
	Write(p []byte) (int, error)

	// End finishes the response. It is safe to call more than once.
	End() error
}

type responseWriterTransport struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
}

// NewResponseWriterTransport adapts an http.ResponseWriter. The status line
// and headers are committed on the first body write or on End.
func NewResponseWriterTransport(w http.ResponseWriter) Transport {
	return &responseWriterTransport{w: w, status: http.StatusOK}
}

func (t *responseWriterTransport) SetStatus(code int) { t.status = code }

func (t *responseWriterTransport) SetHeader(name, value string) {
	t.w.Header().Set(name, value)
}

func (t *responseWriterTransport) commit() {
	if t.wroteHeader {
		return
	}
	t.wroteHeader = true
	t.w.WriteHeader(t.status)
}

func (t *responseWriterTransport) SendFile(filename string) (int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	t.commit()
	// io.Copy lets the ResponseWriter use its ReadFrom (sendfile) path.
	return io.Copy(t.w, f)
}

func (t *responseWriterTransport) Write(p []byte) (int, error) {
	t.commit()
	n, err := t.w.Write(p)
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}

func (t *responseWriterTransport) End() error {
	t.commit()
	return nil
}
