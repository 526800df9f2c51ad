package message

import (
	"io"
	"net/http"
)

// Emitter writes worker responses to clients.
type Emitter struct{}

// Emit writes status, headers and body and returns the number of body bytes
// written. HEAD responses carry headers only.
func (Emitter) Emit(w http.ResponseWriter, req *http.Request, resp *Response) (int64, error) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode())

	if req != nil && req.Method == http.MethodHead {
		return 0, nil
	}
	n, err := io.WriteString(w, resp.Body)
	return int64(n), err
}
