package message

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"
)

// DefaultMaxBodyBytes bounds request bodies when Factory.MaxBodyBytes is 0.
const DefaultMaxBodyBytes = 10 << 20

var (
	ErrBodyTooLarge = errors.New("request body too large")
	ErrBadRequest   = errors.New("malformed request")
)

// Factory builds worker requests from incoming HTTP requests.
type Factory struct {
	// MaxBodyBytes limits the body; 0 means DefaultMaxBodyBytes, negative
	// means unlimited.
	MaxBodyBytes int64

	// NewID generates request ids. Defaults to random UUIDs.
	NewID func() string
}

// NewRequest copies r into a Request. Header names are canonicalized, Host,
// X-Forwarded-For and X-Request-Id are filled in, and the full request URI
// including the query string becomes the path.
func (f *Factory) NewRequest(r *http.Request) (*Request, error) {
	if r.URL == nil || r.Method == "" {
		return nil, ErrBadRequest
	}

	newID := f.NewID
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	reqID := newID()

	headers := make(map[string][]string, len(r.Header)+3)
	for name, values := range r.Header {
		// copy so the payload never shares backing arrays with r.Header
		copied := make([]string, len(values))
		copy(copied, values)
		headers[http.CanonicalHeaderKey(name)] = copied
	}

	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if host != "" {
		headers["Host"] = []string{host}
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && ip != "" {
		if existing, ok := headers["X-Forwarded-For"]; ok && len(existing) > 0 {
			headers["X-Forwarded-For"] = []string{existing[0] + ", " + ip}
		} else {
			headers["X-Forwarded-For"] = []string{ip}
		}
	}

	if _, ok := headers["X-Request-Id"]; !ok {
		headers["X-Request-Id"] = []string{reqID}
	}

	body, err := f.readBody(r)
	if err != nil {
		return nil, err
	}

	path := r.URL.RequestURI()
	if path == "" {
		path = r.URL.Path
	}

	return &Request{
		ID:         reqID,
		Method:     r.Method,
		Path:       path,
		Headers:    headers,
		Body:       string(body),
		RemoteAddr: r.RemoteAddr,
	}, nil
}

func (f *Factory) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	limit := f.MaxBodyBytes
	if limit == 0 {
		limit = DefaultMaxBodyBytes
	}
	if limit < 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrBadRequest, err)
		}
		return body, nil
	}

	if r.ContentLength > limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, r.ContentLength)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrBadRequest, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}
	return body, nil
}
