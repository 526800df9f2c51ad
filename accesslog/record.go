// Package accesslog renders one line per completed request in Apache
// mod_log_config format.
package accesslog

import (
	"net/http"
	"time"

	"go-php-runner/message"
	"go-php-runner/static"
)

const (
	HandlerStatic      = "static-file"
	HandlerApplication = "php-worker"
)

// Record is everything a log line can be built from. It is captured after
// the response was emitted, so BodySize is what was actually written.
type Record struct {
	Request *http.Request
	Start   time.Time
	End     time.Time

	Status   int
	Header   http.Header
	BodySize int64

	// Filename is set for static resources.
	Filename  string
	Handler   string
	RequestID string

	// Aborted is set when the body could not be written completely.
	Aborted bool
}

// FromStatic captures a static resource response after emission.
func FromStatic(req *http.Request, resp *static.Response, start, end time.Time) Record {
	return Record{
		Request:   req,
		Start:     start,
		End:       end,
		Status:    resp.Status,
		Header:    resp.HTTPHeader(),
		BodySize:  resp.ContentLength(),
		Filename:  resp.Filename(),
		Handler:   HandlerStatic,
		RequestID: req.Header.Get("X-Request-Id"),
	}
}

// FromApplication captures an application response after emission; size is
// the number of body bytes the emitter wrote.
func FromApplication(req *http.Request, resp *message.Response, size int64, start, end time.Time) Record {
	header := make(http.Header, len(resp.Headers))
	for k, v := range resp.Headers {
		header.Set(k, v)
	}
	id := resp.ID
	if id == "" {
		id = req.Header.Get("X-Request-Id")
	}
	return Record{
		Request:   req,
		Start:     start,
		End:       end,
		Status:    resp.StatusCode(),
		Header:    header,
		BodySize:  size,
		Handler:   HandlerApplication,
		RequestID: id,
	}
}
