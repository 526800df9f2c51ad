package message

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go-php-runner/logging"
)

// StatusFor maps a request construction or worker error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return http.StatusBadGateway
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		// the php worker timed out handling the request
		return http.StatusGatewayTimeout
	case strings.Contains(msg, "unexpected EOF"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection reset"):
		// connection to the worker died mid-request
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponder turns errors into plain text responses.
type ErrorResponder struct {
	Logger *slog.Logger
}

func (e ErrorResponder) Respond(err error) *Response {
	status := StatusFor(err)
	logging.OrNop(e.Logger).Warn("request failed", "component", "app", "status", status, "error", err)
	return &Response{
		Status: status,
		Headers: map[string]string{
			"Content-Type":           "text/plain; charset=utf-8",
			"X-Content-Type-Options": "nosniff",
		},
		Body: http.StatusText(status) + "\n",
	}
}
