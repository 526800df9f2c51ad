// Package message holds the payloads exchanged with PHP workers and the
// collaborators that convert between them and net/http.
package message

// Request is what a worker receives for one HTTP request.
type Request struct {
	ID         string              `json:"id"`
	Method     string              `json:"method"`
	Path       string              `json:"path"`
	Headers    map[string][]string `json:"headers"`
	Body       string              `json:"body"`
	RemoteAddr string              `json:"remote_addr,omitempty"`
}

// Response is what a worker answers with. A zero Status means 200.
type Response struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// StatusCode returns Status, defaulting to 200.
func (r *Response) StatusCode() int {
	if r.Status == 0 {
		return 200
	}
	return r.Status
}
