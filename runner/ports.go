package runner

import (
	"context"
	"net/http"
	"time"

	"go-php-runner/accesslog"
	"go-php-runner/message"
)

// Application handles requests that are not static resources.
type Application interface {
	Handle(ctx context.Context, req *message.Request) (*message.Response, error)
}

// RequestFactory converts a native request into an application request.
type RequestFactory interface {
	NewRequest(r *http.Request) (*message.Request, error)
}

// ErrorResponder turns a failure into a response.
type ErrorResponder interface {
	Respond(err error) *message.Response
}

// Emitter writes an application response and returns the body size.
type Emitter interface {
	Emit(w http.ResponseWriter, req *http.Request, resp *message.Response) (int64, error)
}

// AccessLog receives one record per completed request.
type AccessLog interface {
	Log(rec accesslog.Record)
}

// ProcessNamer sets the name the OS shows for this process.
type ProcessNamer interface {
	SetProcessName(name string) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// ServerInfo is what an engine reports when it starts.
type ServerInfo struct {
	MasterPID     int
	ManagerPID    int
	WorkerNum     int
	TaskWorkerNum int
}

// Hooks are the callbacks an Engine drives.
type Hooks interface {
	http.Handler
	OnStart(info ServerInfo)
	OnWorkerStart(id int)
	OnShutdown()
}

// Engine accepts connections and calls hooks until ctx is done.
type Engine interface {
	Start(ctx context.Context, hooks Hooks) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type nopAccessLog struct{}

func (nopAccessLog) Log(accesslog.Record) {}
