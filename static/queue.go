package static

import "net/http"

// Stage is one step of the static pipeline. It may call next.Invoke at most
// once; not calling it short-circuits the rest of the pipeline.
type Stage interface {
	Process(req *http.Request, filename string, next *Queue) *Response
}

// StageFunc adapts a function to Stage.
type StageFunc func(req *http.Request, filename string, next *Queue) *Response

func (f StageFunc) Process(req *http.Request, filename string, next *Queue) *Response {
	return f(req, filename, next)
}

// Queue threads a request through stages. It is consumed by Invoke and must
// be built fresh for every request.
type Queue struct {
	stages []Stage
}

// NewQueue copies stages into a new queue.
func NewQueue(stages ...Stage) *Queue {
	q := &Queue{stages: make([]Stage, len(stages))}
	copy(q.stages, stages)
	return q
}

// Len is the number of stages not yet invoked.
func (q *Queue) Len() int { return len(q.stages) }

// Invoke pops the front stage and runs it with the shortened queue as next.
// An empty queue yields a plain 200 response.
func (q *Queue) Invoke(req *http.Request, filename string) *Response {
	if len(q.stages) == 0 {
		return NewResponse()
	}
	stage := q.stages[0]
	q.stages = q.stages[1:]
	return stage.Process(req, filename, q)
}
