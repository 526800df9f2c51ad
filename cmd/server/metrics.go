package main

import (
	"sync"
	"time"

	"go-php-runner/accesslog"
	"go-php-runner/server"
)

// maxRoutes bounds ByRoute; further prefixes are counted under otherRoute.
const (
	maxRoutes  = 256
	otherRoute = "(other)"
)

type RouteMetrics struct {
	Count        uint64        `json:"count"`
	Errors       uint64        `json:"errors"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

// Metrics aggregates completed requests per route. It is fed by the runner
// as an access log sink.
type Metrics struct {
	mu            sync.Mutex
	TotalRequests uint64                   `json:"total_requests"`
	TotalErrors   uint64                   `json:"total_errors"`
	StaticHits    uint64                   `json:"static_hits"`
	ByRoute       map[string]*RouteMetrics `json:"by_route"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		ByRoute: make(map[string]*RouteMetrics),
	}
}

// Log counts rec under its first path segment. Server errors and aborted
// responses count as errors.
func (m *Metrics) Log(rec accesslog.Record) {
	route := "/"
	if rec.Request != nil && rec.Request.URL != nil {
		if p := server.RoutePrefix(rec.Request.URL.Path); p != "" {
			route = p
		}
	}
	failed := rec.Aborted || rec.Status >= 500

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalRequests++
	if failed {
		m.TotalErrors++
	}
	if rec.Handler == accesslog.HandlerStatic {
		m.StaticHits++
	}

	rm := m.ByRoute[route]
	if rm == nil && len(m.ByRoute) >= maxRoutes {
		route = otherRoute
		rm = m.ByRoute[route]
	}
	if rm == nil {
		rm = &RouteMetrics{}
		m.ByRoute[route] = rm
	}
	rm.Count++
	if failed {
		rm.Errors++
	}
	rm.TotalLatency += rec.End.Sub(rec.Start)
}

func (m *Metrics) Snapshot() *Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Metrics{
		TotalRequests: m.TotalRequests,
		TotalErrors:   m.TotalErrors,
		StaticHits:    m.StaticHits,
		ByRoute:       make(map[string]*RouteMetrics, len(m.ByRoute)),
	}
	for route, rm := range m.ByRoute {
		rmCopy := *rm
		snap.ByRoute[route] = &rmCopy
	}
	return snap
}

// accessLogs fans a record out to every sink.
type accessLogs []interface{ Log(accesslog.Record) }

func (l accessLogs) Log(rec accesslog.Record) {
	for _, sink := range l {
		sink.Log(rec)
	}
}
