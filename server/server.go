// Package server runs the PHP application: pools of long-lived PHP worker
// processes, with requests classified onto a fast or a slow pool.
package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"go-php-runner/logging"
	"go-php-runner/message"
)

const (
	// a route prefix is promoted to the slow pool once it has this many
	// samples averaging at least slowLatencyThreshold
	minLatencySamples    = 10
	slowLatencyThreshold = 500 * time.Millisecond
)

// SlowRequestConfig decides which requests go to the slow pool.
type SlowRequestConfig struct {
	RoutePrefixes []string
	Methods       []string
	BodyThreshold int
}

// Config configures NewServer.
type Config struct {
	FastWorkers int
	SlowWorkers int
	Worker      WorkerConfig
	Slow        SlowRequestConfig

	// HotReloadDirs are watched, relative to the project root, by
	// EnableHotReload. Defaults to php and routes.
	HotReloadDirs []string

	Logger *slog.Logger
}

type routeStats struct {
	count uint64
	total time.Duration
}

// Server is the application handler backed by PHP workers.
type Server struct {
	fastPool *WorkerPool
	slowPool *WorkerPool

	mu         sync.RWMutex
	slowCfg    SlowRequestConfig
	routeStats map[string]*routeStats

	reloadDirs []string
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
}

// HealthSummary reports the state of both pools.
type HealthSummary struct {
	Fast         PoolStats `json:"fast"`
	Slow         PoolStats `json:"slow"`
	SlowPrefixes []string  `json:"slow_prefixes"`
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.OrNop(cfg.Logger).With("component", "server")
	wcfg := cfg.Worker
	if wcfg.Logger == nil {
		wcfg.Logger = logger.With("component", "worker")
	}

	fp, err := NewPool(cfg.FastWorkers, wcfg)
	if err != nil {
		return nil, err
	}

	sp, err := NewPool(cfg.SlowWorkers, wcfg)
	if err != nil {
		fp.Close()
		return nil, err
	}

	dirs := cfg.HotReloadDirs
	if len(dirs) == 0 {
		dirs = []string{"php", "routes"}
	}

	return &Server{
		fastPool:   fp,
		slowPool:   sp,
		slowCfg:    cfg.Slow,
		routeStats: make(map[string]*routeStats),
		reloadDirs: dirs,
		logger:     logger,
	}, nil
}

func (s *Server) log() *slog.Logger {
	return logging.OrNop(s.logger)
}

// IsSlowRequest reports whether r belongs on the slow pool: a configured
// or learned route prefix, a slow method, or a body over the threshold.
func (s *Server) IsSlowRequest(r *message.Request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := r.Path
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range s.slowCfg.RoutePrefixes {
		if matchPrefix(path, prefix) {
			return true
		}
	}

	for _, m := range s.slowCfg.Methods {
		if strings.EqualFold(m, r.Method) {
			return true
		}
	}

	if s.slowCfg.BodyThreshold > 0 && len(r.Body) > s.slowCfg.BodyThreshold {
		return true
	}

	return false
}

// matchPrefix matches whole path segments, so "/reports" covers
// "/reports/daily" but not "/reportsX".
func matchPrefix(path, prefix string) bool {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}

// Dispatch sends req to the slow or fast pool. With no slow workers every
// request goes to the fast pool.
func (s *Server) Dispatch(req *message.Request) (*message.Response, error) {
	if s.slowPool.Len() > 0 && s.IsSlowRequest(req) {
		return s.slowPool.Dispatch(req)
	}
	if s.fastPool.Len() == 0 {
		return nil, errors.New("no php workers available")
	}
	return s.fastPool.Dispatch(req)
}

// Handle dispatches req and feeds its latency back into the slow-route
// classification.
func (s *Server) Handle(ctx context.Context, req *message.Request) (*message.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.Dispatch(req)
	if err != nil {
		return nil, err
	}
	s.RecordLatency(req.Path, time.Since(start))
	return resp, nil
}

// RecordLatency tracks latency per first path segment and promotes
// consistently slow segments to the slow pool.
func (s *Server) RecordLatency(path string, d time.Duration) {
	prefix := RoutePrefix(path)
	if prefix == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.routeStats == nil {
		s.routeStats = make(map[string]*routeStats)
	}
	rs := s.routeStats[prefix]
	if rs == nil {
		rs = &routeStats{}
		s.routeStats[prefix] = rs
	}
	rs.count++
	rs.total += d

	if rs.count < minLatencySamples || rs.total/time.Duration(rs.count) < slowLatencyThreshold {
		return
	}
	for _, p := range s.slowCfg.RoutePrefixes {
		if p == prefix || p == prefix+"/" {
			return
		}
	}
	s.slowCfg.RoutePrefixes = append(s.slowCfg.RoutePrefixes, prefix)
	s.log().Info("promoted route to slow pool", "prefix", prefix, "avg", rs.total/time.Duration(rs.count))
}

// RoutePrefix returns "/reports" for "/reports/daily?x=1".
func RoutePrefix(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ""
	}
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return "/" + path
}

func (s *Server) Health() HealthSummary {
	s.mu.RLock()
	prefixes := append([]string(nil), s.slowCfg.RoutePrefixes...)
	s.mu.RUnlock()

	return HealthSummary{
		Fast:         s.fastPool.Stats(),
		Slow:         s.slowPool.Stats(),
		SlowPrefixes: prefixes,
	}
}

func (s *Server) markAllWorkersDead() {
	s.fastPool.markAllDead()
	s.slowPool.markAllDead()
}

// ForceRecycleWorkers marks every worker dead; each respawns on its next
// request.
func (s *Server) ForceRecycleWorkers() {
	s.markAllWorkersDead()
	s.log().Info("all workers marked for recycle")
}

// EnableHotReload recycles all workers whenever a file under one of the
// reload directories of root changes. Missing directories are skipped.
func (s *Server) EnableHotReload(root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs := s.reloadDirs
	if len(dirs) == 0 {
		dirs = []string{"php", "routes"}
	}
	for _, d := range dirs {
		dir := filepath.Join(root, d)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			_ = watcher.Close()
			return err
		}
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
					continue
				}
				if ev.Has(fsnotify.Create) {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = watcher.Add(ev.Name)
					}
				}
				s.log().Info("source changed, recycling workers", "file", ev.Name, "op", ev.Op.String())
				s.markAllWorkersDead()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log().Warn("hot reload watch error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops hot reload and every worker process.
func (s *Server) Close() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}

	s.fastPool.Close()
	s.slowPool.Close()
}
