package server

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go-php-runner/message"
)

// WorkerPool spreads requests over its workers round-robin.
type WorkerPool struct {
	workers []*Worker
	next    atomic.Uint32
}

var errEmptyPool = errors.New("worker pool is empty")

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Workers     int `json:"workers"`
	DeadWorkers int `json:"dead_workers"`
}

// NewPool starts count workers from cfg.
func NewPool(count int, cfg WorkerConfig) (*WorkerPool, error) {
	workers := make([]*Worker, 0, count)

	for i := 0; i < count; i++ {
		w, err := NewWorker(cfg)
		if err != nil {
			for _, started := range workers {
				started.Close()
			}
			return nil, fmt.Errorf("start worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	return &WorkerPool{
		workers: workers,
	}, nil
}

func (p *WorkerPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.workers)
}

// Dispatch hands req to the next worker in turn.
func (p *WorkerPool) Dispatch(req *message.Request) (*message.Response, error) {
	if p.Len() == 0 {
		return nil, errEmptyPool
	}
	i := p.next.Add(1)
	return p.workers[i%uint32(len(p.workers))].Handle(req)
}

func (p *WorkerPool) Stats() PoolStats {
	stats := PoolStats{}
	if p == nil {
		return stats
	}

	stats.Workers = len(p.workers)
	for _, w := range p.workers {
		if w.isDead() {
			stats.DeadWorkers++
		}
	}

	return stats
}

func (p *WorkerPool) markAllDead() {
	if p == nil {
		return
	}
	for _, w := range p.workers {
		w.markDead()
	}
}

// Close stops every worker process.
func (p *WorkerPool) Close() {
	if p == nil {
		return
	}
	for _, w := range p.workers {
		w.Close()
	}
}
