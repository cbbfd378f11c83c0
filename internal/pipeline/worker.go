// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"sync"

	"github.com/vodub/vodub/internal/log"
)

// Pool runs queued jobs with bounded parallelism. The GPU gate bounds
// local model usage separately; this bound caps total in-flight jobs so
// remote-engine work cannot pile up without limit.
type Pool struct {
	orch  *Orchestrator
	slots chan struct{}

	mu      sync.Mutex
	wg      sync.WaitGroup
	ctx     context.Context
	started bool
	stopped bool
}

// NewPool creates a pool running at most maxConcurrent jobs at once.
func NewPool(orch *Orchestrator, maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{
		orch:  orch,
		slots: make(chan struct{}, maxConcurrent),
	}
}

// Start arms the pool. Cancelling ctx aborts running jobs; jobs observe
// it at their stage checkpoints. Submissions before Start are rejected.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.ctx = ctx
	p.started = true
}

// Submit schedules one job. It returns immediately; the job waits for a
// slot in its own goroutine so the HTTP handler never blocks.
func (p *Pool) Submit(id string) bool {
	p.mu.Lock()
	if !p.started || p.stopped || p.ctx.Err() != nil {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	ctx := p.ctx
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			lg := log.WithComponent("pipeline")
			lg.Info().Str("job_id", id).Msg("shutdown before job start")
			return
		}
		defer func() { <-p.slots }()
		p.orch.Run(ctx, id)
	}()
	return true
}

// Shutdown stops accepting submissions and waits for in-flight jobs to
// reach a terminal state. It does not abort them; cancel the Start
// context for that.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wg.Wait()
}

// InFlight reports the number of jobs currently holding a slot.
func (p *Pool) InFlight() int {
	return len(p.slots)
}
