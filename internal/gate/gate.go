// SPDX-License-Identifier: MIT

// Package gate serializes access to GPU-resident local models. The local
// STT and TTS models together exceed the VRAM of a single consumer GPU,
// so only one of them may be loaded at a time, across all jobs.
package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
)

// CleanupFunc unloads the previously held model and clears allocator
// caches. It is invoked on every release and again before the next
// acquisition is granted, so each holder starts from a clean GPU state.
type CleanupFunc func(label string)

// Gate is a single-slot semaphore. No priority, no reentrance.
type Gate struct {
	slot    chan struct{}
	cleanup CleanupFunc

	// held tracks whether any holder has occupied the slot since the
	// last cleanup ran on the acquire path.
	held atomic.Bool
}

// New creates a Gate with the given cleanup hook. A nil hook is allowed.
func New(cleanup CleanupFunc) *Gate {
	g := &Gate{
		slot:    make(chan struct{}, 1),
		cleanup: cleanup,
	}
	g.slot <- struct{}{}
	return g
}

// Guard represents held ownership of the gate. Release must be called on
// every exit path; it is idempotent.
type Guard struct {
	gate     *Gate
	label    string
	acquired time.Time
	once     sync.Once
}

// Acquire blocks until the gate is free or ctx is done. Workers check the
// job's cancellation flag before calling, and ctx is cancelled when the
// flag is set, so a cancelled job never waits here.
func (g *Gate) Acquire(ctx context.Context, label string) (*Guard, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.slot:
	}
	metrics.GateWaitTime.Observe(time.Since(start).Seconds())

	// A prior holder may have left model state behind even on a clean
	// release path. Wipe before granting.
	if g.held.Swap(true) && g.cleanup != nil {
		g.cleanup(label)
	}

	l := log.WithComponent("gate")
	l.Debug().
		Str("label", label).
		Dur("waited", time.Since(start)).
		Msg("resource gate acquired")

	return &Guard{gate: g, label: label, acquired: time.Now()}, nil
}

// Release frees the slot and runs the cleanup hook. Safe to call more
// than once; only the first call has effect.
func (gd *Guard) Release() {
	gd.once.Do(func() {
		if gd.gate.cleanup != nil {
			gd.gate.cleanup(gd.label)
		}
		metrics.GateHoldTime.WithLabelValues(gd.label).Observe(time.Since(gd.acquired).Seconds())
		gd.gate.slot <- struct{}{}

		l := log.WithComponent("gate")
		l.Debug().
			Str("label", gd.label).
			Dur("held", time.Since(gd.acquired)).
			Msg("resource gate released")
	})
}

// TryAcquire attempts a non-blocking acquisition. Used by the system
// status endpoint to report gate occupancy without queueing.
func (g *Gate) TryAcquire(label string) (*Guard, bool) {
	select {
	case <-g.slot:
	default:
		return nil, false
	}
	if g.held.Swap(true) && g.cleanup != nil {
		g.cleanup(label)
	}
	return &Guard{gate: g, label: label, acquired: time.Now()}, true
}

// Busy reports whether the gate is currently held.
func (g *Gate) Busy() bool {
	return len(g.slot) == 0
}
