// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Outbound pacing per provider. The burst absorbs the per-segment call
// pattern of synthesis loops; the steady rate keeps long jobs under
// provider-side limits without tripping them.
const (
	paceRequestsPerMinute = 120
	paceBurst             = 10
)

var (
	paceMu   sync.Mutex
	limiters = make(map[string]*rate.Limiter)
)

// Pace blocks until the named provider's outbound limiter admits one
// request, or until ctx is cancelled.
func Pace(ctx context.Context, engineID string) error {
	paceMu.Lock()
	lim, ok := limiters[engineID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(paceRequestsPerMinute)/60, paceBurst)
		limiters[engineID] = lim
	}
	paceMu.Unlock()
	return lim.Wait(ctx)
}

// CallPaced runs fn against the named engine under the standard retry
// policy, passing each attempt through the engine's outbound pacer
// first. Backoff retries re-enter the pacer.
func CallPaced(ctx context.Context, engineID string, fn func() error) error {
	return CallWithBackoff(ctx, func() error {
		if err := Pace(ctx, engineID); err != nil {
			return err
		}
		return fn()
	})
}
