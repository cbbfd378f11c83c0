// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

// quotaMarkers are substrings that identify a quota or rate-limit
// rejection in provider error text. Providers surface these in wildly
// different shapes, so classification is textual.
var quotaMarkers = []string{
	"429",
	"quota",
	"rate limit",
	"rate_limit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
}

// transientMarkers identify errors worth retrying against the same
// engine before advancing the chain.
var transientMarkers = []string{
	"500",
	"502",
	"503",
	"504",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"server overloaded",
	"eof",
}

// IsQuota reports whether err is a quota or rate-limit error. Quota
// errors advance the fallback chain immediately; retrying the same
// engine would just burn time.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), quotaMarkers)
}

// IsTransient reports whether err looks like a temporary server or
// network failure that backoff may resolve.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return containsAny(strings.ToLower(err.Error()), transientMarkers)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// maxAttempts bounds CallWithBackoff retries per engine.
const maxAttempts = 3

// backoffBase is doubled per attempt: 2s, 4s, 8s.
const backoffBase = 2 * time.Second

// CallWithBackoff runs fn against a single engine with the standard
// retry policy. Quota errors and context cancellation return
// immediately so the caller can advance the chain or abort; transient
// errors back off exponentially up to maxAttempts. Non-transient
// errors return at once.
func CallWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffBase << (attempt - 1)):
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsQuota(err) || !IsTransient(err) {
			return err
		}
	}
	return err
}
