// SPDX-License-Identifier: MIT

package media

import (
	"strings"
	"sync"
)

// LineRing is a thread-safe ring buffer keeping the last N lines of
// subprocess stderr. The tail is attached to errors so failures carry
// context without unbounded capture.
type LineRing struct {
	mu    sync.RWMutex
	lines []string
	head  int
	size  int
}

// NewLineRing creates a LineRing with the specified capacity.
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{
		lines: make([]string, capacity),
		size:  capacity,
	}
}

// Write implements io.Writer. Input is split on newlines; empty lines
// are dropped.
func (r *LineRing) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		r.lines[r.head] = line
		r.head = (r.head + 1) % r.size
	}
	return len(p), nil
}

// LastN returns the last n lines in chronological order.
func (r *LineRing) LastN(n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	ordered := make([]string, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.size
		if r.lines[idx] != "" {
			ordered = append(ordered, r.lines[idx])
		}
	}
	if len(ordered) <= n {
		return ordered
	}
	return ordered[len(ordered)-n:]
}

// Tail returns up to n lines joined with newlines, capped at maxBytes.
func (r *LineRing) Tail(n, maxBytes int) string {
	s := strings.Join(r.LastN(n), "\n")
	if len(s) > maxBytes {
		s = s[len(s)-maxBytes:]
	}
	return s
}
