// SPDX-License-Identifier: MIT

// Package mock provides a scriptable test double for mt.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/vodub/vodub/internal/engine/mt"
)

// Response is one scripted reply.
type Response struct {
	Text string
	Err  error
}

// Provider is a mock implementation of mt.Provider. Responses are
// consumed in order; when the script runs out the last entry repeats.
type Provider struct {
	mu sync.Mutex

	// Name is returned from ID. Defaults to "mock".
	Name string

	// Script holds the replies in consumption order.
	Script []Response

	// CompleteFn, if set, overrides Script entirely.
	CompleteFn func(ctx context.Context, req mt.Request) (string, error)

	// Calls records every request.
	Calls []mt.Request

	next int
}

var _ mt.Provider = (*Provider)(nil)

// ID implements mt.Provider.
func (p *Provider) ID() string {
	if p.Name == "" {
		return "mock"
	}
	return p.Name
}

// Complete implements mt.Provider.
func (p *Provider) Complete(ctx context.Context, req mt.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.CompleteFn
	var resp Response
	if fn == nil {
		if len(p.Script) == 0 {
			p.mu.Unlock()
			return "", nil
		}
		idx := p.next
		if idx >= len(p.Script) {
			idx = len(p.Script) - 1
		}
		resp = p.Script[idx]
		p.next++
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp.Text, resp.Err
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
