// SPDX-License-Identifier: MIT

// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/vodub/vodub/internal/engine/stt"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Name is returned from ID. Defaults to "mock".
	Name string

	// Transcript is returned from Transcribe when Err is nil.
	Transcript *stt.Transcript

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// TranscribeFn, if set, overrides Transcript/Err entirely.
	TranscribeFn func(ctx context.Context, req stt.Request) (*stt.Transcript, error)

	// Calls records every Transcribe invocation.
	Calls []stt.Request
}

var _ stt.Provider = (*Provider)(nil)

// ID implements stt.Provider.
func (p *Provider) ID() string {
	if p.Name == "" {
		return "mock"
	}
	return p.Name
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.TranscribeFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Transcript != nil {
		return p.Transcript, nil
	}
	return &stt.Transcript{}, nil
}

// CallCount returns the number of Transcribe invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
