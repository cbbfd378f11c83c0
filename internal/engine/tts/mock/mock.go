// SPDX-License-Identifier: MIT

// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/vodub/vodub/internal/engine/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Name is returned from ID. Defaults to "mock".
	Name string

	// Audio is returned from Synthesize when Err is nil. When nil an
	// empty WAV with a 16 kHz rate is returned.
	Audio *tts.Audio

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// SynthesizeFn, if set, overrides Audio/Err entirely.
	SynthesizeFn func(ctx context.Context, req tts.Request) (*tts.Audio, error)

	// Calls records every Synthesize invocation.
	Calls []tts.Request
}

var _ tts.Provider = (*Provider)(nil)

// ID implements tts.Provider.
func (p *Provider) ID() string {
	if p.Name == "" {
		return "mock"
	}
	return p.Name
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.SynthesizeFn
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Audio != nil {
		return p.Audio, nil
	}
	return &tts.Audio{WAV: []byte{}, SampleRate: 16000}, nil
}

// CallCount returns the number of Synthesize invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
