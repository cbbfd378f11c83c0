// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vodub/vodub/internal/engine/mt"
	"github.com/vodub/vodub/internal/engine/stt"
	"github.com/vodub/vodub/internal/engine/tts"
)

// Registry maps resolved spec ids to constructed providers. Providers
// are registered once at startup; lookups happen per job.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]stt.Provider
	mt  map[string]mt.Provider
	tts map[string]tts.Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stt: make(map[string]stt.Provider),
		mt:  make(map[string]mt.Provider),
		tts: make(map[string]tts.Provider),
	}
}

// RegisterSTT adds a transcription provider under its own id.
func (r *Registry) RegisterSTT(p stt.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[p.ID()] = p
}

// RegisterMT adds a translation provider under its own id.
func (r *Registry) RegisterMT(p mt.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mt[p.ID()] = p
}

// RegisterTTS adds a synthesis provider under its own id.
func (r *Registry) RegisterTTS(p tts.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[p.ID()] = p
}

// STT returns the transcription provider for a spec.
func (r *Registry) STT(id string) (stt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.stt[id]
	if !ok {
		return nil, fmt.Errorf("engine: no stt provider %q registered", id)
	}
	return p, nil
}

// MT returns the translation provider for a spec.
func (r *Registry) MT(id string) (mt.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.mt[id]
	if !ok {
		return nil, fmt.Errorf("engine: no translation provider %q registered", id)
	}
	return p, nil
}

// TTS returns the synthesis provider for a spec.
func (r *Registry) TTS(id string) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.tts[id]
	if !ok {
		return nil, fmt.Errorf("engine: no tts provider %q registered", id)
	}
	return p, nil
}

// STTIDs returns the ids of all registered transcription providers.
func (r *Registry) STTIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stt))
	for id := range r.stt {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MTIDs returns the ids of all registered translation providers.
func (r *Registry) MTIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.mt))
	for id := range r.mt {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TTSIDs returns the ids of all registered synthesis providers.
func (r *Registry) TTSIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tts))
	for id := range r.tts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
