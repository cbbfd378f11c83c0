// SPDX-License-Identifier: MIT

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Compile-time interface assertion.
var _ Provider = (*XTTS)(nil)

const (
	xttsSynthEndpoint    = "/tts_to_audio/"
	xttsSpeakersEndpoint = "/studio_speakers"

	// xttsSampleRate is the fixed output rate of the XTTS v2 server.
	xttsSampleRate = 24000
)

// XTTS talks to a local Coqui XTTS v2 API server. It is the local
// cloning-capable engine; the reference WAV path must be visible to the
// server process (both run on the same host).
//
// The caller holds the resource gate while Synthesize runs: the server
// keeps the model resident on the GPU.
type XTTS struct {
	baseURL    string
	httpClient *http.Client
}

// NewXTTS creates a provider for the server at baseURL.
func NewXTTS(baseURL string, timeout time.Duration) *XTTS {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &XTTS{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ID implements Provider.
func (x *XTTS) ID() string { return "xtts" }

type xttsRequest struct {
	Text       string `json:"text"`
	Language   string `json:"language"`
	SpeakerWav string `json:"speaker_wav,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
}

// Synthesize implements Provider. When ReferenceWAV is set the server
// conditions generation on it (zero-shot cloning); otherwise a studio
// speaker is used.
func (x *XTTS) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	body := xttsRequest{
		Text:     req.Text,
		Language: req.Language,
	}
	if req.ReferenceWAV != "" {
		body.SpeakerWav = req.ReferenceWAV
	} else if req.Voice != "" {
		body.Speaker = req.Voice
	} else {
		body.Speaker = "Claribel Dervla" // server default studio speaker
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("xtts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+xttsSynthEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("xtts: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("xtts: synthesis HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("xtts: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xtts: read audio: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("xtts: empty audio response")
	}
	return &Audio{WAV: wav, SampleRate: xttsSampleRate}, nil
}

// ListSpeakers returns the studio speakers known to the server. Used at
// startup to verify the server is reachable.
func (x *XTTS) ListSpeakers(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, x.baseURL+xttsSpeakersEndpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := x.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("xtts: list speakers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("xtts: list speakers: unexpected status %d", resp.StatusCode)
	}

	var speakers map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, fmt.Errorf("xtts: decode speakers: %w", err)
	}
	out := make([]string, 0, len(speakers))
	for name := range speakers {
		out = append(out, name)
	}
	return out, nil
}
