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
var _ Provider = (*Silero)(nil)

// Silero talks to a local Silero TTS server. Russian only; the
// dispatcher chains it before Edge for ru targets so an unreachable
// server degrades gracefully.
type Silero struct {
	baseURL    string
	httpClient *http.Client
}

// NewSilero creates a provider for the server at baseURL.
func NewSilero(baseURL string, timeout time.Duration) *Silero {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Silero{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ID implements Provider.
func (s *Silero) ID() string { return "silero" }

type sileroRequest struct {
	Text       string `json:"text"`
	Speaker    string `json:"speaker"`
	SampleRate int    `json:"sample_rate"`
}

// Synthesize implements Provider.
func (s *Silero) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	if req.Language != "ru" {
		return nil, fmt.Errorf("silero: unsupported language %q", req.Language)
	}
	voice := req.Voice
	if voice == "" {
		voice = "xenia"
	}

	payload, err := json.Marshal(sileroRequest{
		Text:       req.Text,
		Speaker:    voice,
		SampleRate: 24000,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("silero: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("silero: synthesis HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("silero: unexpected status %d: %s", resp.StatusCode, snippet)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("silero: read audio: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("silero: empty audio response")
	}
	return &Audio{WAV: wav, SampleRate: 24000}, nil
}
