// SPDX-License-Identifier: MIT

package tts

import (
	"context"
	"fmt"
	"io"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface assertion.
var _ Provider = (*OpenAI)(nil)

// OpenAI synthesizes through the OpenAI speech endpoint. Multilingual
// but no cloning; the dispatcher uses it as a remote fallback behind
// ElevenLabs.
type OpenAI struct {
	client oai.Client
	model  oai.SpeechModel
}

// NewOpenAI creates a provider using the given API key.
func NewOpenAI(apiKey string, timeout time.Duration) *OpenAI {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAI{
		client: oai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(timeout),
		),
		model: oai.SpeechModelTTS1,
	}
}

// ID implements Provider.
func (o *OpenAI) ID() string { return "openai" }

// Synthesize implements Provider. The endpoint returns a complete WAV
// stream at 24 kHz.
func (o *OpenAI) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	voice := oai.AudioSpeechNewParamsVoice(req.Voice)
	if req.Voice == "" {
		voice = oai.AudioSpeechNewParamsVoiceAlloy
	}

	resp, err := o.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          o.model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("openai tts: empty audio response")
	}
	return &Audio{WAV: wav, SampleRate: 24000}, nil
}
