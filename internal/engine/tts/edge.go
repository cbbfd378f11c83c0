// SPDX-License-Identifier: MIT

package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vodub/vodub/internal/media"
)

// Compile-time interface assertion.
var _ Provider = (*Edge)(nil)

// edgeVoices maps language codes to default neural voices.
var edgeVoices = map[string]string{
	"ko": "ko-KR-SunHiNeural",
	"ru": "ru-RU-SvetlanaNeural",
	"en": "en-US-JennyNeural",
	"ja": "ja-JP-NanamiNeural",
	"zh": "zh-CN-XiaoxiaoNeural",
	"de": "de-DE-KatjaNeural",
	"es": "es-ES-ElviraNeural",
	"fr": "fr-FR-DeniseNeural",
}

// Edge synthesizes through the edge-tts CLI. The tool emits MP3, which
// is converted to 16 kHz mono WAV before returning. No credentials, no
// GPU; this is the default fallback voice for most languages.
type Edge struct {
	bin     string
	proc    *media.Processor
	timeout time.Duration
}

// NewEdge creates an Edge provider using the given edge-tts binary.
func NewEdge(bin string, proc *media.Processor, timeout time.Duration) *Edge {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Edge{bin: bin, proc: proc, timeout: timeout}
}

// ID implements Provider.
func (e *Edge) ID() string { return "edge" }

// Synthesize implements Provider.
func (e *Edge) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	voice := req.Voice
	if voice == "" {
		var ok bool
		if voice, ok = edgeVoices[req.Language]; !ok {
			voice = edgeVoices["en"]
		}
	}

	dir, err := os.MkdirTemp("", "edge-tts-*")
	if err != nil {
		return nil, fmt.Errorf("edge: temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	mp3Path := filepath.Join(dir, "speech.mp3")
	args := []string{
		"--text", req.Text,
		"--voice", voice,
		"--write-media", mp3Path,
	}
	if _, err := media.Run(ctx, e.bin, args, e.timeout); err != nil {
		return nil, fmt.Errorf("edge: %w", err)
	}

	wavPath := filepath.Join(dir, "speech.wav")
	if err := e.proc.NormalizeAudio(ctx, mp3Path, wavPath); err != nil {
		return nil, fmt.Errorf("edge: convert to wav: %w", err)
	}

	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("edge: read wav: %w", err)
	}
	return &Audio{WAV: wav, SampleRate: media.TargetSampleRate}, nil
}
