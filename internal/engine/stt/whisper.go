// SPDX-License-Identifier: MIT

package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/media"
)

// minGPUFreeMB is the free VRAM below which the local model starts on
// CPU with int8 compute instead of competing for the GPU.
const minGPUFreeMB = 4096

// Compile-time interface assertion.
var _ Provider = (*Whisper)(nil)

// Whisper runs a local whisper.cpp binary as a subprocess. The binary
// writes a full JSON transcript (token timestamps included) which is
// mapped onto Segments with word timings.
//
// The caller is responsible for holding the resource gate while
// Transcribe runs; the provider itself does not serialize GPU access.
type Whisper struct {
	bin       string
	modelPath string
	timeout   time.Duration

	// vramFree reports free VRAM in MB; 0 means no GPU. Injected so
	// tests can force either path.
	vramFree func(ctx context.Context) int
}

// WhisperOption configures a Whisper provider.
type WhisperOption func(*Whisper)

// WithWhisperTimeout overrides the default subprocess timeout.
func WithWhisperTimeout(d time.Duration) WhisperOption {
	return func(w *Whisper) { w.timeout = d }
}

// WithVRAMProbe sets the free-VRAM probe used for GPU/CPU selection.
func WithVRAMProbe(probe func(ctx context.Context) int) WhisperOption {
	return func(w *Whisper) { w.vramFree = probe }
}

// NewWhisper creates a local whisper provider.
func NewWhisper(bin, modelPath string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		bin:       bin,
		modelPath: modelPath,
		timeout:   600 * time.Second,
		vramFree:  func(context.Context) int { return 0 },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID implements Provider.
func (w *Whisper) ID() string { return "whisper" }

// Transcribe implements Provider. GPU execution is attempted when
// enough VRAM is free; a GPU-side failure retries once on CPU before
// giving up.
func (w *Whisper) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	if err := media.ValidateArgPath(req.AudioPath); err != nil {
		return nil, err
	}

	logger := log.WithComponentFromContext(ctx, "stt.whisper")

	useGPU := true
	if free := w.vramFree(ctx); free < minGPUFreeMB {
		logger.Info().Int("vram_free_mb", free).Msg("insufficient free VRAM, using CPU with int8 compute")
		useGPU = false
	}

	tr, err := w.run(ctx, req, useGPU)
	if err != nil && useGPU && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("GPU transcription failed, retrying on CPU")
		tr, err = w.run(ctx, req, false)
	}
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func (w *Whisper) run(ctx context.Context, req Request, useGPU bool) (*Transcript, error) {
	outDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create whisper temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outBase := filepath.Join(outDir, "transcript")

	lang := req.Language
	if lang == "" {
		lang = "auto"
	}

	args := []string{
		"-m", w.modelPath,
		"-f", req.AudioPath,
		"-l", lang,
		"-ojf", // full JSON with token timestamps
		"-of", outBase,
	}
	if !useGPU {
		args = append(args, "--no-gpu")
	}

	if _, err := media.Run(ctx, w.bin, args, w.timeout); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return parseWhisperJSON(data)
}

// whisperOutput mirrors the whisper.cpp full-JSON format.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text   string `json:"text"`
		Tokens []struct {
			Text    string `json:"text"`
			Offsets struct {
				From int64 `json:"from"`
				To   int64 `json:"to"`
			} `json:"offsets"`
			P float64 `json:"p"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func parseWhisperJSON(data []byte) (*Transcript, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper JSON: %w", err)
	}

	tr := &Transcript{Language: out.Result.Language}
	var lastStart float64 = -1
	for _, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start := float64(seg.Offsets.From) / 1000
		end := float64(seg.Offsets.To) / 1000
		if end < start {
			end = start
		}
		// Enforce strictly monotonic, non-overlapping segments even if
		// the model emits duplicates.
		if start <= lastStart {
			continue
		}
		lastStart = start

		s := Segment{Start: start, End: end, Text: text}
		var pSum float64
		var pCount int
		for _, tok := range seg.Tokens {
			word := strings.TrimSpace(tok.Text)
			if word == "" || strings.HasPrefix(word, "[_") {
				continue
			}
			s.Words = append(s.Words, Word{
				Word:  word,
				Start: float64(tok.Offsets.From) / 1000,
				End:   float64(tok.Offsets.To) / 1000,
			})
			pSum += tok.P
			pCount++
		}
		if pCount > 0 {
			s.Confidence = pSum / float64(pCount)
		}
		tr.Segments = append(tr.Segments, s)
	}
	return tr, nil
}
