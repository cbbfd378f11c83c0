// SPDX-License-Identifier: MIT

package stt

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/vodub/vodub/internal/media"
)

// groqUploadLimit is the documented request size cap of the Groq audio
// endpoint.
const groqUploadLimit = 25 << 20

// Compile-time interface assertions.
var (
	_ Provider = (*OpenAI)(nil)
)

// OpenAI transcribes through an OpenAI-compatible audio endpoint. It
// covers both api.openai.com (whisper-1) and Groq (whisper-large-v3),
// which speaks the same wire protocol.
type OpenAI struct {
	client      oai.Client
	id          string
	model       string
	uploadLimit int64
}

// NewOpenAI creates a provider for api.openai.com with whisper-1.
func NewOpenAI(apiKey string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		client: oai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(timeout),
		),
		id:    "openai",
		model: "whisper-1",
	}
}

// NewGroq creates a provider for the Groq audio endpoint with
// whisper-large-v3. Files above the endpoint's 25 MB cap are rejected
// before upload.
func NewGroq(apiKey string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		client: oai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL("https://api.groq.com/openai/v1"),
			option.WithRequestTimeout(timeout),
		),
		id:          "groq",
		model:       "whisper-large-v3",
		uploadLimit: groqUploadLimit,
	}
}

// ID implements Provider.
func (o *OpenAI) ID() string { return o.id }

// verboseTranscription mirrors the verbose_json response shape. The SDK
// struct omits segment detail, so the body is decoded directly.
type verboseTranscription struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
	Segments []struct {
		Start  float64 `json:"start"`
		End    float64 `json:"end"`
		Text   string  `json:"text"`
		AvgLog float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe implements Provider.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	if err := media.ValidateArgPath(req.AudioPath); err != nil {
		return nil, err
	}
	if o.uploadLimit > 0 {
		info, err := os.Stat(req.AudioPath)
		if err != nil {
			return nil, err
		}
		if info.Size() > o.uploadLimit {
			return nil, fmt.Errorf("%s: audio file %d bytes exceeds %d byte upload limit",
				o.id, info.Size(), o.uploadLimit)
		}
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:                   f,
		Model:                  oai.AudioModel(o.model),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment", "word"},
	}
	if req.Language != "" && req.Language != "auto" {
		params.Language = param.NewOpt(req.Language)
	}

	var raw verboseTranscription
	if _, err := o.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&raw)); err != nil {
		return nil, fmt.Errorf("%s transcription: %w", o.id, err)
	}

	return fromVerbose(&raw), nil
}

func fromVerbose(raw *verboseTranscription) *Transcript {
	tr := &Transcript{Language: raw.Language}

	wi := 0
	var lastStart float64 = -1
	for _, seg := range raw.Segments {
		if seg.Text == "" || seg.Start <= lastStart {
			continue
		}
		lastStart = seg.Start

		s := Segment{
			Start: seg.Start,
			End:   max(seg.End, seg.Start),
			Text:  strings.TrimSpace(seg.Text),
		}
		// Word timestamps arrive as a flat list; attach the ones
		// falling inside this segment's window.
		for wi < len(raw.Words) && raw.Words[wi].Start < s.End {
			w := raw.Words[wi]
			if w.End > s.Start {
				s.Words = append(s.Words, Word{Word: w.Word, Start: w.Start, End: w.End})
			}
			wi++
		}
		if s.Text != "" {
			tr.Segments = append(tr.Segments, s)
		}
	}

	// Some backends omit segments for very short audio; fall back to
	// one segment covering the whole clip.
	if len(tr.Segments) == 0 && strings.TrimSpace(raw.Text) != "" {
		tr.Segments = []Segment{{Start: 0, End: raw.Duration, Text: strings.TrimSpace(raw.Text)}}
	}
	return tr
}

