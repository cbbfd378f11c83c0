// SPDX-License-Identifier: MIT

// Package stt defines the speech-to-text engine interface and its
// transcript types. Providers wrap one concrete backend each (local
// whisper, Groq, OpenAI) and expose the same batch transcription call.
//
// Implementations must be safe for concurrent use; the pipeline may run
// several jobs against the same provider instance.
package stt

import "context"

// Word is a single word with its timestamps, in seconds from the start
// of the audio.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one contiguous utterance of the transcript.
//
// Invariants: End >= Start, Text non-empty, segments of a Transcript are
// non-overlapping with strictly increasing Start.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Words      []Word  `json:"words,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Speaker    string  `json:"speaker,omitempty"`
}

// Transcript is the ordered result of transcribing one audio file.
type Transcript struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Text joins all segment texts with single spaces.
func (t *Transcript) Text() string {
	n := 0
	for _, s := range t.Segments {
		n += len(s.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, s := range t.Segments {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// Empty reports whether the transcript carries no usable text.
func (t *Transcript) Empty() bool {
	for _, s := range t.Segments {
		if s.Text != "" {
			return false
		}
	}
	return true
}

// Request describes one transcription call. AudioPath must point at a
// 16 kHz mono WAV file produced by the extract stage.
type Request struct {
	AudioPath string
	// Language is the expected source language code, or "" / "auto"
	// for provider-side detection.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// ID returns the engine identifier used by the dispatcher
	// (e.g. "whisper", "groq", "openai").
	ID() string

	// Transcribe converts speech to a timestamped transcript. It
	// blocks until the backend finishes or ctx is done.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
