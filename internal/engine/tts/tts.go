// SPDX-License-Identifier: MIT

// Package tts defines the text-to-speech engine interface and its
// concrete providers: local XTTS, Edge neural voices, Silero,
// ElevenLabs and OpenAI.
package tts

import "context"

// Audio is one synthesized utterance. WAV holds a complete RIFF/WAV
// byte stream; SampleRate is the rate encoded in it.
type Audio struct {
	WAV        []byte
	SampleRate int
}

// Request describes one synthesis call.
type Request struct {
	Text     string
	Language string

	// Voice selects a provider-specific voice id; empty picks the
	// provider's default for Language.
	Voice string

	// ReferenceWAV is the path of a reference sample for voice
	// cloning. Providers without cloning support ignore it.
	ReferenceWAV string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// ID returns the engine identifier used by the dispatcher
	// (e.g. "xtts", "edge", "silero", "elevenlabs", "openai").
	ID() string

	// Synthesize renders speech for one text chunk. It blocks until
	// the backend finishes or ctx is done.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}

// Cloner is implemented by providers that create ad-hoc cloned voices
// from a reference sample. The returned cleanup removes the voice from
// the provider once the job is done.
type Cloner interface {
	CloneVoice(ctx context.Context, name, referenceWAV string) (voiceID string, cleanup func(context.Context) error, err error)
}
