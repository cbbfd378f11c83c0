// SPDX-License-Identifier: MIT

// Package mt defines the text-generation engine interface shared by the
// translation chunker and the quality evaluator. Each provider wraps
// one LLM backend (Gemini, Groq, local Ollama).
package mt

import "context"

// Request is one completion call.
type Request struct {
	// System is the system prompt; empty means none.
	System string

	// Prompt is the user message.
	Prompt string

	// Temperature is the sampling temperature. The zero value leaves
	// the backend default in place.
	Temperature float64

	// MaxTokens caps the response length; 0 means backend default.
	MaxTokens int
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// ID returns the engine identifier used by the dispatcher
	// (e.g. "gemini", "groq", "ollama").
	ID() string

	// Complete returns the model's text response. It blocks until the
	// backend finishes or ctx is done.
	Complete(ctx context.Context, req Request) (string, error)
}
