// SPDX-License-Identifier: MIT

package mt

import (
	"context"
	"fmt"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
)

// Compile-time interface assertion.
var _ Provider = (*AnyLLM)(nil)

// AnyLLM implements Provider on top of any-llm-go, which speaks the
// native wire protocol of each backend behind one interface.
type AnyLLM struct {
	backend anyllmlib.Provider
	id      string
	model   string
}

// NewGemini creates a Gemini-backed provider.
func NewGemini(apiKey, model string) (*AnyLLM, error) {
	backend, err := gemini.New(anyllmlib.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini backend: %w", err)
	}
	return &AnyLLM{backend: backend, id: "gemini", model: model}, nil
}

// NewGroq creates a Groq-backed provider.
func NewGroq(apiKey, model string) (*AnyLLM, error) {
	backend, err := groq.New(anyllmlib.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("groq backend: %w", err)
	}
	return &AnyLLM{backend: backend, id: "groq", model: model}, nil
}

// NewOllama creates a provider talking to a local Ollama server. This
// is the offline fallback at the end of every translation chain.
func NewOllama(baseURL, model string) (*AnyLLM, error) {
	var opts []anyllmlib.Option
	if baseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(baseURL))
	}
	backend, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("ollama backend: %w", err)
	}
	return &AnyLLM{backend: backend, id: "ollama", model: model}, nil
}

// ID implements Provider.
func (p *AnyLLM) ID() string { return p.id }

// Complete implements Provider.
func (p *AnyLLM) Complete(ctx context.Context, req Request) (string, error) {
	var messages []anyllmlib.Message
	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, anyllmlib.Message{
		Role:    anyllmlib.RoleUser,
		Content: req.Prompt,
	})

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", p.id, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices in response", p.id)
	}
	return resp.Choices[0].Message.ContentString(), nil
}
