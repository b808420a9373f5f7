// Package llm provides generative-backend clients for discovery extraction,
// relevance scoring, progress analysis, and question generation.
package llm

import (
	"context"
)

// LLMClient defines the single capability the engine needs from a generative
// backend: complete a prompt under a system message and return untrusted text.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (string, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure both providers implement LLMClient at compile time.
var (
	_ LLMClient = (*OpenAIClient)(nil)
	_ LLMClient = (*AnthropicClient)(nil)
)
