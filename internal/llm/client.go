// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSafetyBlocked is returned when the provider's content filter rejects
	// the prompt or the generated candidate.
	ErrSafetyBlocked = errors.New("response blocked by provider safety filter")

	// ErrEmptyResponse is returned when the provider answers without text.
	ErrEmptyResponse = errors.New("provider returned no text")
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	TopK        int
	TopP        float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(ctx context.Context, provider Provider, apiKey string) (Client, error) {
	var (
		client Client
		err    error
	)

	// Assign through concrete types so a failed constructor yields a nil Client.
	switch provider {
	case ProviderGemini, "":
		var c *GeminiClient
		if c, err = NewGeminiClient(ctx, apiKey); err == nil {
			client = c
		}
	case ProviderAnthropic:
		var c *AnthropicClient
		if c, err = NewAnthropicClient(apiKey); err == nil {
			client = c
		}
	case ProviderOpenAI:
		var c *OpenAIClient
		if c, err = NewOpenAIClient(apiKey); err == nil {
			client = c
		}
	default:
		err = fmt.Errorf("unknown LLM provider %q", provider)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}
