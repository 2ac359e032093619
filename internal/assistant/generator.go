package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/healspace/support-assistant/internal/llm"
	"github.com/healspace/support-assistant/pkg/logger"
	"github.com/healspace/support-assistant/pkg/metrics"
)

// Generation parameters sent with every request.
const (
	MaxOutputTokens = 1024
	Temperature     = 0.7
	TopK            = 40
	TopP            = 0.95
)

// FailureReason classifies a GenerationError.
type FailureReason string

const (
	ReasonUnavailable   FailureReason = "unavailable"
	ReasonUpstream      FailureReason = "upstream"
	ReasonSafetyBlocked FailureReason = "safety_blocked"
	ReasonEmpty         FailureReason = "empty_response"
)

// GenerationError reports that no usable reply came back from the provider.
type GenerationError struct {
	Reason FailureReason
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return "generation failed: " + string(e.Reason)
	}
	return fmt.Sprintf("generation failed (%s): %v", e.Reason, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Generator produces assistant replies through an LLM provider.
type Generator struct {
	client llm.Client
	model  string
	logger *logger.Logger
}

// NewGenerator creates a generator. A nil client makes every call fail with
// ReasonUnavailable so callers fall back to FallbackReply.
func NewGenerator(client llm.Client, model string, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Global()
	}
	return &Generator{
		client: client,
		model:  model,
		logger: log,
	}
}

// Generate asks the provider for a reply to userMessage given contextLines.
// It makes exactly one request and never retries.
func (g *Generator) Generate(ctx context.Context, userMessage string, contextLines []string) (string, error) {
	ctx, span := otel.Tracer("assistant").Start(ctx, "assistant.generate")
	defer span.End()

	if g.client == nil {
		metrics.RecordGeneration("none", string(ReasonUnavailable), 0)
		return "", &GenerationError{Reason: ReasonUnavailable}
	}

	start := time.Now()
	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Model:  g.model,
		System: systemPrompt,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: composePrompt(userMessage, contextLines)},
		},
		MaxTokens:   MaxOutputTokens,
		Temperature: Temperature,
		TopK:        TopK,
		TopP:        TopP,
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		genErr := classify(err)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, string(genErr.Reason))
		metrics.RecordGeneration(g.client.Name(), string(genErr.Reason), elapsed)
		return "", genErr
	}
	if strings.TrimSpace(resp.Content) == "" {
		metrics.RecordGeneration(g.client.Name(), string(ReasonEmpty), elapsed)
		return "", &GenerationError{Reason: ReasonEmpty, Err: llm.ErrEmptyResponse}
	}

	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.tokens_in", resp.TokensIn),
		attribute.Int("llm.tokens_out", resp.TokensOut),
	)
	metrics.RecordGeneration(g.client.Name(), "success", elapsed)
	metrics.RecordTokens(resp.Model, resp.TokensIn, resp.TokensOut)

	g.logger.Debug("reply generated",
		zap.String("provider", g.client.Name()),
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs),
	)

	return postProcess(resp.Content), nil
}

func classify(err error) *GenerationError {
	switch {
	case errors.Is(err, llm.ErrSafetyBlocked):
		return &GenerationError{Reason: ReasonSafetyBlocked, Err: err}
	case errors.Is(err, llm.ErrEmptyResponse):
		return &GenerationError{Reason: ReasonEmpty, Err: err}
	default:
		return &GenerationError{Reason: ReasonUpstream, Err: err}
	}
}
