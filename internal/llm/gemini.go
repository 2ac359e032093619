package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-1.5-flash"

// safetyCategories are blocked at medium severity and above on every request.
var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// GeminiClient is the Google Gemini LLM client.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Google AI API key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client}, nil
}

// GeminiOption customises the underlying genai client configuration.
type GeminiOption func(*genai.ClientConfig)

// WithGeminiBaseURL points the client at a different API endpoint.
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = baseURL
	}
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Models returns available models.
func (c *GeminiClient) Models() []string {
	return []string{
		"gemini-1.5-flash",
		"gemini-1.5-pro",
		"gemini-2.0-flash",
		"gemini-2.5-flash",
	}
}

// Complete sends a completion request.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxTokens),
		SafetySettings:  make([]*genai.SafetySetting, 0, len(safetyCategories)),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopK > 0 {
		config.TopK = genai.Ptr(float32(req.TopK))
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.TopP))
	}
	for _, category := range safetyCategories {
		config.SafetySettings = append(config.SafetySettings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}

	// Convert messages to Gemini contents
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: prompt %s", ErrSafetyBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, fmt.Errorf("%w: candidate finished with %s", ErrSafetyBlocked, candidate.FinishReason)
	}

	// Extract content
	var content strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && !part.Thought {
				content.WriteString(part.Text)
			}
		}
	}
	if strings.TrimSpace(content.String()) == "" {
		return nil, ErrEmptyResponse
	}

	out := &CompletionResponse{
		Content:    content.String(),
		Model:      model,
		StopReason: string(candidate.FinishReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return out, nil
}
