package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicTestClient(t *testing.T, stopReason, text string, captured *map[string]any) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       "claude-3-5-haiku-20241022",
			"stop_reason": stopReason,
			"content":     []map[string]any{{"type": "text", "text": text}},
			"usage":       map[string]any{"input_tokens": 12, "output_tokens": 5},
		})
	}))
	t.Cleanup(srv.Close)

	client, err := NewAnthropicClient("test-key", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	require.NoError(t, err)
	return client
}

func TestAnthropicClient_Complete(t *testing.T) {
	var captured map[string]any
	client := newAnthropicTestClient(t, "end_turn", "Take a slow breath.", &captured)

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		System:      "be kind",
		Messages:    []ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: 0.7,
		TopK:        40,
	})
	require.NoError(t, err)
	assert.Equal(t, "Take a slow breath.", resp.Content)
	assert.Equal(t, 12, resp.TokensIn)
	assert.Equal(t, 5, resp.TokensOut)

	system, ok := captured["system"].([]any)
	require.True(t, ok, "system prompt should be sent as text blocks")
	require.Len(t, system, 1)
	assert.Equal(t, "be kind", system[0].(map[string]any)["text"])
	assert.EqualValues(t, 40, captured["top_k"])
}

func TestAnthropicClient_Refusal(t *testing.T) {
	client := newAnthropicTestClient(t, "refusal", "", nil)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrSafetyBlocked)
}

func TestAnthropicClient_EmptyResponse(t *testing.T) {
	client := newAnthropicTestClient(t, "end_turn", "  ", nil)

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewAnthropicClient_RequiresKey(t *testing.T) {
	_, err := NewAnthropicClient("")
	assert.Error(t, err)
}
