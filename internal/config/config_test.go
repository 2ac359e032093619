package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_BACKEND", "LLM_PROVIDER", "CONTEXT_TURNS", "HISTORY_CONTEXT_LIMIT", "RATE_LIMIT_WINDOW", "TRACING_ENABLED", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, StoreNATS, cfg.StoreBackend)
	assert.Equal(t, "gemini", cfg.LLMProvider)
	assert.Equal(t, 5, cfg.ContextTurns)
	assert.Equal(t, 10, cfg.HistoryContextLimit)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.False(t, cfg.TracingEnabled)
	assert.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CONTEXT_TURNS", "3")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "sk-test", cfg.LLMAPIKey())
	assert.Empty(t, cfg.LLMModel())
	assert.Equal(t, 3, cfg.ContextTurns)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("CONTEXT_TURNS", "many")
	t.Setenv("SERVER_READ_TIMEOUT", "soon")
	t.Setenv("TRACING_ENABLED", "perhaps")

	cfg := Load()

	assert.Equal(t, 5, cfg.ContextTurns)
	assert.Equal(t, 30*time.Second, cfg.ServerReadTimeout)
	assert.False(t, cfg.TracingEnabled)
}

func TestLLMAPIKey_DefaultsToGemini(t *testing.T) {
	cfg := &Config{LLMProvider: "gemini", GoogleAIAPIKey: "g-key", GeminiModel: "gemini-1.5-flash"}

	assert.Equal(t, "g-key", cfg.LLMAPIKey())
	assert.Equal(t, "gemini-1.5-flash", cfg.LLMModel())
}

func TestLoad_CORSAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.healspace.example , ,https://admin.healspace.example")

	cfg := Load()

	assert.Equal(t, []string{"https://app.healspace.example", "https://admin.healspace.example"}, cfg.CORSAllowedOrigins)
}
