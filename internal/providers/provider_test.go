package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_portal/internal/models"
)

func openAIConfig(baseURL string) *models.LLMConfiguration {
	return &models.LLMConfiguration{
		ModelName: "GPT-4o",
		Provider:  models.ProviderOpenAI,
		BaseURL:   baseURL,
		Settings:  models.ProviderSettings{Model: "gpt-4o", MaxTokens: 256},
	}
}

func TestOpenAIProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "gpt-4o", payload["model"])

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello there"}},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5},
		})
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(openAIConfig(server.URL), "sk-test", 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, int64(12), resp.PromptTokens)
	assert.Equal(t, int64(5), resp.CompletionTokens)
}

func TestOpenAIProvider_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(openAIConfig(server.URL), "sk-test", 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestAzureOpenAIProvider_Endpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt4-prod/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-02-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.NotContains(t, payload, "model", "azure routes by deployment, not model")

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
			"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 1},
		})
	}))
	defer server.Close()

	cfg := &models.LLMConfiguration{
		ModelName: "GPT-4 (Azure)",
		Provider:  models.ProviderAzureOpenAI,
		BaseURL:   server.URL,
		Settings:  models.ProviderSettings{Deployment: "gpt4-prod", APIVersion: "2024-02-01"},
	}
	p, err := NewAzureOpenAIProvider(cfg, "azure-key", 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestAnthropicProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		var payload anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "be helpful", payload.System, "system message hoisted out of messages")
		require.Len(t, payload.Messages, 1)
		assert.Positive(t, payload.MaxTokens, "messages API requires max_tokens")

		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "sure"},
			},
			"usage": map[string]any{"input_tokens": 9, "output_tokens": 2},
		})
	}))
	defer server.Close()

	cfg := &models.LLMConfiguration{
		ModelName: "Claude",
		Provider:  models.ProviderAnthropic,
		BaseURL:   server.URL,
		Settings:  models.ProviderSettings{Model: "claude-3-5-sonnet"},
	}
	p, err := NewAnthropicProvider(cfg, "ak-test", 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "sure", resp.Content)
	assert.Equal(t, int64(9), resp.PromptTokens)
	assert.Equal(t, int64(2), resp.CompletionTokens)
}

func TestOllamaProvider_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var payload ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.False(t, payload.Stream)
		assert.Equal(t, "llama3", payload.Model)

		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"content": "local answer"},
			"prompt_eval_count": 7,
			"eval_count":        4,
		})
	}))
	defer server.Close()

	cfg := &models.LLMConfiguration{
		ModelName: "Llama 3",
		Provider:  models.ProviderOllama,
		BaseURL:   server.URL,
		Settings:  models.ProviderSettings{Model: "llama3"},
	}
	p, err := NewOllamaProvider(cfg, 5*time.Second)
	require.NoError(t, err)
	defer p.Close()

	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "local answer", resp.Content)
	assert.Equal(t, int64(7), resp.PromptTokens)
	assert.Equal(t, int64(4), resp.CompletionTokens)
}

func TestNew(t *testing.T) {
	t.Run("builds each supported provider", func(t *testing.T) {
		for _, providerType := range SupportedTypes() {
			cfg := &models.LLMConfiguration{
				ModelName: "m",
				Provider:  providerType,
				BaseURL:   "http://localhost:9999",
				Settings: models.ProviderSettings{
					Model:      "m",
					Deployment: "d",
					APIVersion: "v1",
				},
			}
			p, err := New(cfg, "key", time.Second)
			require.NoError(t, err, providerType)
			assert.Equal(t, providerType, p.Name())
		}
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfg := &models.LLMConfiguration{
			ModelName: "m",
			Provider:  "bedrock",
			Settings:  models.ProviderSettings{Model: "m"},
		}
		_, err := New(cfg, "key", time.Second)
		assert.Error(t, err)
	})

	t.Run("rejects invalid settings", func(t *testing.T) {
		cfg := &models.LLMConfiguration{
			ModelName: "m",
			Provider:  models.ProviderOpenAI,
			Settings:  models.ProviderSettings{},
		}
		_, err := New(cfg, "key", time.Second)
		assert.Error(t, err)
	})
}
