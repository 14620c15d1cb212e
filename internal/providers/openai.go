package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llm_portal/internal/models"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI chat completions API. It also covers
// Azure OpenAI, which uses the same payload behind a deployment-scoped URL
// and an api-key header.
type OpenAIProvider struct {
	model      string
	apiKey     string
	baseURL    string
	client     *http.Client
	azure      bool
	deployment string
	apiVersion string
}

// NewOpenAIProvider creates a provider for the plain OpenAI API
func NewOpenAIProvider(cfg *models.LLMConfiguration, apiKey string, timeout time.Duration) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for openai provider")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}

	return &OpenAIProvider{
		model:   cfg.Settings.Model,
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  newHTTPClient(timeout),
	}, nil
}

// NewAzureOpenAIProvider creates a provider for an Azure OpenAI deployment
func NewAzureOpenAIProvider(cfg *models.LLMConfiguration, apiKey string, timeout time.Duration) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for azure_openai provider")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for azure_openai provider")
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		client:     newHTTPClient(timeout),
		azure:      true,
		deployment: cfg.Settings.Deployment,
		apiVersion: cfg.Settings.APIVersion,
	}, nil
}

// Name returns the provider type
func (p *OpenAIProvider) Name() string {
	if p.azure {
		return models.ProviderAzureOpenAI
	}
	return models.ProviderOpenAI
}

type openAIRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	payload := openAIRequest{
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if !p.azure {
		payload.Model = p.model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.azure {
		httpReq.Header.Set("api-key", p.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(p.Name(), resp.StatusCode, respBody)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	return &ChatResponse{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		ProviderLatency:  time.Since(start),
	}, nil
}

func (p *OpenAIProvider) endpoint() string {
	if p.azure {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			p.baseURL, url.PathEscape(p.deployment), url.QueryEscape(p.apiVersion))
	}
	return p.baseURL + "/chat/completions"
}

// Close releases idle connections
func (p *OpenAIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
