package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUpstream is returned when a provider responds with a non-2xx status
var ErrUpstream = errors.New("upstream provider error")

// ChatMessage is one turn of a conversation in the provider-neutral shape
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a normalized chat completion request. Model selection,
// token caps and temperature come from the LLM configuration, not from the
// end user.
type ChatRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is a normalized provider response
type ChatResponse struct {
	Content          string
	PromptTokens     int64
	CompletionTokens int64
	ProviderLatency  time.Duration
}

// Provider is implemented by each upstream LLM backend
type Provider interface {
	// Name returns the provider type identifier
	Name() string

	// Chat sends a chat completion request and returns the normalized
	// response. Token counts are the provider's reported usage; zero means
	// the provider did not report and the caller should estimate.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Close releases idle connections
	Close() error
}

// newHTTPClient builds the shared HTTP client shape used by all providers
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// upstreamError formats a provider failure, keeping the status for callers
// that map it to an HTTP response.
func upstreamError(provider string, status int, body []byte) error {
	return fmt.Errorf("%w: %s returned status %d: %s", ErrUpstream, provider, status, truncate(body, 512))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
