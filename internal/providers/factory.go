package providers

import (
	"fmt"
	"strings"
	"time"

	"llm_portal/internal/models"
)

// New builds a Provider for an LLM configuration. apiKey is the decrypted
// credential; Ollama ignores it.
func New(cfg *models.LLMConfiguration, apiKey string, timeout time.Duration) (Provider, error) {
	if err := cfg.Settings.Validate(cfg.Provider); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Provider) {
	case models.ProviderOpenAI:
		return NewOpenAIProvider(cfg, apiKey, timeout)
	case models.ProviderAzureOpenAI:
		return NewAzureOpenAIProvider(cfg, apiKey, timeout)
	case models.ProviderAnthropic:
		return NewAnthropicProvider(cfg, apiKey, timeout)
	case models.ProviderOllama:
		return NewOllamaProvider(cfg, timeout)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// SupportedTypes returns the provider identifiers New accepts
func SupportedTypes() []string {
	return []string{
		models.ProviderOpenAI,
		models.ProviderAzureOpenAI,
		models.ProviderAnthropic,
		models.ProviderOllama,
	}
}
