package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Supported provider identifiers for LLM configurations.
const (
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderOllama      = "ollama"
	ProviderAzureOpenAI = "azure_openai"
)

// LLMConfiguration describes one upstream model an administrator has made
// available to the portal.
type LLMConfiguration struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	ModelName       string           `db:"model_name" json:"model_name"`
	Provider        string           `db:"provider" json:"provider"`
	APIKeyEncrypted string           `db:"api_key_encrypted" json:"-"`
	BaseURL         string           `db:"base_url" json:"base_url,omitempty"`
	Enabled         bool             `db:"enabled" json:"enabled"`
	Settings        ProviderSettings `db:"settings" json:"settings"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// ProviderSettings is the typed configuration attached to an LLM
// configuration. It replaces an open JSON map so malformed provider configs
// are rejected at admin-submit time rather than at request time. Which fields
// are required depends on the provider tag on the parent configuration; see
// Validate.
type ProviderSettings struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Description string  `json:"description,omitempty"`

	// Cost per 1000 tokens in USD. Zero means "use the built-in rate for
	// this model"; Ollama deployments cost nothing either way.
	PromptPricePer1K     float64 `json:"prompt_price_per_1k,omitempty"`
	CompletionPricePer1K float64 `json:"completion_price_per_1k,omitempty"`

	// Azure OpenAI only
	Deployment string `json:"deployment,omitempty"`
	APIVersion string `json:"api_version,omitempty"`
}

// modelRates is one prompt/completion price pair per 1000 tokens.
type modelRates struct {
	prompt     float64
	completion float64
}

// defaultPricing holds approximate per-model rates used when a configuration
// does not carry explicit prices. Unknown chat models fall back to
// gpt-3.5-turbo rates.
var defaultPricing = map[string]modelRates{
	"gpt-4":             {prompt: 0.03, completion: 0.06},
	"gpt-4-turbo":       {prompt: 0.01, completion: 0.03},
	"gpt-4o":            {prompt: 0.005, completion: 0.015},
	"gpt-3.5-turbo":     {prompt: 0.001, completion: 0.002},
	"gpt-3.5-turbo-16k": {prompt: 0.003, completion: 0.004},
	"claude-3-opus":     {prompt: 0.015, completion: 0.075},
	"claude-3-5-sonnet": {prompt: 0.003, completion: 0.015},
	"claude-3-haiku":    {prompt: 0.00025, completion: 0.00125},
}

var fallbackRates = defaultPricing["gpt-3.5-turbo"]

// EstimateCost returns the approximate USD cost of one call against this
// configuration. Explicit prices on the settings win over the built-in table.
func (c *LLMConfiguration) EstimateCost(promptTokens, completionTokens int64) float64 {
	if strings.EqualFold(c.Provider, ProviderOllama) {
		return 0
	}

	rates := modelRates{
		prompt:     c.Settings.PromptPricePer1K,
		completion: c.Settings.CompletionPricePer1K,
	}
	if rates.prompt == 0 && rates.completion == 0 {
		var ok bool
		if rates, ok = defaultPricing[c.ModelName]; !ok {
			rates = fallbackRates
		}
	}

	cost := float64(promptTokens)/1000*rates.prompt + float64(completionTokens)/1000*rates.completion
	return math.Round(cost*1e6) / 1e6
}

// Value implements driver.Valuer so settings persist as jsonb.
func (s ProviderSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *ProviderSettings) Scan(value any) error {
	if value == nil {
		*s = ProviderSettings{}
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("ProviderSettings: expected []byte, got %T", value)
	}
	if len(b) == 0 {
		*s = ProviderSettings{}
		return nil
	}
	return json.Unmarshal(b, s)
}

// Validate checks the settings against the provider tag.
func (s ProviderSettings) Validate(provider string) error {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		if s.Model == "" {
			return fmt.Errorf("settings.model is required for provider %q", provider)
		}
	case ProviderAzureOpenAI:
		if s.Deployment == "" {
			return fmt.Errorf("settings.deployment is required for provider %q", provider)
		}
		if s.APIVersion == "" {
			return fmt.Errorf("settings.api_version is required for provider %q", provider)
		}
	default:
		return fmt.Errorf("unsupported provider %q", provider)
	}

	if s.MaxTokens < 0 {
		return fmt.Errorf("settings.max_tokens must be non-negative")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("settings.temperature must be in [0, 2]")
	}
	if s.PromptPricePer1K < 0 || s.CompletionPricePer1K < 0 {
		return fmt.Errorf("settings prices must be non-negative")
	}
	return nil
}
