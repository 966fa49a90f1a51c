// Package provider implements the model-call boundary of the
// extraction pipeline. Clients are provider-agnostic from the caller's
// side: they take a rendered request and return raw response text,
// with failures typed transient (worth retrying) or fatal.
//
// Retry policy deliberately lives with the orchestrator, not here;
// clients only classify errors and enforce a local rate limit.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/szefer-piotr/eco-data-extractor/internal/extraction"
)

// Default configuration values.
const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
	defaultGrokBaseURL     = "https://api.x.ai/v1"
	defaultOllamaBaseURL   = "http://localhost:11434"

	defaultOpenAIModel   = "gpt-4o-mini"
	defaultDeepSeekModel = "deepseek-chat"
	defaultGrokModel     = "grok-2-latest"
	defaultOllamaModel   = "llama3.1"

	defaultTimeout     = 60 * time.Second
	defaultTemperature = 0.3
	defaultMaxTokens   = 2048
)

// Rate limiter defaults: 50 requests per minute.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// ErrUnknownProvider is returned by New for unrecognized provider names.
var ErrUnknownProvider = errors.New("unknown provider")

// Provider generates raw model responses for extraction requests.
type Provider interface {
	// Generate sends the request and returns the raw response text.
	// Errors are typed: IsTransient reports whether a retry may help.
	Generate(ctx context.Context, req extraction.Request) (string, error)

	// Available returns true if the provider is configured and ready.
	Available() bool
}

// Config holds provider client configuration.
type Config struct {
	// Name selects the provider: "openai", "deepseek", "grok", "ollama".
	Name string `json:"name"`

	// Model is the model identifier; empty uses the provider default.
	Model string `json:"model"`

	// APIKey authenticates against the provider. Ollama needs none.
	APIKey string `json:"-"`

	// BaseURL overrides the provider endpoint (custom deployments).
	BaseURL string `json:"base_url,omitempty"`

	// Timeout is the per-call timeout; 0 uses the default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Temperature controls sampling; 0 uses the default.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens bounds the response length; 0 uses the default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// New creates a provider client by name. DeepSeek and Grok expose
// OpenAI-compatible chat APIs and share the OpenAI client.
func New(cfg Config) (Provider, error) {
	switch cfg.Name {
	case "openai":
		return newOpenAIClient(cfg, defaultOpenAIBaseURL, defaultOpenAIModel)
	case "deepseek":
		return newOpenAIClient(cfg, defaultDeepSeekBaseURL, defaultDeepSeekModel)
	case "grok":
		return newOpenAIClient(cfg, defaultGrokBaseURL, defaultGrokModel)
	case "ollama":
		return newOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}

// transientError wraps an error to mark it retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient wraps err so IsTransient reports true. Collaborators that
// classify their own failures (and tests) can reuse the same typing.
func Transient(err error) error {
	return &transientError{err: err}
}

// IsTransient reports whether the error is worth retrying (timeouts,
// rate limits, server errors). Auth and invalid-request failures are
// fatal and return false.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	return errors.As(err, &te)
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst)
}

func timeoutFrom(cfg Config) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultTimeout
}

func temperatureFrom(cfg Config) float64 {
	if cfg.Temperature > 0 {
		return cfg.Temperature
	}
	return defaultTemperature
}

func maxTokensFrom(cfg Config) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return defaultMaxTokens
}
