// Package config provides configuration loading for ecodexd.
//
// Configuration is loaded from a YAML file, then overridden by
// environment variables, with sensible defaults for everything else.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ecodexd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Provider   ProviderConfig   `koanf:"provider"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Feedback   FeedbackConfig   `koanf:"feedback"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ProviderConfig holds model provider configuration.
type ProviderConfig struct {
	Name        string        `koanf:"name"` // openai, deepseek, grok, ollama
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
}

// ExtractionConfig holds orchestrator tuning.
type ExtractionConfig struct {
	Concurrency    int           `koanf:"concurrency"`
	MaxAttempts    int           `koanf:"max_attempts"`
	BaseBackoff    time.Duration `koanf:"base_backoff"`
	FatalThreshold int           `koanf:"fatal_threshold"`
	MaxExamples    int           `koanf:"max_examples"`
}

// FeedbackConfig holds the feedback log location.
type FeedbackConfig struct {
	Dir string `koanf:"dir"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	switch c.Provider.Name {
	case "openai", "deepseek", "grok", "ollama":
	default:
		return fmt.Errorf("invalid provider: %q", c.Provider.Name)
	}
	if c.Provider.Name != "ollama" && c.Provider.APIKey == "" {
		return fmt.Errorf("provider %s requires an api_key", c.Provider.Name)
	}

	if c.Extraction.Concurrency < 1 {
		return errors.New("extraction concurrency must be positive")
	}
	if c.Extraction.MaxAttempts < 1 {
		return errors.New("extraction max_attempts must be positive")
	}

	if c.Feedback.Dir == "" {
		return errors.New("feedback dir cannot be empty")
	}

	return nil
}
