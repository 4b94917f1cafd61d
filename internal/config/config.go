package config

import (
	"fmt"

	"github.com/ravik/senna/internal/logger"
)

// Config represents the main Senna configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Context assembly
	Context ContextConfig `json:"context" mapstructure:"context"`

	// Fallback routing
	Fallback FallbackConfig `json:"fallback" mapstructure:"fallback"`

	// Providers, in config order; Priority decides fallback order
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Persona used for the system prompt
	Persona PersonaConfig `json:"persona" mapstructure:"persona"`
}

// ContextConfig holds prompt assembly and compression settings
type ContextConfig struct {
	RecentWindow           int `json:"recent_window" mapstructure:"recent_window"`
	SummaryBudgetTokens    int `json:"summary_budget_tokens" mapstructure:"summary_budget_tokens"`
	ToolOutputBudgetTokens int `json:"tool_output_budget_tokens" mapstructure:"tool_output_budget_tokens"`
}

// FallbackConfig holds fallback router settings
type FallbackConfig struct {
	RetryDelayMs     int `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	AttemptTimeoutMs int `json:"attempt_timeout_ms" mapstructure:"attempt_timeout_ms"` // 0 disables the per-attempt timeout
}

// ProviderConfig represents one model provider entry
type ProviderConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower tried first
}

// PersonaConfig holds the static parts of the system prompt
type PersonaConfig struct {
	Name         string `json:"name" mapstructure:"name"`
	Instructions string `json:"instructions" mapstructure:"instructions"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Context: ContextConfig{
			RecentWindow:           10,
			SummaryBudgetTokens:    800,
			ToolOutputBudgetTokens: 500,
		},
		Fallback: FallbackConfig{
			RetryDelayMs:     1000,
			AttemptTimeoutMs: 0,
		},
		Persona: PersonaConfig{
			Name: "Senna",
		},
	}
}

// Validate checks the configuration for common mistakes
func (c *Config) Validate() error {
	if c.Context.RecentWindow < 1 {
		return fmt.Errorf("context.recent_window must be at least 1, got %d", c.Context.RecentWindow)
	}
	if c.Context.SummaryBudgetTokens < 1 {
		return fmt.Errorf("context.summary_budget_tokens must be positive, got %d", c.Context.SummaryBudgetTokens)
	}
	if c.Context.ToolOutputBudgetTokens < 1 {
		return fmt.Errorf("context.tool_output_budget_tokens must be positive, got %d", c.Context.ToolOutputBudgetTokens)
	}
	if c.Fallback.RetryDelayMs < 0 {
		return fmt.Errorf("fallback.retry_delay_ms must not be negative, got %d", c.Fallback.RetryDelayMs)
	}
	if c.Fallback.AttemptTimeoutMs < 0 {
		return fmt.Errorf("fallback.attempt_timeout_ms must not be negative, got %d", c.Fallback.AttemptTimeoutMs)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers[%d]: duplicate provider id %q", i, p.ID)
		}
		seen[p.ID] = true
		switch p.Provider {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("providers[%d]: unknown provider %q", i, p.Provider)
		}
		if p.Model == "" {
			return fmt.Errorf("providers[%d]: model is required", i)
		}
	}

	return nil
}
