// Package app wires a configured Senna process: logger, tracing, session
// store, fallback router with its providers, and the turn runner.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ravik/senna/internal/config"
	"github.com/ravik/senna/internal/logger"
	"github.com/ravik/senna/internal/tracing"
	"github.com/ravik/senna/pkg/agent"
	"github.com/ravik/senna/pkg/compaction"
	"github.com/ravik/senna/pkg/fallback"
	"github.com/ravik/senna/pkg/llm"
	"github.com/ravik/senna/pkg/prompt"
	"github.com/ravik/senna/pkg/session"
)

// App is a fully wired process. Collaborators are exported so embedders
// can reach past the runner when they need to (tool registration, direct
// store access).
type App struct {
	Config    *config.Config
	Logger    *logger.Logger
	Store     *session.Store
	Router    *fallback.Router
	Tools     *llm.ToolSet
	Assembler *prompt.Assembler
	Runner    *agent.Runner
}

// New builds an App from a validated config. Every tunable flows from
// the config: logging, context budgets, retry timing, and the provider
// registry in priority order.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := tracing.Init(); err != nil {
		zl := log.GetZerolog()
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	}

	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	router := fallback.NewRouter(fallback.Config{
		RetryDelay:     time.Duration(cfg.Fallback.RetryDelayMs) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.Fallback.AttemptTimeoutMs) * time.Millisecond,
	})

	factory := &llm.ProviderFactory{}
	for _, p := range cfg.Providers {
		chat, err := factory.NewProvider(p.Provider, p.APIKey)
		if err != nil {
			log.Close()
			return nil, fmt.Errorf("provider %q: %w", p.ID, err)
		}
		if err := router.Register(fallback.Provider{
			ID:       p.ID,
			Chat:     chat,
			Model:    p.Model,
			Priority: p.Priority,
		}); err != nil {
			log.Close()
			return nil, fmt.Errorf("provider %q: %w", p.ID, err)
		}
	}
	if !router.HasProviders() {
		log.Close()
		return nil, fmt.Errorf("no providers configured")
	}

	tools := llm.NewToolSet()
	assembler := prompt.NewAssembler(
		prompt.Config{
			RecentWindow:           cfg.Context.RecentWindow,
			SummaryBudgetTokens:    cfg.Context.SummaryBudgetTokens,
			ToolOutputBudgetTokens: cfg.Context.ToolOutputBudgetTokens,
		},
		prompt.Persona{
			Name:         cfg.Persona.Name,
			Instructions: cfg.Persona.Instructions,
		},
		tools,
	)
	policy := compaction.NewPolicy(cfg.Context.RecentWindow, cfg.Context.SummaryBudgetTokens)

	runner, err := agent.NewRunner(agent.Config{
		Store:     store,
		Assembler: assembler,
		Policy:    policy,
		Router:    router,
		Tools:     tools,
		Logger:    log.GetZerolog(),
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	zl := log.GetZerolog()
	zl.Info().
		Int("providers", len(cfg.Providers)).
		Str("data_dir", cfg.DataDir).
		Msg("Senna initialized")

	return &App{
		Config:    cfg,
		Logger:    log,
		Store:     store,
		Router:    router,
		Tools:     tools,
		Assembler: assembler,
		Runner:    runner,
	}, nil
}

// Close releases everything the app owns.
func (a *App) Close() error {
	var firstErr error
	if err := a.Store.Close(); err != nil {
		firstErr = err
	}
	if err := tracing.Shutdown(context.Background()); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.Logger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
