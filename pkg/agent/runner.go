// Package agent drives one conversation turn end to end: load the
// session, assemble the prompt, route the call across backends, persist
// the exchange, and fold the history into a summary once it outgrows the
// compression threshold.
package agent

import (
	"context"
	"fmt"

	"github.com/ravik/senna/internal/tracing"
	"github.com/ravik/senna/pkg/compaction"
	"github.com/ravik/senna/pkg/fallback"
	"github.com/ravik/senna/pkg/llm"
	"github.com/ravik/senna/pkg/prompt"
	"github.com/ravik/senna/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Summarizer produces the summary text folded into a session on
// compression. Summarization itself is external; the runner only decides
// when to invoke it and applies the result.
type Summarizer interface {
	Summarize(ctx context.Context, messages []session.Message) (string, error)
}

// Config wires the runner's collaborators.
type Config struct {
	Store      *session.Store
	Turns      *session.TurnLock
	Assembler  *prompt.Assembler
	Policy     *compaction.Policy
	Router     *fallback.Router
	Tools      *llm.ToolSet
	Summarizer Summarizer // optional; compression is skipped without one
	Logger     zerolog.Logger
}

// Runner executes turns. One Runner serves all sessions; the turn lock
// keeps cycles on the same session strictly sequential.
type Runner struct {
	store      *session.Store
	turns      *session.TurnLock
	assembler  *prompt.Assembler
	policy     *compaction.Policy
	router     *fallback.Router
	tools      *llm.ToolSet
	summarizer Summarizer
	logger     zerolog.Logger
}

// NewRunner validates the wiring and creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Assembler == nil {
		return nil, fmt.Errorf("prompt assembler is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("fallback router is required")
	}
	if !cfg.Router.HasProviders() {
		return nil, fmt.Errorf("fallback router has no providers registered")
	}
	if cfg.Turns == nil {
		cfg.Turns = session.NewTurnLock()
	}
	if cfg.Policy == nil {
		def := prompt.DefaultConfig()
		cfg.Policy = compaction.NewPolicy(def.RecentWindow, def.SummaryBudgetTokens)
	}

	return &Runner{
		store:      cfg.Store,
		turns:      cfg.Turns,
		assembler:  cfg.Assembler,
		policy:     cfg.Policy,
		router:     cfg.Router,
		tools:      cfg.Tools,
		summarizer: cfg.Summarizer,
		logger:     cfg.Logger,
	}, nil
}

// RunParams is the input for one turn.
type RunParams struct {
	SessionKey          string
	Prompt              string
	PreferredProviderID string
}

// RunResult is the outcome of one turn.
type RunResult struct {
	Response   string
	ToolCalls  []session.ToolCall
	ProviderID string
	Model      string
	Attempts   []fallback.Attempt
	Usage      *llm.TokenUsage
}

// Run executes a single turn for a session. Concurrent calls with the
// same key queue behind each other; calls on different keys proceed in
// parallel.
func (r *Runner) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	if err := session.ValidateKey(params.SessionKey); err != nil {
		return nil, err
	}
	if params.Prompt == "" {
		return nil, fmt.Errorf("prompt cannot be empty")
	}

	ctx = tracing.NewTurnContext(ctx, params.SessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.agent",
		"agent.run",
		attribute.String("session_key", params.SessionKey),
	)
	defer span.End()

	var result *RunResult
	err := r.turns.Do(ctx, params.SessionKey, func(ctx context.Context) error {
		var err error
		result, err = r.runLocked(ctx, params)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return result, nil
}

func (r *Runner) runLocked(ctx context.Context, params RunParams) (*RunResult, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sess, err := r.store.Load(ctx, params.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	userMsg := session.NewMessage(session.RoleUser, params.Prompt)
	sess.Append(userMsg)
	if err := r.store.Append(ctx, params.SessionKey, userMsg); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	messages := r.assembler.BuildContext(ctx, sess)

	var tools []llm.ToolDefinition
	if r.tools != nil {
		tools = r.tools.Definitions()
	}

	callResult, err := r.router.Execute(ctx, fallback.ExecuteParams{
		Messages:            messages,
		Tools:               tools,
		PreferredProviderID: params.PreferredProviderID,
		OnAttempt: func(a fallback.Attempt) {
			evt := logger.Debug().
				Str("provider_id", a.ProviderID).
				Bool("success", a.Success).
				Dur("latency", a.Latency)
			if a.Err != nil {
				evt = evt.Str("kind", string(a.Err.Kind))
			}
			evt.Msg("Fallback attempt")
		},
	})
	if err != nil {
		return nil, err
	}

	assistantMsg := session.NewMessage(session.RoleAssistant, callResult.Response.Content)
	assistantMsg.ToolCalls = callResult.Response.ToolCalls
	sess.Append(assistantMsg)
	if err := r.store.Append(ctx, params.SessionKey, assistantMsg); err != nil {
		return nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	r.maybeCompress(ctx, params.SessionKey, sess)

	return &RunResult{
		Response:   callResult.Response.Content,
		ToolCalls:  callResult.Response.ToolCalls,
		ProviderID: callResult.ProviderID,
		Model:      callResult.Model,
		Attempts:   callResult.Attempts,
		Usage:      callResult.Response.Usage,
	}, nil
}

// RecordToolResult persists a tool result message for a session, keeping
// the call id pairing intact for the next context build.
func (r *Runner) RecordToolResult(ctx context.Context, sessionKey, callID, output string) error {
	msg := session.NewMessage(session.RoleTool, output)
	msg.ToolCallID = callID
	return r.store.Append(ctx, sessionKey, msg)
}

// maybeCompress folds the session when the policy signals it. Compression
// failures are logged, never fatal: a turn that produced a response has
// already succeeded.
func (r *Runner) maybeCompress(ctx context.Context, sessionKey string, sess *session.Session) {
	if r.summarizer == nil || !r.policy.NeedsCompression(sess) {
		return
	}
	logger := tracing.LoggerFromContext(ctx, r.logger)

	summary, err := r.summarizer.Summarize(ctx, r.policy.MessagesForCompression(sess))
	if err != nil {
		logger.Warn().Err(err).Msg("Summarizer failed, keeping full history")
		return
	}

	r.policy.Apply(ctx, sess, summary)

	if err := r.store.Snapshot(ctx, sessionKey, sess); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist compressed session")
	}
}
