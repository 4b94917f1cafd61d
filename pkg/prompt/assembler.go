package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ravik/senna/internal/observability"
	"github.com/ravik/senna/internal/tracing"
	"github.com/ravik/senna/pkg/llm"
	"github.com/ravik/senna/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds the assembler's budgets.
type Config struct {
	RecentWindow           int // K, messages kept from the tail of history
	SummaryBudgetTokens    int
	ToolOutputBudgetTokens int
}

// DefaultConfig returns the default assembly budgets.
func DefaultConfig() Config {
	return Config{
		RecentWindow:           10,
		SummaryBudgetTokens:    800,
		ToolOutputBudgetTokens: 500,
	}
}

// Assembler builds the prompt sent to a backend for one turn: a fresh
// system message, optional scratchpad and summary messages, then the
// repaired recent window of the conversation.
type Assembler struct {
	cfg     Config
	persona SystemPromptRenderer
	tools   *llm.ToolSet
}

// NewAssembler creates an assembler. tools may be nil when no tools are
// offered to the model.
func NewAssembler(cfg Config, persona SystemPromptRenderer, tools *llm.ToolSet) *Assembler {
	observability.EnsureRegistered()

	if cfg.RecentWindow < 1 {
		cfg.RecentWindow = DefaultConfig().RecentWindow
	}
	if cfg.SummaryBudgetTokens < 1 {
		cfg.SummaryBudgetTokens = DefaultConfig().SummaryBudgetTokens
	}
	if cfg.ToolOutputBudgetTokens < 1 {
		cfg.ToolOutputBudgetTokens = DefaultConfig().ToolOutputBudgetTokens
	}
	if persona == nil {
		persona = Persona{}
	}

	return &Assembler{
		cfg:     cfg,
		persona: persona,
		tools:   tools,
	}
}

// RecentWindow returns K, the configured recent-window size.
func (a *Assembler) RecentWindow() int {
	return a.cfg.RecentWindow
}

// BuildContext assembles the ordered prompt messages for one turn. The
// session is not mutated; truncation happens on copies. Never fails: at
// worst orphaned tool messages are left out.
func (a *Assembler) BuildContext(ctx context.Context, sess *session.Session) []session.Message {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.prompt",
		"prompt.build_context",
		attribute.String("session_key", sess.ID),
		attribute.Int("history_len", len(sess.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sess.ID).Logger()
	start := time.Now()

	var out []session.Message

	// 1. Fresh system message, rebuilt every call.
	var toolNames []string
	if a.tools != nil {
		toolNames = a.tools.Names()
	}
	out = append(out, session.Message{
		Role:    session.RoleSystem,
		Content: a.persona.Render(toolNames),
	})

	// 2. Scratchpad state, when present.
	if !sess.Scratchpad.IsEmpty() {
		out = append(out, session.Message{
			Role:    session.RoleSystem,
			Content: renderScratchpad(sess.Scratchpad),
		})
	}

	// 3. Rolling summary, truncated to its budget.
	if sess.MemorySummary != "" {
		out = append(out, session.Message{
			Role:    session.RoleSystem,
			Content: "Conversation summary so far:\n" + TruncateToTokens(sess.MemorySummary, a.cfg.SummaryBudgetTokens),
		})
	}

	// 4. Recent window, repaired so tool calls and results travel together.
	history := sess.Messages
	windowStart := len(history) - a.cfg.RecentWindow
	if windowStart < 0 {
		windowStart = 0
	}

	for _, idx := range repairWindow(history, windowStart) {
		msg := history[idx]
		if msg.Role == session.RoleTool {
			truncated := TruncateToTokens(msg.Content, a.cfg.ToolOutputBudgetTokens)
			if truncated != msg.Content {
				observability.RecordOutputTruncated()
			}
			msg.Content = truncated
		}
		out = append(out, msg)
	}

	tokens := EstimateMessageTokens(out)
	observability.RecordContextBuild(time.Since(start), tokens)
	span.SetAttributes(
		attribute.Int("prompt_messages", len(out)),
		attribute.Int("prompt_tokens_estimate", tokens),
	)
	logger.Debug().
		Int("messages", len(out)).
		Int("tokens_estimate", tokens).
		Msg("Context assembled")

	return out
}

// renderScratchpad renders multi-step task state into one system message.
func renderScratchpad(sp *session.Scratchpad) string {
	var sb strings.Builder
	sb.WriteString("Task state:\n")

	if len(sp.Visited) > 0 {
		fmt.Fprintf(&sb, "Visited: %s\n", strings.Join(sp.Visited, ", "))
	}
	if len(sp.Collected) > 0 {
		fmt.Fprintf(&sb, "Collected: %s\n", strings.Join(sp.Collected, ", "))
	}
	if len(sp.Pending) > 0 {
		fmt.Fprintf(&sb, "Pending: %s\n", strings.Join(sp.Pending, ", "))
	}
	if sp.Progress != "" {
		fmt.Fprintf(&sb, "Progress: %s\n", sp.Progress)
	}

	return sb.String()
}
