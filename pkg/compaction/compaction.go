// Package compaction decides when a session's history has grown past the
// point of fitting a prompt cheaply, and folds an externally-produced
// summary back into the session. It performs no summarization itself.
package compaction

import (
	"context"
	"time"

	"github.com/ravik/senna/internal/observability"
	"github.com/ravik/senna/internal/tracing"
	"github.com/ravik/senna/pkg/prompt"
	"github.com/ravik/senna/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// Policy holds the compression thresholds. K is the recent window kept
// verbatim; histories longer than 2K trigger compression.
type Policy struct {
	recentWindow        int
	summaryBudgetTokens int
}

// NewPolicy creates a compression policy. Zero or negative arguments fall
// back to the assembler defaults so both stay in step.
func NewPolicy(recentWindow, summaryBudgetTokens int) *Policy {
	observability.EnsureRegistered()

	def := prompt.DefaultConfig()
	if recentWindow < 1 {
		recentWindow = def.RecentWindow
	}
	if summaryBudgetTokens < 1 {
		summaryBudgetTokens = def.SummaryBudgetTokens
	}

	return &Policy{
		recentWindow:        recentWindow,
		summaryBudgetTokens: summaryBudgetTokens,
	}
}

// NeedsCompression reports whether the session's history is long enough
// to be worth folding into a summary.
func (p *Policy) NeedsCompression(sess *session.Session) bool {
	return len(sess.Messages) > 2*p.recentWindow
}

// MessagesForCompression returns the prefix an external summarizer should
// fold: everything except the last K messages.
func (p *Policy) MessagesForCompression(sess *session.Session) []session.Message {
	if len(sess.Messages) <= p.recentWindow {
		return nil
	}
	cut := len(sess.Messages) - p.recentWindow
	out := make([]session.Message, cut)
	copy(out, sess.Messages[:cut])
	return out
}

// Apply atomically replaces the session's messages with their last-K
// suffix and sets the memory summary to the supplied text, truncated to
// the summary budget. Messages are never reordered and the metadata
// message count never decreases. No-op when K or fewer messages remain.
func (p *Policy) Apply(ctx context.Context, sess *session.Session, newSummaryText string) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.compaction",
		"compaction.apply",
		attribute.String("session_key", sess.ID),
		attribute.Int("history_len", len(sess.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sess.ID).Logger()

	if len(sess.Messages) <= p.recentWindow {
		logger.Debug().Msg("Session already short, skipping compression")
		return
	}

	start := time.Now()
	removed := len(sess.Messages) - p.recentWindow

	suffix := make([]session.Message, p.recentWindow)
	copy(suffix, sess.Messages[removed:])

	sess.Messages = suffix
	sess.MemorySummary = prompt.TruncateToTokens(newSummaryText, p.summaryBudgetTokens)

	observability.RecordCompression(time.Since(start), removed)
	span.SetAttributes(attribute.Int("messages_removed", removed))
	logger.Info().
		Int("removed", removed).
		Int("kept", len(sess.Messages)).
		Msg("Session compressed")
}
