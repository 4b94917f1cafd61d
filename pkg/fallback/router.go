package fallback

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ravik/senna/internal/observability"
	"github.com/ravik/senna/internal/tracing"
	"github.com/ravik/senna/pkg/llm"
	"github.com/ravik/senna/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Provider is one fallback candidate: a chat capability bound to a model,
// ordered by priority (lower = tried earlier among non-preferred
// candidates).
type Provider struct {
	ID       string
	Chat     llm.ChatProvider
	Model    string
	Priority int
}

// Attempt is the immutable record of one provider try.
type Attempt struct {
	ProviderID string
	Model      string
	Success    bool
	Err        *ClassifiedError
	Latency    time.Duration
}

// Result is returned when one candidate succeeds: the winning response
// plus the full attempt trail.
type Result struct {
	Response     *llm.ChatResponse
	ProviderID   string
	Model        string
	Attempts     []Attempt
	TotalLatency time.Duration
}

// ExhaustedError aggregates every attempt after all candidates failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		msg := "unknown error"
		if a.Err != nil {
			msg = a.Err.Message
		}
		parts = append(parts, fmt.Sprintf("%s: %s", a.ProviderID, msg))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// ExecuteParams carries one call through the router.
type ExecuteParams struct {
	Messages            []session.Message
	Tools               []llm.ToolDefinition
	PreferredProviderID string

	// OnAttempt, when set, is invoked synchronously after every attempt,
	// successful or not.
	OnAttempt func(Attempt)
}

// Config holds the router's timing knobs.
type Config struct {
	// RetryDelay is the fixed wait between attempts after a retryable
	// failure. Zero selects the default of one second.
	RetryDelay time.Duration

	// AttemptTimeout, when positive, bounds each provider call so a
	// hanging backend cannot stall the turn. Zero imposes no deadline.
	AttemptTimeout time.Duration
}

// Router keeps a priority-sorted registry of providers and drives one
// call through them until success, exhaustion, or a non-retryable
// failure. Construct one per process and pass the handle around.
type Router struct {
	mu        sync.RWMutex
	providers []Provider
	cfg       Config
}

// NewRouter creates a router. Registration is expected to complete before
// concurrent traffic begins; the registry is still mutex-guarded so a
// late Register cannot corrupt an in-flight call.
func NewRouter(cfg Config) *Router {
	observability.EnsureRegistered()

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	return &Router{cfg: cfg}
}

// Register adds a provider and re-sorts the registry by priority. Ids are
// unique; there is no runtime removal.
func (r *Router) Register(p Provider) error {
	if p.ID == "" {
		return fmt.Errorf("provider id cannot be empty")
	}
	if p.Chat == nil {
		return fmt.Errorf("provider %q has no chat capability", p.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.providers {
		if existing.ID == p.ID {
			return fmt.Errorf("provider %q already registered", p.ID)
		}
	}

	r.providers = append(r.providers, p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})

	log.Info().
		Str("provider_id", p.ID).
		Str("model", p.Model).
		Int("priority", p.Priority).
		Msg("Fallback provider registered")

	return nil
}

// HasProviders reports whether any provider is registered.
func (r *Router) HasProviders() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// Providers returns the registry in priority order.
func (r *Router) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// candidates orders the registry for one call: the preferred provider
// first when registered, then the rest by priority with the preferred
// entry excluded from its natural slot.
func (r *Router) candidates(preferredID string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	if preferredID != "" {
		for _, p := range r.providers {
			if p.ID == preferredID {
				out = append(out, p)
				break
			}
		}
	}
	for _, p := range r.providers {
		if len(out) > 0 && p.ID == out[0].ID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Execute tries candidates strictly in sequence until one succeeds. The
// first success wins and no further candidate is tried. A non-retryable
// classified error aborts immediately and is returned unmodified; after
// a retryable failure the router waits the fixed retry delay and moves
// on. When every candidate has failed it returns an ExhaustedError
// aggregating the whole attempt trail.
//
// Sequential on purpose: a tool-bearing call must never land on two
// backends at once.
func (r *Router) Execute(ctx context.Context, params ExecuteParams) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.fallback",
		"fallback.execute",
		attribute.String("preferred_provider", params.PreferredProviderID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	cands := r.candidates(params.PreferredProviderID)
	if len(cands) == 0 {
		err := fmt.Errorf("no providers registered")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	attempts := make([]Attempt, 0, len(cands))

	for i, cand := range cands {
		attemptCtx := tracing.WithProviderID(ctx, cand.ID)
		cancel := context.CancelFunc(func() {})
		if r.cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(attemptCtx, r.cfg.AttemptTimeout)
		}

		attemptStart := time.Now()
		response, err := cand.Chat.Chat(attemptCtx, llm.ChatRequest{
			Model:    cand.Model,
			Messages: params.Messages,
			Tools:    params.Tools,
		})
		latency := time.Since(attemptStart)
		cancel()

		if err == nil {
			attempt := Attempt{
				ProviderID: cand.ID,
				Model:      cand.Model,
				Success:    true,
				Latency:    latency,
			}
			attempts = append(attempts, attempt)
			if params.OnAttempt != nil {
				params.OnAttempt(attempt)
			}
			observability.RecordProviderAttempt(cand.ID, latency, true)

			logger.Debug().
				Str("provider_id", cand.ID).
				Int("attempts", len(attempts)).
				Dur("latency", latency).
				Msg("Provider call succeeded")

			return &Result{
				Response:     response,
				ProviderID:   cand.ID,
				Model:        cand.Model,
				Attempts:     attempts,
				TotalLatency: time.Since(start),
			}, nil
		}

		cerr := Classify(err, cand.ID)
		attempt := Attempt{
			ProviderID: cand.ID,
			Model:      cand.Model,
			Err:        cerr,
			Latency:    latency,
		}
		attempts = append(attempts, attempt)
		if params.OnAttempt != nil {
			params.OnAttempt(attempt)
		}
		observability.RecordProviderAttempt(cand.ID, latency, false)
		observability.RecordProviderError(cand.ID, string(cerr.Kind))

		logger.Warn().
			Str("provider_id", cand.ID).
			Str("kind", string(cerr.Kind)).
			Bool("retryable", cerr.Retryable).
			Dur("latency", latency).
			Msg("Provider call failed")

		if !cerr.Retryable {
			span.RecordError(cerr)
			span.SetStatus(codes.Error, cerr.Error())
			return nil, cerr
		}

		if i < len(cands)-1 {
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				return nil, ctx.Err()
			}
		}
	}

	observability.RecordFallbackExhausted()
	err := &ExhaustedError{Attempts: attempts}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error().Int("attempts", len(attempts)).Msg("All fallback providers failed")

	return nil, err
}
