package session

import (
	"context"
	"sync"

	"github.com/ravik/senna/internal/observability"
	"github.com/ravik/senna/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// TurnLock serializes turns per session key. A build/call/compress cycle
// mutates its session with no internal locking, so at most one may be in
// flight per key; later turns on the same key queue behind it while turns
// on other keys proceed concurrently.
type TurnLock struct {
	mu    sync.Mutex
	lanes map[string]*turnLane
}

type turnLane struct {
	ch    chan struct{} // holds one token when the lane is free
	depth int           // turns waiting or running
}

// NewTurnLock creates an empty turn lock.
func NewTurnLock() *TurnLock {
	observability.EnsureRegistered()
	return &TurnLock{
		lanes: make(map[string]*turnLane),
	}
}

func (tl *TurnLock) lane(sessionKey string) *turnLane {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if l, exists := tl.lanes[sessionKey]; exists {
		return l
	}

	l := &turnLane{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	tl.lanes[sessionKey] = l
	return l
}

// Acquire blocks until the session's lane is free or the context is done.
// On success it returns a release function which must be called exactly once.
func (tl *TurnLock) Acquire(ctx context.Context, sessionKey string) (func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}

	l := tl.lane(sessionKey)

	tl.mu.Lock()
	l.depth++
	depth := l.depth
	tl.mu.Unlock()
	observability.SetTurnLaneDepth(sessionKey, depth)

	if depth > 1 {
		log.Debug().
			Str("session_key", sessionKey).
			Int("depth", depth).
			Msg("Turn waiting for session lane")
	}

	select {
	case <-l.ch:
		release := func() {
			tl.mu.Lock()
			l.depth--
			depth := l.depth
			tl.mu.Unlock()
			observability.SetTurnLaneDepth(sessionKey, depth)
			l.ch <- struct{}{}
		}
		return release, nil
	case <-ctx.Done():
		tl.mu.Lock()
		l.depth--
		depth := l.depth
		tl.mu.Unlock()
		observability.SetTurnLaneDepth(sessionKey, depth)
		return nil, ctx.Err()
	}
}

// Do runs fn while holding the session's lane.
func (tl *TurnLock) Do(ctx context.Context, sessionKey string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"senna.session",
		"session.turn",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()

	release, err := tl.Acquire(ctx, sessionKey)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// Depth returns the number of turns waiting or running for a session key.
func (tl *TurnLock) Depth(sessionKey string) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if l, exists := tl.lanes[sessionKey]; exists {
		return l.depth
	}
	return 0
}
