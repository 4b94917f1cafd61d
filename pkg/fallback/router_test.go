package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ravik/senna/pkg/llm"
	"github.com/ravik/senna/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	err      error
	response *llm.ChatResponse
	calls    int
	lastReq  llm.ChatRequest
	delay    time.Duration
}

func (f *fakeChat) Chat(ctx context.Context, request llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.lastReq = request
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, errors.New("request timeout")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &llm.ChatResponse{Content: "ok"}, nil
}

func (f *fakeChat) Provider() string { return "fake" }

func newTestRouter() *Router {
	return NewRouter(Config{RetryDelay: time.Millisecond})
}

func TestRegister(t *testing.T) {
	t.Run("should keep providers sorted by priority", func(t *testing.T) {
		r := newTestRouter()

		require.NoError(t, r.Register(Provider{ID: "p2", Chat: &fakeChat{}, Model: "m2", Priority: 1}))
		require.NoError(t, r.Register(Provider{ID: "p1", Chat: &fakeChat{}, Model: "m1", Priority: 0}))

		providers := r.Providers()
		require.Len(t, providers, 2)
		assert.Equal(t, "p1", providers[0].ID)
		assert.Equal(t, "p2", providers[1].ID)
	})

	t.Run("should reject duplicate ids", func(t *testing.T) {
		r := newTestRouter()

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: &fakeChat{}}))
		err := r.Register(Provider{ID: "p1", Chat: &fakeChat{}})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("should reject empty id and missing chat capability", func(t *testing.T) {
		r := newTestRouter()

		assert.Error(t, r.Register(Provider{Chat: &fakeChat{}}))
		assert.Error(t, r.Register(Provider{ID: "p1"}))
	})

	t.Run("should report registration state", func(t *testing.T) {
		r := newTestRouter()
		assert.False(t, r.HasProviders())

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: &fakeChat{}}))
		assert.True(t, r.HasProviders())
	})
}

func TestExecute(t *testing.T) {
	t.Run("should fail with no providers", func(t *testing.T) {
		r := newTestRouter()

		_, err := r.Execute(context.Background(), ExecuteParams{})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no providers")
	})

	t.Run("should return the first success without trying later candidates", func(t *testing.T) {
		r := newTestRouter()
		first := &fakeChat{err: errors.New("timeout")}
		second := &fakeChat{response: &llm.ChatResponse{Content: "hello"}}
		third := &fakeChat{}

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: first, Model: "m1", Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: second, Model: "m2", Priority: 1}))
		require.NoError(t, r.Register(Provider{ID: "p3", Chat: third, Model: "m3", Priority: 2}))

		result, err := r.Execute(context.Background(), ExecuteParams{})

		require.NoError(t, err)
		assert.Equal(t, "hello", result.Response.Content)
		assert.Equal(t, "p2", result.ProviderID)
		assert.Equal(t, "m2", result.Model)
		require.Len(t, result.Attempts, 2)
		assert.False(t, result.Attempts[0].Success)
		assert.True(t, result.Attempts[1].Success)
		assert.Equal(t, 0, third.calls)
	})

	t.Run("should abort immediately on a non-retryable error", func(t *testing.T) {
		r := newTestRouter()
		first := &fakeChat{err: errors.New("401 unauthorized")}
		second := &fakeChat{}

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: first, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: second, Priority: 1}))

		_, err := r.Execute(context.Background(), ExecuteParams{})

		var cerr *ClassifiedError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, KindAuth, cerr.Kind)
		assert.Equal(t, "p1", cerr.ProviderID)
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 0, second.calls)
	})

	t.Run("should aggregate every attempt on exhaustion", func(t *testing.T) {
		r := newTestRouter()
		require.NoError(t, r.Register(Provider{ID: "p1", Chat: &fakeChat{err: errors.New("rate limit")}, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: &fakeChat{err: errors.New("timeout")}, Priority: 1}))

		_, err := r.Execute(context.Background(), ExecuteParams{})

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		require.Len(t, exhausted.Attempts, 2)
		assert.Contains(t, err.Error(), "p1: rate limit")
		assert.Contains(t, err.Error(), "p2: timeout")
	})

	t.Run("should try the preferred provider first", func(t *testing.T) {
		r := newTestRouter()
		p1 := &fakeChat{}
		p2 := &fakeChat{response: &llm.ChatResponse{Content: "from p2"}}

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: p1, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: p2, Priority: 1}))

		result, err := r.Execute(context.Background(), ExecuteParams{PreferredProviderID: "p2"})

		require.NoError(t, err)
		assert.Equal(t, "p2", result.ProviderID)
		assert.Equal(t, 0, p1.calls)
	})

	t.Run("should not try the preferred provider twice", func(t *testing.T) {
		r := newTestRouter()
		p1 := &fakeChat{err: errors.New("rate limit")}
		p2 := &fakeChat{err: errors.New("timeout")}

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: p1, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: p2, Priority: 1}))

		_, err := r.Execute(context.Background(), ExecuteParams{PreferredProviderID: "p1"})

		var exhausted *ExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, 1, p1.calls)
		assert.Equal(t, 1, p2.calls)
	})

	t.Run("should ignore an unregistered preferred id", func(t *testing.T) {
		r := newTestRouter()
		p1 := &fakeChat{}

		require.NoError(t, r.Register(Provider{ID: "p1", Chat: p1, Priority: 0}))

		result, err := r.Execute(context.Background(), ExecuteParams{PreferredProviderID: "ghost"})

		require.NoError(t, err)
		assert.Equal(t, "p1", result.ProviderID)
	})

	t.Run("should invoke the attempt observer synchronously", func(t *testing.T) {
		r := newTestRouter()
		require.NoError(t, r.Register(Provider{ID: "p1", Chat: &fakeChat{err: errors.New("timeout")}, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: &fakeChat{}, Priority: 1}))

		var seen []Attempt
		_, err := r.Execute(context.Background(), ExecuteParams{
			OnAttempt: func(a Attempt) { seen = append(seen, a) },
		})

		require.NoError(t, err)
		require.Len(t, seen, 2)
		assert.Equal(t, "p1", seen[0].ProviderID)
		assert.Equal(t, KindTimeout, seen[0].Err.Kind)
		assert.True(t, seen[1].Success)
	})

	t.Run("should pass messages and the candidate model through", func(t *testing.T) {
		r := newTestRouter()
		chat := &fakeChat{}
		require.NoError(t, r.Register(Provider{ID: "p1", Chat: chat, Model: "m-test", Priority: 0}))

		msgs := []session.Message{{Role: session.RoleUser, Content: "hi"}}
		_, err := r.Execute(context.Background(), ExecuteParams{Messages: msgs})

		require.NoError(t, err)
		assert.Equal(t, "m-test", chat.lastReq.Model)
		require.Len(t, chat.lastReq.Messages, 1)
		assert.Equal(t, "hi", chat.lastReq.Messages[0].Content)
	})

	t.Run("should bound each attempt when a timeout is configured", func(t *testing.T) {
		r := NewRouter(Config{RetryDelay: time.Millisecond, AttemptTimeout: 10 * time.Millisecond})
		slow := &fakeChat{delay: time.Second}
		fast := &fakeChat{response: &llm.ChatResponse{Content: "fast"}}

		require.NoError(t, r.Register(Provider{ID: "slow", Chat: slow, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "fast", Chat: fast, Priority: 1}))

		start := time.Now()
		result, err := r.Execute(context.Background(), ExecuteParams{})

		require.NoError(t, err)
		assert.Equal(t, "fast", result.ProviderID)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("should stop waiting when the caller context is cancelled", func(t *testing.T) {
		r := NewRouter(Config{RetryDelay: 10 * time.Second})
		require.NoError(t, r.Register(Provider{ID: "p1", Chat: &fakeChat{err: errors.New("rate limit")}, Priority: 0}))
		require.NoError(t, r.Register(Provider{ID: "p2", Chat: &fakeChat{}, Priority: 1}))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := r.Execute(ctx, ExecuteParams{})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
