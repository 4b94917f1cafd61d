package prompt

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/ravik/senna/pkg/llm"
	"github.com/ravik/senna/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPersona struct {
	calls int
}

func (p *countingPersona) Render(toolNames []string) string {
	p.calls++
	return fmt.Sprintf("system prompt #%d tools=%s", p.calls, strings.Join(toolNames, ","))
}

func newTestSession(messages ...session.Message) *session.Session {
	sess := session.New("test-session", "cli", "user-1")
	for _, m := range messages {
		sess.Append(m)
	}
	return sess
}

// assertPairingInvariant checks that tool messages and their originating
// assistant tool calls always travel together.
func assertPairingInvariant(t *testing.T, msgs []session.Message) {
	t.Helper()

	callIDs := make(map[string]bool)
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			callIDs[tc.ID] = true
		}
	}

	resultIDs := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == session.RoleTool {
			require.True(t, callIDs[m.ToolCallID],
				"tool message %q has no originating assistant call in prompt", m.ToolCallID)
			resultIDs[m.ToolCallID] = true
		}
	}

	for id := range callIDs {
		require.True(t, resultIDs[id],
			"assistant call %q has no tool result in prompt", id)
	}
}

func TestBuildContext(t *testing.T) {
	t.Run("should open with a fresh system message every call", func(t *testing.T) {
		persona := &countingPersona{}
		a := NewAssembler(DefaultConfig(), persona, nil)
		sess := newTestSession(session.NewMessage(session.RoleUser, "hi"))

		first := a.BuildContext(context.Background(), sess)
		second := a.BuildContext(context.Background(), sess)

		require.NotEmpty(t, first)
		assert.Equal(t, session.RoleSystem, first[0].Role)
		assert.NotEqual(t, first[0].Content, second[0].Content)
		assert.Equal(t, 2, persona.calls)
	})

	t.Run("should include tool names in the system prompt", func(t *testing.T) {
		tools := llm.NewToolSet()
		require.NoError(t, tools.Register(llm.ToolDefinition{Name: "web_search"}))
		require.NoError(t, tools.Register(llm.ToolDefinition{Name: "read_file"}))

		a := NewAssembler(DefaultConfig(), Persona{Name: "Senna"}, tools)
		got := a.BuildContext(context.Background(), newTestSession())

		assert.Contains(t, got[0].Content, "read_file")
		assert.Contains(t, got[0].Content, "web_search")
	})

	t.Run("should render scratchpad state when non-empty", func(t *testing.T) {
		a := NewAssembler(DefaultConfig(), Persona{}, nil)
		sess := newTestSession(session.NewMessage(session.RoleUser, "hi"))
		sess.Scratchpad = &session.Scratchpad{
			Visited:  []string{"site-a"},
			Pending:  []string{"site-b"},
			Progress: "1 of 2 done",
		}

		got := a.BuildContext(context.Background(), sess)

		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, session.RoleSystem, got[1].Role)
		assert.Contains(t, got[1].Content, "site-a")
		assert.Contains(t, got[1].Content, "site-b")
		assert.Contains(t, got[1].Content, "1 of 2 done")
	})

	t.Run("should omit scratchpad message when empty", func(t *testing.T) {
		a := NewAssembler(DefaultConfig(), Persona{}, nil)
		sess := newTestSession(session.NewMessage(session.RoleUser, "hi"))

		got := a.BuildContext(context.Background(), sess)

		assert.Len(t, got, 2) // system + user
	})

	t.Run("should truncate the summary to its budget", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SummaryBudgetTokens = 10
		a := NewAssembler(cfg, Persona{}, nil)

		sess := newTestSession(session.NewMessage(session.RoleUser, "hi"))
		sess.MemorySummary = strings.Repeat("summary ", 100)

		got := a.BuildContext(context.Background(), sess)

		require.GreaterOrEqual(t, len(got), 2)
		assert.Contains(t, got[1].Content, TruncationMarker)
	})

	t.Run("should keep only the last K messages", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RecentWindow = 3
		a := NewAssembler(cfg, Persona{}, nil)

		var msgs []session.Message
		for i := 0; i < 10; i++ {
			msgs = append(msgs, session.NewMessage(session.RoleUser, fmt.Sprintf("message %d", i)))
		}
		got := a.BuildContext(context.Background(), newTestSession(msgs...))

		require.Len(t, got, 4) // system + window of 3
		assert.Equal(t, "message 7", got[1].Content)
		assert.Equal(t, "message 9", got[3].Content)
	})

	t.Run("should grow the window to keep a tool result with its call", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RecentWindow = 1
		a := NewAssembler(cfg, Persona{}, nil)

		assistant := session.NewMessage(session.RoleAssistant, "")
		assistant.ToolCalls = []session.ToolCall{{ID: "c1", Name: "x"}}
		toolMsg := session.NewMessage(session.RoleTool, strings.Repeat("y", 3000))
		toolMsg.ToolCallID = "c1"

		sess := newTestSession(
			session.NewMessage(session.RoleUser, "hi"),
			assistant,
			toolMsg,
		)

		got := a.BuildContext(context.Background(), sess)

		require.Len(t, got, 3) // system + assistant + tool
		assert.Equal(t, session.RoleAssistant, got[1].Role)
		assert.Equal(t, session.RoleTool, got[2].Role)
		assert.True(t, strings.HasSuffix(got[2].Content, TruncationMarker))
		assert.LessOrEqual(t, EstimateTokens(got[2].Content), 500)
		assertPairingInvariant(t, got[1:])
	})

	t.Run("should drop an orphan tool message with no tool-calling parent", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RecentWindow = 1
		a := NewAssembler(cfg, Persona{}, nil)

		orphan := session.NewMessage(session.RoleTool, "stray output")
		orphan.ToolCallID = "missing"

		sess := newTestSession(
			session.NewMessage(session.RoleUser, "hi"),
			orphan,
		)

		got := a.BuildContext(context.Background(), sess)

		require.Len(t, got, 1) // just the system message
	})

	t.Run("should not mutate the session when truncating tool output", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RecentWindow = 2
		a := NewAssembler(cfg, Persona{}, nil)

		assistant := session.NewMessage(session.RoleAssistant, "")
		assistant.ToolCalls = []session.ToolCall{{ID: "c1", Name: "x"}}
		toolMsg := session.NewMessage(session.RoleTool, strings.Repeat("z", 5000))
		toolMsg.ToolCallID = "c1"

		sess := newTestSession(assistant, toolMsg)
		a.BuildContext(context.Background(), sess)

		assert.Len(t, sess.Messages[1].Content, 5000)
	})

	t.Run("should preserve the pairing invariant for random histories", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))

		for trial := 0; trial < 200; trial++ {
			var msgs []session.Message
			callSeq := 0
			n := 1 + rng.Intn(30)

			for len(msgs) < n {
				switch rng.Intn(3) {
				case 0:
					msgs = append(msgs, session.NewMessage(session.RoleUser, "question"))
				case 1:
					msgs = append(msgs, session.NewMessage(session.RoleAssistant, "answer"))
				default:
					calls := 1 + rng.Intn(3)
					assistant := session.NewMessage(session.RoleAssistant, "")
					var results []session.Message
					for c := 0; c < calls; c++ {
						callSeq++
						id := fmt.Sprintf("call-%d", callSeq)
						assistant.ToolCalls = append(assistant.ToolCalls, session.ToolCall{ID: id, Name: "tool"})
						result := session.NewMessage(session.RoleTool, "output")
						result.ToolCallID = id
						results = append(results, result)
					}
					msgs = append(msgs, assistant)
					msgs = append(msgs, results...)
				}
			}

			for _, k := range []int{1, 2, 5, 10} {
				cfg := DefaultConfig()
				cfg.RecentWindow = k
				a := NewAssembler(cfg, Persona{}, nil)

				got := a.BuildContext(context.Background(), newTestSession(msgs...))
				assertPairingInvariant(t, got)
			}
		}
	})
}

func TestRepairWindow(t *testing.T) {
	t.Run("should return nil for empty history", func(t *testing.T) {
		assert.Nil(t, repairWindow(nil, 0))
	})

	t.Run("should grow back to the assistant from its first result", func(t *testing.T) {
		assistant := session.NewMessage(session.RoleAssistant, "")
		assistant.ToolCalls = []session.ToolCall{{ID: "c1", Name: "x"}, {ID: "c2", Name: "y"}}
		r1 := session.NewMessage(session.RoleTool, "one")
		r1.ToolCallID = "c1"
		r2 := session.NewMessage(session.RoleTool, "two")
		r2.ToolCallID = "c2"

		history := []session.Message{assistant, r1, r2}

		got := repairWindow(history, 1)
		assert.Equal(t, []int{0, 1, 2}, got)
	})

	t.Run("should drop a result whose predecessor is another result", func(t *testing.T) {
		assistant := session.NewMessage(session.RoleAssistant, "")
		assistant.ToolCalls = []session.ToolCall{{ID: "c1", Name: "x"}, {ID: "c2", Name: "y"}}
		r1 := session.NewMessage(session.RoleTool, "one")
		r1.ToolCallID = "c1"
		r2 := session.NewMessage(session.RoleTool, "two")
		r2.ToolCallID = "c2"

		history := []session.Message{assistant, r1, r2}

		// The orphan check looks only at the immediate predecessor, so a
		// window opening on the second result empties out instead of
		// pairing halfway.
		got := repairWindow(history, 2)
		assert.Empty(t, got)
	})
}
