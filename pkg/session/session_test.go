package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Run("should assign a unique id and timestamp", func(t *testing.T) {
		m1 := NewMessage(RoleUser, "hello")
		m2 := NewMessage(RoleUser, "hello")

		assert.NotEmpty(t, m1.ID)
		assert.NotEqual(t, m1.ID, m2.ID)
		assert.False(t, m1.Timestamp.IsZero())
	})
}

func TestHasToolCalls(t *testing.T) {
	t.Run("should require assistant role and calls", func(t *testing.T) {
		m := NewMessage(RoleAssistant, "")
		assert.False(t, m.HasToolCalls())

		m.ToolCalls = []ToolCall{{ID: "c1", Name: "x"}}
		assert.True(t, m.HasToolCalls())

		m.Role = RoleUser
		assert.False(t, m.HasToolCalls())
	})
}

func TestSessionAppend(t *testing.T) {
	t.Run("should advance message count and last active", func(t *testing.T) {
		sess := New("s1", "cli", "user-1")
		created := sess.Metadata.CreatedAt

		sess.Append(NewMessage(RoleUser, "one"))
		sess.Append(NewMessage(RoleAssistant, "two"))

		assert.Equal(t, 2, sess.Metadata.MessageCount)
		assert.Len(t, sess.Messages, 2)
		assert.Equal(t, created, sess.Metadata.CreatedAt)
		assert.False(t, sess.Metadata.LastActiveAt.Before(created))
	})

	t.Run("should fill a missing timestamp", func(t *testing.T) {
		sess := New("s1", "cli", "user-1")
		sess.Append(Message{Role: RoleUser, Content: "hi"})

		assert.False(t, sess.Messages[0].Timestamp.IsZero())
	})

	t.Run("should keep last active monotonic", func(t *testing.T) {
		sess := New("s1", "cli", "user-1")
		sess.Append(NewMessage(RoleUser, "now"))
		latest := sess.Metadata.LastActiveAt

		old := Message{Role: RoleUser, Content: "old", Timestamp: time.Now().Add(-time.Hour)}
		sess.Append(old)

		assert.Equal(t, latest, sess.Metadata.LastActiveAt)
	})
}

func TestScratchpadIsEmpty(t *testing.T) {
	t.Run("should treat nil and zero-value as empty", func(t *testing.T) {
		var sp *Scratchpad
		assert.True(t, sp.IsEmpty())
		assert.True(t, (&Scratchpad{}).IsEmpty())
	})

	t.Run("should detect any populated field", func(t *testing.T) {
		assert.False(t, (&Scratchpad{Visited: []string{"a"}}).IsEmpty())
		assert.False(t, (&Scratchpad{Progress: "halfway"}).IsEmpty())
	})
}

func TestValidateKey(t *testing.T) {
	t.Run("should accept plain keys", func(t *testing.T) {
		require.NoError(t, ValidateKey("telegram-12345"))
		require.NoError(t, ValidateKey("user.chat"))
	})

	t.Run("should reject traversal and separators", func(t *testing.T) {
		assert.Error(t, ValidateKey(""))
		assert.Error(t, ValidateKey("../etc/passwd"))
		assert.Error(t, ValidateKey("a/b"))
		assert.Error(t, ValidateKey("a\\b"))
		assert.Error(t, ValidateKey("a\x00b"))
	})
}
