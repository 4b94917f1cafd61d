package session

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Message represents a single conversation turn.
//
// ToolCalls is set only on assistant messages; ToolCallID only on tool
// messages and carries the originating call id.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and timestamp.
func NewMessage(role, content string) Message {
	id, _ := gonanoid.New()
	return Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// HasToolCalls reports whether the message is an assistant message carrying
// tool calls.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// Metadata tracks session bookkeeping. MessageCount counts every message
// ever appended; compression removes messages but never decrements it.
type Metadata struct {
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// Scratchpad holds optional multi-step task state, independent of the
// message history.
type Scratchpad struct {
	Visited   []string `json:"visited,omitempty"`
	Collected []string `json:"collected,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	Progress  string   `json:"progress,omitempty"`
}

// IsEmpty reports whether the scratchpad carries no state.
func (s *Scratchpad) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.Visited) == 0 && len(s.Collected) == 0 && len(s.Pending) == 0 && s.Progress == ""
}

// Session is one conversation's durable state. Messages are append-ordered;
// compression removes a contiguous prefix and sets MemorySummary atomically,
// never reordering.
type Session struct {
	ID            string      `json:"id"`
	Channel       string      `json:"channel"`
	SenderID      string      `json:"senderId"`
	Messages      []Message   `json:"messages"`
	MemorySummary string      `json:"memorySummary,omitempty"`
	Scratchpad    *Scratchpad `json:"scratchpad,omitempty"`
	Metadata      Metadata    `json:"metadata"`
}

// New creates an empty session.
func New(id, channel, senderID string) *Session {
	now := time.Now()
	return &Session{
		ID:       id,
		Channel:  channel,
		SenderID: senderID,
		Metadata: Metadata{
			CreatedAt:    now,
			LastActiveAt: now,
		},
	}
}

// Append adds a message to the history and advances the metadata counters.
func (s *Session) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.Metadata.MessageCount++
	if msg.Timestamp.After(s.Metadata.LastActiveAt) {
		s.Metadata.LastActiveAt = msg.Timestamp
	}
}
