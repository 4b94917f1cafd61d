package llm

import (
	"context"
	"fmt"

	"github.com/ravik/senna/pkg/session"
)

// ChatProvider is a chat-capable model backend.
type ChatProvider interface {
	// Chat makes one model call. Any error it returns may carry an
	// arbitrary message; callers classify it by text.
	Chat(ctx context.Context, request ChatRequest) (*ChatResponse, error)

	// Provider returns the backend name.
	Provider() string
}

// ChatRequest contains the request parameters for a chat call.
type ChatRequest struct {
	Model       string
	Messages    []session.Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// ChatResponse contains the response from a chat call.
type ChatResponse struct {
	Content   string
	ToolCalls []session.ToolCall
	Usage     *TokenUsage
}

// TokenUsage tracks token consumption as reported by the backend.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ProviderFactory creates chat providers by backend name.
type ProviderFactory struct{}

// NewProvider creates a chat provider for the named backend.
func (f *ProviderFactory) NewProvider(provider, apiKey string) (ChatProvider, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
