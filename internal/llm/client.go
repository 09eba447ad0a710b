// Package llm provides LLM transport client implementations. The
// orchestrator is deliberately indifferent to streaming vs. batch; it
// only consumes the aggregated text and any native tool calls.
package llm

import (
	"context"

	"github.com/mthorsley/convoy/internal/protocol"
)

// Message is a role-tagged chat message for the transport.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is the provider-neutral request the orchestrator builds
// each turn.
type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
	// Tools, when non-empty, enables native tool calling with these
	// JSON-schema tool definitions.
	Tools []map[string]any
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at provider boundaries (ollama.go, anthropic.go).
type ChatResponse struct {
	Model string
	Text  string

	// ToolCalls holds natively returned tool calls. Provider-assigned
	// IDs are preserved in CallID when the provider supplies them.
	ToolCalls []protocol.ToolCall

	InputTokens  int
	OutputTokens int
}

// Client is the interface every LLM provider implements.
type Client interface {
	// Chat sends a chat completion request and returns the aggregated
	// response. Errors are transport errors; the orchestrator treats
	// them as terminal for the conversation.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
