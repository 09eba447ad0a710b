// Package protocol defines the conversational contract between the
// orchestrator and the model: the embedded tool-call block format, the
// stable wrapping applied to tool results, the completion/continuation
// sentinels, and the marker-pair extraction used to recover structured
// deliverables from free-form output.
package protocol

// Sentinels the model is instructed to emit. The completion sentinel is
// authoritative: when present (and tool calls are not), the turn loop
// stops. Heuristic phrase matching is only a fallback for models that
// omit it.
const (
	CompletionSentinel   = "TASK_COMPLETE"
	ContinuationSentinel = "CONTINUE_WORKING"
)

// EntryKind distinguishes history entry variants.
type EntryKind string

const (
	// EntryAssistant is the model's raw text plus any parsed tool calls.
	EntryAssistant EntryKind = "assistant"
	// EntryToolResults carries the outputs of one turn's tool batch.
	EntryToolResults EntryKind = "tool_results"
)

// Entry is one append-only record of what happened in a turn. The goal
// is deliberately never stored here; it is re-supplied at message-build
// time every turn.
type Entry struct {
	Kind      EntryKind    `json:"kind"`
	Turn      int          `json:"turn"`
	Text      string       `json:"text,omitempty"`
	ToolCalls []ToolCall   `json:"tool_calls,omitempty"`
	Results   []ToolResult `json:"results,omitempty"`
}

// ToolCall is a structured request extracted from model text or
// returned natively by the transport.
type ToolCall struct {
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	CallID string         `json:"call_id"`
}

// ToolResult is one tool's output, correlated to its call by CallID.
// Failed executions carry their error text in Content — the model sees
// and reacts to tool failures; they are never fatal at this level.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
