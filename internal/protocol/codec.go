package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tool-call block markers. Models that lack native tool calling are
// instructed to emit blocks of the form:
//
//	<tool_call>
//	{"name": "read_file", "input": {"path": "notes.md"}}
//	</tool_call>
const (
	toolCallBegin = "<tool_call>"
	toolCallEnd   = "</tool_call>"
)

var toolCallBlock = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(toolCallBegin) + `(.*?)` + regexp.QuoteMeta(toolCallEnd))

// toolCallBody is the JSON payload inside one block.
type toolCallBody struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ParseToolCalls extracts every well-formed tool-call block from raw
// model text. Each call gets a unique ID of the form
// "<batch>-<ordinal>", where the batch component is freshly generated
// per parse so IDs never collide across turns or across concurrent
// conversations. Malformed blocks are skipped, never fatal: a turn
// whose only block fails to parse simply has no tool calls.
func ParseToolCalls(text string) []ToolCall {
	matches := toolCallBlock.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	batch := newBatchID()
	var calls []ToolCall
	for _, m := range matches {
		var body toolCallBody
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &body); err != nil {
			continue
		}
		if body.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{
			Name:   body.Name,
			Input:  body.Input,
			CallID: fmt.Sprintf("%s-%d", batch, len(calls)),
		})
	}
	return calls
}

// newBatchID combines a random component with a timestamp. The random
// part alone would suffice; the timestamp keeps IDs roughly sortable
// in transcripts.
func newBatchID() string {
	return fmt.Sprintf("%s-%d", uuid.NewString()[:8], time.Now().UnixMilli())
}

// AssignCallIDs fills in empty CallID fields on natively returned tool
// calls using a fresh batch, preserving provider-assigned IDs where
// they exist. The input slice is modified in place and returned.
func AssignCallIDs(calls []ToolCall) []ToolCall {
	batch := ""
	for i := range calls {
		if calls[i].CallID != "" {
			continue
		}
		if batch == "" {
			batch = newBatchID()
		}
		calls[i].CallID = fmt.Sprintf("%s-%d", batch, i)
	}
	return calls
}

// resultWrapper is the stable instruction wrapped around every tool
// result. Models learn to respond to this exact phrasing, so changing
// it is a protocol break.
const resultWrapper = "Tool %q (call %s) returned:\n%s\n\nAnalyze this result. If the overall task is now complete, reply with %s. Otherwise continue with the next step."

// WrapResults serializes a turn's tool results into one history entry.
// Each result is later expanded into its own user-role message by the
// message builder; keeping them together in a single entry preserves
// the one-entry-per-turn history shape.
func WrapResults(turn int, results []ToolResult) Entry {
	return Entry{
		Kind:    EntryToolResults,
		Turn:    turn,
		Results: results,
	}
}

// RenderResult produces the user-role message text for one tool result.
func RenderResult(res ToolResult) string {
	content := res.Content
	if res.IsError {
		content = "ERROR: " + content
	}
	return fmt.Sprintf(resultWrapper, res.Name, res.CallID, content, CompletionSentinel)
}

// ToolCallInstructions returns the system-prompt paragraph that teaches
// a model without native tool calling how to emit blocks this codec can
// parse.
func ToolCallInstructions() string {
	return fmt.Sprintf(
		"To use a tool, emit a block of the form:\n%s\n{\"name\": \"<tool name>\", \"input\": {...}}\n%s\nEmit one block per call. When the task is finished, reply with %s.",
		toolCallBegin, toolCallEnd, CompletionSentinel)
}
