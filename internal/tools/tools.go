// Package tools defines the tools available to conversations and
// executes batches of tool calls on the orchestrator's behalf. Handler
// errors never propagate: per the protocol contract they become
// error-payload results the model can see and react to.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mthorsley/convoy/internal/protocol"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object describing the input.
	Parameters map[string]any
	Handler    func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds available tools and executes call batches.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry, replacing any same-named tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Definitions returns all tools in the function-calling shape the
// transport clients expect, sorted by name for stable prompts.
func (r *Registry) Definitions() []map[string]any {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

// Execute runs a batch of tool calls sequentially and returns one
// result per call, order-correlated and carrying each call's ID.
// Unknown tools and handler errors surface as error-payload results,
// never as Go errors — the model decides how to react.
func (r *Registry) Execute(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult {
	results := make([]protocol.ToolResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, r.executeOne(ctx, call))
	}
	return results
}

func (r *Registry) executeOne(ctx context.Context, call protocol.ToolCall) protocol.ToolResult {
	res := protocol.ToolResult{CallID: call.CallID, Name: call.Name}

	tool := r.tools[call.Name]
	if tool == nil {
		res.IsError = true
		res.Content = fmt.Sprintf("unknown tool: %s", call.Name)
		return res
	}

	out, err := tool.Handler(ctx, call.Input)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", call.Name, "call_id", call.CallID, "error", err)
		res.IsError = true
		res.Content = err.Error()
		return res
	}

	res.Content = out
	return res
}
