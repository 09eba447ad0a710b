// Package orchestrator implements the conversation turn loop and the
// monitor facade around it. The loop itself is stateless beyond the
// goal, the growing history, and the turn counter; everything shared
// (registry, transcript sink) is mutated only through its narrow API.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mthorsley/convoy/internal/completion"
	"github.com/mthorsley/convoy/internal/convlog"
	"github.com/mthorsley/convoy/internal/llm"
	"github.com/mthorsley/convoy/internal/protocol"
	"github.com/mthorsley/convoy/internal/registry"
)

// Executor runs a batch of tool calls and returns order-correlated
// results. Implementations must not return Go errors for individual
// tool failures; those belong in the result payloads.
type Executor interface {
	Execute(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult
}

// Result is what a finished conversation returns to its caller.
type Result struct {
	History []protocol.Entry
	Reason  registry.Status
	// Final is the last transport response, nil when the transport
	// call itself failed.
	Final *llm.ChatResponse
	// Err carries the transport error when Reason is error.
	Err error
}

// Runner executes conversations against one transport and tool set.
// It is safe to share one Runner across concurrent conversations.
type Runner struct {
	LLM      llm.Client
	Tools    Executor // nil disables tool execution entirely
	Registry *registry.Registry
	Sink     *convlog.Sink
	Logger   *slog.Logger
	Signals  completion.Signals

	// System is the system prompt sent every turn. ToolDefs is the
	// tool-enablement configuration passed to the transport.
	System   string
	ToolDefs []map[string]any

	// Refresh, when set, is invoked after every registry mutation that
	// a monitoring UI should observe.
	Refresh func()

	// Progress, when set, receives a human-readable status string once
	// per turn ("Turn 3/20"). Side channel only.
	Progress func(status string)
}

// logAndUpdate appends a transcript line and applies a registry update
// together, then fires the refresh hook, so the UI never observes a
// log line without the matching state.
func (r *Runner) logAndUpdate(id int, u registry.Update, message string) {
	if message != "" {
		r.Sink.Log(id, message)
	}
	r.Registry.Apply(id, u)
	if r.Refresh != nil {
		r.Refresh()
	}
}

// goalReminder builds the message that re-injects the immutable goal
// at the head of every turn's message list. The goal is never stored
// in history, so it appears exactly once no matter how long the
// conversation runs.
func goalReminder(goal string) llm.Message {
	return llm.Message{Role: "user", Content: "Your goal: " + goal}
}

// buildMessages translates the goal and history into the role-tagged
// message list for one transport call. Assistant entries become
// assistant messages; each tool result expands into its own user
// message carrying the stable protocol wrapping.
func buildMessages(goal string, history []protocol.Entry) []llm.Message {
	msgs := []llm.Message{goalReminder(goal)}
	for _, e := range history {
		switch e.Kind {
		case protocol.EntryAssistant:
			msgs = append(msgs, llm.Message{Role: "assistant", Content: e.Text})
		case protocol.EntryToolResults:
			for _, res := range e.Results {
				msgs = append(msgs, llm.Message{Role: "user", Content: protocol.RenderResult(res)})
			}
		}
	}
	return msgs
}

// Run drives one conversation to a terminal state. The conversation
// must already be registered; id addresses its registry record. Run
// never panics and never returns a Go error — every outcome, including
// transport failure, is a structured Result.
func (r *Runner) Run(ctx context.Context, id int) Result {
	conv := r.Registry.Get(id)
	if conv == nil {
		return Result{Reason: registry.StatusError, Err: fmt.Errorf("conversation %d not registered", id)}
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("conversation", id)

	sig := r.Signals
	if sig == nil {
		sig = completion.HeuristicSignals{}
	}

	var history []protocol.Entry
	var final *llm.ChatResponse

	for turn := 1; ; turn++ {
		// Cancellation is cooperative: checked at every turn boundary,
		// before any transport work for the turn begins.
		if r.cancelled(id) {
			r.Registry.MarkCancelled(id)
			r.logAndUpdate(id, registry.Update{}, fmt.Sprintf("Cancelled before turn %d", turn))
			return Result{History: history, Reason: registry.StatusCancelled, Final: final}
		}

		// The turn budget is checked before model text is solicited.
		// Boundary is exclusive: turns 1..MaxTurns may run.
		if turn > conv.MaxTurns {
			status := registry.StatusMaxTurns
			r.logAndUpdate(id, registry.Update{Status: &status},
				fmt.Sprintf("Turn budget exhausted after %d turns", conv.MaxTurns))
			return Result{History: history, Reason: status, Final: final}
		}

		if r.Progress != nil {
			r.Progress(fmt.Sprintf("Turn %d/%d", turn, conv.MaxTurns))
		}

		working := registry.StatusWorking
		r.logAndUpdate(id, registry.Update{Status: &working, CurrentTurn: &turn},
			fmt.Sprintf("Turn %d/%d", turn, conv.MaxTurns))

		resp, err := r.LLM.Chat(ctx, llm.ChatRequest{
			Model:    conv.Model,
			System:   r.System,
			Messages: buildMessages(conv.Goal, history),
			Tools:    r.ToolDefs,
		})
		if err != nil {
			// Transport failure is terminal; retries are a caller concern.
			status := registry.StatusError
			msg := err.Error()
			r.logAndUpdate(id, registry.Update{Status: &status, ErrorMsg: &msg},
				fmt.Sprintf("Transport error on turn %d: %v", turn, err))
			logger.Error("transport call failed", "turn", turn, "error", err)
			return Result{History: history, Reason: status, Err: err}
		}
		final = resp

		// Native tool calls win; the text-embedded protocol is the
		// fallback for models without native tool calling.
		calls := protocol.AssignCallIDs(resp.ToolCalls)
		if len(calls) == 0 {
			calls = protocol.ParseToolCalls(resp.Text)
		}

		history = append(history, protocol.Entry{
			Kind:      protocol.EntryAssistant,
			Turn:      turn,
			Text:      resp.Text,
			ToolCalls: calls,
		})

		if len(calls) > 0 && sig.Complete(resp.Text) {
			// Observed-behavior rule: tool calls win. Worth noticing
			// when a model emits both at once.
			logger.Warn("completion signal alongside tool calls; tool calls take precedence", "turn", turn)
		}

		if len(calls) > 0 {
			executing := registry.StatusToolsExecuting
			r.logAndUpdate(id, registry.Update{Status: &executing},
				fmt.Sprintf("Executing %d tool call(s)", len(calls)))

			var results []protocol.ToolResult
			if r.Tools != nil {
				results = r.Tools.Execute(ctx, calls)
			} else {
				// No executor wired: the model still gets an answer,
				// just an unhelpful one.
				for _, call := range calls {
					results = append(results, protocol.ToolResult{
						CallID:  call.CallID,
						Name:    call.Name,
						Content: "tool execution is not configured",
						IsError: true,
					})
				}
			}
			history = append(history, protocol.WrapResults(turn, results))
		}

		status := completion.Decide(turn, conv.MaxTurns, resp.Text, len(calls) > 0, sig)
		r.logAndUpdate(id, registry.Update{Status: &status}, "Turn outcome: "+string(status))

		if status.Terminal() {
			return Result{History: history, Reason: status, Final: final}
		}
	}
}

// cancelled reports whether the conversation's token or registry flag
// requests cancellation.
func (r *Runner) cancelled(id int) bool {
	conv := r.Registry.Get(id)
	if conv == nil {
		return true
	}
	if conv.Cancelled {
		return true
	}
	return conv.Cancel != nil && conv.Cancel.IsSignalled()
}
