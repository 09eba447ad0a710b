package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mthorsley/convoy/internal/convlog"
	"github.com/mthorsley/convoy/internal/llm"
	"github.com/mthorsley/convoy/internal/protocol"
	"github.com/mthorsley/convoy/internal/registry"
)

// mockLLM replays scripted responses and records every request.
type mockLLM struct {
	responses []*llm.ChatResponse
	err       error
	calls     []llm.ChatRequest
}

func (m *mockLLM) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		return &llm.ChatResponse{Text: "TASK_COMPLETE"}, nil
	}
	return m.responses[i], nil
}

func (m *mockLLM) Ping(ctx context.Context) error { return nil }

// echoExecutor answers every call with "echo:<msg>".
type echoExecutor struct {
	batches [][]protocol.ToolCall
}

func (e *echoExecutor) Execute(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolResult {
	e.batches = append(e.batches, calls)
	results := make([]protocol.ToolResult, len(calls))
	for i, c := range calls {
		msg, _ := c.Input["msg"].(string)
		results[i] = protocol.ToolResult{CallID: c.CallID, Name: c.Name, Content: "echo:" + msg}
	}
	return results
}

func testRunner(t *testing.T, mock *mockLLM, exec Executor) (*Runner, int) {
	t.Helper()
	reg := registry.New()
	r := &Runner{
		LLM:      mock,
		Tools:    exec,
		Registry: reg,
		Sink:     convlog.NewSink(nil),
	}
	id := reg.Register(registry.Conversation{
		Goal:     "write a haiku",
		Model:    "test-model",
		MaxTurns: 2,
		Cancel:   registry.NewCancelToken(),
	})
	return r, id
}

func TestRun_NaturalStopBeforeBudget(t *testing.T) {
	// Plain text with no sentinel and no tool calls terminates as
	// agent_finished after turn 1 even though two turns were allowed.
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: "Rivers carve the stone."},
	}}
	r, id := testRunner(t, mock, nil)

	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusAgentFinished {
		t.Errorf("Reason = %q, want %q", result.Reason, registry.StatusAgentFinished)
	}
	if len(mock.calls) != 1 {
		t.Errorf("transport called %d times, want 1", len(mock.calls))
	}
	if len(result.History) != 1 {
		t.Errorf("history has %d entries, want 1", len(result.History))
	}
	if got := r.Registry.Get(id).Status; got != registry.StatusAgentFinished {
		t.Errorf("registry status = %q, want %q", got, registry.StatusAgentFinished)
	}
}

func TestRun_ParsedToolCallRoundTrip(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: `<tool_call>{"name": "echo", "input": {"msg": "hi"}}</tool_call>`},
		{Text: "The task is complete."},
	}}
	exec := &echoExecutor{}
	r, id := testRunner(t, mock, exec)

	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusTaskComplete {
		t.Fatalf("Reason = %q, want %q", result.Reason, registry.StatusTaskComplete)
	}

	// Turn 1 contributed an assistant entry and a tool-results entry.
	if len(result.History) != 3 {
		t.Fatalf("history has %d entries, want 3", len(result.History))
	}
	first := result.History[0]
	if first.Kind != protocol.EntryAssistant || len(first.ToolCalls) != 1 {
		t.Fatalf("first entry = %+v, want assistant with 1 tool call", first)
	}
	if first.ToolCalls[0].CallID == "" {
		t.Error("parsed tool call should carry a non-empty call ID")
	}
	second := result.History[1]
	if second.Kind != protocol.EntryToolResults || len(second.Results) != 1 {
		t.Fatalf("second entry = %+v, want tool results", second)
	}
	if second.Results[0].Content != "echo:hi" {
		t.Errorf("result content = %q, want echo:hi", second.Results[0].Content)
	}

	// Turn 2's request carried the wrapped tool result as a user message.
	var wrapped bool
	for _, msg := range mock.calls[1].Messages {
		if msg.Role == "user" && strings.Contains(msg.Content, "echo:hi") && strings.Contains(msg.Content, "Analyze this result") {
			wrapped = true
		}
	}
	if !wrapped {
		t.Error("turn 2 request missing the wrapped tool result")
	}
}

func TestRun_NativeToolCallsPreferred(t *testing.T) {
	// When the transport returns native tool calls, the text is not
	// re-parsed even if it contains a block.
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{
			Text:      `<tool_call>{"name": "from_text", "input": {}}</tool_call>`,
			ToolCalls: []protocol.ToolCall{{Name: "native", Input: map[string]any{"msg": "n"}}},
		},
		{Text: "TASK_COMPLETE"},
	}}
	exec := &echoExecutor{}
	r, id := testRunner(t, mock, exec)

	r.Run(context.Background(), id)

	if len(exec.batches) != 1 || len(exec.batches[0]) != 1 {
		t.Fatalf("executor batches = %+v, want one batch of one call", exec.batches)
	}
	call := exec.batches[0][0]
	if call.Name != "native" {
		t.Errorf("executed %q, want the native call", call.Name)
	}
	if call.CallID == "" {
		t.Error("native call without a provider ID should have one assigned")
	}
}

func TestRun_GoalInjectedExactlyOncePerTurn(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: "I'll keep going."},
		{Text: "Still continuing the work."},
	}}
	reg := registry.New()
	r := &Runner{LLM: mock, Registry: reg, Sink: convlog.NewSink(nil)}
	id := reg.Register(registry.Conversation{Goal: "the immutable goal", Model: "m", MaxTurns: 2})

	r.Run(context.Background(), id)

	if len(mock.calls) != 2 {
		t.Fatalf("transport called %d times, want 2", len(mock.calls))
	}
	for i, req := range mock.calls {
		var goals int
		for _, msg := range req.Messages {
			if strings.Contains(msg.Content, "the immutable goal") {
				goals++
			}
		}
		if goals != 1 {
			t.Errorf("turn %d carries the goal %d times, want exactly 1", i+1, goals)
		}
		if req.Messages[0].Role != "user" || !strings.HasPrefix(req.Messages[0].Content, "Your goal:") {
			t.Errorf("turn %d first message = %+v, want the goal reminder", i+1, req.Messages[0])
		}
	}
}

func TestRun_MaxTurnsReached(t *testing.T) {
	// A model that always continues runs exactly MaxTurns turns.
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: "I'll start with step one."},
		{Text: "Next step is the middle."},
		{Text: "I'll never stop."},
	}}
	r, id := testRunner(t, mock, nil) // MaxTurns: 2

	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusMaxTurns {
		t.Errorf("Reason = %q, want %q", result.Reason, registry.StatusMaxTurns)
	}
	if len(mock.calls) != 2 {
		t.Errorf("transport called %d times, want 2 (budget is exclusive of turn 3)", len(mock.calls))
	}
}

func TestRun_TransportErrorTerminal(t *testing.T) {
	mock := &mockLLM{err: fmt.Errorf("connection refused")}
	r, id := testRunner(t, mock, nil)

	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusError {
		t.Errorf("Reason = %q, want %q", result.Reason, registry.StatusError)
	}
	if result.Err == nil || !strings.Contains(result.Err.Error(), "connection refused") {
		t.Errorf("Err = %v, want the transport error", result.Err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("transport called %d times, want 1 (no automatic retry)", len(mock.calls))
	}

	conv := r.Registry.Get(id)
	if conv.Status != registry.StatusError {
		t.Errorf("registry status = %q, want %q", conv.Status, registry.StatusError)
	}
	if !strings.Contains(conv.ErrorMsg, "connection refused") {
		t.Errorf("ErrorMsg = %q, want the transport error text", conv.ErrorMsg)
	}
}

func TestRun_CancelledBeforeFirstTurn(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{{Text: "never sent"}}}
	r, id := testRunner(t, mock, nil)

	r.Registry.MarkCancelled(id)
	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusCancelled {
		t.Errorf("Reason = %q, want %q", result.Reason, registry.StatusCancelled)
	}
	if len(mock.calls) != 0 {
		t.Errorf("transport called %d times, want 0", len(mock.calls))
	}
}

func TestRun_CancelTokenObservedAtTurnBoundary(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: "I'll continue."},
		{Text: "never reached"},
	}}
	reg := registry.New()
	tok := registry.NewCancelToken()
	r := &Runner{LLM: mock, Registry: reg, Sink: convlog.NewSink(nil)}
	id := reg.Register(registry.Conversation{Goal: "g", Model: "m", MaxTurns: 10, Cancel: tok})

	// Signal during turn 1 via the progress side channel.
	r.Progress = func(string) { tok.Signal() }

	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusCancelled {
		t.Errorf("Reason = %q, want %q", result.Reason, registry.StatusCancelled)
	}
	// Turn 1 ran (signal arrived mid-turn); turn 2 must not start.
	if len(mock.calls) != 1 {
		t.Errorf("transport called %d times, want 1", len(mock.calls))
	}
	if got := reg.Get(id).Status; got != registry.StatusCancelled {
		t.Errorf("registry status = %q, want %q", got, registry.StatusCancelled)
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: "I'll continue."},
		{Text: "TASK_COMPLETE"},
	}}
	r, id := testRunner(t, mock, nil)

	var progress []string
	r.Progress = func(s string) { progress = append(progress, s) }

	r.Run(context.Background(), id)

	if len(progress) != 2 || progress[0] != "Turn 1/2" || progress[1] != "Turn 2/2" {
		t.Errorf("progress = %v, want [Turn 1/2 Turn 2/2]", progress)
	}
}

func TestRun_ToolCallsWithoutExecutor(t *testing.T) {
	// With no executor wired, tool calls produce error payloads and
	// the conversation keeps moving instead of wedging.
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: `<tool_call>{"name": "echo", "input": {}}</tool_call>`},
		{Text: "TASK_COMPLETE"},
	}}
	r, id := testRunner(t, mock, nil)

	result := r.Run(context.Background(), id)

	if result.Reason != registry.StatusTaskComplete {
		t.Fatalf("Reason = %q, want %q", result.Reason, registry.StatusTaskComplete)
	}
	second := result.History[1]
	if len(second.Results) != 1 || !second.Results[0].IsError {
		t.Errorf("expected an error payload result, got %+v", second.Results)
	}
}

func TestRun_MalformedBlockDegradesToNoToolCalls(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Text: `<tool_call>{not json}</tool_call> and nothing else useful`},
	}}
	exec := &echoExecutor{}
	r, id := testRunner(t, mock, exec)

	result := r.Run(context.Background(), id)

	if len(exec.batches) != 0 {
		t.Errorf("executor invoked %d times, want 0", len(exec.batches))
	}
	if result.Reason != registry.StatusAgentFinished {
		t.Errorf("Reason = %q, want %q (no-tool-calls branch)", result.Reason, registry.StatusAgentFinished)
	}
}
