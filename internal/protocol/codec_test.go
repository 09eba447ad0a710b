package protocol

import (
	"strings"
	"testing"
)

func TestParseToolCalls_Single(t *testing.T) {
	text := `I'll check that for you.
<tool_call>
{"name": "echo", "input": {"msg": "hi"}}
</tool_call>`

	calls := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "echo" {
		t.Errorf("Name = %q, want echo", calls[0].Name)
	}
	if calls[0].Input["msg"] != "hi" {
		t.Errorf(`Input["msg"] = %v, want "hi"`, calls[0].Input["msg"])
	}
	if calls[0].CallID == "" {
		t.Error("CallID should be non-empty")
	}
}

func TestParseToolCalls_MultipleOrdinals(t *testing.T) {
	text := `<tool_call>{"name": "a", "input": {}}</tool_call>
<tool_call>{"name": "b", "input": {}}</tool_call>`

	calls := ParseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}

	// Both calls share one batch component and differ in ordinal.
	if !strings.HasSuffix(calls[0].CallID, "-0") {
		t.Errorf("first CallID = %q, want suffix -0", calls[0].CallID)
	}
	if !strings.HasSuffix(calls[1].CallID, "-1") {
		t.Errorf("second CallID = %q, want suffix -1", calls[1].CallID)
	}
	batch0 := strings.TrimSuffix(calls[0].CallID, "-0")
	batch1 := strings.TrimSuffix(calls[1].CallID, "-1")
	if batch0 != batch1 {
		t.Errorf("batch components differ: %q vs %q", batch0, batch1)
	}
}

func TestParseToolCalls_FreshBatchPerParse(t *testing.T) {
	text := `<tool_call>{"name": "a", "input": {}}</tool_call>`

	first := ParseToolCalls(text)
	second := ParseToolCalls(text)
	if first[0].CallID == second[0].CallID {
		t.Errorf("call IDs collide across parses: %q", first[0].CallID)
	}
}

func TestParseToolCalls_MalformedBlockSkipped(t *testing.T) {
	text := `<tool_call>this is not json</tool_call>
<tool_call>{"name": "good", "input": {}}</tool_call>
<tool_call>{"input": {"missing": "name"}}</tool_call>`

	calls := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1 (malformed blocks skipped)", len(calls))
	}
	if calls[0].Name != "good" {
		t.Errorf("Name = %q, want good", calls[0].Name)
	}
}

func TestParseToolCalls_NoBlocks(t *testing.T) {
	if calls := ParseToolCalls("just some prose, no tools here"); calls != nil {
		t.Errorf("got %d calls, want none", len(calls))
	}
}

func TestRenderResult_StableWrapping(t *testing.T) {
	res := ToolResult{CallID: "abc-0", Name: "echo", Content: "hi"}

	text := RenderResult(res)
	if !strings.Contains(text, `"echo"`) {
		t.Error("wrapping should name the tool")
	}
	if !strings.Contains(text, "abc-0") {
		t.Error("wrapping should carry the call ID")
	}
	if !strings.Contains(text, CompletionSentinel) {
		t.Error("wrapping should instruct the model about the completion sentinel")
	}
	if !strings.Contains(text, "Analyze this result") {
		t.Error("wrapping instruction text changed; this is a protocol break")
	}
}

func TestRenderResult_ErrorPayload(t *testing.T) {
	res := ToolResult{CallID: "abc-0", Name: "read_file", Content: "no such file", IsError: true}

	text := RenderResult(res)
	if !strings.Contains(text, "ERROR: no such file") {
		t.Errorf("error results should be flagged in the payload, got %q", text)
	}
}

func TestWrapResults(t *testing.T) {
	entry := WrapResults(3, []ToolResult{
		{CallID: "x-0", Name: "a", Content: "one"},
		{CallID: "x-1", Name: "b", Content: "two"},
	})

	if entry.Kind != EntryToolResults {
		t.Errorf("Kind = %q, want %q", entry.Kind, EntryToolResults)
	}
	if entry.Turn != 3 {
		t.Errorf("Turn = %d, want 3", entry.Turn)
	}
	if len(entry.Results) != 2 {
		t.Errorf("got %d results, want 2", len(entry.Results))
	}
}

func TestToolCallInstructions_ParseRoundTrip(t *testing.T) {
	// The instructions must demonstrate a block shape the parser itself
	// would accept once the placeholder is filled in.
	instr := ToolCallInstructions()
	if !strings.Contains(instr, toolCallBegin) || !strings.Contains(instr, toolCallEnd) {
		t.Error("instructions should include both block markers")
	}
	if !strings.Contains(instr, CompletionSentinel) {
		t.Error("instructions should name the completion sentinel")
	}
}
