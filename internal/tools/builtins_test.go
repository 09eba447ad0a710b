package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mthorsley/convoy/internal/notes"
	"github.com/mthorsley/convoy/internal/protocol"
)

func builtinRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	workspace := t.TempDir()
	noteStore, err := notes.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("notes.NewStore: %v", err)
	}
	r := NewRegistry(nil)
	r.RegisterBuiltins(workspace, noteStore)
	return r, workspace
}

func TestEcho(t *testing.T) {
	r, _ := builtinRegistry(t)

	results := r.Execute(context.Background(), []protocol.ToolCall{
		{Name: "echo", Input: map[string]any{"msg": "hi"}, CallID: "c-0"},
	})
	if results[0].IsError || results[0].Content != "hi" {
		t.Errorf("echo result = %+v", results[0])
	}
}

func TestCurrentTime_Timezone(t *testing.T) {
	r, _ := builtinRegistry(t)

	results := r.Execute(context.Background(), []protocol.ToolCall{
		{Name: "current_time", Input: map[string]any{"timezone": "UTC"}, CallID: "c-0"},
	})
	if results[0].IsError {
		t.Fatalf("current_time errored: %s", results[0].Content)
	}
	if !strings.Contains(results[0].Content, "UTC") {
		t.Errorf("result = %q, want UTC mention", results[0].Content)
	}
}

func TestCurrentTime_BadTimezone(t *testing.T) {
	r, _ := builtinRegistry(t)

	results := r.Execute(context.Background(), []protocol.ToolCall{
		{Name: "current_time", Input: map[string]any{"timezone": "Mars/Olympus"}, CallID: "c-0"},
	})
	if !results[0].IsError {
		t.Error("unknown timezone should produce an error payload")
	}
}

func TestFileTools_WriteThenRead(t *testing.T) {
	r, _ := builtinRegistry(t)
	ctx := context.Background()

	write := r.Execute(ctx, []protocol.ToolCall{
		{Name: "write_file", Input: map[string]any{"path": "sub/hello.txt", "content": "hello world"}, CallID: "c-0"},
	})
	if write[0].IsError {
		t.Fatalf("write_file errored: %s", write[0].Content)
	}

	read := r.Execute(ctx, []protocol.ToolCall{
		{Name: "read_file", Input: map[string]any{"path": "sub/hello.txt"}, CallID: "c-1"},
	})
	if read[0].IsError || read[0].Content != "hello world" {
		t.Errorf("read_file result = %+v", read[0])
	}
}

func TestFileTools_EscapeRejected(t *testing.T) {
	r, workspace := builtinRegistry(t)

	// A sibling file outside the workspace must be unreachable.
	outside := filepath.Join(filepath.Dir(workspace), "secret.txt")
	os.WriteFile(outside, []byte("secret"), 0o644)

	results := r.Execute(context.Background(), []protocol.ToolCall{
		{Name: "read_file", Input: map[string]any{"path": "../secret.txt"}, CallID: "c-0"},
	})
	if !results[0].IsError {
		t.Error("path escape should produce an error payload")
	}
}

func TestFileTools_DisabledWithoutWorkspace(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterBuiltins("", nil)

	if r.Get("read_file") != nil || r.Get("write_file") != nil {
		t.Error("file tools should not register without a workspace")
	}
	if r.Get("capture_note") != nil {
		t.Error("capture_note should not register without a note store")
	}
	if r.Get("echo") == nil || r.Get("current_time") == nil {
		t.Error("echo and current_time should always register")
	}
}

func TestCaptureNote(t *testing.T) {
	r, _ := builtinRegistry(t)

	results := r.Execute(context.Background(), []protocol.ToolCall{
		{Name: "capture_note", Input: map[string]any{"title": "Standup", "body": "ship it"}, CallID: "c-0"},
	})
	if results[0].IsError {
		t.Fatalf("capture_note errored: %s", results[0].Content)
	}
	if !strings.Contains(results[0].Content, "Note captured:") {
		t.Errorf("result = %q", results[0].Content)
	}
}
