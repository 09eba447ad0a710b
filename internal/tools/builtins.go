package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mthorsley/convoy/internal/notes"
)

// RegisterBuiltins adds the standard toolkit tools. The workspace path
// gates the file tools: when empty they are not registered at all, so
// the model never sees them. A nil notes store likewise omits
// capture_note.
func (r *Registry) RegisterBuiltins(workspacePath string, noteStore *notes.Store) {
	r.Register(&Tool{
		Name:        "echo",
		Description: "Echo the input message back. Useful for testing the tool channel.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"msg": map[string]any{
					"type":        "string",
					"description": "The message to echo",
				},
			},
			"required": []string{"msg"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			msg, _ := args["msg"].(string)
			return msg, nil
		},
	})

	r.Register(&Tool{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a specific IANA timezone (e.g. America/Chicago, Europe/Berlin).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name. Defaults to the local timezone.",
				},
			},
		},
		Handler: handleCurrentTime,
	})

	if workspacePath != "" {
		ft := &fileTools{workspace: workspacePath}

		r.Register(&Tool{
			Name:        "read_file",
			Description: "Read a text file from the workspace. Paths are relative to the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path relative to the workspace root",
					},
				},
				"required": []string{"path"},
			},
			Handler: ft.handleRead,
		})

		r.Register(&Tool{
			Name:        "write_file",
			Description: "Write a text file in the workspace, creating parent directories as needed. Paths are relative to the workspace root.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path relative to the workspace root",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full file content to write",
					},
				},
				"required": []string{"path", "content"},
			},
			Handler: ft.handleWrite,
		})
	}

	if noteStore != nil {
		r.Register(&Tool{
			Name:        "capture_note",
			Description: "Capture a markdown note with a title and body. Use for durable takeaways worth keeping.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{
						"type":        "string",
						"description": "Short note title",
					},
					"body": map[string]any{
						"type":        "string",
						"description": "Markdown note body",
					},
				},
				"required": []string{"title", "body"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				title, _ := args["title"].(string)
				body, _ := args["body"].(string)
				if title == "" || body == "" {
					return "", fmt.Errorf("title and body are required")
				}
				path, err := noteStore.Capture(title, body)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Note captured: %s", path), nil
			},
		})
	}
}

func handleCurrentTime(ctx context.Context, args map[string]any) (string, error) {
	loc := time.Local
	if tz, _ := args["timezone"].(string); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone: %s", tz)
		}
	}
	now := time.Now().In(loc)
	return fmt.Sprintf("%s (%s)", now.Format("Mon, 02 Jan 2006 15:04:05 MST"), loc.String()), nil
}

// fileTools confines read/write to a workspace root.
type fileTools struct {
	workspace string
}

// resolve maps a tool-supplied path into the workspace and rejects
// anything that escapes it.
func (ft *fileTools) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	workspaceAbs, err := filepath.Abs(ft.workspace)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}

	abs := filepath.Clean(filepath.Join(workspaceAbs, path))
	if abs != workspaceAbs && !strings.HasPrefix(abs, workspaceAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", path)
	}
	return abs, nil
}

const maxReadBytes = 256 * 1024

func (ft *fileTools) handleRead(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	abs, err := ft.resolve(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (ft *fileTools) handleWrite(ctx context.Context, args map[string]any) (string, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	abs, err := ft.resolve(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
}
