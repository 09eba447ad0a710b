package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convoy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 9999
models:
  default: qwen2.5:72b
  ollama_url: http://ollama.local:11434
max_turns: 5
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 9999 {
		t.Errorf("Listen.Port = %d, want 9999", cfg.Listen.Port)
	}
	if cfg.Models.Default != "qwen2.5:72b" {
		t.Errorf("Models.Default = %q, want qwen2.5:72b", cfg.Models.Default)
	}
	if cfg.MaxTurns != 5 {
		t.Errorf("MaxTurns = %d, want 5", cfg.MaxTurns)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// A minimal file should inherit every default.
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	if cfg.Listen.Port != want.Listen.Port {
		t.Errorf("Listen.Port = %d, want %d", cfg.Listen.Port, want.Listen.Port)
	}
	if cfg.MaxTurns != want.MaxTurns {
		t.Errorf("MaxTurns = %d, want %d", cfg.MaxTurns, want.MaxTurns)
	}
	if cfg.Models.OllamaURL != want.Models.OllamaURL {
		t.Errorf("Models.OllamaURL = %q, want %q", cfg.Models.OllamaURL, want.Models.OllamaURL)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CONVOY_TEST_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, `
anthropic:
  api_key: ${CONVOY_TEST_KEY}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Anthropic.APIKey != "sk-from-env" {
		t.Errorf("Anthropic.APIKey = %q, want sk-from-env", cfg.Anthropic.APIKey)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("FindConfig should fail for a missing explicit path")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"  debug  ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
