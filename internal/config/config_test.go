package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("listen:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("openai:\n  api_key: ${QNA_TEST_KEY}\n"), 0600)
	os.Setenv("QNA_TEST_KEY", "secret123")
	defer os.Unsetenv("QNA_TEST_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.OpenAI.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.OpenAI.APIKey, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("openai:\n  api_key: sk-test\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 8080 {
		t.Errorf("listen.port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("agent.max_iterations = %d, want 5", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxRetries != 3 {
		t.Errorf("agent.max_retries = %d, want 3", cfg.Agent.MaxRetries)
	}
	if cfg.Agent.RetryBaseDelay != 2*time.Second {
		t.Errorf("agent.retry_base_delay = %v, want 2s", cfg.Agent.RetryBaseDelay)
	}
	if cfg.KnowledgeDir != "knowledge" {
		t.Errorf("knowledge_dir = %q, want %q", cfg.KnowledgeDir, "knowledge")
	}
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte(`
listen:
  port: 9001
openai:
  api_key: sk-test
  model: gpt-4o
agent:
  max_iterations: 8
  retry_base_delay: 500ms
knowledge_dir: /srv/docs
`), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Listen.Port != 9001 {
		t.Errorf("listen.port = %d, want 9001", cfg.Listen.Port)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("openai.model = %q, want %q", cfg.OpenAI.Model, "gpt-4o")
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Errorf("agent.max_iterations = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.RetryBaseDelay != 500*time.Millisecond {
		t.Errorf("agent.retry_base_delay = %v, want 500ms", cfg.Agent.RetryBaseDelay)
	}
	if cfg.KnowledgeDir != "/srv/docs" {
		t.Errorf("knowledge_dir = %q, want %q", cfg.KnowledgeDir, "/srv/docs")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with empty api_key should error")
	}

	cfg.OpenAI.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}

	cfg.Listen.Port = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() with negative port should error")
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
		{" debug ", slog.LevelDebug, false},
		{"trace", LevelTrace, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(LevelTrace)}
	got := ReplaceLogLevelNames(nil, a)
	if got.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want %q", got.Value.String(), "TRACE")
	}

	b := slog.Attr{Key: slog.LevelKey, Value: slog.AnyValue(slog.LevelInfo)}
	got = ReplaceLogLevelNames(nil, b)
	if got.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level was modified: %v", got.Value)
	}
}
