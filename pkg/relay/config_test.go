package relay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "env-key")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":5000" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("api key must come from the environment, got %q", cfg.APIKey)
	}
	if cfg.ResponsesDir != "responses" || cfg.RawSampleRate != 8000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Streaming["model"] != "nova-2" {
		t.Fatalf("expected default streaming model, got %v", cfg.Streaming["model"])
	}
}

func TestLoadConfigMissingAPIKey(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected validation error without api key")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "env-key")
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
addr: ":7071"
responses_dir: /tmp/relay-responses
log_level: debug
streaming:
  model: nova-3
  language: id
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7071" || cfg.LogLevel != "debug" {
		t.Fatalf("file overrides not applied: %+v", cfg)
	}
	if cfg.Streaming["model"] != "nova-3" || cfg.Streaming["language"] != "id" {
		t.Fatalf("streaming overrides not applied: %v", cfg.Streaming)
	}
	if cfg.APIKey != "env-key" {
		t.Fatalf("expected env-expanded api key, got %q", cfg.APIKey)
	}
}
