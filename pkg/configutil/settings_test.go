package configutil

import "testing"

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out struct {
		SampleRate int    `mapstructure:"sample_rate"`
		Model      string `mapstructure:"model"`
	}
	input := map[string]any{
		"sampleRate": "16000",
		"MODEL":      "nova-2",
	}
	if err := DecodeSettings(input, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SampleRate != 16000 {
		t.Fatalf("expected 16000, got %d", out.SampleRate)
	}
	if out.Model != "nova-2" {
		t.Fatalf("expected nova-2, got %q", out.Model)
	}
}

func TestStripKey(t *testing.T) {
	input := map[string]any{"baseUrl": "api.example.com", "model": "nova-2"}
	got := StripKey(input, "base_url")
	if got != "api.example.com" {
		t.Fatalf("expected stripped value, got %q", got)
	}
	if _, ok := input["baseUrl"]; ok {
		t.Fatalf("expected key removed")
	}
	if len(input) != 1 {
		t.Fatalf("expected one remaining key, got %d", len(input))
	}
	if StripKey(input, "base_url") != "" {
		t.Fatalf("expected empty result for absent key")
	}
}

func TestCloneSettingsIsIndependent(t *testing.T) {
	src := map[string]any{"a": 1}
	dst := CloneSettings(src)
	dst["a"] = 2
	if src["a"] != 1 {
		t.Fatalf("clone mutated source")
	}
	if CloneSettings(nil) != nil {
		t.Fatalf("expected nil clone of nil map")
	}
}
