package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
)

func TestOptionsDecodeAndBaseURLStrip(t *testing.T) {
	params := map[string]any{
		"model":        "nova-2",
		"language":     "en-US",
		"smart_format": true,
		"punctuate":    "true",
		"baseUrl":      "api.example.com",
	}
	opts, err := Options(params)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Model != "nova-2" || opts.Language != "en-US" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if !opts.SmartFormat || !opts.Punctuate {
		t.Fatalf("expected boolean flags decoded: %+v", opts)
	}
	if _, ok := params["baseUrl"]; !ok {
		t.Fatalf("caller's map must not be mutated")
	}
}

func TestOptionsEmpty(t *testing.T) {
	opts, err := Options(nil)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Model != "" {
		t.Fatalf("expected zero options, got %+v", opts)
	}
}

func TestFromFileMissing(t *testing.T) {
	tr := New("key")
	_, err := tr.FromFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), nil)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if !errorsx.HasReason(err, errorsx.ReasonFileRead) {
		t.Fatalf("expected file_read reason, got %s", errorsx.Reason(err))
	}
}

func TestContentTypeOf(t *testing.T) {
	dir := t.TempDir()

	// Raw mu-law bytes carry no container signature.
	raw := filepath.Join(dir, "audio.ulaw")
	if err := os.WriteFile(raw, make([]byte, 64), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ContentTypeOf(raw); got != DefaultContentType {
		t.Fatalf("expected default content type, got %q", got)
	}

	wav := filepath.Join(dir, "audio.wav")
	header := append([]byte("RIFF\x24\x00\x00\x00WAVE"), make([]byte, 32)...)
	if err := os.WriteFile(wav, header, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := ContentTypeOf(wav); got != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", got)
	}
}
