package dg

import "testing"

func TestEndpointSchemeSelection(t *testing.T) {
	cases := []struct {
		baseURL  string
		expected string
	}{
		{"api.deepgram.com", "wss://api.deepgram.com"},
		{"https://api.deepgram.com/", "wss://api.deepgram.com"},
		{"", "wss://api.deepgram.com"},
		{"10.0.0.5:9000", "ws://10.0.0.5:9000"},
		{"ws://10.0.0.5:9000", "ws://10.0.0.5:9000"},
		{"localhost:8080", "ws://localhost:8080"},
	}
	for _, tc := range cases {
		if got := Endpoint(tc.baseURL); got != tc.expected {
			t.Fatalf("Endpoint(%q) = %q, expected %q", tc.baseURL, got, tc.expected)
		}
	}
}

func TestPrepareOptionsStripsBaseURL(t *testing.T) {
	config := map[string]any{
		"baseUrl":     "api.example.com",
		"sampleRate":  16000,
		"model":       "nova-2",
		"channels":    2,
		"language":    "en-US",
		"encoding":    "linear16",
		"endpointing": "300",
	}
	endpoint, opts, err := PrepareOptions(config)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if endpoint != "ws://api.example.com" {
		t.Fatalf("expected custom-deployment endpoint, got %q", endpoint)
	}
	if opts.SampleRate != 16000 || opts.Model != "nova-2" || opts.Channels != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if opts.Language != "en-US" || opts.Encoding != "linear16" || opts.Endpointing != "300" {
		t.Fatalf("unexpected options: %+v", opts)
	}
	// The caller's map is left alone.
	if _, ok := config["baseUrl"]; !ok {
		t.Fatalf("input map mutated")
	}
}

func TestPrepareOptionsFlags(t *testing.T) {
	config := map[string]any{
		"interim_results":  true,
		"smart_format":     true,
		"punctuate":        false,
		"diarize":          true,
		"utterance_end_ms": 1000,
	}
	_, opts, err := PrepareOptions(config)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !opts.InterimResults || !opts.SmartFormat || opts.Punctuate || !opts.Diarize {
		t.Fatalf("unexpected flag decode: %+v", opts)
	}
	if opts.UtteranceEndMs != "1000" {
		t.Fatalf("expected utterance end 1000, got %q", opts.UtteranceEndMs)
	}
}

func TestPrepareOptionsDefaultEndpoint(t *testing.T) {
	endpoint, _, err := PrepareOptions(map[string]any{"model": "nova-2"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if endpoint != "wss://"+OfficialHost {
		t.Fatalf("expected official endpoint, got %q", endpoint)
	}
}
