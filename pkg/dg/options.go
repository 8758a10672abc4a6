package dg

import (
	"fmt"
	"strings"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/configutil"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
)

// OfficialHost is the hosted provider endpoint. Any other base URL is treated
// as a local or custom deployment.
const OfficialHost = "api.deepgram.com"

// streamSettings mirrors the recognized streaming configuration keys. The
// transport-only base_url key is stripped before decoding.
type streamSettings struct {
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Encoding       string `mapstructure:"encoding"`
	SampleRate     int    `mapstructure:"sample_rate"`
	Channels       int    `mapstructure:"channels"`
	InterimResults *bool  `mapstructure:"interim_results"`
	SmartFormat    *bool  `mapstructure:"smart_format"`
	Punctuate      *bool  `mapstructure:"punctuate"`
	Diarize        *bool  `mapstructure:"diarize"`
	Endpointing    string `mapstructure:"endpointing"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
}

// PrepareOptions splits a client-supplied streaming configuration into the
// provider endpoint and the live transcription options. The input map is not
// mutated.
func PrepareOptions(config map[string]any) (string, *interfaces.LiveTranscriptionOptions, error) {
	params := configutil.CloneSettings(config)
	baseURL := configutil.StripKey(params, "base_url")
	endpoint := Endpoint(baseURL)

	var settings streamSettings
	if err := configutil.DecodeSettings(params, &settings); err != nil {
		return "", nil, fmt.Errorf("decode streaming options: %w", err)
	}

	opts := &interfaces.LiveTranscriptionOptions{
		Model:      settings.Model,
		Language:   settings.Language,
		Encoding:   settings.Encoding,
		SampleRate: settings.SampleRate,
		Channels:   settings.Channels,
	}
	if settings.InterimResults != nil {
		opts.InterimResults = *settings.InterimResults
	}
	if settings.SmartFormat != nil {
		opts.SmartFormat = *settings.SmartFormat
	}
	if settings.Punctuate != nil {
		opts.Punctuate = *settings.Punctuate
	}
	if settings.Diarize != nil {
		opts.Diarize = *settings.Diarize
	}
	if settings.Endpointing != "" {
		opts.Endpointing = settings.Endpointing
	}
	if settings.UtteranceEndMS > 0 {
		opts.UtteranceEndMs = fmt.Sprintf("%d", settings.UtteranceEndMS)
	}
	return endpoint, opts, nil
}

// Endpoint maps a base URL onto a websocket endpoint. The official host gets
// the encrypted scheme; any other host is assumed to be a local or custom
// deployment reachable over plain websocket. Deployment convenience, not a
// security policy.
func Endpoint(baseURL string) string {
	host := strings.TrimSpace(baseURL)
	host = strings.TrimPrefix(host, "wss://")
	host = strings.TrimPrefix(host, "ws://")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimRight(host, "/")
	if host == "" || host == OfficialHost {
		return "wss://" + OfficialHost
	}
	return "ws://" + host
}
