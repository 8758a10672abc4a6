// Package batch performs synchronous prerecorded transcription requests.
package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/gabriel-vasile/mimetype"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/configutil"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"
)

// DefaultContentType is assumed when payload bytes cannot be identified.
const DefaultContentType = "audio/wav"

// Transcriber issues one-shot REST transcription calls. Unlike the live
// path there is no session to manage: one request, one JSON result.
type Transcriber struct {
	logger *slog.Logger
	apiKey string
}

func New(apiKey string) *Transcriber {
	return &Transcriber{
		logger: logging.NewComponentLogger(slog.Default(), "batch"),
		apiKey: apiKey,
	}
}

// Options converts a flat parameter map into prerecorded request options.
// The base_url key is stripped: endpoint selection is not a provider option.
func Options(params map[string]any) (*interfaces.PreRecordedTranscriptionOptions, error) {
	settings := configutil.CloneSettings(params)
	configutil.StripKey(settings, "base_url")

	opts := &interfaces.PreRecordedTranscriptionOptions{}
	if err := configutil.DecodeSettings(settings, opts); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBatchRequest)
	}
	return opts, nil
}

// FromFile transcribes a local audio file.
func (t *Transcriber) FromFile(ctx context.Context, path string, params map[string]any) (json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonFileRead)
	}
	defer f.Close()

	t.logger.Info("prerecorded request",
		slog.String("file", path),
		slog.String("content_type", ContentTypeOf(path)))

	opts, err := Options(params)
	if err != nil {
		return nil, err
	}
	dg := api.New(client.NewREST(t.apiKey, &interfaces.ClientOptions{}))
	res, err := dg.FromStream(ctx, f, opts)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBatchRequest)
	}
	return marshalResult(res)
}

// FromURL transcribes audio hosted at a remote URL.
func (t *Transcriber) FromURL(ctx context.Context, url string, params map[string]any) (json.RawMessage, error) {
	opts, err := Options(params)
	if err != nil {
		return nil, err
	}
	t.logger.Info("prerecorded request", slog.String("url", url))

	dg := api.New(client.NewREST(t.apiKey, &interfaces.ClientOptions{}))
	res, err := dg.FromURL(ctx, url, opts)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBatchRequest)
	}
	return marshalResult(res)
}

// ContentTypeOf identifies the audio container of a file. Headerless
// payloads such as raw mu-law fall back to the default.
func ContentTypeOf(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt.Is("application/octet-stream") {
		return DefaultContentType
	}
	return mt.String()
}

func marshalResult(res any) (json.RawMessage, error) {
	out, err := json.Marshal(res)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonBatchRequest)
	}
	return json.RawMessage(out), nil
}
