// Package relay wires the session core to the command surface: one engine
// owns the registry, the live provider sessions, the paced file scheduler
// and the prerecorded path.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/batch"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/configutil"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/dg"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/fanout"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/notify"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/session"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/storage"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/stream"
)

// OpenLiveFunc opens one live provider session. Swapped out in tests.
type OpenLiveFunc func(ctx context.Context, config map[string]any, label string) (dg.LiveSession, error)

// Engine is the single owner of all slot sessions. Commands arrive from the
// transport layer; notices leave through the publisher.
type Engine struct {
	logger    *slog.Logger
	cfg       Config
	registry  *session.Registry
	publisher notify.Publisher
	fan       *fanout.Fanout
	streams   *stream.Manager
	batch     *batch.Transcriber

	openLive OpenLiveFunc

	micMu sync.Mutex
	mic   dg.LiveSession
}

func NewEngine(cfg Config, publisher notify.Publisher) *Engine {
	registry := session.NewRegistry()
	fan := fanout.New(registry, publisher, storage.NewStore(cfg.ResponsesDir))

	e := &Engine{
		logger:    logging.NewComponentLogger(slog.Default(), "relay"),
		cfg:       cfg,
		registry:  registry,
		publisher: publisher,
		fan:       fan,
		batch:     batch.New(cfg.APIKey),
	}
	e.openLive = func(ctx context.Context, config map[string]any, label string) (dg.LiveSession, error) {
		return dg.Open(ctx, cfg.APIKey, config, label)
	}
	e.streams = stream.NewManager(registry, publisher, fan, func(config map[string]any) (dg.LiveSession, error) {
		return e.openLive(context.Background(), config, string(session.SlotFileStreaming))
	})
	e.streams.RawSampleRate = cfg.RawSampleRate
	return e
}

// Registry exposes slot state for read-side consumers.
func (e *Engine) Registry() *session.Registry { return e.registry }

// StartMicrophoneSession opens a live session for microphone audio. An
// already-open microphone session is flushed and replaced.
func (e *Engine) StartMicrophoneSession(config map[string]any) error {
	e.micMu.Lock()
	defer e.micMu.Unlock()

	if e.mic != nil {
		e.mic.Finish()
		e.mic = nil
	}

	merged := e.mergeStreamingConfig(config)
	epoch := e.registry.Begin(session.SlotMicrophone, merged)

	sess, err := e.openLive(context.Background(), merged, string(session.SlotMicrophone))
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonConnectionStart)
		e.publisher.Publish(notify.EventStreamError, notify.StreamError{Error: err.Error()})
		return err
	}
	e.mic = sess
	go e.fan.Run(session.SlotMicrophone, epoch, sess.Events())
	e.logger.Info("microphone session started")
	return nil
}

// RestartMicrophoneSession reopens the microphone session with the
// parameters of the last one, configured defaults when none ran yet.
func (e *Engine) RestartMicrophoneSession() error {
	params := e.registry.Parameters(session.SlotMicrophone)
	e.logger.Info("microphone session restarting")
	return e.StartMicrophoneSession(params)
}

// StopMicrophoneSession flushes and drops the live microphone session.
// Stopping when none is open is a no-op.
func (e *Engine) StopMicrophoneSession() {
	e.micMu.Lock()
	defer e.micMu.Unlock()
	if e.mic == nil {
		return
	}
	e.mic.Finish()
	e.mic = nil
	e.logger.Info("microphone session stopped")
}

// SendMicrophoneChunk forwards one captured audio chunk inline on the
// caller's path. Callers must have started a session first.
func (e *Engine) SendMicrophoneChunk(data []byte) error {
	e.micMu.Lock()
	sess := e.mic
	e.micMu.Unlock()
	if sess == nil {
		return errorsx.Wrap(fmt.Errorf("no microphone session open"), errorsx.ReasonProviderSend)
	}
	return sess.Send(data)
}

// StartFileStream begins paced playback of a local file.
func (e *Engine) StartFileStream(filePath string, config map[string]any) error {
	return e.streams.Start(filePath, e.mergeStreamingConfig(config))
}

// StopFileStream cancels the active paced stream, if any.
func (e *Engine) StopFileStream() {
	e.streams.Stop()
}

// StreamState reports the file scheduler's lifecycle state.
func (e *Engine) StreamState() stream.State {
	return e.streams.State()
}

// Upload transcribes a prerecorded local file synchronously and records the
// result under the upload slot.
func (e *Engine) Upload(ctx context.Context, filePath string, config map[string]any) (json.RawMessage, error) {
	merged := e.mergeStreamingConfig(config)
	epoch := e.registry.Begin(session.SlotFileUpload, merged)

	result, err := e.batch.FromFile(ctx, filePath, merged)
	if err != nil {
		return nil, err
	}
	e.registry.Append(session.SlotFileUpload, epoch, result)

	var meta struct {
		Metadata struct {
			RequestID string `json:"request_id"`
		} `json:"metadata"`
	}
	if jerr := json.Unmarshal(result, &meta); jerr == nil && meta.Metadata.RequestID != "" {
		e.registry.ResolveRequestID(session.SlotFileUpload, epoch, meta.Metadata.RequestID)
	}
	return result, nil
}

// Close stops everything before process shutdown.
func (e *Engine) Close() {
	e.StopFileStream()
	e.StopMicrophoneSession()
}

// mergeStreamingConfig overlays client-supplied options on the configured
// defaults. The client always wins on conflicts.
func (e *Engine) mergeStreamingConfig(config map[string]any) map[string]any {
	merged := configutil.CloneSettings(e.cfg.Streaming)
	if merged == nil {
		merged = make(map[string]any, len(config))
	}
	for k, v := range config {
		merged[k] = v
	}
	return merged
}
