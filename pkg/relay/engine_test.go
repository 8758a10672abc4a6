package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/dg"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/dg/dgtest"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/notify"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/session"
)

type recordingPublisher struct {
	mu      sync.Mutex
	notices map[string][]any
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{notices: make(map[string][]any)}
}

func (p *recordingPublisher) Publish(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices[event] = append(p.notices[event], payload)
}

func (p *recordingPublisher) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.notices[event])
}

func testConfig(dir string) Config {
	return Config{
		Addr:         ":0",
		APIKey:       "test-key",
		ResponsesDir: dir,
		Streaming:    map[string]any{"model": "nova-2", "language": "en-US"},
	}
}

func TestMicrophoneLifecycle(t *testing.T) {
	pub := newRecordingPublisher()
	e := NewEngine(testConfig(t.TempDir()), pub)
	sess := dgtest.NewScriptedSession()
	e.openLive = func(context.Context, map[string]any, string) (dg.LiveSession, error) {
		return sess, nil
	}

	if err := e.StartMicrophoneSession(map[string]any{"language": "id"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	params := e.Registry().Parameters(session.SlotMicrophone)
	if params["model"] != "nova-2" {
		t.Fatalf("expected default model merged in, got %v", params["model"])
	}
	if params["language"] != "id" {
		t.Fatalf("client option must win over default, got %v", params["language"])
	}

	if err := e.SendMicrophoneChunk([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sess.Sent()) != 1 {
		t.Fatalf("expected one chunk delivered")
	}

	e.StopMicrophoneSession()
	if !sess.Finished() {
		t.Fatalf("stop must flush the session")
	}
	if err := e.SendMicrophoneChunk([]byte{4}); err == nil {
		t.Fatalf("send after stop must fail")
	}
}

func TestSendWithoutSession(t *testing.T) {
	e := NewEngine(testConfig(t.TempDir()), newRecordingPublisher())
	err := e.SendMicrophoneChunk([]byte{1})
	if err == nil {
		t.Fatalf("expected error without open session")
	}
	if !errorsx.HasReason(err, errorsx.ReasonProviderSend) {
		t.Fatalf("expected provider_send reason, got %s", errorsx.Reason(err))
	}
}

func TestRestartReplacesMicrophoneSession(t *testing.T) {
	pub := newRecordingPublisher()
	e := NewEngine(testConfig(t.TempDir()), pub)
	first := dgtest.NewScriptedSession()
	second := dgtest.NewScriptedSession()
	sessions := []dg.LiveSession{first, second}
	e.openLive = func(context.Context, map[string]any, string) (dg.LiveSession, error) {
		s := sessions[0]
		sessions = sessions[1:]
		return s, nil
	}

	if err := e.StartMicrophoneSession(nil); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := e.StartMicrophoneSession(nil); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !first.Finished() {
		t.Fatalf("previous session must be flushed on restart")
	}
	if err := e.SendMicrophoneChunk([]byte{1}); err != nil {
		t.Fatalf("send on replacement: %v", err)
	}
	if len(second.Sent()) != 1 || len(first.Sent()) != 0 {
		t.Fatalf("chunk must land on the replacement session")
	}
}

func TestRestartCommandReusesLastParameters(t *testing.T) {
	pub := newRecordingPublisher()
	e := NewEngine(testConfig(t.TempDir()), pub)
	first := dgtest.NewScriptedSession()
	second := dgtest.NewScriptedSession()
	sessions := []dg.LiveSession{first, second}
	e.openLive = func(context.Context, map[string]any, string) (dg.LiveSession, error) {
		s := sessions[0]
		sessions = sessions[1:]
		return s, nil
	}

	if err := e.StartMicrophoneSession(map[string]any{"language": "id"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.RestartMicrophoneSession(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !first.Finished() {
		t.Fatalf("restart must flush the previous session")
	}
	params := e.Registry().Parameters(session.SlotMicrophone)
	if params["language"] != "id" || params["model"] != "nova-2" {
		t.Fatalf("restart must reuse last session parameters, got %v", params)
	}
	if err := e.SendMicrophoneChunk([]byte{9}); err != nil {
		t.Fatalf("send on restarted session: %v", err)
	}
	if len(second.Sent()) != 1 {
		t.Fatalf("chunk must land on the restarted session")
	}
}

func TestMicrophoneStartFailure(t *testing.T) {
	pub := newRecordingPublisher()
	e := NewEngine(testConfig(t.TempDir()), pub)
	e.openLive = func(context.Context, map[string]any, string) (dg.LiveSession, error) {
		return nil, errors.New("handshake refused")
	}

	err := e.StartMicrophoneSession(nil)
	if err == nil {
		t.Fatalf("expected start error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonConnectionStart) {
		t.Fatalf("expected connection_start reason, got %s", errorsx.Reason(err))
	}
	if pub.count(notify.EventStreamError) != 1 {
		t.Fatalf("expected failure notice")
	}
}

func TestSessionStartResetsSlot(t *testing.T) {
	pub := newRecordingPublisher()
	e := NewEngine(testConfig(t.TempDir()), pub)
	e.openLive = func(context.Context, map[string]any, string) (dg.LiveSession, error) {
		return dgtest.NewScriptedSession(), nil
	}

	if err := e.StartMicrophoneSession(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	epoch := e.Registry().Epoch(session.SlotMicrophone)
	e.Registry().ResolveRequestID(session.SlotMicrophone, epoch, "req-1")
	e.Registry().Append(session.SlotMicrophone, epoch, []byte(`{"n":1}`))
	e.StopMicrophoneSession()

	if err := e.StartMicrophoneSession(nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := e.Registry().RequestID(session.SlotMicrophone); got != "" {
		t.Fatalf("restart must reset request id, got %q", got)
	}
	if got := e.Registry().ResponseCount(session.SlotMicrophone); got != 0 {
		t.Fatalf("restart must clear responses, got %d", got)
	}
	e.StopMicrophoneSession()
}

func TestRawSampleRateReachesScheduler(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.RawSampleRate = 16000
	e := NewEngine(cfg, newRecordingPublisher())
	if e.streams.RawSampleRate != 16000 {
		t.Fatalf("expected configured raw rate on scheduler, got %d", e.streams.RawSampleRate)
	}
}

func TestUploadMissingFile(t *testing.T) {
	e := NewEngine(testConfig(t.TempDir()), newRecordingPublisher())
	_, err := e.Upload(context.Background(), "no/such/file.wav", nil)
	if err == nil {
		t.Fatalf("expected error for missing upload")
	}
	if !errorsx.HasReason(err, errorsx.ReasonFileRead) {
		t.Fatalf("expected file_read reason, got %s", errorsx.Reason(err))
	}
	if got := e.Registry().ResponseCount(session.SlotFileUpload); got != 0 {
		t.Fatalf("failed upload must not record responses, got %d", got)
	}
}

func TestCloseStopsEverything(t *testing.T) {
	pub := newRecordingPublisher()
	e := NewEngine(testConfig(t.TempDir()), pub)
	sess := dgtest.NewScriptedSession()
	e.openLive = func(context.Context, map[string]any, string) (dg.LiveSession, error) {
		return sess, nil
	}
	if err := e.StartMicrophoneSession(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	e.Close()
	deadline := time.Now().Add(time.Second)
	for !sess.Finished() {
		if time.Now().After(deadline) {
			t.Fatalf("close must flush the microphone session")
		}
		time.Sleep(time.Millisecond)
	}
}
