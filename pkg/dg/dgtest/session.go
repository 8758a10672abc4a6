// Package dgtest provides a scripted in-memory provider session for tests.
package dgtest

import (
	"sync"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/dg"
)

// ScriptedSession implements dg.LiveSession without a network connection.
// Tests feed it events and observe what the core sent.
type ScriptedSession struct {
	mu       sync.Mutex
	sent     [][]byte
	finished bool
	closed   bool

	SendErr error

	events chan dg.Event
}

func NewScriptedSession() *ScriptedSession {
	return &ScriptedSession{events: make(chan dg.Event, 64)}
}

func (s *ScriptedSession) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	buf := append([]byte(nil), data...)
	s.sent = append(s.sent, buf)
	return nil
}

// Finish mimics graceful shutdown: the provider acknowledges with a terminal
// Close event before the stream ends.
func (s *ScriptedSession) Finish() {
	s.mu.Lock()
	s.finished = true
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !alreadyClosed {
		s.events <- dg.Event{Kind: dg.EventClose, Raw: map[string]any{"type": "CloseResponse"}}
		close(s.events)
	}
}

func (s *ScriptedSession) Events() <-chan dg.Event { return s.events }

// Emit pushes one scripted event, as if the provider produced it.
func (s *ScriptedSession) Emit(ev dg.Event) {
	s.events <- ev
}

// CloseNow ends the stream with a Close event without a Finish call, as a
// provider-initiated disconnect would.
func (s *ScriptedSession) CloseNow(raw any) {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if !alreadyClosed {
		s.events <- dg.Event{Kind: dg.EventClose, Raw: raw}
		close(s.events)
	}
}

// Sent returns copies of every chunk delivered to the session.
func (s *ScriptedSession) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Finished reports whether the core requested graceful shutdown.
func (s *ScriptedSession) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

var _ dg.LiveSession = (*ScriptedSession)(nil)
