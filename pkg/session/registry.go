package session

import (
	"encoding/json"
	"sync"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/configutil"
)

// SlotKind identifies a fixed logical audio source.
type SlotKind string

const (
	SlotMicrophone    SlotKind = "microphone"
	SlotFileStreaming SlotKind = "file_streaming"
	SlotFileUpload    SlotKind = "file_upload"
)

// Slots lists every slot kind the registry tracks.
var Slots = []SlotKind{SlotMicrophone, SlotFileStreaming, SlotFileUpload}

type slotState struct {
	epoch      int64
	parameters map[string]any
	requestID  string
	responses  []json.RawMessage
}

// Registry holds one mutable record per slot kind for the process lifetime.
// Inline microphone handlers and the file-streaming worker both mutate it,
// so every access goes through the mutex.
type Registry struct {
	mu    sync.Mutex
	slots map[SlotKind]*slotState
}

func NewRegistry() *Registry {
	r := &Registry{slots: make(map[SlotKind]*slotState, len(Slots))}
	for _, kind := range Slots {
		r.slots[kind] = &slotState{}
	}
	return r
}

// Begin resets the slot for a new session: parameters replaced, request id
// unset, accumulated responses cleared. It returns the new session's epoch;
// mutators presented with an older epoch are ignored, so a session that
// lingers past its replacement cannot corrupt the successor's record.
func (r *Registry) Begin(kind SlotKind, parameters map[string]any) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(kind)
	s.epoch++
	s.parameters = configutil.CloneSettings(parameters)
	s.requestID = ""
	s.responses = nil
	return s.epoch
}

// Epoch returns the slot's current session epoch, zero before any Begin.
func (r *Registry) Epoch(kind SlotKind) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot(kind).epoch
}

// ResolveRequestID records the provider-assigned correlation id, first writer
// wins within a session. Returns true only for the call that resolved it;
// a stale epoch never resolves.
func (r *Registry) ResolveRequestID(kind SlotKind, epoch int64, id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(kind)
	if epoch != s.epoch || s.requestID != "" {
		return false
	}
	s.requestID = id
	return true
}

// RequestID returns the resolved correlation id, "" when still unknown.
func (r *Registry) RequestID(kind SlotKind) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slot(kind).requestID
}

// Parameters returns the streaming configuration recorded at session start.
func (r *Registry) Parameters(kind SlotKind) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return configutil.CloneSettings(r.slot(kind).parameters)
}

// Append adds one raw provider payload to the slot's accumulated responses.
// Payloads carrying a stale epoch are dropped.
func (r *Registry) Append(kind SlotKind, epoch int64, raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(kind)
	if epoch != s.epoch {
		return
	}
	s.responses = append(s.responses, raw)
}

// ResponseCount reports how many raw payloads the slot has accumulated.
func (r *Registry) ResponseCount(kind SlotKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slot(kind).responses)
}

// Flush returns the accumulated responses and clears them. Parameters and
// request id persist until the next Begin so late readers can inspect the
// last session. A stale epoch flushes nothing.
func (r *Registry) Flush(kind SlotKind, epoch int64) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slot(kind)
	if epoch != s.epoch {
		return nil
	}
	out := s.responses
	s.responses = nil
	return out
}

func (r *Registry) slot(kind SlotKind) *slotState {
	s, ok := r.slots[kind]
	if !ok {
		s = &slotState{}
		r.slots[kind] = s
	}
	return s
}
