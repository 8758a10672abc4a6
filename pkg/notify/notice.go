package notify

import "encoding/json"

// Publisher delivers notices to connected clients. Implementations must be
// safe to call from any goroutine; the file-streaming worker publishes from
// outside the request path.
type Publisher interface {
	Publish(event string, payload any)
}

// Outward notice event names. These form the client-facing contract.
const (
	EventTranscript         = "transcription_update"
	EventRequestID          = "request_id"
	EventStreamStarted      = "stream_started"
	EventStreamFinished     = "stream_finished"
	EventStreamError        = "stream_error"
	EventRawSession         = "raw_session"
	EventResponsesSaved     = "responses_saved"
	EventResponsesSaveError = "responses_save_error"
)

// Timing marks the start and end of a transcript segment in seconds.
type Timing struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcript is published for every non-empty provider transcript event.
// Timing is set on the microphone path, Channel on the file path.
type Transcript struct {
	Transcription string  `json:"transcription"`
	IsFinal       bool    `json:"is_final"`
	SpeechFinal   bool    `json:"speech_final"`
	Timing        *Timing `json:"timing,omitempty"`
	Channel       []int   `json:"channel,omitempty"`
	RequestID     string  `json:"request_id,omitempty"`
}

// RequestID is published once per session, the first time an id resolves.
type RequestID struct {
	RequestID string `json:"request_id"`
}

// StreamStarted is published when the scheduler enters Streaming.
type StreamStarted struct {
	Message  string  `json:"message"`
	File     string  `json:"file"`
	Duration float64 `json:"duration"` // seconds, 0 when undeterminable
}

// StreamFinished is published when paced playback reaches natural end.
type StreamFinished struct {
	Message string `json:"message"`
}

// StreamError is published on Starting/Streaming failures.
type StreamError struct {
	Error string `json:"error"`
}

// RawSession is the consolidated summary published on Close when raw
// responses were captured during the session.
type RawSession struct {
	SourceKind  string            `json:"source_kind"`
	CloseDetail json.RawMessage   `json:"close_detail,omitempty"`
	Responses   []json.RawMessage `json:"accumulated_responses"`
	Count       int               `json:"count"`
	RequestID   string            `json:"request_id,omitempty"`
	Parameters  map[string]any    `json:"parameters,omitempty"`
}

// ResponsesSaved reports a persisted session summary artifact.
type ResponsesSaved struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Count    int    `json:"count"`
}

// ResponsesSaveError reports a failed summary write. The session is not
// reopened or retried.
type ResponsesSaveError struct {
	Error string `json:"error"`
}
