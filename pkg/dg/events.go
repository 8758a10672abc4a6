package dg

// EventKind classifies a normalized provider event.
type EventKind string

const (
	EventOpen       EventKind = "open"
	EventTranscript EventKind = "transcript"
	EventMetadata   EventKind = "metadata"
	EventError      EventKind = "error"
	EventClose      EventKind = "close"
)

// Transcript carries the normalized fields of one provider transcript event.
type Transcript struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Start       float64
	Duration    float64
	Channel     []int
}

// Event is one normalized provider event. Raw holds the provider payload as
// received, for capture; it is set on every kind that carries a payload.
type Event struct {
	Kind       EventKind
	Raw        any
	Transcript *Transcript
	RequestID  string // set on metadata events
	Err        string // set on error events
}
