package fanout

import (
	"log/slog"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/dg"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/notify"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/session"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/storage"
)

// Fanout translates normalized provider events into outward notices and
// maintains the slot registry. One Run loop serves one provider session.
type Fanout struct {
	logger    *slog.Logger
	registry  *session.Registry
	publisher notify.Publisher
	store     *storage.Store
}

func New(registry *session.Registry, publisher notify.Publisher, store *storage.Store) *Fanout {
	return &Fanout{
		logger:    logging.NewComponentLogger(slog.Default(), "fanout"),
		registry:  registry,
		publisher: publisher,
		store:     store,
	}
}

// Run consumes events until the provider session's channel closes. It is
// safe to run on a background goroutine; the publisher contract covers
// cross-goroutine delivery. epoch must be the value Begin returned for this
// session so a replaced session's trailing events are discarded.
func (f *Fanout) Run(kind session.SlotKind, epoch int64, events <-chan dg.Event) {
	for ev := range events {
		f.handle(kind, epoch, ev)
	}
}

func (f *Fanout) handle(kind session.SlotKind, epoch int64, ev dg.Event) {
	if epoch != f.registry.Epoch(kind) {
		// A newer session owns the slot now; a delayed event here, Close
		// included, must not touch the successor's accumulated state.
		f.logger.Debug("stale session event dropped",
			slog.String("slot", string(kind)),
			slog.Int64("epoch", epoch),
			slog.String("event", string(ev.Kind)))
		return
	}
	switch ev.Kind {
	case dg.EventOpen:
		f.logger.Info("session open", slog.String("slot", string(kind)))

	case dg.EventTranscript:
		// Capture before normalization; empty transcripts still count.
		f.registry.Append(kind, epoch, session.EncodeRaw(ev.Raw))
		if ev.RequestID != "" {
			f.resolveRequestID(kind, epoch, ev.RequestID)
		}
		if ev.Transcript == nil || ev.Transcript.Text == "" {
			return
		}
		payload := notify.Transcript{
			Transcription: ev.Transcript.Text,
			IsFinal:       ev.Transcript.IsFinal,
			SpeechFinal:   ev.Transcript.SpeechFinal,
			RequestID:     f.registry.RequestID(kind),
		}
		if kind == session.SlotMicrophone {
			payload.Timing = &notify.Timing{
				Start: ev.Transcript.Start,
				End:   ev.Transcript.Start + ev.Transcript.Duration,
			}
		} else {
			payload.Channel = ev.Transcript.Channel
		}
		f.publisher.Publish(notify.EventTranscript, payload)

	case dg.EventMetadata:
		f.resolveRequestID(kind, epoch, ev.RequestID)

	case dg.EventError:
		f.logger.Warn("provider error event",
			slog.String("slot", string(kind)),
			slog.String("error", ev.Err))
		// Errors do not imply the connection closed; the session continues.
		f.publisher.Publish(notify.EventStreamError, notify.StreamError{Error: ev.Err})

	case dg.EventClose:
		f.handleClose(kind, epoch, ev)
	}
}

// resolveRequestID records the first id a session sees and announces it
// once. Later, differing ids are ignored.
func (f *Fanout) resolveRequestID(kind session.SlotKind, epoch int64, id string) {
	if id == "" {
		return
	}
	if f.registry.ResolveRequestID(kind, epoch, id) {
		f.logger.Info("request id resolved",
			slog.String("slot", string(kind)),
			slog.String("request_id", id))
		f.publisher.Publish(notify.EventRequestID, notify.RequestID{RequestID: id})
	}
}

func (f *Fanout) handleClose(kind session.SlotKind, epoch int64, ev dg.Event) {
	count := f.registry.ResponseCount(kind)
	f.logger.Info("session closed",
		slog.String("slot", string(kind)),
		slog.Int("responses", count))
	if count == 0 {
		return
	}

	requestID := f.registry.RequestID(kind)
	parameters := f.registry.Parameters(kind)
	responses := f.registry.Flush(kind, epoch)
	if len(responses) == 0 {
		return
	}

	f.publisher.Publish(notify.EventRawSession, notify.RawSession{
		SourceKind:  string(kind),
		CloseDetail: session.EncodeRaw(ev.Raw),
		Responses:   responses,
		Count:       len(responses),
		RequestID:   requestID,
		Parameters:  parameters,
	})

	filename, path, err := f.store.Save(storage.Summary{
		SessionInfo: storage.SessionInfo{
			Parameters:     parameters,
			RequestID:      requestID,
			TotalResponses: len(responses),
		},
		StreamingResponses: responses,
	})
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonPersist)
		f.logger.Error("summary persistence failed",
			slog.String("slot", string(kind)),
			slog.String("error", err.Error()))
		f.publisher.Publish(notify.EventResponsesSaveError, notify.ResponsesSaveError{Error: err.Error()})
		return
	}
	f.publisher.Publish(notify.EventResponsesSaved, notify.ResponsesSaved{
		Filename: filename,
		Path:     path,
		Count:    len(responses),
	})
}
