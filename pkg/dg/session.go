package dg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// LiveSession is the contract the rest of the core consumes: one upstream
// streaming connection presenting normalized events.
type LiveSession interface {
	Send(data []byte) error
	Finish()
	Events() <-chan Event
}

// Session owns exactly one live provider connection.
type Session struct {
	logger *slog.Logger
	label  string

	mu       sync.Mutex
	dgClient *client.WSCallback
	cancel   context.CancelFunc

	events    chan Event
	closeOnce sync.Once
}

// Open connects a live transcription session. The base_url entry of config
// selects the endpoint and is stripped before the remaining options are
// forwarded. Failure is non-retrying; the caller owns any retry policy.
func Open(ctx context.Context, apiKey string, config map[string]any, label string) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, opts, err := PrepareOptions(config)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonConnectionStart)
	}

	logger := logging.NewComponentLogger(slog.Default(), "dg_session")
	s := &Session{
		logger: logger,
		label:  label,
		events: make(chan Event, 256),
	}

	cctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	clientOptions := &interfaces.ClientOptions{
		Host:            endpoint,
		EnableKeepAlive: true,
	}

	logger.Info("starting live connection",
		slog.String("label", label),
		slog.String("endpoint", endpoint),
		slog.String("model", opts.Model),
		slog.Int("sample_rate", opts.SampleRate))

	cb := &callback{session: s}
	dgClient, err := client.NewWSUsingCallback(cctx, apiKey, clientOptions, opts, cb)
	if err != nil {
		cancel()
		return nil, errorsx.Wrap(fmt.Errorf("create live client: %w", err), errorsx.ReasonConnectionStart)
	}
	if connected := dgClient.Connect(); !connected {
		cancel()
		return nil, errorsx.Wrap(errors.New("provider rejected connection"), errorsx.ReasonConnectionStart)
	}

	s.mu.Lock()
	s.dgClient = dgClient
	s.mu.Unlock()
	return s, nil
}

// Send forwards one raw audio chunk over the open connection.
func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	dgClient := s.dgClient
	s.mu.Unlock()
	if dgClient == nil {
		return errorsx.Wrap(errors.New("no open connection"), errorsx.ReasonProviderSend)
	}
	if err := dgClient.WriteBinary(data); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonProviderSend)
	}
	return nil
}

// Finish requests graceful shutdown. The provider emits its final Close
// event asynchronously; the events channel closes after it is delivered.
func (s *Session) Finish() {
	s.mu.Lock()
	dgClient := s.dgClient
	s.dgClient = nil
	s.mu.Unlock()
	if dgClient != nil {
		dgClient.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Events returns the normalized event stream. The channel closes after the
// terminal Close event.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) emit(ev Event) {
	defer func() {
		// The channel closes after the provider's Close event; anything the
		// SDK delivers later is logged and discarded.
		if r := recover(); r != nil {
			s.logger.Debug("event after close discarded",
				slog.String("label", s.label),
				slog.String("kind", string(ev.Kind)))
		}
	}()
	s.events <- ev
}

func (s *Session) finishEvents() {
	s.closeOnce.Do(func() { close(s.events) })
}

// callback adapts the SDK's event interface onto the normalized stream.
type callback struct {
	session *Session
}

func (c *callback) Open(or *msginterfaces.OpenResponse) error {
	c.session.logger.Info("live connection open", slog.String("label", c.session.label))
	c.session.emit(Event{Kind: EventOpen, Raw: or})
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	tr := &Transcript{
		IsFinal:     mr.IsFinal,
		SpeechFinal: mr.SpeechFinal,
		Start:       mr.Start,
		Duration:    mr.Duration,
		Channel:     mr.ChannelIndex,
	}
	// A malformed payload is treated as an empty transcript; the raw form is
	// still captured downstream so the event count is preserved.
	if len(mr.Channel.Alternatives) > 0 {
		tr.Text = mr.Channel.Alternatives[0].Transcript
	} else {
		c.session.logger.Debug("transcript payload without alternatives",
			slog.String("label", c.session.label),
			slog.String("reason_code", string(errorsx.ReasonTranscriptExtract)))
	}
	c.session.emit(Event{Kind: EventTranscript, Raw: mr, Transcript: tr})
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.session.logger.Debug("metadata received",
		slog.String("label", c.session.label),
		slog.String("request_id", md.RequestID))
	c.session.emit(Event{Kind: EventMetadata, Raw: md, RequestID: md.RequestID})
	return nil
}

func (c *callback) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.session.logger.Debug("speech started", slog.String("label", c.session.label))
	return nil
}

func (c *callback) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.session.logger.Debug("utterance end", slog.String("label", c.session.label))
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.session.logger.Error("provider error",
		slog.String("label", c.session.label),
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	// An upstream error does not imply the connection closed; the session
	// continues until an explicit Close.
	c.session.emit(Event{Kind: EventError, Raw: er, Err: er.ErrMsg})
	return nil
}

func (c *callback) Close(cr *msginterfaces.CloseResponse) error {
	c.session.logger.Info("live connection closed", slog.String("label", c.session.label))
	c.session.emit(Event{Kind: EventClose, Raw: cr})
	c.session.finishEvents()
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.session.logger.Debug("unhandled provider event",
		slog.String("label", c.session.label),
		slog.Int("bytes", len(byData)))
	return nil
}

var _ LiveSession = (*Session)(nil)
var _ msginterfaces.LiveMessageCallback = (*callback)(nil)
