package stream

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/audio"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/configutil"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/dg"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/errorsx"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/fanout"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/notify"
	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/session"
)

// State tracks one paced playback through its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateFinished
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// OpenFunc opens a provider session for one paced stream.
type OpenFunc func(config map[string]any) (dg.LiveSession, error)

// DefaultJoinTimeout bounds how long a stop request waits for the previous
// worker to acknowledge cancellation.
const DefaultJoinTimeout = 2 * time.Second

// Manager drives paced chunked delivery of one file at a time to a provider
// session. At most one worker is live; starting a new stream first stops and
// joins the previous one.
type Manager struct {
	logger    *slog.Logger
	registry  *session.Registry
	publisher notify.Publisher
	fan       *fanout.Fanout
	open      OpenFunc

	// RawSampleRate is the rate assumed for headerless audio when the
	// session config carries no sample_rate of its own. Zero falls through
	// to the probe default.
	RawSampleRate int

	joinTimeout time.Duration
	pace        time.Duration

	// startMu serializes the stop-join-launch sequence so two overlapping
	// Start calls cannot both end up with a live worker.
	startMu sync.Mutex

	mu      sync.Mutex
	current *worker
}

type worker struct {
	stop  atomic.Bool
	state atomic.Int32
	done  chan struct{}
}

func (w *worker) setState(s State) { w.state.Store(int32(s)) }
func (w *worker) getState() State  { return State(w.state.Load()) }

func NewManager(registry *session.Registry, publisher notify.Publisher, fan *fanout.Fanout, open OpenFunc) *Manager {
	return &Manager{
		logger:      logging.NewComponentLogger(slog.Default(), "stream_scheduler"),
		registry:    registry,
		publisher:   publisher,
		fan:         fan,
		open:        open,
		joinTimeout: DefaultJoinTimeout,
		pace:        audio.ChunkDuration,
	}
}

// Start begins paced playback of filePath. Any previous stream is signalled
// to stop and joined (bounded) first. A missing or unreadable file fails
// fast: no session is started.
func (m *Manager) Start(filePath string, config map[string]any) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stopCurrent()

	var probe struct {
		SampleRate int `mapstructure:"sample_rate"`
	}
	_ = configutil.DecodeSettings(config, &probe)
	if probe.SampleRate == 0 {
		probe.SampleRate = m.RawSampleRate
	}

	src, err := audio.Open(filePath, audio.ProbeConfig{RawSampleRate: probe.SampleRate})
	if err != nil {
		err = errorsx.Wrap(err, errorsx.ReasonFileRead)
		m.publisher.Publish(notify.EventStreamError, notify.StreamError{Error: err.Error()})
		return err
	}

	epoch := m.registry.Begin(session.SlotFileStreaming, config)

	sess, err := m.open(config)
	if err != nil {
		src.Close()
		err = errorsx.Wrap(err, errorsx.ReasonConnectionStart)
		m.publisher.Publish(notify.EventStreamError, notify.StreamError{Error: err.Error()})
		return err
	}

	chunkSize := audio.ChunkSize(src.Info)
	w := &worker{done: make(chan struct{})}
	w.setState(StateStarting)

	m.mu.Lock()
	m.current = w
	m.mu.Unlock()

	m.logger.Info("stream starting",
		slog.String("file", filePath),
		slog.Int("chunk_size", chunkSize),
		slog.Float64("duration_sec", src.Info.Duration()))

	go m.fan.Run(session.SlotFileStreaming, epoch, sess.Events())

	m.publisher.Publish(notify.EventStreamStarted, notify.StreamStarted{
		Message:  "streaming started",
		File:     filePath,
		Duration: src.Info.Duration(),
	})

	go m.run(w, src, sess, chunkSize)
	return nil
}

// Stop signals the active worker and waits up to the join timeout for it to
// acknowledge. A lingering worker is reported but never blocks new work.
func (m *Manager) Stop() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	m.stopCurrent()
}

// stopCurrent does the signal-and-join; callers hold startMu.
func (m *Manager) stopCurrent() {
	m.mu.Lock()
	w := m.current
	m.mu.Unlock()
	if w == nil {
		return
	}
	w.stop.Store(true)
	select {
	case <-w.done:
	case <-time.After(m.joinTimeout):
		m.logger.Warn("stream worker did not stop within bound",
			slog.String("reason_code", string(errorsx.ReasonStopTimeout)),
			slog.Duration("timeout", m.joinTimeout))
	}
}

// State reports the current worker's state, Idle when none has run.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return StateIdle
	}
	return m.current.getState()
}

func (m *Manager) run(w *worker, src *audio.Source, sess dg.LiveSession, chunkSize int) {
	defer close(w.done)
	defer src.Close()

	w.setState(StateStreaming)
	buf := make([]byte, chunkSize)
	for {
		// Cancellation is cooperative: checked before each send, so stop
		// latency is bounded by one chunk duration plus the in-flight call.
		if w.stop.Load() {
			w.setState(StateStopped)
			break
		}
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if serr := sess.Send(buf[:n]); serr != nil {
				m.logger.Error("chunk send failed", slog.String("error", serr.Error()))
				m.publisher.Publish(notify.EventStreamError, notify.StreamError{Error: serr.Error()})
				w.setState(StateFailed)
				break
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				w.setState(StateFinished)
			} else {
				m.logger.Error("chunk read failed", slog.String("error", err.Error()))
				m.publisher.Publish(notify.EventStreamError, notify.StreamError{Error: err.Error()})
				w.setState(StateFailed)
			}
			break
		}
		time.Sleep(m.pace)
	}

	// Flush and close on every terminal path; the provider's Close event
	// drives the fan-out's summary persistence.
	sess.Finish()

	switch w.getState() {
	case StateFinished:
		m.publisher.Publish(notify.EventStreamFinished, notify.StreamFinished{Message: "streaming finished"})
		m.logger.Info("stream finished")
	case StateStopped:
		m.logger.Info("stream stopped before completion")
	}
}
