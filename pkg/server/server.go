// Package server exposes the relay over a websocket command channel and an
// HTTP upload endpoint. Notices are broadcast to every connected client.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Jacob-Lasky/deepgram-stt-relay/pkg/logging"
)

// Commands is the inbound surface the transport drives. Satisfied by the
// relay engine; faked in tests.
type Commands interface {
	StartMicrophoneSession(config map[string]any) error
	StopMicrophoneSession()
	RestartMicrophoneSession() error
	SendMicrophoneChunk(data []byte) error
	StartFileStream(filePath string, config map[string]any) error
	StopFileStream()
	Upload(ctx context.Context, filePath string, config map[string]any) (json.RawMessage, error)
}

type Config struct {
	Addr           string   `mapstructure:"addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	UploadPath     string   `mapstructure:"upload_path"`
	UploadDir      string   `mapstructure:"upload_dir"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.UploadPath == "" {
		c.UploadPath = "/upload"
	}
	if c.UploadDir == "" {
		c.UploadDir = "uploads"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Server implements notify.Publisher: every notice fans out to each
// connected websocket client as a JSON envelope.
type Server struct {
	logger   *slog.Logger
	cfg      Config
	commands Commands
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*clientSession

	draining atomic.Bool
}

func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		logger: logging.NewComponentLogger(slog.Default(), "server"),
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sessions: make(map[string]*clientSession),
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

// Attach wires the command surface. Must be called before Start; the engine
// needs the server as publisher first, so construction is two-phase.
func (s *Server) Attach(commands Commands) {
	s.commands = commands
}

// Publish broadcasts one notice to all connected clients. Safe to call from
// any goroutine; a slow client drops messages rather than stalling the rest.
func (s *Server) Publish(event string, payload any) {
	envelope := map[string]any{"event": event, "data": payload}
	b, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("notice marshal failed", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.enqueue(b)
	}
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc(s.cfg.UploadPath, s.handleUpload)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.draining.Store(true)
	if s.server != nil {
		_ = s.server.Close()
	}
	s.mu.Lock()
	for _, sess := range s.sessions {
		_ = sess.close()
	}
	s.sessions = make(map[string]*clientSession)
	s.mu.Unlock()
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.attach(connID, conn)
	defer s.detach(connID)
	s.logger.Info("client connected", slog.String("conn_id", connID))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.dispatch(connID, msg)
	}
	s.logger.Info("client disconnected", slog.String("conn_id", connID))
}

type inboundCommand struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) dispatch(connID string, msg []byte) {
	var cmd inboundCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		s.logger.Warn("malformed command", slog.String("conn_id", connID))
		return
	}
	switch cmd.Event {
	case "toggle_transcription":
		var data struct {
			Action string         `json:"action"`
			Config map[string]any `json:"config"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			s.logger.Warn("malformed toggle payload", slog.String("conn_id", connID))
			return
		}
		switch data.Action {
		case "start":
			if err := s.commands.StartMicrophoneSession(data.Config); err != nil {
				s.logger.Error("microphone start failed", slog.String("error", err.Error()))
			}
		case "stop":
			s.commands.StopMicrophoneSession()
		case "restart":
			if err := s.commands.RestartMicrophoneSession(); err != nil {
				s.logger.Error("microphone restart failed", slog.String("error", err.Error()))
			}
		default:
			s.logger.Warn("unknown toggle action", slog.String("action", data.Action))
		}
	case "audio_stream":
		var data struct {
			Payload string `json:"payload"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return
		}
		payload, err := base64.StdEncoding.DecodeString(data.Payload)
		if err != nil {
			s.logger.Warn("undecodable audio payload", slog.String("conn_id", connID))
			return
		}
		// Chunks can race a stop request from another client; a failed
		// send is expected then, not an error condition.
		if err := s.commands.SendMicrophoneChunk(payload); err != nil {
			s.logger.Debug("chunk dropped", slog.String("error", err.Error()))
		}
	case "start_file_stream":
		var data struct {
			FilePath string         `json:"file_path"`
			Config   map[string]any `json:"config"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			s.logger.Warn("malformed file stream payload", slog.String("conn_id", connID))
			return
		}
		if err := s.commands.StartFileStream(data.FilePath, data.Config); err != nil {
			s.logger.Error("file stream start failed", slog.String("error", err.Error()))
		}
	case "stop_file_stream":
		s.commands.StopFileStream()
	default:
		s.logger.Warn("unknown command", slog.String("event", cmd.Event))
	}
}

// handleUpload accepts a multipart audio file, runs a prerecorded
// transcription and returns the provider's JSON result. The spooled file is
// removed afterwards.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	var config map[string]any
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &config); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid config field")
			return
		}
	}

	path, err := s.spool(file, header.Filename)
	if err != nil {
		s.logger.Error("upload spool failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "could not store upload")
		return
	}
	defer os.Remove(path)

	result, err := s.commands.Upload(r.Context(), path, config)
	if err != nil {
		s.logger.Error("upload transcription failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(result)
}

func (s *Server) spool(src io.Reader, original string) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(original)
	path := filepath.Join(s.cfg.UploadDir, uuid.NewString()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) attach(connID string, conn *websocket.Conn) *clientSession {
	sess := &clientSession{
		conn:   conn,
		sendCh: make(chan []byte, 256),
	}
	s.mu.Lock()
	s.sessions[connID] = sess
	s.mu.Unlock()
	go sess.loop()
	return sess
}

func (s *Server) detach(connID string) {
	s.mu.Lock()
	sess := s.sessions[connID]
	delete(s.sessions, connID)
	s.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func writeJSONError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": detail})
}

type clientSession struct {
	conn   *websocket.Conn
	sendCh chan []byte
	closed atomic.Bool
}

func (c *clientSession) enqueue(msg []byte) {
	select {
	case c.sendCh <- msg:
	default:
	}
}

func (c *clientSession) loop() {
	for msg := range c.sendCh {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (c *clientSession) close() error {
	if c.closed.CompareAndSwap(false, true) {
		close(c.sendCh)
	}
	return c.conn.Close()
}
