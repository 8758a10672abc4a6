package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SessionInfo describes one completed streaming session.
type SessionInfo struct {
	Timestamp      string         `json:"timestamp"`
	Parameters     map[string]any `json:"parameters"`
	RequestID      string         `json:"request_id,omitempty"`
	TotalResponses int            `json:"totalResponses"`
}

// Summary is the durable artifact written once per completed session.
type Summary struct {
	SessionInfo        SessionInfo       `json:"sessionInfo"`
	StreamingResponses []json.RawMessage `json:"streamingResponses"`
}

// Store writes session summaries as one JSON artifact each, named by
// timestamp to avoid collision.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Save persists one summary and returns its filename and full path.
func (s *Store) Save(sum Summary) (string, string, error) {
	if s.dir == "" {
		return "", "", fmt.Errorf("no responses directory configured")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create responses dir: %w", err)
	}

	ts := s.now().UTC()
	if sum.SessionInfo.Timestamp == "" {
		sum.SessionInfo.Timestamp = ts.Format(time.RFC3339)
	}
	if sum.StreamingResponses == nil {
		sum.StreamingResponses = []json.RawMessage{}
	}

	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encode summary: %w", err)
	}

	filename := fmt.Sprintf("responses_%s.json", ts.Format("20060102_150405"))
	path := filepath.Join(s.dir, filename)
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		filename = fmt.Sprintf("responses_%s_%d.json", ts.Format("20060102_150405"), n)
		path = filepath.Join(s.dir, filename)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("write summary: %w", err)
	}
	return filename, path, nil
}
