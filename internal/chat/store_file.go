package chat

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileStore keeps the whole registry in a single JSON document on disk.
// It is the default backend and the durable equivalent of the browser
// localStorage record the transcripts originally lived in.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// DefaultDataRoot prefers the XDG data dir and falls back to
// ~/.local/share, then the temp dir.
func DefaultDataRoot() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "irie")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "irie")
	}
	return filepath.Join(os.TempDir(), "irie")
}

func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join(DefaultDataRoot(), "chats.json")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Load() (Snapshot, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		// Corrupted chat log: start fresh rather than crash startup.
		s.logger.Warn("discarding malformed chat log",
			zap.String("path", s.path),
			zap.Error(err))
		return Snapshot{}, nil
	}
	return normalizeSnapshot(snap), nil
}

func (s *FileStore) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

// normalizeSnapshot drops entries a hand-edited or truncated file could
// contain: nil sessions, blank ids, and a dangling active pointer.
func normalizeSnapshot(snap Snapshot) Snapshot {
	out := Snapshot{}
	for _, sess := range snap.Sessions {
		if sess == nil || strings.TrimSpace(sess.ID) == "" {
			continue
		}
		if sess.Messages == nil {
			sess.Messages = []Message{}
		}
		if strings.TrimSpace(sess.Title) == "" {
			sess.Title = DefaultTitle
		}
		out.Sessions = append(out.Sessions, sess)
	}
	for _, sess := range out.Sessions {
		if sess.ID == snap.ActiveID {
			out.ActiveID = snap.ActiveID
			break
		}
	}
	return out
}
