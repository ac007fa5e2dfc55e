package chat

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists snapshots to a local SQLite database. Each Save
// rewrites the whole snapshot inside one transaction, so readers only
// ever observe a complete registry.
type SQLiteStore struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		path = filepath.Join(DefaultDataRoot(), "irie.db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	st := &SQLiteStore{path: path, logger: logger}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.path)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				position INTEGER NOT NULL,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				position INTEGER NOT NULL,
				created_at_ns INTEGER NOT NULL,
				PRIMARY KEY (session_id, id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_position ON messages(session_id, position);`,
			`CREATE TABLE IF NOT EXISTS active_session (
				slot INTEGER PRIMARY KEY CHECK (slot = 0),
				session_id TEXT NOT NULL
			);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				_ = db.Close()
				s.err = err
				return
			}
		}
		s.db = db
	})
	return s.err
}

func (s *SQLiteStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, errors.New("sqlite store unavailable")
	}
	return db, nil
}

func (s *SQLiteStore) Load() (Snapshot, error) {
	db, err := s.dbConn()
	if err != nil {
		return Snapshot{}, err
	}

	rows, err := db.Query(`SELECT id, title, created_at_ns, updated_at_ns FROM sessions ORDER BY position`)
	if err != nil {
		s.logger.Warn("loading sessions failed, starting fresh", zap.Error(err))
		return Snapshot{}, nil
	}
	defer rows.Close()

	var snap Snapshot
	byID := make(map[string]*Session)
	for rows.Next() {
		var (
			sess      Session
			createdNs int64
			updatedNs int64
		)
		if err := rows.Scan(&sess.ID, &sess.Title, &createdNs, &updatedNs); err != nil {
			s.logger.Warn("skipping unreadable session row", zap.Error(err))
			continue
		}
		sess.CreatedAt = time.Unix(0, createdNs)
		sess.UpdatedAt = time.Unix(0, updatedNs)
		sess.Messages = []Message{}
		p := &sess
		snap.Sessions = append(snap.Sessions, p)
		byID[sess.ID] = p
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	mrows, err := db.Query(`SELECT id, session_id, role, content, created_at_ns FROM messages ORDER BY session_id, position`)
	if err != nil {
		return Snapshot{}, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var (
			msg       Message
			sessionID string
			createdNs int64
		)
		if err := mrows.Scan(&msg.ID, &sessionID, &msg.Role, &msg.Content, &createdNs); err != nil {
			s.logger.Warn("skipping unreadable message row", zap.Error(err))
			continue
		}
		msg.Timestamp = time.Unix(0, createdNs)
		if sess, ok := byID[sessionID]; ok {
			sess.Messages = append(sess.Messages, msg)
		}
	}
	if err := mrows.Err(); err != nil {
		return Snapshot{}, err
	}

	var activeID string
	err = db.QueryRow(`SELECT session_id FROM active_session WHERE slot = 0`).Scan(&activeID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, err
	}
	snap.ActiveID = activeID

	return normalizeSnapshot(snap), nil
}

func (s *SQLiteStore) Save(snap Snapshot) error {
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM messages`,
		`DELETE FROM sessions`,
		`DELETE FROM active_session`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	for i, sess := range snap.Sessions {
		if sess == nil {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO sessions(id, title, position, created_at_ns, updated_at_ns) VALUES(?, ?, ?, ?, ?)`,
			sess.ID, sess.Title, i, sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano(),
		); err != nil {
			return err
		}
		for j, msg := range sess.Messages {
			if _, err := tx.Exec(
				`INSERT INTO messages(id, session_id, role, content, position, created_at_ns) VALUES(?, ?, ?, ?, ?, ?)`,
				msg.ID, sess.ID, msg.Role, msg.Content, j, msg.Timestamp.UnixNano(),
			); err != nil {
				return err
			}
		}
	}

	if strings.TrimSpace(snap.ActiveID) != "" {
		if _, err := tx.Exec(
			`INSERT INTO active_session(slot, session_id) VALUES(0, ?)`,
			snap.ActiveID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
