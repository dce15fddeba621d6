package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	_ "modernc.org/sqlite"
)

// Message is one speech message taken off the queue.
type Message struct {
	ID         int64
	SessionID  string
	Speaker    string
	Text       string
	TraceID    string
	ReceivedAt time.Time
}

// Store keeps a SQLite log of consumed speech messages, grouped by session.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral retention keeps
// nothing and opens no database.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("speech log vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("speech log prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    speaker TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    speaker TEXT,
    text TEXT,
    trace_id TEXT,
    received_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_session_received ON messages(session_id, received_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) persistent() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendSession ensures a session row exists.
func (s *Store) AppendSession(ctx context.Context, sessionID, speaker string) error {
	if !s.persistent() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, speaker, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET speaker=excluded.speaker`,
		sessionID, speaker, s.clock().UTC())
	return err
}

// AppendMessage records a raw queue message ("<speaker>: <text>") sent by
// speaker. The known label is stripped as a prefix, so labels containing ": "
// survive; messages from other speakers fall back to ParseMessage.
func (s *Store) AppendMessage(ctx context.Context, sessionID, speaker, raw, traceID string) error {
	var msg Message
	if text, ok := strings.CutPrefix(raw, speaker+": "); ok && speaker != "" {
		msg = Message{Speaker: speaker, Text: text}
	} else {
		msg = ParseMessage(raw)
	}
	msg.SessionID = sessionID
	msg.TraceID = traceID
	return s.Append(ctx, msg)
}

// Append writes a message into the store.
func (s *Store) Append(ctx context.Context, msg Message) error {
	if !s.persistent() {
		return nil
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(session_id, speaker, text, trace_id, received_at)
		 VALUES(?, ?, ?, ?, ?)`,
		msg.SessionID, msg.Speaker, msg.Text, msg.TraceID, msg.ReceivedAt)
	return err
}

// ListSessionMessages retrieves up to limit messages for a session, oldest first.
func (s *Store) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if !s.persistent() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, speaker, text, trace_id, received_at
		 FROM messages WHERE session_id = ? ORDER BY received_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var received any
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Speaker, &m.Text, &m.TraceID, &received); err != nil {
			return nil, err
		}
		m.ReceivedAt = parseTimestamp(received)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListSessions returns session ids, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	if !s.persistent() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.persistent() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC()
		if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE received_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case time.Time:
		return ts
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST"} {
			if parsed, err := time.Parse(layout, ts); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// ParseMessage splits "<speaker>: <text>" at the first separator. Messages
// without one are kept whole as text.
func ParseMessage(raw string) Message {
	speaker, text, ok := strings.Cut(raw, ": ")
	if !ok {
		return Message{Text: raw}
	}
	return Message{Speaker: speaker, Text: text}
}
