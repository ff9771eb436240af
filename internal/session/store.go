// Package session provides the durable store for conversation sessions,
// their messages, and cross-session episodic memory, backed by SQLite.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one conversation with its bookkeeping counters.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Model        string    `json:"model,omitempty"`
	Title        string    `json:"title,omitempty"`
	MessageCount int       `json:"message_count"`
}

// Message is one append-only conversation turn.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  string    `json:"metadata,omitempty"`
}

// Memory is one episodic-memory event. It survives deletion of the session
// it references.
type Memory struct {
	ID        int64     `json:"id"`
	EventType string    `json:"event_type"`
	Summary   string    `json:"summary"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  string    `json:"metadata,omitempty"`
}

// Store wraps a single SQLite connection. Every operation takes the store
// mutex, which is sufficient for a single desktop user; the schema itself
// would also tolerate a pool with WAL enabled.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_sync=NORMAL&_foreign_keys=1&_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// One connection; all operations serialize on it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping session db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		model TEXT,
		title TEXT,
		message_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		metadata TEXT
	);
	CREATE TABLE IF NOT EXISTS episodic_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		summary TEXT NOT NULL,
		session_id TEXT,
		created_at TIMESTAMP NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	CREATE INDEX IF NOT EXISTS idx_episodic_type ON episodic_memory(event_type);
	CREATE INDEX IF NOT EXISTS idx_episodic_created ON episodic_memory(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateSession inserts a fresh session row.
func (s *Store) CreateSession(model, title string) (Session, error) {
	now := time.Now().UTC()
	sess := Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Model:     model,
		Title:     title,
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, created_at, updated_at, model, title, message_count)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		sess.ID, sess.CreatedAt, sess.UpdatedAt, nullableString(model), nullableString(title),
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetSession returns one session or ErrNotFound.
func (s *Store) GetSession(id string) (Session, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, updated_at, model, title, message_count
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns up to limit sessions, most recently updated first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, updated_at, model, title, message_count
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionModel records the model a session last ran against.
func (s *Store) UpdateSessionModel(id, model string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET model = ?, updated_at = ? WHERE id = ?`,
		nullableString(model), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session model: %w", err)
	}
	return requireRow(res)
}

// UpdateSessionTitle sets a session's title.
func (s *Store) UpdateSessionTitle(id, title string) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		nullableString(title), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update session title: %w", err)
	}
	return requireRow(res)
}

// AddMessage appends a message and bumps the owning session's message_count
// and updated_at in the same transaction, so a read immediately after sees
// the incremented count.
func (s *Store) AddMessage(sessionID, role, content, metadata string) (Message, error) {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("begin add message: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		now, sessionID)
	if err != nil {
		return Message{}, fmt.Errorf("bump message count: %w", err)
	}
	if err := requireRow(res); err != nil {
		return Message{}, err
	}

	res, err = tx.Exec(
		`INSERT INTO messages (session_id, role, content, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, role, content, now, nullableString(metadata))
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit add message: %w", err)
	}

	return Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		Metadata:  metadata,
	}, nil
}

// GetMessages returns every message of a session in ascending created_at.
func (s *Store) GetMessages(sessionID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at, metadata
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GetRecentMessages returns the last n messages in ascending order.
func (s *Store) GetRecentMessages(sessionID string, n int) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, created_at, metadata
		 FROM messages WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteSession removes a session and its messages. Episodic memory rows
// referencing the session are left in place.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ClearAllSessions empties the sessions and messages tables and reports how
// many sessions were removed.
func (s *Store) ClearAllSessions() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin clear sessions: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// RecordMemory appends an episodic-memory event.
func (s *Store) RecordMemory(eventType, summary, sessionID, metadata string) (Memory, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO episodic_memory (event_type, summary, session_id, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		eventType, summary, nullableString(sessionID), now, nullableString(metadata))
	if err != nil {
		return Memory{}, fmt.Errorf("record memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Memory{}, err
	}
	return Memory{
		ID:        id,
		EventType: eventType,
		Summary:   summary,
		SessionID: sessionID,
		CreatedAt: now,
		Metadata:  metadata,
	}, nil
}

// GetMemories returns up to limit events, newest first, optionally filtered
// by event type.
func (s *Store) GetMemories(limit int, eventType string) ([]Memory, error) {
	query := `SELECT id, event_type, summary, session_id, created_at, metadata
		 FROM episodic_memory`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var m Memory
		var sessionID, metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.EventType, &m.Summary, &sessionID, &m.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.SessionID = sessionID.String
		m.Metadata = metadata.String
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// ClearMemories empties the episodic-memory table and reports the number of
// rows removed.
func (s *Store) ClearMemories() (int, error) {
	res, err := s.db.Exec(`DELETE FROM episodic_memory`)
	if err != nil {
		return 0, fmt.Errorf("clear memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Context is the snapshot handed to prompt assembly: the session, its recent
// messages, and recent global memories. The three reads are separate
// queries, not one atomic snapshot.
type Context struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
	Memories []Memory  `json:"memories"`
}

// GetSessionContext returns the session row plus its recent messages and
// the most recent episodic memories.
func (s *Store) GetSessionContext(id string, maxMessages, maxMemories int) (Context, error) {
	sess, err := s.GetSession(id)
	if err != nil {
		return Context{}, err
	}
	msgs, err := s.GetRecentMessages(id, maxMessages)
	if err != nil {
		return Context{}, err
	}
	memories, err := s.GetMemories(maxMemories, "")
	if err != nil {
		return Context{}, err
	}
	return Context{Session: sess, Messages: msgs, Memories: memories}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var model, title sql.NullString
	err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &model, &title, &sess.MessageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.Model = model.String
	sess.Title = title.String
	return sess, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var metadata sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt, &metadata); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Metadata = metadata.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
