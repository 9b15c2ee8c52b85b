// ABOUTME: SQLite implementation of TranscriptStore using modernc.org/sqlite
// ABOUTME: Provides conversation log persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements TranscriptStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ TranscriptStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transcript_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_key TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (sender IN ('user', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_transcript_conversation
			ON transcript_messages(conversation_key, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('transcript_messages') WHERE name = 'room'`,
			apply:  `ALTER TABLE transcript_messages ADD COLUMN room TEXT`,
			column: "room",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to transcript_messages: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "transcript_messages")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// AppendMessage saves a message to the database
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	room, _, _ := strings.Cut(msg.ConversationKey, "/")

	query := `
		INSERT INTO transcript_messages (id, conversation_key, sender, text, created_at, room)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationKey,
		string(msg.Sender),
		msg.Text,
		msg.Timestamp.UTC().Format(time.RFC3339Nano),
		nullString(room),
	)
	if err != nil {
		if isConstraintViolation(err) && strings.Contains(err.Error(), "transcript_messages.id") {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_key", msg.ConversationKey, "sender", msg.Sender)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListMessages retrieves messages for a conversation, limited to the most recent `limit` messages.
// Messages are returned in chronological order (oldest first).
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationKey string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Get the N most recent messages, but return them in insertion order
		query = `
			SELECT id, conversation_key, sender, text, created_at
			FROM (
				SELECT seq, id, conversation_key, sender, text, created_at
				FROM transcript_messages
				WHERE conversation_key = ?
				ORDER BY seq DESC
				LIMIT ?
			)
			ORDER BY seq ASC
		`
		args = []any{conversationKey, limit}
	} else {
		query = `
			SELECT id, conversation_key, sender, text, created_at
			FROM transcript_messages
			WHERE conversation_key = ?
			ORDER BY seq ASC
		`
		args = []any{conversationKey}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var sender, createdAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationKey, &sender, &msg.Text, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Sender = Sender(sender)

		msg.Timestamp, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// ListConversations summarizes stored conversations, most recently active first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	query := `
		SELECT conversation_key, COUNT(*), MIN(seq), MAX(seq)
		FROM transcript_messages
		GROUP BY conversation_key
		ORDER BY MAX(seq) DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	type span struct {
		conv          Conversation
		first, latest int64
	}
	var spans []span
	for rows.Next() {
		var sp span
		if err := rows.Scan(&sp.conv.Key, &sp.conv.MessageCount, &sp.first, &sp.latest); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		spans = append(spans, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	rows.Close()

	conversations := make([]Conversation, 0, len(spans))
	for _, sp := range spans {
		if sp.conv.FirstAt, err = s.timestampAt(ctx, sp.first); err != nil {
			return nil, err
		}
		if sp.conv.LastAt, err = s.timestampAt(ctx, sp.latest); err != nil {
			return nil, err
		}
		conversations = append(conversations, sp.conv)
	}
	return conversations, nil
}

func (s *SQLiteStore) timestampAt(ctx context.Context, seq int64) (time.Time, error) {
	var createdAtStr string
	err := s.db.QueryRowContext(ctx, `SELECT created_at FROM transcript_messages WHERE seq = ?`, seq).Scan(&createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("querying message timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing message created_at: %w", err)
	}
	return ts, nil
}
