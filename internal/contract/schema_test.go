// ABOUTME: Contract tests for the transcript database schema to detect breaking changes
// ABOUTME: Transcripts outlive client versions, so columns may be added but never removed

package contract

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-room/internal/store"
)

// expectedSchema defines the contract for the transcript schema. If a table
// or column is removed or renamed, these tests fail before an older
// transcript file becomes unreadable.
var expectedSchema = map[string][]string{
	"transcript_messages": {
		"seq", "id", "conversation_key",
		"sender", "text", "created_at", "room",
	},
}

// setupTestDB creates a temporary SQLite database with the production schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "contract_test.db")

	// Use the store package to create the database with proper schema
	transcript, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err, "failed to create SQLite store")

	// The store owns its connection, so inspect through a second one
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err, "failed to open database")

	t.Cleanup(func() {
		db.Close()
		transcript.Close()
	})

	return db
}

// getTableColumns queries SQLite to get column names for a table.
func getTableColumns(ctx context.Context, db *sql.DB, tableName string) (map[string]bool, error) {
	query := fmt.Sprintf("PRAGMA table_info(%s)", tableName)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info: %w", err)
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}

	return columns, nil
}

func TestSchemaSurface(t *testing.T) {
	db := setupTestDB(t)

	for table, expectedCols := range expectedSchema {
		t.Run(table, func(t *testing.T) {
			actualCols, err := getTableColumns(t.Context(), db, table)
			if !assert.NoError(t, err, "failed to get columns for table %s", table) {
				return
			}
			if !assert.NotEmpty(t, actualCols, "table %s should exist and have columns", table) {
				return
			}

			for _, col := range expectedCols {
				assert.True(t, actualCols[col], "column %s.%s should exist", table, col)
			}

			for col := range actualCols {
				if !slices.Contains(expectedCols, col) {
					t.Logf("INFO: extra column %s.%s not in contract (consider adding)", table, col)
				}
			}
		})
	}
}

func TestSchemaHasIndexes(t *testing.T) {
	db := setupTestDB(t)

	var name string
	err := db.QueryRowContext(t.Context(),
		"SELECT name FROM sqlite_master WHERE type='index' AND name = ?",
		"idx_transcript_conversation").Scan(&name)
	require.NoError(t, err, "index idx_transcript_conversation should exist")
}

// TestSchemaReopen checks that opening an existing transcript again is a
// no-op for the schema and keeps stored messages.
func TestSchemaReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	first, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	msg := &store.Message{ID: "m1", ConversationKey: "room/user-1", Sender: store.SenderUser, Text: "hello"}
	require.NoError(t, first.AppendMessage(t.Context(), msg))
	require.NoError(t, first.Close())

	second, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	msgs, err := second.ListMessages(t.Context(), "room/user-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)
}
