// Package store persists the conversation transcript.
//
// TranscriptStore has two implementations:
//
//   - SQLiteStore: a SQLite database (modernc.org/sqlite, no cgo) with WAL
//     journaling. The schema is created and migrated on open.
//   - MemoryStore: an in-memory store for tests and for runs without a
//     configured transcript path.
//
// Messages are append-only and returned in insertion order. Each room
// session writes under its own conversation key, built with
// ConversationKey(room, identity).
//
// Database file locations:
//
//   - Default: ~/.local/share/coven/room-transcript.db
//   - Testing: a file under t.TempDir(), or ":memory:"
package store
