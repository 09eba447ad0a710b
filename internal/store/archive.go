// Package store persists finished conversations to SQLite. The archive
// is append-only: one row per conversation plus one row per history
// entry, written in a single transaction when the turn loop reaches a
// terminal state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mthorsley/convoy/internal/protocol"
	"github.com/mthorsley/convoy/internal/registry"
)

// ArchivedConversation is one row of the conversations table.
type ArchivedConversation struct {
	ID         string
	ConvID     int
	Goal       string
	Caller     string
	Model      string
	Reason     string
	Turns      int
	StartedAt  time.Time
	FinishedAt time.Time
	Entries    int
}

// ArchivedEntry is one history entry of an archived conversation.
type ArchivedEntry struct {
	Seq     int
	Kind    string
	Turn    int
	Text    string
	Payload string // JSON tool calls or results, "" for plain text
}

// Archive is a SQLite-backed conversation archive. Safe for concurrent
// use; SQLite serializes writes.
type Archive struct {
	db *sql.DB
}

// NewArchive opens (or creates) the archive database at dbPath.
func NewArchive(dbPath string) (*Archive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	return a, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		conv_id     INTEGER NOT NULL,
		goal        TEXT NOT NULL,
		caller      TEXT NOT NULL,
		model       TEXT NOT NULL,
		reason      TEXT NOT NULL,
		turns       INTEGER NOT NULL,
		started_at  TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_finished ON conversations(finished_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_reason ON conversations(reason);

	CREATE TABLE IF NOT EXISTS entries (
		conversation TEXT NOT NULL REFERENCES conversations(id),
		seq          INTEGER NOT NULL,
		kind         TEXT NOT NULL,
		turn         INTEGER NOT NULL,
		text         TEXT NOT NULL,
		payload      TEXT NOT NULL,
		PRIMARY KEY (conversation, seq)
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

// SaveConversation archives a finished conversation with its full
// history. It implements the orchestrator's Archiver interface.
func (a *Archive) SaveConversation(ctx context.Context, conv registry.Conversation, history []protocol.Entry, reason registry.Status) error {
	rowID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate archive row ID: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations
			(id, conv_id, goal, caller, model, reason, turns, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rowID.String(),
		conv.ID,
		conv.Goal,
		conv.Caller,
		conv.Model,
		string(reason),
		conv.CurrentTurn,
		conv.StartedAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert archived conversation: %w", err)
	}

	for seq, e := range history {
		payload, err := entryPayload(e)
		if err != nil {
			return fmt.Errorf("encode entry %d: %w", seq, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO entries (conversation, seq, kind, turn, text, payload)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rowID.String(), seq, string(e.Kind), e.Turn, e.Text, payload,
		)
		if err != nil {
			return fmt.Errorf("insert archived entry %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive transaction: %w", err)
	}
	return nil
}

func entryPayload(e protocol.Entry) (string, error) {
	switch {
	case len(e.ToolCalls) > 0:
		b, err := json.Marshal(e.ToolCalls)
		return string(b), err
	case len(e.Results) > 0:
		b, err := json.Marshal(e.Results)
		return string(b), err
	default:
		return "", nil
	}
}

// Recent returns the most recently finished conversations, newest
// first, up to limit.
func (a *Archive) Recent(ctx context.Context, limit int) ([]ArchivedConversation, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT c.id, c.conv_id, c.goal, c.caller, c.model, c.reason, c.turns,
		        c.started_at, c.finished_at,
		        (SELECT COUNT(*) FROM entries e WHERE e.conversation = c.id)
		 FROM conversations c
		 ORDER BY c.finished_at DESC, c.id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archived conversations: %w", err)
	}
	defer rows.Close()

	var out []ArchivedConversation
	for rows.Next() {
		var c ArchivedConversation
		var started, finished string
		if err := rows.Scan(&c.ID, &c.ConvID, &c.Goal, &c.Caller, &c.Model, &c.Reason,
			&c.Turns, &started, &finished, &c.Entries); err != nil {
			return nil, fmt.Errorf("scan archived conversation: %w", err)
		}
		c.StartedAt, _ = time.Parse(time.RFC3339, started)
		c.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Entries returns the archived history of one conversation in insertion
// order.
func (a *Archive) Entries(ctx context.Context, archiveID string) ([]ArchivedEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT seq, kind, turn, text, payload
		 FROM entries WHERE conversation = ? ORDER BY seq`, archiveID)
	if err != nil {
		return nil, fmt.Errorf("query archived entries: %w", err)
	}
	defer rows.Close()

	var out []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		if err := rows.Scan(&e.Seq, &e.Kind, &e.Turn, &e.Text, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan archived entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
