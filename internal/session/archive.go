package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Archive is a write-only transcript log backed by SQLite. It exists
// for after-the-fact review and summarization; the live session window
// never reads from it, so losing the file never changes conversation
// behavior.
type Archive struct {
	db *sql.DB
}

// Turn is one archived transcript entry.
type Turn struct {
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// OpenArchive opens (and migrates) the transcript database.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation
		ON turns(conversation_id, created_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Append records one transcript turn.
func (a *Archive) Append(ctx context.Context, conversationID, role, content string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, role, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent returns up to limit turns for a conversation, oldest first.
func (a *Archive) Recent(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT conversation_id, role, content, created_at
		 FROM (
			SELECT conversation_id, role, content, created_at, id
			FROM turns WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ConversationID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
