// Package sqlite archives finished conversation transcripts to a local
// SQLite file using the pure-Go driver. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Options configures an Archive.
type Options struct {
	Logger logging.Logger
}

// Archive persists transcripts. It opens a single shared connection pool
// with SetMaxOpenConns(1) so concurrent writers serialize through one
// connection instead of hitting SQLITE_BUSY.
type Archive struct {
	db     *sql.DB
	logger logging.Logger
}

// Open creates an Archive over the SQLite file at path, creating the schema
// when missing.
func Open(path string, optFns ...func(o *Options)) (*Archive, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite archive: %w", err)
	}
	db.SetMaxOpenConns(1)

	a := &Archive{db: db, logger: opts.Logger}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	a.logger.Debug("archive.opened", "path", path)
	return a, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			final_result TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			PRIMARY KEY (conversation_id, seq),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);`)
	if err != nil {
		return fmt.Errorf("migrate archive schema: %w", err)
	}
	return nil
}

// Save stores one finished conversation with its full message history.
// Saving the same id again replaces the previous transcript.
func (a *Archive) Save(ctx context.Context, id, label, finalResult string, messages []core.Message) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversations (id, label, final_result, created_at) VALUES (?, ?, ?, ?)`,
		id, label, finalResult, time.Now().Unix()); err != nil {
		return err
	}

	for seq, m := range messages {
		var toolCalls any
		if len(m.ToolCalls) > 0 {
			raw, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("marshal tool calls at seq %d: %w", seq, err)
			}
			toolCalls = string(raw)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, role, content, tool_calls, tool_call_id) VALUES (?, ?, ?, ?, ?, ?)`,
			id, seq, string(m.Role), m.Content, toolCalls, nullable(m.ToolCallID)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	a.logger.Debug("archive.saved", "conversation_id", id, "messages", len(messages))
	return nil
}

// Load returns the archived message history for a conversation id, or an
// error when no transcript exists.
func (a *Archive) Load(ctx context.Context, id string) ([]core.Message, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []core.Message
	for rows.Next() {
		var role, content string
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&role, &content, &toolCalls, &toolCallID); err != nil {
			return nil, err
		}
		m := core.Message{
			Role:       core.Role(role),
			Content:    content,
			ToolCallID: toolCallID.String,
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if messages == nil {
		return nil, fmt.Errorf("no transcript for conversation %q", id)
	}
	return messages, nil
}

// Summary is one row of List output.
type Summary struct {
	ID          string
	Label       string
	FinalResult string
	CreatedAt   time.Time
	Messages    int
}

// List returns archived conversations, newest first.
func (a *Archive) List(ctx context.Context) ([]Summary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, c.label, c.final_result, c.created_at, COUNT(m.seq)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var createdAt int64
		if err := rows.Scan(&s.ID, &s.Label, &s.FinalResult, &createdAt, &s.Messages); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
