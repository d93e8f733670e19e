// Package sqlitearchive is the durable long-term store of turns and
// summaries, kept in a single sqlite database.
package sqlitearchive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/docmem/pkg/memory"
)

// Archive implements memory.Archive on sqlite.
type Archive struct {
	db *sql.DB
}

// New creates/opens the archive database at path.
func New(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive db: %w", err)
	}
	// Single shared connection avoids sqlite writer lock contention under
	// concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	a := &Archive{db: db}
	if err := a.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS turns (
			message_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS turns_chat_idx ON turns(chat_id, created_at_ns);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			chat_id TEXT PRIMARY KEY,
			summary_text TEXT NOT NULL DEFAULT '',
			summarized_turn_count INTEGER NOT NULL DEFAULT 0,
			updated_at_ns INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("init archive schema: %w", err)
		}
	}
	return nil
}

// InsertTurn is idempotent: replaying an already archived message_id is a
// no-op, which lets the reconciler resubmit whole chats safely.
func (a *Archive) InsertTurn(ctx context.Context, turn memory.ConversationTurn) error {
	metadata, err := json.Marshal(turn.Metadata)
	if err != nil {
		return fmt.Errorf("marshal turn metadata: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO turns (message_id, chat_id, user_id, role, content, project_id, metadata_json, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		turn.MessageID, turn.ChatID, turn.UserID, turn.Role, turn.Content,
		turn.ProjectID, string(metadata), turn.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert turn %s: %w", turn.MessageID, err)
	}
	return nil
}

// ListTurns returns up to limit turns in chronological order, offset counted
// backwards from the newest entry.
func (a *Archive) ListTurns(ctx context.Context, chatID string, limit, offset int) ([]memory.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT message_id, chat_id, user_id, role, content, project_id, metadata_json, created_at_ns
		FROM turns WHERE chat_id = ?
		ORDER BY created_at_ns DESC, message_id DESC
		LIMIT ? OFFSET ?`, chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list turns for chat %s: %w", chatID, err)
	}
	defer rows.Close()

	turns := []memory.ConversationTurn{}
	for rows.Next() {
		var (
			turn      memory.ConversationTurn
			metadata  string
			createdNS int64
		)
		if err := rows.Scan(&turn.MessageID, &turn.ChatID, &turn.UserID, &turn.Role,
			&turn.Content, &turn.ProjectID, &metadata, &createdNS); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.CreatedAt = time.Unix(0, createdNS)
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &turn.Metadata); err != nil {
				return nil, fmt.Errorf("decode turn metadata: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query walked newest-first; restore chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (a *Archive) CountTurns(ctx context.Context, chatID string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count turns for chat %s: %w", chatID, err)
	}
	return n, nil
}

func (a *Archive) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete for chat %s: %w", chatID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete turns for chat %s: %w", chatID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete summary for chat %s: %w", chatID, err)
	}
	return tx.Commit()
}

func (a *Archive) UpsertSummary(ctx context.Context, summary memory.ConversationSummary) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO summaries (chat_id, summary_text, summarized_turn_count, updated_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			summary_text = excluded.summary_text,
			summarized_turn_count = excluded.summarized_turn_count,
			updated_at_ns = excluded.updated_at_ns`,
		summary.ChatID, summary.SummaryText, summary.SummarizedTurnCount, summary.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert summary for chat %s: %w", summary.ChatID, err)
	}
	return nil
}

func (a *Archive) GetSummary(ctx context.Context, chatID string) (memory.ConversationSummary, bool, error) {
	var (
		summary   memory.ConversationSummary
		updatedNS int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT chat_id, summary_text, summarized_turn_count, updated_at_ns
		FROM summaries WHERE chat_id = ?`, chatID).
		Scan(&summary.ChatID, &summary.SummaryText, &summary.SummarizedTurnCount, &updatedNS)
	if err == sql.ErrNoRows {
		return memory.ConversationSummary{}, false, nil
	}
	if err != nil {
		return memory.ConversationSummary{}, false, fmt.Errorf("get summary for chat %s: %w", chatID, err)
	}
	summary.UpdatedAt = time.Unix(0, updatedNS)
	return summary, true, nil
}
