// Package vectorlite is an embedded semantic store: exchange records and
// their embeddings live in sqlite, similarity is cosine computed in process.
// It is the default backend for tests and single-node deployments; the
// qdrantstore package serves the same interface against a real vector
// database.
package vectorlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dotsetgreg/docmem/pkg/memory"
)

// candidateLimit bounds how many records one search scores in process.
const candidateLimit = 512

// Store implements memory.SemanticStore on sqlite.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create vector store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			record_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			chat_id TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL,
			assistant_response TEXT NOT NULL,
			embedding_json TEXT NOT NULL,
			created_at_ns INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS exchanges_user_idx ON exchanges(user_id, created_at_ns DESC);`,
		`CREATE INDEX IF NOT EXISTS exchanges_chat_idx ON exchanges(chat_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init vector store schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, record memory.SemanticMemoryRecord) error {
	embedding, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding for %s: %w", record.RecordID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exchanges (record_id, user_id, chat_id, project_id, user_message, assistant_response, embedding_json, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			user_message = excluded.user_message,
			assistant_response = excluded.assistant_response,
			embedding_json = excluded.embedding_json`,
		record.RecordID, record.UserID, record.ChatID, record.ProjectID,
		record.UserMessage, record.AssistantResponse, string(embedding), record.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert exchange %s: %w", record.RecordID, err)
	}
	return nil
}

// Search scores the user's newest candidates by cosine similarity and
// returns the top-K above the threshold, highest first. An empty store is an
// empty result, not an error.
func (s *Store) Search(ctx context.Context, query memory.SemanticQuery) ([]memory.ScoredMemory, error) {
	records, err := s.fetch(ctx, query.UserID, query.ChatID, query.ProjectID, candidateLimit)
	if err != nil {
		return nil, err
	}

	scored := make([]memory.ScoredMemory, 0, len(records))
	for _, record := range records {
		score := memory.CosineSimilarity(query.Embedding, record.Embedding)
		if score < query.ScoreThreshold {
			continue
		}
		scored = append(scored, memory.ScoredMemory{Record: record, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	topK := query.TopK
	if topK <= 0 {
		topK = 5
	}
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *Store) Recent(ctx context.Context, userID, chatID string, limit int) ([]memory.SemanticMemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.fetch(ctx, userID, chatID, "", limit)
}

func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM exchanges WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete exchanges for chat %s: %w", chatID, err)
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, userID, chatID, projectID string, limit int) ([]memory.SemanticMemoryRecord, error) {
	q := `SELECT record_id, user_id, chat_id, project_id, user_message, assistant_response, embedding_json, created_at_ns
		FROM exchanges WHERE user_id = ?`
	args := []any{userID}
	if chatID != "" {
		q += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	if projectID != "" {
		q += ` AND project_id = ?`
		args = append(args, projectID)
	}
	q += ` ORDER BY created_at_ns DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query exchanges for user %s: %w", userID, err)
	}
	defer rows.Close()

	records := []memory.SemanticMemoryRecord{}
	for rows.Next() {
		var (
			record    memory.SemanticMemoryRecord
			embedding string
			createdNS int64
		)
		if err := rows.Scan(&record.RecordID, &record.UserID, &record.ChatID, &record.ProjectID,
			&record.UserMessage, &record.AssistantResponse, &embedding, &createdNS); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &record.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", record.RecordID, err)
		}
		record.CreatedAt = time.Unix(0, createdNS)
		records = append(records, record)
	}
	return records, rows.Err()
}
