// Package qdrantstore implements the semantic store against a Qdrant
// instance over its HTTP API. One collection holds all exchange records;
// scoping is done with payload filters on user_id, chat_id and project_id.
package qdrantstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dotsetgreg/docmem/pkg/memory"
)

// Config for the Qdrant connection.
type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	VectorSize int
	Timeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:6333",
		Collection: "docmem_exchanges",
		VectorSize: 384,
		Timeout:    10 * time.Second,
	}
}

// Store implements memory.SemanticStore over the Qdrant HTTP API.
type Store struct {
	cfg        Config
	httpClient *http.Client
	log        *logrus.Logger
}

func New(cfg Config, log *logrus.Logger) *Store {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.VectorSize <= 0 {
		cfg.VectorSize = def.VectorSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Store{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant request failed with status %d: %s", e.code, e.body)
}

func (s *Store) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}
	return respBody, nil
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

// EnsureCollection creates the collection if it does not exist yet.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if _, err := s.doRequest(ctx, http.MethodGet, "/collections/"+s.cfg.Collection, nil); err == nil {
		return nil
	}
	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     s.cfg.VectorSize,
			"distance": "Cosine",
		},
	}
	if _, err := s.doRequest(ctx, http.MethodPut, "/collections/"+s.cfg.Collection, reqBody); err != nil {
		return fmt.Errorf("create collection %s: %w", s.cfg.Collection, err)
	}
	s.log.WithField("collection", s.cfg.Collection).Info("qdrant collection created")
	return nil
}

func recordPayload(record memory.SemanticMemoryRecord) map[string]any {
	return map[string]any{
		"user_id":            record.UserID,
		"chat_id":            record.ChatID,
		"project_id":         record.ProjectID,
		"user_message":       record.UserMessage,
		"assistant_response": record.AssistantResponse,
		"created_at_ns":      record.CreatedAt.UnixNano(),
	}
}

func recordFromPayload(id string, payload map[string]any) memory.SemanticMemoryRecord {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	record := memory.SemanticMemoryRecord{
		RecordID:          id,
		UserID:            str("user_id"),
		ChatID:            str("chat_id"),
		ProjectID:         str("project_id"),
		UserMessage:       str("user_message"),
		AssistantResponse: str("assistant_response"),
	}
	if ns, ok := payload["created_at_ns"].(float64); ok {
		record.CreatedAt = time.Unix(0, int64(ns))
	}
	return record
}

func scopeFilter(userID, chatID, projectID string) map[string]any {
	must := []map[string]any{}
	add := func(key, value string) {
		if value != "" {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": value},
			})
		}
	}
	add("user_id", userID)
	add("chat_id", chatID)
	add("project_id", projectID)
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Store) Upsert(ctx context.Context, record memory.SemanticMemoryRecord) error {
	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	reqBody := map[string]any{
		"points": []map[string]any{{
			"id":      record.RecordID,
			"vector":  record.Embedding,
			"payload": recordPayload(record),
		}},
	}
	path := fmt.Sprintf("/collections/%s/points", s.cfg.Collection)
	if _, err := s.doRequest(ctx, http.MethodPut, path, reqBody); err != nil {
		return fmt.Errorf("upsert exchange %s: %w", record.RecordID, err)
	}
	return nil
}

// Search runs a filtered similarity query. A missing collection is an empty
// result, not an error.
func (s *Store) Search(ctx context.Context, query memory.SemanticQuery) ([]memory.ScoredMemory, error) {
	topK := query.TopK
	if topK <= 0 {
		topK = 5
	}
	reqBody := map[string]any{
		"vector":          query.Embedding,
		"limit":           topK,
		"with_payload":    true,
		"score_threshold": query.ScoreThreshold,
	}
	if filter := scopeFilter(query.UserID, query.ChatID, query.ProjectID); filter != nil {
		reqBody["filter"] = filter
	}

	path := fmt.Sprintf("/collections/%s/points/search", s.cfg.Collection)
	respBody, err := s.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("search exchanges: %w", err)
	}

	var response struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	hits := make([]memory.ScoredMemory, 0, len(response.Result))
	for _, point := range response.Result {
		hits = append(hits, memory.ScoredMemory{
			Record: recordFromPayload(point.ID, point.Payload),
			Score:  point.Score,
		})
	}
	return hits, nil
}

// Recent scrolls the scope's points and returns the newest records first.
func (s *Store) Recent(ctx context.Context, userID, chatID string, limit int) ([]memory.SemanticMemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	reqBody := map[string]any{
		// Scroll enough to sort client-side; Qdrant orders scroll by id.
		"limit":        limit * 8,
		"with_payload": true,
	}
	if filter := scopeFilter(userID, chatID, ""); filter != nil {
		reqBody["filter"] = filter
	}

	path := fmt.Sprintf("/collections/%s/points/scroll", s.cfg.Collection)
	respBody, err := s.doRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scroll exchanges: %w", err)
	}

	var response struct {
		Result struct {
			Points []struct {
				ID      string         `json:"id"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parse scroll response: %w", err)
	}

	records := make([]memory.SemanticMemoryRecord, 0, len(response.Result.Points))
	for _, point := range response.Result.Points {
		records = append(records, recordFromPayload(point.ID, point.Payload))
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// DeleteChat removes every point of one chat by payload filter.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	reqBody := map[string]any{
		"filter": scopeFilter("", chatID, ""),
	}
	path := fmt.Sprintf("/collections/%s/points/delete", s.cfg.Collection)
	if _, err := s.doRequest(ctx, http.MethodPost, path, reqBody); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete exchanges for chat %s: %w", chatID, err)
	}
	return nil
}
