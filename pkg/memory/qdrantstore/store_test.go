package qdrantstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dotsetgreg/docmem/pkg/memory"
)

type recordedRequest struct {
	method string
	path   string
	body   map[string]any
	apiKey string
}

// fakeQdrant captures requests and serves canned JSON per path.
type fakeQdrant struct {
	t         *testing.T
	requests  []recordedRequest
	responses map[string]string
	statuses  map[string]int
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *Store) {
	t.Helper()
	fq := &fakeQdrant{t: t, responses: map[string]string{}, statuses: map[string]int{}}
	srv := httptest.NewServer(fq)
	t.Cleanup(srv.Close)
	store := New(Config{BaseURL: srv.URL, APIKey: "secret", Collection: "test_exchanges"}, nil)
	return fq, store
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			f.t.Errorf("request body is not JSON: %v", err)
		}
	}
	f.requests = append(f.requests, recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		body:   body,
		apiKey: r.Header.Get("api-key"),
	})

	key := r.Method + " " + r.URL.Path
	if status, ok := f.statuses[key]; ok {
		w.WriteHeader(status)
		fmt.Fprint(w, `{"status":{"error":"not found"}}`)
		return
	}
	if resp, ok := f.responses[key]; ok {
		fmt.Fprint(w, resp)
		return
	}
	fmt.Fprint(w, `{"result":{},"status":"ok"}`)
}

func (f *fakeQdrant) last() recordedRequest {
	if len(f.requests) == 0 {
		f.t.Fatal("no requests recorded")
	}
	return f.requests[len(f.requests)-1]
}

func TestEnsureCollectionCreatesOnMissing(t *testing.T) {
	fq, store := newFakeQdrant(t)
	fq.statuses["GET /collections/test_exchanges"] = http.StatusNotFound

	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	create := fq.last()
	if create.method != http.MethodPut || create.path != "/collections/test_exchanges" {
		t.Fatalf("expected collection PUT, got %s %s", create.method, create.path)
	}
	vectors, _ := create.body["vectors"].(map[string]any)
	if vectors["distance"] != "Cosine" {
		t.Fatalf("distance = %v, want Cosine", vectors["distance"])
	}
	if vectors["size"] != float64(384) {
		t.Fatalf("size = %v, want 384", vectors["size"])
	}
}

func TestEnsureCollectionSkipsWhenPresent(t *testing.T) {
	fq, store := newFakeQdrant(t)
	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(fq.requests) != 1 || fq.requests[0].method != http.MethodGet {
		t.Fatalf("existing collection must not be recreated: %+v", fq.requests)
	}
}

func TestUpsertSendsPayload(t *testing.T) {
	fq, store := newFakeQdrant(t)

	err := store.Upsert(context.Background(), memory.SemanticMemoryRecord{
		RecordID:          "rec-1",
		UserID:            "alice",
		ChatID:            "chat-1",
		ProjectID:         "proj-1",
		Embedding:         []float32{0.1, 0.2},
		UserMessage:       "q",
		AssistantResponse: "a",
		CreatedAt:         time.Unix(0, 42),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	req := fq.last()
	if req.method != http.MethodPut || req.path != "/collections/test_exchanges/points" {
		t.Fatalf("wrong endpoint: %s %s", req.method, req.path)
	}
	if req.apiKey != "secret" {
		t.Fatalf("api key header = %q", req.apiKey)
	}
	points, _ := req.body["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("points = %v", req.body["points"])
	}
	point, _ := points[0].(map[string]any)
	if point["id"] != "rec-1" {
		t.Fatalf("point id = %v", point["id"])
	}
	payload, _ := point["payload"].(map[string]any)
	if payload["user_id"] != "alice" || payload["chat_id"] != "chat-1" || payload["project_id"] != "proj-1" {
		t.Fatalf("payload scope wrong: %v", payload)
	}
	if payload["created_at_ns"] != float64(42) {
		t.Fatalf("created_at_ns = %v", payload["created_at_ns"])
	}
}

func TestSearchBuildsFilterAndParsesHits(t *testing.T) {
	fq, store := newFakeQdrant(t)
	fq.responses["POST /collections/test_exchanges/points/search"] = `{
		"result": [
			{"id": "rec-1", "score": 0.92, "payload": {
				"user_id": "alice", "chat_id": "chat-1",
				"user_message": "old q", "assistant_response": "old a",
				"created_at_ns": 42
			}}
		]
	}`

	hits, err := store.Search(context.Background(), memory.SemanticQuery{
		Embedding:      []float32{0.5},
		UserID:         "alice",
		ProjectID:      "proj-1",
		TopK:           5,
		ScoreThreshold: 0.6,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.RecordID != "rec-1" || hits[0].Score != 0.92 {
		t.Fatalf("hits wrong: %+v", hits)
	}
	if hits[0].Record.UserMessage != "old q" || hits[0].Record.CreatedAt.UnixNano() != 42 {
		t.Fatalf("payload mapping wrong: %+v", hits[0].Record)
	}

	req := fq.last()
	if req.body["score_threshold"] != 0.6 {
		t.Fatalf("score_threshold = %v", req.body["score_threshold"])
	}
	filter, _ := req.body["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	keys := map[string]bool{}
	for _, cond := range must {
		c, _ := cond.(map[string]any)
		key, _ := c["key"].(string)
		keys[key] = true
	}
	if !keys["user_id"] || !keys["project_id"] || keys["chat_id"] {
		t.Fatalf("filter conditions wrong: %v", keys)
	}
}

func TestSearchMissingCollectionIsEmpty(t *testing.T) {
	fq, store := newFakeQdrant(t)
	fq.statuses["POST /collections/test_exchanges/points/search"] = http.StatusNotFound

	hits, err := store.Search(context.Background(), memory.SemanticQuery{Embedding: []float32{1}, UserID: "alice"})
	if err != nil {
		t.Fatalf("missing collection must not error: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestRecentSortsNewestFirst(t *testing.T) {
	fq, store := newFakeQdrant(t)
	fq.responses["POST /collections/test_exchanges/points/scroll"] = `{
		"result": {"points": [
			{"id": "old", "payload": {"created_at_ns": 10}},
			{"id": "new", "payload": {"created_at_ns": 30}},
			{"id": "mid", "payload": {"created_at_ns": 20}}
		]}
	}`

	records, err := store.Recent(context.Background(), "alice", "", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 2 || records[0].RecordID != "new" || records[1].RecordID != "mid" {
		t.Fatalf("recent ordering wrong: %+v", records)
	}
}

func TestDeleteChatSendsFilter(t *testing.T) {
	fq, store := newFakeQdrant(t)

	if err := store.DeleteChat(context.Background(), "chat-1"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	req := fq.last()
	if req.method != http.MethodPost || req.path != "/collections/test_exchanges/points/delete" {
		t.Fatalf("wrong endpoint: %s %s", req.method, req.path)
	}
	filter, _ := req.body["filter"].(map[string]any)
	must, _ := filter["must"].([]any)
	if len(must) != 1 {
		t.Fatalf("filter = %v", filter)
	}
	cond, _ := must[0].(map[string]any)
	if cond["key"] != "chat_id" {
		t.Fatalf("filter key = %v", cond["key"])
	}
}

func TestDeleteChatMissingCollectionIsNoop(t *testing.T) {
	fq, store := newFakeQdrant(t)
	fq.statuses["POST /collections/test_exchanges/points/delete"] = http.StatusNotFound
	if err := store.DeleteChat(context.Background(), "chat-1"); err != nil {
		t.Fatalf("missing collection must not error: %v", err)
	}
}
