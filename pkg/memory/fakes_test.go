package memory

import (
	"context"
	"sync"
	"time"
)

type fakeCache struct {
	mu        sync.Mutex
	turns     map[string][]ConversationTurn
	appendErr error
	listErr   error
}

func newFakeCache() *fakeCache {
	return &fakeCache{turns: map[string][]ConversationTurn{}}
}

func (c *fakeCache) Append(ctx context.Context, turn ConversationTurn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.appendErr != nil {
		return c.appendErr
	}
	c.turns[turn.ChatID] = append(c.turns[turn.ChatID], turn)
	return nil
}

func (c *fakeCache) List(ctx context.Context, chatID string, limit, offset int) ([]ConversationTurn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	all := c.turns[chatID]
	end := len(all) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]ConversationTurn, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (c *fakeCache) Trim(ctx context.Context, chatID string, maxLen int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.turns[chatID]
	if len(all) > maxLen {
		c.turns[chatID] = append([]ConversationTurn{}, all[len(all)-maxLen:]...)
	}
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.turns, chatID)
	return nil
}

type fakeArchive struct {
	mu         sync.Mutex
	turns      map[string][]ConversationTurn
	summaries  map[string]ConversationSummary
	insertErr  error
	listErr    error
	summaryErr error
	upsertErr  error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		turns:     map[string][]ConversationTurn{},
		summaries: map[string]ConversationSummary{},
	}
}

func (a *fakeArchive) InsertTurn(ctx context.Context, turn ConversationTurn) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.insertErr != nil {
		return a.insertErr
	}
	for _, existing := range a.turns[turn.ChatID] {
		if existing.MessageID == turn.MessageID {
			return nil
		}
	}
	a.turns[turn.ChatID] = append(a.turns[turn.ChatID], turn)
	return nil
}

func (a *fakeArchive) ListTurns(ctx context.Context, chatID string, limit, offset int) ([]ConversationTurn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	all := a.turns[chatID]
	end := len(all) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]ConversationTurn, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (a *fakeArchive) CountTurns(ctx context.Context, chatID string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return 0, a.listErr
	}
	return len(a.turns[chatID]), nil
}

func (a *fakeArchive) DeleteChat(ctx context.Context, chatID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.turns, chatID)
	delete(a.summaries, chatID)
	return nil
}

func (a *fakeArchive) UpsertSummary(ctx context.Context, summary ConversationSummary) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.upsertErr != nil {
		return a.upsertErr
	}
	a.summaries[summary.ChatID] = summary
	return nil
}

func (a *fakeArchive) GetSummary(ctx context.Context, chatID string) (ConversationSummary, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.summaryErr != nil {
		return ConversationSummary{}, false, a.summaryErr
	}
	summary, ok := a.summaries[chatID]
	return summary, ok, nil
}

func (a *fakeArchive) turnCount(chatID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns[chatID])
}

type fakeSemantic struct {
	mu        sync.Mutex
	records   []SemanticMemoryRecord
	hits      []ScoredMemory
	recent    []SemanticMemoryRecord
	upsertErr error
	searchErr error
}

func (s *fakeSemantic) Upsert(ctx context.Context, record SemanticMemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *fakeSemantic) Search(ctx context.Context, query SemanticQuery) ([]ScoredMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.hits, nil
}

func (s *fakeSemantic) Recent(ctx context.Context, userID, chatID string, limit int) ([]SemanticMemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent, nil
}

func (s *fakeSemantic) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, record := range s.records {
		if record.ChatID != chatID {
			kept = append(kept, record)
		}
	}
	s.records = kept
	return nil
}

type fakeGraph struct {
	excerpt string
	err     error
}

func (g *fakeGraph) GetContext(ctx context.Context, projectID, query string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.excerpt, nil
}

func makeTurns(chatID string, contents ...string) []ConversationTurn {
	base := time.Now().Add(-time.Hour)
	turns := make([]ConversationTurn, 0, len(contents))
	for i, content := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		turns = append(turns, ConversationTurn{
			MessageID: chatID + "-" + content,
			ChatID:    chatID,
			Role:      role,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return turns
}
