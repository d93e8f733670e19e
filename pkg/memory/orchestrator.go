package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OrchestratorConfig tunes the tiered read/write behavior.
type OrchestratorConfig struct {
	// MaxContextTokens is the target model's context size.
	MaxContextTokens int
	// PerChatCap bounds the fast-cache list per chat; oldest entries are
	// evicted past it.
	PerChatCap int
	// RecentFetch is how many turns the read path pulls for history and
	// summarization.
	RecentFetch int
	// TopK and ScoreThreshold control semantic recall.
	TopK           int
	ScoreThreshold float64
	// OverallTimeout is the single budget applied across the read fan-out;
	// sub-calls past it degrade to empty contributions.
	OverallTimeout time.Duration
	// WriteTimeout bounds background best-effort writes.
	WriteTimeout time.Duration
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxContextTokens: 8192,
		PerChatCap:       100,
		RecentFetch:      100,
		TopK:             5,
		ScoreThreshold:   0.6,
		OverallTimeout:   3 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ExchangeInput describes one completed user/assistant exchange.
type ExchangeInput struct {
	ChatID            string
	UserID            string
	ProjectID         string
	UserMessage       string
	AssistantResponse string
	Metadata          map[string]string
}

// Orchestrator fans conversation turns out across the fast cache, the
// durable archive and the semantic store, and assembles bounded prompt
// context from all tiers plus the knowledge-graph retriever.
//
// Durability classes: the cache write must succeed (its failure fails the
// call), archive and semantic writes are best-effort and only degrade the
// WriteResult. All keys are namespaced by chat_id, so concurrent chats share
// no mutable state beyond the dirty-chat set.
type Orchestrator struct {
	cache      TurnCache
	archive    Archive
	semantic   SemanticStore
	graph      GraphRetriever
	summarizer *RollingSummarizer
	allocator  *Allocator
	embedder   Embedder
	cfg        OrchestratorConfig
	log        *logrus.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
	wg    sync.WaitGroup
}

// NewOrchestrator wires the tiers together. graph may be nil when no
// knowledge-graph retriever is deployed.
func NewOrchestrator(
	cache TurnCache,
	archive Archive,
	semantic SemanticStore,
	graph GraphRetriever,
	summarizer *RollingSummarizer,
	allocator *Allocator,
	embedder Embedder,
	cfg OrchestratorConfig,
	log *logrus.Logger,
) (*Orchestrator, error) {
	if cache == nil {
		return nil, errors.New("turn cache is required")
	}
	if archive == nil {
		return nil, errors.New("archive is required")
	}
	def := DefaultOrchestratorConfig()
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = def.MaxContextTokens
	}
	if cfg.PerChatCap <= 0 {
		cfg.PerChatCap = def.PerChatCap
	}
	if cfg.RecentFetch <= 0 {
		cfg.RecentFetch = cfg.PerChatCap
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = def.ScoreThreshold
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = def.OverallTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if allocator == nil {
		allocator = NewAllocator(DefaultAllocatorConfig(), nil)
	}
	if embedder == nil {
		embedder = NewCharGramEmbedder(0)
	}
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		cache:      cache,
		archive:    archive,
		semantic:   semantic,
		graph:      graph,
		summarizer: summarizer,
		allocator:  allocator,
		embedder:   embedder,
		cfg:        cfg,
		log:        log,
		dirty:      map[string]struct{}{},
	}, nil
}

// Close waits for in-flight background writes to settle.
func (o *Orchestrator) Close() error {
	o.wg.Wait()
	return nil
}

// StoreTurn records one turn: synchronously in the fast cache (must
// succeed), asynchronously in the durable archive (best effort). MessageID
// and CreatedAt are filled in when zero.
func (o *Orchestrator) StoreTurn(ctx context.Context, turn ConversationTurn) (WriteResult, error) {
	if strings.TrimSpace(turn.ChatID) == "" {
		return WriteResult{}, errors.New("chat_id is required")
	}
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return WriteResult{}, fmt.Errorf("invalid turn role %q", turn.Role)
	}
	if turn.MessageID == "" {
		turn.MessageID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	res := WriteResult{MessageID: turn.MessageID, Archive: WritePending, Semantic: WriteSkipped}
	if err := o.cache.Append(ctx, turn); err != nil {
		res.Cache = WriteFailed
		res.Archive = WriteSkipped
		return res, fmt.Errorf("%w: chat %s: %v", ErrCacheWrite, turn.ChatID, err)
	}
	res.Cache = WriteOK
	if err := o.cache.Trim(ctx, turn.ChatID, o.cfg.PerChatCap); err != nil {
		o.log.WithError(err).WithField("chat_id", turn.ChatID).Warn("failed to trim chat cache")
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		wctx, cancel := context.WithTimeout(context.Background(), o.cfg.WriteTimeout)
		defer cancel()
		if err := o.archive.InsertTurn(wctx, turn); err != nil {
			// The cache copy is authoritative for the session; the
			// reconciler replays this chat into the archive later.
			o.log.WithError(err).WithFields(logrus.Fields{
				"chat_id":    turn.ChatID,
				"message_id": turn.MessageID,
			}).Warn("best-effort archive write failed, chat marked for reconciliation")
			o.markDirty(turn.ChatID)
		}
	}()
	return res, nil
}

// StoreExchange records a user turn, its assistant response, and one
// semantic memory record embedding both sides of the exchange. The semantic
// write is best-effort: its failure never fails the call.
func (o *Orchestrator) StoreExchange(ctx context.Context, in ExchangeInput) (ExchangeResult, error) {
	var result ExchangeResult

	userRes, err := o.StoreTurn(ctx, ConversationTurn{
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		ProjectID: in.ProjectID,
		Role:      RoleUser,
		Content:   in.UserMessage,
		Metadata:  in.Metadata,
	})
	result.User = userRes
	if err != nil {
		result.Semantic = WriteSkipped
		return result, err
	}

	asstRes, err := o.StoreTurn(ctx, ConversationTurn{
		ChatID:    in.ChatID,
		UserID:    in.UserID,
		ProjectID: in.ProjectID,
		Role:      RoleAssistant,
		Content:   in.AssistantResponse,
		Metadata:  in.Metadata,
	})
	result.Assistant = asstRes
	if err != nil {
		result.Semantic = WriteSkipped
		return result, err
	}

	result.Semantic = o.storeSemantic(ctx, in)
	return result, nil
}

func (o *Orchestrator) storeSemantic(ctx context.Context, in ExchangeInput) WriteStatus {
	if o.semantic == nil {
		return WriteSkipped
	}
	record := SemanticMemoryRecord{
		RecordID:          uuid.New().String(),
		UserID:            in.UserID,
		ChatID:            in.ChatID,
		ProjectID:         in.ProjectID,
		Embedding:         o.embedder.Embed(in.UserMessage + "\n" + in.AssistantResponse),
		UserMessage:       in.UserMessage,
		AssistantResponse: in.AssistantResponse,
		CreatedAt:         time.Now(),
	}
	if err := o.semantic.Upsert(ctx, record); err != nil {
		o.log.WithError(err).WithField("chat_id", in.ChatID).Warn("best-effort semantic write failed")
		return WriteFailed
	}
	return WriteOK
}

// GetContext fans out to all context sources concurrently, joins the partial
// results, and assembles one bounded prompt context. Every source has its
// own failure domain: an unavailable store degrades its slice of context to
// empty plus a warning and never cancels the siblings or fails the call.
func (o *Orchestrator) GetContext(ctx context.Context, req ContextRequest) (AssembledContext, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.OverallTimeout)
	defer cancel()

	var (
		mu           sync.Mutex
		warnings     []string
		history      []ConversationTurn
		summaryText  string
		memories     []ScoredMemory
		graphExcerpt string
	)
	warn := func(format string, args ...any) {
		mu.Lock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		turns, w := o.fetchRecent(ctx, req.ChatID)
		mu.Lock()
		history = turns
		mu.Unlock()
		if w != "" {
			warn("%s", w)
		}
	}()

	go func() {
		defer wg.Done()
		if o.summarizer == nil {
			return
		}
		summary, err := o.summarizer.MaybeSummarize(ctx, req.ChatID, false)
		if err != nil {
			warn("conversation summary unavailable: %v", err)
			return
		}
		mu.Lock()
		summaryText = summary.SummaryText
		mu.Unlock()
	}()

	go func() {
		defer wg.Done()
		hits, w := o.recallSemantic(ctx, req)
		mu.Lock()
		memories = hits
		mu.Unlock()
		if w != "" {
			warn("%s", w)
		}
	}()

	go func() {
		defer wg.Done()
		if o.graph == nil || req.ProjectID == "" {
			return
		}
		excerpt, err := o.graph.GetContext(ctx, req.ProjectID, req.CurrentMessage)
		if err != nil {
			warn("knowledge graph context unavailable: %v", err)
			return
		}
		mu.Lock()
		graphExcerpt = excerpt
		mu.Unlock()
	}()

	wg.Wait()

	counter := o.allocator.Counter()
	budget, budgetWarnings := o.allocator.Allocate(
		o.cfg.MaxContextTokens,
		counter.Count(req.SystemPrompt),
		counter.Count(req.CurrentMessage),
	)
	warnings = append(warnings, budgetWarnings...)

	assembled := o.allocator.Assemble(AssembleInput{
		SystemPrompt:     req.SystemPrompt,
		CurrentMessage:   req.CurrentMessage,
		History:          history,
		Summary:          summaryText,
		SemanticMemories: memories,
		GraphExcerpt:     graphExcerpt,
		ProjectExcerpt:   req.ProjectExcerpt,
	}, budget)
	assembled.Warnings = append(warnings, assembled.Warnings...)
	if len(budgetWarnings) > 0 {
		assembled.Truncated = true
	}
	return assembled, nil
}

// fetchRecent reads recent turns from the cache, falling back to the
// archive when the cache is unavailable. Both failing yields empty history
// and a warning, never an error.
func (o *Orchestrator) fetchRecent(ctx context.Context, chatID string) ([]ConversationTurn, string) {
	turns, err := o.cache.List(ctx, chatID, o.cfg.RecentFetch, 0)
	if err == nil {
		return turns, ""
	}
	o.log.WithError(err).WithField("chat_id", chatID).Warn("cache read failed, falling back to archive")

	turns, archiveErr := o.archive.ListTurns(ctx, chatID, o.cfg.RecentFetch, 0)
	if archiveErr != nil {
		return nil, fmt.Sprintf("recent history unavailable (cache: %v, archive: %v)", err, archiveErr)
	}
	return turns, "recent history served from archive, cache unavailable"
}

// recallSemantic searches past exchanges for the user; when nothing clears
// the score threshold it substitutes the most recent exchanges, flagged as
// fallback so the prompt labels them honestly.
func (o *Orchestrator) recallSemantic(ctx context.Context, req ContextRequest) ([]ScoredMemory, string) {
	if o.semantic == nil {
		return nil, ""
	}
	hits, err := o.semantic.Search(ctx, SemanticQuery{
		Embedding:      o.embedder.Embed(req.CurrentMessage),
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		TopK:           o.cfg.TopK,
		ScoreThreshold: o.cfg.ScoreThreshold,
	})
	if err != nil {
		return nil, fmt.Sprintf("semantic memory unavailable: %v", err)
	}
	if len(hits) > 0 {
		return hits, ""
	}

	recent, err := o.semantic.Recent(ctx, req.UserID, "", o.cfg.TopK)
	if err != nil || len(recent) == 0 {
		return nil, ""
	}
	fallback := make([]ScoredMemory, 0, len(recent))
	for _, record := range recent {
		fallback = append(fallback, ScoredMemory{Record: record, IsFallback: true})
	}
	return fallback, ""
}

// DeleteConversation fans the delete out to every tier. Each store is
// attempted regardless of earlier failures; partial failures are logged and
// joined into the returned error.
func (o *Orchestrator) DeleteConversation(ctx context.Context, chatID, userID string) error {
	var errs []error
	if err := o.cache.Delete(ctx, chatID); err != nil {
		o.log.WithError(err).WithField("chat_id", chatID).Warn("cache delete failed")
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := o.archive.DeleteChat(ctx, chatID); err != nil {
		o.log.WithError(err).WithField("chat_id", chatID).Warn("archive delete failed")
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}
	if o.semantic != nil {
		if err := o.semantic.DeleteChat(ctx, chatID); err != nil {
			o.log.WithError(err).WithField("chat_id", chatID).Warn("semantic delete failed")
			errs = append(errs, fmt.Errorf("semantic: %w", err))
		}
	}
	o.clearDirty(chatID)
	return errors.Join(errs...)
}

// SyncCacheToArchive replays the cached turns of one chat through the
// idempotent archive insert, recovering writes that failed best-effort.
func (o *Orchestrator) SyncCacheToArchive(ctx context.Context, chatID string) (int, error) {
	turns, err := o.cache.List(ctx, chatID, o.cfg.PerChatCap, 0)
	if err != nil {
		return 0, fmt.Errorf("list cached turns for chat %s: %w", chatID, err)
	}
	synced := 0
	for _, turn := range turns {
		if err := o.archive.InsertTurn(ctx, turn); err != nil {
			return synced, fmt.Errorf("replay turn %s: %w", turn.MessageID, err)
		}
		synced++
	}
	o.clearDirty(chatID)
	return synced, nil
}

// DirtyChats lists chats with archive writes pending reconciliation.
func (o *Orchestrator) DirtyChats() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.dirty))
	for chatID := range o.dirty {
		out = append(out, chatID)
	}
	return out
}

func (o *Orchestrator) markDirty(chatID string) {
	o.mu.Lock()
	o.dirty[chatID] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) clearDirty(chatID string) {
	o.mu.Lock()
	delete(o.dirty, chatID)
	o.mu.Unlock()
}
