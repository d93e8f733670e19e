package memory

import "context"

// TurnCache is the fast, insertion-ordered recent-history tier. Keys are
// namespaced per chat; Append must be observed in order by List.
type TurnCache interface {
	Append(ctx context.Context, turn ConversationTurn) error
	// List returns up to limit turns in chronological order, offset counted
	// from the newest entry backwards.
	List(ctx context.Context, chatID string, limit, offset int) ([]ConversationTurn, error)
	Trim(ctx context.Context, chatID string, maxLen int) error
	Delete(ctx context.Context, chatID string) error
}

// Archive is the durable long-term store of all turns and summaries.
// InsertTurn and UpsertSummary are idempotent, keyed by message_id and
// chat_id respectively.
type Archive interface {
	InsertTurn(ctx context.Context, turn ConversationTurn) error
	// ListTurns returns up to limit turns in chronological order, offset
	// counted from the newest entry backwards.
	ListTurns(ctx context.Context, chatID string, limit, offset int) ([]ConversationTurn, error)
	// CountTurns returns the total number of archived turns for a chat.
	CountTurns(ctx context.Context, chatID string) (int, error)
	DeleteChat(ctx context.Context, chatID string) error
	UpsertSummary(ctx context.Context, summary ConversationSummary) error
	GetSummary(ctx context.Context, chatID string) (ConversationSummary, bool, error)
}

// SemanticStore indexes completed exchanges by embedding. A scope that does
// not exist yet yields empty results, never an error.
type SemanticStore interface {
	Upsert(ctx context.Context, record SemanticMemoryRecord) error
	Search(ctx context.Context, query SemanticQuery) ([]ScoredMemory, error)
	// Recent returns the newest records for a user (optionally one chat),
	// newest first. Used as the fallback when search has no match.
	Recent(ctx context.Context, userID, chatID string, limit int) ([]SemanticMemoryRecord, error)
	DeleteChat(ctx context.Context, chatID string) error
}

// GraphRetriever produces a formatted knowledge-graph excerpt for a project.
// The core only budgets and inserts its output.
type GraphRetriever interface {
	GetContext(ctx context.Context, projectID, query string) (string, error)
}

// CompletionFunc is the black-box text-completion call used by the
// summarizer.
type CompletionFunc func(ctx context.Context, prompt string) (string, error)

// Embedder turns text into a fixed-size vector.
type Embedder interface {
	ModelID() string
	Embed(text string) []float32
}

// TokenCounter measures prompt text in model tokens. HeuristicCounter is the
// default when no real tokenizer is wired in.
type TokenCounter interface {
	Count(text string) int
}
