package memory

import "time"

// Role values for conversation turns and assembled prompt messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationTurn is one immutable message in a conversation, identified by
// MessageID and ordered within a chat by CreatedAt.
type ConversationTurn struct {
	MessageID string
	ChatID    string
	UserID    string
	Role      string
	Content   string
	ProjectID string
	CreatedAt time.Time
	Metadata  map[string]string
}

// ConversationSummary is the single rolling summary kept per chat. Only the
// summarizer mutates it; SummarizedTurnCount advances monotonically.
type ConversationSummary struct {
	ChatID              string
	SummaryText         string
	SummarizedTurnCount int
	UpdatedAt           time.Time
}

// SemanticMemoryRecord is one completed user/assistant exchange stored for
// similarity retrieval. The embedding covers both sides of the exchange so a
// search matches either what was asked or what was discussed.
type SemanticMemoryRecord struct {
	RecordID          string
	UserID            string
	ChatID            string
	ProjectID         string
	Embedding         []float32
	UserMessage       string
	AssistantResponse string
	CreatedAt         time.Time
}

// ScoredMemory is a semantic search hit. IsFallback marks records substituted
// from recency when no match cleared the score threshold.
type ScoredMemory struct {
	Record     SemanticMemoryRecord
	Score      float64
	IsFallback bool
}

// ContextBudget is the per-request token allocation across prompt sections.
// The component sum never exceeds TotalLimit except in the degraded state
// where fixed costs alone are over the limit.
type ContextBudget struct {
	TotalLimit            int
	SystemPromptTokens    int
	CurrentMessageTokens  int
	ResponseReserveTokens int
	RecentHistoryTokens   int
	SummaryTokens         int
	SemanticMemoryTokens  int
	GraphContextTokens    int
}

// Message is a provider-agnostic prompt message.
type Message struct {
	Role    string
	Content string
}

// AssembledContext is the final bounded message list handed to the completion
// call. Truncated is set whenever any source was cut or the assembled result
// still exceeds the usable limit.
type AssembledContext struct {
	Messages   []Message
	Truncated  bool
	Warnings   []string
	TokensUsed int
}

// WriteStatus reports the outcome of one store in a multi-store write.
type WriteStatus string

const (
	WriteOK      WriteStatus = "ok"
	WriteFailed  WriteStatus = "failed"
	WritePending WriteStatus = "pending"
	WriteSkipped WriteStatus = "skipped"
)

// WriteResult is the structured outcome of a turn write across tiers. The
// cache write is must-succeed; archive and semantic writes are best-effort
// and report pending/failed without failing the call.
type WriteResult struct {
	MessageID string
	Cache     WriteStatus
	Archive   WriteStatus
	Semantic  WriteStatus
}

// ExchangeResult is the outcome of storing a completed user/assistant
// exchange plus its semantic memory record.
type ExchangeResult struct {
	User      WriteResult
	Assistant WriteResult
	Semantic  WriteStatus
}

// SemanticQuery describes one similarity search against the semantic store.
type SemanticQuery struct {
	Embedding      []float32
	UserID         string
	ChatID         string
	ProjectID      string
	TopK           int
	ScoreThreshold float64
}

// ContextRequest carries the inputs for one context assembly call.
type ContextRequest struct {
	ChatID         string
	UserID         string
	ProjectID      string
	SystemPrompt   string
	CurrentMessage string
	ProjectExcerpt string
}
