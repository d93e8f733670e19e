package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// SummarizerConfig holds the rolling summarization thresholds. The defaults
// are product-tuned rather than derived; keep them configurable.
type SummarizerConfig struct {
	// Threshold is the number of unsummarized turns that triggers an
	// incremental update.
	Threshold int
	// BootstrapAfter forces a first summary once a chat grows past this many
	// turns even if Threshold was never crossed.
	BootstrapAfter int
	// MaxSummaryChars hard-caps the stored summary regardless of what the
	// completion call returns.
	MaxSummaryChars int
	// FallbackTurns is how many recent user turns the extractive fallback
	// quotes when the completion call fails.
	FallbackTurns int
	// MaxTurnChars bounds each quoted turn inside the summarization prompt.
	MaxTurnChars int
}

func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		Threshold:       8,
		BootstrapAfter:  20,
		MaxSummaryChars: 2000,
		FallbackTurns:   5,
		MaxTurnChars:    400,
	}
}

const summaryInstruction = `You maintain a rolling summary of a technical conversation.
Merge the previous summary with the new turns into one summary of at most 300 words,
structured as three short sections: Topic, Key technical facts, Open requirements.
Do not invent details that are not in the input.

Previous summary:
%s

New turns:
%s

Updated summary:`

// RollingSummarizer keeps one compressed summary per chat, regenerated
// incrementally: only turns past the last summarized count are fed back in,
// so each update is O(new turns). Runs for the same chat are deduplicated
// through singleflight, which gives the per-chat single-writer guarantee.
type RollingSummarizer struct {
	archive  Archive
	complete CompletionFunc
	cfg      SummarizerConfig
	log      *logrus.Logger
	group    singleflight.Group
}

func NewRollingSummarizer(archive Archive, complete CompletionFunc, cfg SummarizerConfig, log *logrus.Logger) *RollingSummarizer {
	def := DefaultSummarizerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.BootstrapAfter <= 0 {
		cfg.BootstrapAfter = def.BootstrapAfter
	}
	if cfg.MaxSummaryChars <= 0 {
		cfg.MaxSummaryChars = def.MaxSummaryChars
	}
	if cfg.FallbackTurns <= 0 {
		cfg.FallbackTurns = def.FallbackTurns
	}
	if cfg.MaxTurnChars <= 0 {
		cfg.MaxTurnChars = def.MaxTurnChars
	}
	if log == nil {
		log = logrus.New()
	}
	return &RollingSummarizer{archive: archive, complete: complete, cfg: cfg, log: log}
}

// MaybeSummarize returns the current summary for the chat, regenerating it
// first when force is set, enough new turns accumulated, or a long chat has
// no summary yet. The archive is the source of turns: the capped cache window
// cannot represent chats longer than its cap, so progress is measured against
// the absolute archived turn count. Summarization failures fall back to an
// extractive summary; this call never fails the conversation turn on
// completion errors.
func (s *RollingSummarizer) MaybeSummarize(ctx context.Context, chatID string, force bool) (ConversationSummary, error) {
	v, err, _ := s.group.Do(chatID, func() (interface{}, error) {
		return s.summarizeLocked(ctx, chatID, force)
	})
	if err != nil {
		return ConversationSummary{}, err
	}
	return v.(ConversationSummary), nil
}

func (s *RollingSummarizer) summarizeLocked(ctx context.Context, chatID string, force bool) (ConversationSummary, error) {
	existing, found, err := s.archive.GetSummary(ctx, chatID)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("%w: read summary for chat %s: %v", ErrSummaryUnavailable, chatID, err)
	}

	total, err := s.archive.CountTurns(ctx, chatID)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("%w: count turns for chat %s: %v", ErrSummaryUnavailable, chatID, err)
	}

	covered := existing.SummarizedTurnCount
	if covered > total {
		covered = total
	}
	newCount := total - covered

	fire := force ||
		newCount >= s.cfg.Threshold ||
		(!found && total > s.cfg.BootstrapAfter)
	if !fire || newCount == 0 {
		return existing, nil
	}

	// The newest newCount turns are exactly the ones past the covered prefix.
	newTurns, err := s.archive.ListTurns(ctx, chatID, newCount, 0)
	if err != nil {
		return ConversationSummary{}, fmt.Errorf("%w: list new turns for chat %s: %v", ErrSummaryUnavailable, chatID, err)
	}

	text := s.generate(ctx, existing.SummaryText, newTurns)
	if len(text) > s.cfg.MaxSummaryChars {
		text = string([]rune(text)[:s.cfg.MaxSummaryChars])
	}

	summary := ConversationSummary{
		ChatID:              chatID,
		SummaryText:         text,
		SummarizedTurnCount: total,
		UpdatedAt:           time.Now(),
	}
	if err := s.archive.UpsertSummary(ctx, summary); err != nil {
		// The summary is still usable for this turn; persistence catches up
		// on the next trigger.
		s.log.WithError(err).WithField("chat_id", chatID).Warn("failed to persist conversation summary")
	}
	return summary, nil
}

func (s *RollingSummarizer) generate(ctx context.Context, existingSummary string, newTurns []ConversationTurn) string {
	transcript := buildTranscript(newTurns, s.cfg.MaxTurnChars)
	if s.complete != nil {
		prompt := fmt.Sprintf(summaryInstruction, emptyPlaceholder(existingSummary), transcript)
		text, err := s.complete(ctx, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil {
			s.log.WithError(err).Warn("summary completion failed, using extractive fallback")
		}
	}
	return extractiveSummary(existingSummary, newTurns, s.cfg.FallbackTurns)
}

func buildTranscript(turns []ConversationTurn, maxTurnChars int) string {
	var b strings.Builder
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if len([]rune(content)) > maxTurnChars {
			content = string([]rune(content)[:maxTurnChars]) + "..."
		}
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}

// extractiveSummary quotes the last few user turns verbatim. It is the
// degraded path when the completion call fails or returns nothing.
func extractiveSummary(existing string, turns []ConversationTurn, maxUserTurns int) string {
	parts := []string{}
	if s := strings.TrimSpace(existing); s != "" {
		parts = append(parts, s)
	}

	quoted := []string{}
	for i := len(turns) - 1; i >= 0 && len(quoted) < maxUserTurns; i-- {
		if turns[i].Role != RoleUser {
			continue
		}
		line := strings.TrimSpace(turns[i].Content)
		if line == "" {
			continue
		}
		if len([]rune(line)) > 160 {
			line = string([]rune(line)[:160]) + "..."
		}
		quoted = append(quoted, "- "+line)
	}
	// Collected newest-first; present in conversation order.
	for i, j := 0, len(quoted)-1; i < j; i, j = i+1, j-1 {
		quoted[i], quoted[j] = quoted[j], quoted[i]
	}
	if len(quoted) > 0 {
		parts = append(parts, "Recent user topics:\n"+strings.Join(quoted, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func emptyPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
