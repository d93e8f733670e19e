package memory

import (
	"fmt"
	"sort"
	"strings"
)

// AssembleInput carries the retrieved material for one context assembly.
// Absent sources (empty history, no summary, nil memories) are valid; no
// section is emitted for them.
type AssembleInput struct {
	SystemPrompt     string
	CurrentMessage   string
	History          []ConversationTurn
	Summary          string
	SemanticMemories []ScoredMemory
	GraphExcerpt     string
	ProjectExcerpt   string
}

const (
	sectionProject  = "## Project Context"
	sectionGraph    = "## Knowledge Graph"
	sectionSummary  = "## Conversation Summary"
	sectionSemantic = "## Related Past Exchanges"

	// turnOverheadTokens accounts for role framing added per history message
	// by the downstream chat template.
	turnOverheadTokens = 3
)

// Assemble truncates each source to its budget bucket and concatenates the
// result into one system message, the surviving history, and the current
// user message. The result is always returned, even when the pathological
// "fixed costs alone exceed the limit" case leaves it over budget; that
// state is surfaced through Truncated and Warnings, never dropped silently.
func (a *Allocator) Assemble(in AssembleInput, budget ContextBudget) AssembledContext {
	var (
		warnings  []string
		truncated bool
	)

	grounding := a.groundingBlock(in.ProjectExcerpt, in.GraphExcerpt)
	if cut, was := truncateToTokens(a.counter, grounding, budget.GraphContextTokens, a.cfg.TruncationMarker); was {
		grounding = cut
		truncated = true
		warnings = append(warnings, fmt.Sprintf("graph/project context truncated to %d tokens", budget.GraphContextTokens))
	}

	summary := strings.TrimSpace(in.Summary)
	if summary != "" {
		summary = sectionSummary + "\n" + summary
		if cut, was := truncateToTokens(a.counter, summary, budget.SummaryTokens, a.cfg.TruncationMarker); was {
			summary = cut
			truncated = true
			warnings = append(warnings, fmt.Sprintf("summary truncated to %d tokens", budget.SummaryTokens))
		}
	}

	history, histWarnings := a.selectHistory(in.History, budget.RecentHistoryTokens)
	if len(histWarnings) > 0 {
		truncated = true
		warnings = append(warnings, histWarnings...)
	}

	semantic, semWarnings := a.semanticBlock(in.SemanticMemories, budget.SemanticMemoryTokens)
	if len(semWarnings) > 0 {
		truncated = true
		warnings = append(warnings, semWarnings...)
	}

	sections := make([]string, 0, 4)
	if s := strings.TrimSpace(in.SystemPrompt); s != "" {
		sections = append(sections, s)
	}
	if grounding != "" {
		sections = append(sections, grounding)
	}
	if summary != "" {
		sections = append(sections, summary)
	}
	if semantic != "" {
		sections = append(sections, semantic)
	}

	messages := make([]Message, 0, len(history)+2)
	if len(sections) > 0 {
		messages = append(messages, Message{Role: RoleSystem, Content: strings.Join(sections, "\n\n")})
	}
	messages = append(messages, history...)
	if in.CurrentMessage != "" {
		messages = append(messages, Message{Role: RoleUser, Content: in.CurrentMessage})
	}

	used := 0
	for _, msg := range messages {
		used += a.counter.Count(msg.Content) + turnOverheadTokens
	}

	usable := budget.TotalLimit - budget.ResponseReserveTokens
	if used > usable {
		truncated = true
		warnings = append(warnings, fmt.Sprintf(
			"assembled context is %d tokens, over the %d usable (fixed costs too large for the limit)", used, usable))
	}

	return AssembledContext{
		Messages:   messages,
		Truncated:  truncated,
		Warnings:   warnings,
		TokensUsed: used,
	}
}

func (a *Allocator) groundingBlock(projectExcerpt, graphExcerpt string) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(projectExcerpt); s != "" {
		parts = append(parts, sectionProject+"\n"+s)
	}
	if s := strings.TrimSpace(graphExcerpt); s != "" {
		parts = append(parts, sectionGraph+"\n"+s)
	}
	return strings.Join(parts, "\n\n")
}

// selectHistory keeps the newest turns that fit the bucket, dropping oldest
// first. When not even the newest turn fits, its content is truncated as a
// last resort so the current thread is never lost entirely.
func (a *Allocator) selectHistory(turns []ConversationTurn, bucket int) ([]Message, []string) {
	if len(turns) == 0 {
		return nil, nil
	}
	if bucket <= 0 {
		return nil, []string{"no token budget for recent history, dropping all turns"}
	}

	selected := make([]ConversationTurn, 0, len(turns))
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := a.counter.Count(turns[i].Content) + turnOverheadTokens
		if used+cost > bucket {
			break
		}
		selected = append(selected, turns[i])
		used += cost
	}

	var warnings []string
	if len(selected) == 0 {
		newest := turns[len(turns)-1]
		cut, _ := truncateToTokens(a.counter, newest.Content, bucket-turnOverheadTokens, a.cfg.TruncationMarker)
		newest.Content = cut
		selected = append(selected, newest)
		warnings = append(warnings, "newest history turn truncated to fit the history budget")
	}
	if len(selected) < len(turns) {
		warnings = append(warnings, fmt.Sprintf("dropped %d oldest history turns to fit %d tokens", len(turns)-len(selected), bucket))
	}

	// Selection walked newest-to-oldest; restore chronological order.
	out := make([]Message, 0, len(selected))
	for i := len(selected) - 1; i >= 0; i-- {
		out = append(out, Message{Role: selected[i].Role, Content: selected[i].Content})
	}
	return out, warnings
}

// semanticBlock formats retrieved exchanges highest-score first, dropping
// the lowest-score items until the block fits. If the capped item count
// still exceeds the bucket the formatted text itself is truncated.
func (a *Allocator) semanticBlock(memories []ScoredMemory, bucket int) (string, []string) {
	if len(memories) == 0 {
		return "", nil
	}
	if bucket <= 0 {
		return "", []string{"no token budget for semantic memory, dropping all recalled exchanges"}
	}

	items := make([]ScoredMemory, len(memories))
	copy(items, memories)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	var warnings []string
	dropped := 0
	if len(items) > a.cfg.SemanticItemCap && a.counter.Count(formatSemanticBlock(items)) > bucket {
		dropped += len(items) - a.cfg.SemanticItemCap
		items = items[:a.cfg.SemanticItemCap]
	}
	for len(items) > 1 && a.counter.Count(formatSemanticBlock(items)) > bucket {
		items = items[:len(items)-1]
		dropped++
	}

	block := formatSemanticBlock(items)
	if cut, was := truncateToTokens(a.counter, block, bucket, a.cfg.TruncationMarker); was {
		block = cut
		warnings = append(warnings, fmt.Sprintf("semantic memory block truncated to %d tokens", bucket))
	}
	if dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("dropped %d lowest-relevance semantic memories to fit %d tokens", dropped, bucket))
	}
	return block, warnings
}

func formatSemanticBlock(items []ScoredMemory) string {
	var b strings.Builder
	b.WriteString(sectionSemantic)
	for _, item := range items {
		b.WriteString("\n- Q: ")
		b.WriteString(strings.TrimSpace(item.Record.UserMessage))
		b.WriteString("\n  A: ")
		b.WriteString(strings.TrimSpace(item.Record.AssistantResponse))
		if item.IsFallback {
			b.WriteString("\n  (recent exchange, no similarity match)")
		} else {
			b.WriteString(fmt.Sprintf("\n  (similarity %.2f)", item.Score))
		}
	}
	return b.String()
}
