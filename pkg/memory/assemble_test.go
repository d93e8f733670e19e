package memory

import (
	"strings"
	"testing"
)

func TestAssembleAllSourcesFit(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig(), nil)
	budget, warnings := a.Allocate(2000, a.Counter().Count("system prompt"), a.Counter().Count("current"))
	if len(warnings) != 0 {
		t.Fatalf("unexpected allocation warnings: %v", warnings)
	}

	out := a.Assemble(AssembleInput{
		SystemPrompt:   "system prompt",
		CurrentMessage: "current",
		History:        makeTurns("chat-1", "hello", "hi there"),
		Summary:        "the chat is about key rotation",
		SemanticMemories: []ScoredMemory{{
			Record: SemanticMemoryRecord{UserMessage: "old q", AssistantResponse: "old a"},
			Score:  0.8,
		}},
		GraphExcerpt:   "runbook.md links to rotation policy",
		ProjectExcerpt: "Project Alpha, a document QA assistant",
	}, budget)

	if out.Truncated {
		t.Fatalf("everything fits, warnings: %v", out.Warnings)
	}
	if len(out.Messages) != 4 {
		t.Fatalf("got %d messages, want system + 2 history + current", len(out.Messages))
	}
	system := out.Messages[0].Content
	for _, want := range []string{
		"system prompt",
		"## Project Context",
		"## Knowledge Graph",
		"## Conversation Summary",
		"## Related Past Exchanges",
		"(similarity 0.80)",
	} {
		if !strings.Contains(system, want) {
			t.Fatalf("system message missing %q:\n%s", want, system)
		}
	}
	if out.Messages[1].Content != "hello" || out.Messages[2].Content != "hi there" {
		t.Fatal("history must keep chronological order")
	}
	if out.Messages[3].Content != "current" {
		t.Fatal("the current message must come last")
	}
	if out.TokensUsed <= 0 {
		t.Fatal("token usage must be reported")
	}
}

func TestAssembleTruncatesUnderTightLimit(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig(), nil)
	budget, _ := a.Allocate(300, 0, 0)

	long := strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)
	out := a.Assemble(AssembleInput{
		CurrentMessage: "current",
		History:        makeTurns("chat-1", long, long, long, long),
		Summary:        long,
		SemanticMemories: []ScoredMemory{
			{Record: SemanticMemoryRecord{UserMessage: long, AssistantResponse: long}, Score: 0.9},
			{Record: SemanticMemoryRecord{UserMessage: long, AssistantResponse: long}, Score: 0.8},
		},
		GraphExcerpt: long,
	}, budget)

	if !out.Truncated {
		t.Fatal("oversized sources must set Truncated")
	}
	if len(out.Warnings) == 0 {
		t.Fatal("truncation must be reported in warnings")
	}
	usable := budget.TotalLimit - budget.ResponseReserveTokens
	if out.TokensUsed > usable+budget.RecentHistoryTokens {
		t.Fatalf("assembly used %d tokens against %d usable", out.TokensUsed, usable)
	}
}

func TestAssembleEmptySources(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig(), nil)
	budget, _ := a.Allocate(2000, 0, 0)

	out := a.Assemble(AssembleInput{CurrentMessage: "only message"}, budget)
	if out.Truncated {
		t.Fatal("nothing to truncate")
	}
	if len(out.Messages) != 1 {
		t.Fatalf("got %d messages, want only the current one", len(out.Messages))
	}
	if out.Messages[0].Role != RoleUser || out.Messages[0].Content != "only message" {
		t.Fatalf("unexpected message %+v", out.Messages[0])
	}
}

func TestAssembleDropsOldestHistoryFirst(t *testing.T) {
	cfg := DefaultAllocatorConfig()
	a := NewAllocator(cfg, nil)

	turns := makeTurns("chat-1",
		strings.Repeat("oldest ", 30),
		strings.Repeat("middle ", 30),
		"newest turn")
	budget := ContextBudget{
		TotalLimit:          2000,
		RecentHistoryTokens: a.Counter().Count("newest turn") + turnOverheadTokens,
	}

	out := a.Assemble(AssembleInput{CurrentMessage: "now", History: turns}, budget)
	if !out.Truncated {
		t.Fatal("dropping turns must set Truncated")
	}

	var contents []string
	for _, msg := range out.Messages {
		contents = append(contents, msg.Content)
	}
	joined := strings.Join(contents, "\n")
	if !strings.Contains(joined, "newest turn") {
		t.Fatalf("the newest turn must survive:\n%s", joined)
	}
	if strings.Contains(joined, "oldest") || strings.Contains(joined, "middle") {
		t.Fatalf("older turns must be dropped first:\n%s", joined)
	}
}

func TestAssembleTruncatesSoleOversizedTurn(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig(), nil)
	turns := makeTurns("chat-1", strings.Repeat("enormous turn content ", 100))
	budget := ContextBudget{TotalLimit: 2000, RecentHistoryTokens: 20}

	out := a.Assemble(AssembleInput{CurrentMessage: "now", History: turns}, budget)
	if !out.Truncated {
		t.Fatal("cutting a turn must set Truncated")
	}
	found := false
	for _, msg := range out.Messages {
		if msg.Role == RoleUser && strings.Contains(msg.Content, "...[truncated]") {
			found = true
		}
	}
	if !found {
		t.Fatal("the sole turn must be kept in truncated form")
	}
}

func TestAssembleCapsSemanticItems(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig(), nil)

	long := strings.Repeat("answer content ", 20)
	memories := make([]ScoredMemory, 6)
	for i := range memories {
		memories[i] = ScoredMemory{
			Record: SemanticMemoryRecord{UserMessage: "question", AssistantResponse: long},
			Score:  0.9 - float64(i)*0.05,
		}
	}
	budget := ContextBudget{TotalLimit: 2000, SemanticMemoryTokens: 250}

	out := a.Assemble(AssembleInput{CurrentMessage: "now", SemanticMemories: memories}, budget)
	if !out.Truncated {
		t.Fatal("dropping memories must set Truncated")
	}
	system := out.Messages[0].Content
	if got := strings.Count(system, "- Q:"); got > 3 {
		t.Fatalf("semantic block holds %d items, cap is 3", got)
	}
	// The highest scored item survives the cut.
	if !strings.Contains(system, "(similarity 0.90)") {
		t.Fatalf("top scored memory must survive:\n%s", system)
	}
}

func TestAssembleHighestScoreFirst(t *testing.T) {
	a := NewAllocator(DefaultAllocatorConfig(), nil)
	memories := []ScoredMemory{
		{Record: SemanticMemoryRecord{UserMessage: "low", AssistantResponse: "x"}, Score: 0.61},
		{Record: SemanticMemoryRecord{UserMessage: "high", AssistantResponse: "x"}, Score: 0.95},
	}
	budget := ContextBudget{TotalLimit: 2000, SemanticMemoryTokens: 500}

	out := a.Assemble(AssembleInput{CurrentMessage: "now", SemanticMemories: memories}, budget)
	system := out.Messages[0].Content
	if strings.Index(system, "high") > strings.Index(system, "low") {
		t.Fatalf("memories must be ordered by score:\n%s", system)
	}
}
