package memory

import "fmt"

// AllocatorConfig holds the tunable budget split. The default weights value
// retrieval grounding over raw chat replay, replay over long-tail semantic
// recall, and recall over the compressed summary.
type AllocatorConfig struct {
	// ResponseReserveFraction of the total limit is held back for the model
	// response and never given to context content.
	ResponseReserveFraction float64
	// MinAvailableTokens is the floor used when fixed costs alone exceed the
	// limit; allocation proceeds degraded instead of failing.
	MinAvailableTokens int

	GraphWeight    float64
	HistoryWeight  float64
	SemanticWeight float64
	SummaryWeight  float64

	// SemanticItemCap bounds the semantic block when dropping low-score items
	// alone cannot make it fit.
	SemanticItemCap int

	TruncationMarker string
}

func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		ResponseReserveFraction: 0.10,
		MinAvailableTokens:      1000,
		GraphWeight:             0.35,
		HistoryWeight:           0.30,
		SemanticWeight:          0.20,
		SummaryWeight:           0.15,
		SemanticItemCap:         3,
		TruncationMarker:        " ...[truncated]",
	}
}

// Allocator computes per-source token budgets and assembles the final
// bounded context.
type Allocator struct {
	cfg     AllocatorConfig
	counter TokenCounter
}

func NewAllocator(cfg AllocatorConfig, counter TokenCounter) *Allocator {
	if cfg.ResponseReserveFraction <= 0 || cfg.ResponseReserveFraction >= 1 {
		cfg.ResponseReserveFraction = 0.10
	}
	if cfg.MinAvailableTokens <= 0 {
		cfg.MinAvailableTokens = 1000
	}
	if cfg.GraphWeight+cfg.HistoryWeight+cfg.SemanticWeight+cfg.SummaryWeight <= 0 {
		def := DefaultAllocatorConfig()
		cfg.GraphWeight = def.GraphWeight
		cfg.HistoryWeight = def.HistoryWeight
		cfg.SemanticWeight = def.SemanticWeight
		cfg.SummaryWeight = def.SummaryWeight
	}
	if cfg.SemanticItemCap <= 0 {
		cfg.SemanticItemCap = 3
	}
	if cfg.TruncationMarker == "" {
		cfg.TruncationMarker = " ...[truncated]"
	}
	if counter == nil {
		counter = NewHeuristicCounter()
	}
	return &Allocator{cfg: cfg, counter: counter}
}

func (a *Allocator) Counter() TokenCounter { return a.counter }

// Allocate splits limit across the variable context sources after reserving
// the response share and the fixed costs. Warnings report degraded states;
// allocation itself never fails.
func (a *Allocator) Allocate(limit, systemPromptTokens, currentMessageTokens int) (ContextBudget, []string) {
	var warnings []string
	if limit <= 0 {
		limit = 8192
		warnings = append(warnings, "context limit not set, defaulting to 8192 tokens")
	}

	reserve := int(float64(limit) * a.cfg.ResponseReserveFraction)
	available := limit - systemPromptTokens - currentMessageTokens - reserve
	if available <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"fixed costs (%d prompt + %d message + %d reserve) exceed the %d token limit, clamping context to %d tokens",
			systemPromptTokens, currentMessageTokens, reserve, limit, a.cfg.MinAvailableTokens))
		available = a.cfg.MinAvailableTokens
	}

	weightSum := a.cfg.GraphWeight + a.cfg.HistoryWeight + a.cfg.SemanticWeight + a.cfg.SummaryWeight
	history := int(float64(available) * a.cfg.HistoryWeight / weightSum)
	semantic := int(float64(available) * a.cfg.SemanticWeight / weightSum)
	summary := int(float64(available) * a.cfg.SummaryWeight / weightSum)
	// Graph/project context takes the remainder so rounding never leaks
	// tokens past the available pool.
	graph := available - history - semantic - summary

	return ContextBudget{
		TotalLimit:            limit,
		SystemPromptTokens:    systemPromptTokens,
		CurrentMessageTokens:  currentMessageTokens,
		ResponseReserveTokens: reserve,
		RecentHistoryTokens:   history,
		SummaryTokens:         summary,
		SemanticMemoryTokens:  semantic,
		GraphContextTokens:    graph,
	}, warnings
}
