package memory

import "strings"

// HeuristicCounter estimates tokens from character count. Roughly four
// characters per token holds for English prose across common tokenizers;
// plug a real tokenizer through TokenCounter when exact counts matter.
type HeuristicCounter struct {
	CharsPerToken int
}

func NewHeuristicCounter() HeuristicCounter {
	return HeuristicCounter{CharsPerToken: 4}
}

func (h HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	cpt := h.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	runes := len([]rune(text))
	return (runes + cpt - 1) / cpt
}

// truncateToTokens cuts text to fit budget tokens under counter, preferring a
// word boundary, and appends marker. Returns the text unchanged when it
// already fits.
func truncateToTokens(counter TokenCounter, text string, budget int, marker string) (string, bool) {
	if budget <= 0 {
		return "", text != ""
	}
	if counter.Count(text) <= budget {
		return text, false
	}

	markerCost := counter.Count(marker)
	keep := budget - markerCost
	if keep <= 0 {
		keep = 1
	}

	runes := []rune(text)
	// Initial cut assumes the heuristic ratio, then shrinks until the counter
	// agrees. Real tokenizers converge in one or two passes.
	cut := keep * 4
	if cut > len(runes) {
		cut = len(runes)
	}
	for cut > 0 && counter.Count(string(runes[:cut])) > keep {
		cut = cut * 9 / 10
	}

	out := string(runes[:cut])
	if idx := strings.LastIndexAny(out, " \t\n"); idx > len(out)/2 {
		out = out[:idx]
	}
	return strings.TrimRight(out, " \t\n") + marker, true
}
