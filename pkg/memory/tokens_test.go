package memory

import (
	"strings"
	"testing"
)

func TestHeuristicCounterCount(t *testing.T) {
	counter := NewHeuristicCounter()
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := counter.Count(tc.text); got != tc.want {
			t.Fatalf("Count(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestHeuristicCounterZeroRatioDefaults(t *testing.T) {
	counter := HeuristicCounter{}
	if got := counter.Count("abcdefgh"); got != 2 {
		t.Fatalf("Count with zero ratio = %d, want 2", got)
	}
}

func TestTruncateToTokensFits(t *testing.T) {
	counter := NewHeuristicCounter()
	out, cut := truncateToTokens(counter, "short text", 100, " ...[truncated]")
	if cut {
		t.Fatal("text within budget must not be cut")
	}
	if out != "short text" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTruncateToTokensCuts(t *testing.T) {
	counter := NewHeuristicCounter()
	text := strings.Repeat("word ", 200)
	out, cut := truncateToTokens(counter, text, 20, " ...[truncated]")
	if !cut {
		t.Fatal("long text must be cut")
	}
	if !strings.HasSuffix(out, " ...[truncated]") {
		t.Fatalf("cut text must carry the marker, got %q", out)
	}
	if counter.Count(out) > 20 {
		t.Fatalf("cut text is %d tokens, budget was 20", counter.Count(out))
	}
}

func TestTruncateToTokensZeroBudget(t *testing.T) {
	counter := NewHeuristicCounter()
	out, cut := truncateToTokens(counter, "anything", 0, "...")
	if out != "" || !cut {
		t.Fatalf("zero budget must drop everything, got %q cut=%v", out, cut)
	}
	out, cut = truncateToTokens(counter, "", 0, "...")
	if out != "" || cut {
		t.Fatalf("empty text is never cut, got %q cut=%v", out, cut)
	}
}
