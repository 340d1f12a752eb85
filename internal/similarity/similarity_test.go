package similarity

import (
	"math"
	"testing"
)

func TestHashContentNormalization(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{"case insensitive", "Use Table Driven Tests", "use table driven tests", true},
		{"whitespace collapsed", "use  table\tdriven\n tests", "use table driven tests", true},
		{"leading trailing space", "  use tests  ", "use tests", true},
		{"different content", "use table driven tests", "avoid global state", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ha, hb := HashContent(tt.a), HashContent(tt.b)
			if (ha == hb) != tt.same {
				t.Errorf("HashContent(%q)=%s, HashContent(%q)=%s, want same=%v", tt.a, ha, tt.b, hb, tt.same)
			}
		})
	}

	if len(HashContent("anything")) != 16 {
		t.Errorf("expected 16 hex digits, got %d", len(HashContent("anything")))
	}
}

func TestJaccardAlgebra(t *testing.T) {
	s := "prefer context cancellation over manual timeouts"

	if got := Jaccard(s, s); got != 1 {
		t.Errorf("Jaccard(s, s) = %v, want 1", got)
	}
	if got := Jaccard(s, ""); got != 0 {
		t.Errorf("Jaccard(s, \"\") = %v, want 0", got)
	}
	if got := Jaccard("", ""); got != 0 {
		t.Errorf("Jaccard(\"\", \"\") = %v, want 0", got)
	}

	a := "always run linters before committing code"
	b := "run linters before pushing code upstream"
	if Jaccard(a, b) != Jaccard(b, a) {
		t.Error("Jaccard is not symmetric")
	}
	if Jaccard(a, b) <= 0 || Jaccard(a, b) >= 1 {
		t.Errorf("partial overlap should be in (0,1), got %v", Jaccard(a, b))
	}
}

func TestTokenizeFiltersStopWordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("The fix is to use DB pooling for all queries!")
	for _, tok := range tokens {
		if stopWords[tok] {
			t.Errorf("stop word %q leaked through", tok)
		}
		if len(tok) < minTokenLength {
			t.Errorf("short token %q leaked through", tok)
		}
	}
}

func TestKeywords(t *testing.T) {
	kws := Keywords("fix flaky integration tests by pinning postgres version in integration tests", 4)
	if len(kws) != 4 {
		t.Fatalf("expected 4 keywords, got %v", kws)
	}
	seen := map[string]bool{}
	for _, k := range kws {
		if seen[k] {
			t.Errorf("duplicate keyword %q", k)
		}
		seen[k] = true
	}
	if kws[0] != "fix" {
		t.Errorf("keywords should preserve first-appearance order, got %v", kws)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		u, v []float32
		want float64
	}{
		{"empty u", nil, []float32{1, 2}, 0},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 2}, 0},
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.u, tt.v); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBestMatch(t *testing.T) {
	contents := []string{
		"unrelated advice about docker compose networking",
		"always run golangci-lint before committing changes",
		"always run golangci-lint before committing any changes",
	}

	// Entries 1 and 2 have identical token sets ("any" is a stop word), so
	// the tie breaks to insertion order.
	idx, score := BestMatch(contents, "always run golangci-lint before committing any changes", 0.85)
	if idx != 1 {
		t.Errorf("expected first of the tied matches at index 1, got %d (score %v)", idx, score)
	}

	idx, _ = BestMatch(contents, "completely different topic entirely", 0.85)
	if idx != -1 {
		t.Errorf("expected no match, got %d", idx)
	}

	// Ties break to insertion order.
	dupes := []string{"same advice here friend", "same advice here friend"}
	idx, _ = BestMatch(dupes, "same advice here friend", 0.85)
	if idx != 0 {
		t.Errorf("tie should break to first, got %d", idx)
	}
}
