// Package similarity provides the content-matching primitives used for
// duplicate detection, toxic suppression and coarse relevance: a normalized
// content hash, token Jaccard, and cosine over optional embedding vectors.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode"
)

// minTokenLength filters short tokens out of Jaccard and keyword extraction.
const minTokenLength = 3

// stopWords are common English words excluded from tokenization.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"has": true, "have": true, "was": true, "were": true, "with": true,
	"this": true, "that": true, "they": true, "from": true, "will": true,
	"would": true, "there": true, "their": true, "what": true, "when": true,
	"which": true, "your": true, "should": true, "could": true, "into": true,
	"then": true, "than": true, "them": true, "these": true, "those": true,
	"use": true, "used": true, "using": true, "also": true, "just": true,
	"each": true, "other": true, "some": true, "only": true, "over": true,
	"such": true, "more": true, "most": true, "must": true, "very": true,
	"any": true, "its": true, "our": true, "out": true, "via": true,
	"after": true, "before": true, "where": true, "while": true, "does": true,
	"don": true, "doesn": true, "always": true, "never": true, "every": true,
	"make": true, "makes": true, "been": true, "being": true, "about": true,
}

// HashContent returns a stable 16-hex-digit hash of the normalized content:
// lowercased with all whitespace runs collapsed to single spaces. Strings
// differing only in case or whitespace hash identically.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:8])
}

// Normalize lowercases s and collapses whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits s into lowercase ASCII word tokens of length >=
// minTokenLength, with stop words removed. Duplicates are preserved in order;
// callers needing a set build one.
func Tokenize(s string) []string {
	var tokens []string
	var b strings.Builder

	flush := func() {
		if b.Len() >= minTokenLength {
			tok := b.String()
			if !stopWords[tok] {
				tokens = append(tokens, tok)
			}
		}
		b.Reset()
	}

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// TokenSet returns the distinct tokens of s.
func TokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(s) {
		set[tok] = true
	}
	return set
}

// Keywords returns up to max distinct tokens of s in order of first
// appearance. Used for history queries and gate evidence lookups.
func Keywords(s string, max int) []string {
	seen := make(map[string]bool)
	var kws []string
	for _, tok := range Tokenize(s) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		kws = append(kws, tok)
		if max > 0 && len(kws) >= max {
			break
		}
	}
	return kws
}

// Jaccard computes token-set Jaccard similarity in [0, 1]. Identical
// non-empty inputs yield 1; an empty side yields 0. Symmetric.
func Jaccard(a, b string) float64 {
	setA := TokenSet(a)
	setB := TokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Cosine computes cosine similarity between two vectors. Returns 0 when
// either vector is empty, lengths differ, or either norm is zero.
func Cosine(u, v []float32) float64 {
	if len(u) == 0 || len(v) == 0 || len(u) != len(v) {
		return 0
	}

	var dot, normU, normV float64
	for i := range u {
		dot += float64(u[i]) * float64(v[i])
		normU += float64(u[i]) * float64(u[i])
		normV += float64(v[i]) * float64(v[i])
	}
	if normU == 0 || normV == 0 {
		return 0
	}
	return dot / (math.Sqrt(normU) * math.Sqrt(normV))
}

// BestMatch scans contents and returns the index and score of the single
// highest-Jaccard match >= threshold against content. Ties are broken by
// insertion order (first wins). Returns index -1 when nothing qualifies.
func BestMatch(contents []string, content string, threshold float64) (int, float64) {
	bestIdx := -1
	bestScore := 0.0
	for i, c := range contents {
		score := Jaccard(c, content)
		if score >= threshold && score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	return bestIdx, bestScore
}
