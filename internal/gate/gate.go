// Package gate decides whether a proposed rule deserves a costly validator
// call. Historical sessions mentioning the rule's keywords are classified as
// successes or failures; lopsided evidence short-circuits the validator in
// either direction.
package gate

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/history"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/similarity"
)

// Evidence thresholds for skipping the validator.
const (
	autoAcceptSuccesses = 5
	autoRejectFailures  = 3
	searchLimit         = 20
	keywordCount        = 5
)

// Word-boundary anchored classifiers. Plain substring matching is rejected
// here: "fixed-width" must not count as a fix.
var successPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfixed\s+(the|a|an|it|this|that)\b`),
	regexp.MustCompile(`(?i)\bsuccessfully\b`),
	regexp.MustCompile(`(?i)\bsolved\s+(the|a|an|it|this|that)\b`),
	regexp.MustCompile(`(?i)\bworks\s+(now|correctly|properly)\b`),
	regexp.MustCompile(`(?i)\bresolved\b`),
	regexp.MustCompile(`(?i)\bworking\s+now\b`),
}

var failurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfailed\s+(to|with)\b`),
	regexp.MustCompile(`(?i)\berror:`),
	regexp.MustCompile(`(?i)\b(threw|throws)\b.*\berror\b`),
	regexp.MustCompile(`(?i)\bbroken\b`),
	regexp.MustCompile(`(?i)\bcrash(ed|es|ing)?\b`),
	regexp.MustCompile(`(?i)\bbug\s+(in|found|caused)\b`),
	regexp.MustCompile(`(?i)\bdoesn't\s+work\b`),
}

// Verdict is the gate's decision on one candidate. Ambiguous marks the one
// row of the decision table that needs external validation.
type Verdict struct {
	Passed         bool           `json:"passed"`
	Ambiguous      bool           `json:"ambiguous"`
	Reason         string         `json:"reason"`
	SuggestedState playbook.State `json:"suggestedState"`
	SessionCount   int            `json:"sessionCount"`
	SuccessCount   int            `json:"successCount"`
	FailureCount   int            `json:"failureCount"`
}

// Gate evaluates candidates against historical evidence.
type Gate struct {
	searcher     history.Searcher
	lookbackDays int
	logger       *zap.Logger
}

// New constructs a gate. searcher may be unavailable; the gate fails open.
func New(searcher history.Searcher, lookbackDays int, logger *zap.Logger) *Gate {
	return &Gate{searcher: searcher, lookbackDays: lookbackDays, logger: logger}
}

// Check classifies historical evidence for a candidate's keywords and
// returns the verdict per the decision table. Only an ambiguous verdict
// should reach the external validator.
func (g *Gate) Check(ctx context.Context, content string) Verdict {
	if g.searcher == nil || !g.searcher.Available() {
		return Verdict{
			Passed:         true,
			Reason:         "history unavailable, skipping (fail-open)",
			SuggestedState: playbook.StateDraft,
		}
	}

	keywords := similarity.Keywords(content, keywordCount)
	query := strings.Join(keywords, " ")
	snippets, err := g.searcher.Search(ctx, query, history.SearchOpts{
		Limit: searchLimit,
		Days:  g.lookbackDays,
	})
	if err != nil || !g.searcher.Available() {
		return Verdict{
			Passed:         true,
			Reason:         "history unavailable, skipping (fail-open)",
			SuggestedState: playbook.StateDraft,
		}
	}

	successes, failures, sessions := classify(snippets)

	v := Verdict{
		SessionCount: sessions,
		SuccessCount: successes,
		FailureCount: failures,
	}

	switch {
	case sessions == 0:
		v.Passed = true
		v.Reason = "no historical evidence"
		v.SuggestedState = playbook.StateDraft
	case successes >= autoAcceptSuccesses && failures == 0:
		v.Passed = true
		v.Reason = "strong success history, auto-accepted"
		v.SuggestedState = playbook.StateActive
	case failures >= autoRejectFailures && successes == 0:
		v.Passed = false
		v.Reason = "consistent failure history, auto-rejected"
		v.SuggestedState = playbook.StateDraft
	default:
		v.Passed = true
		v.Ambiguous = true
		v.Reason = "ambiguous evidence, defer to validator"
		v.SuggestedState = playbook.StateDraft
	}

	g.logger.Debug("evidence gate decision",
		zap.Int("sessions", sessions),
		zap.Int("successes", successes),
		zap.Int("failures", failures),
		zap.Bool("passed", v.Passed),
		zap.String("reason", v.Reason))

	return v
}

// classify counts success and failure signals per distinct session. A
// session can contribute to both columns; the decision table's zero checks
// then route it to the ambiguous row.
func classify(snippets []history.Snippet) (successes, failures, sessions int) {
	type tally struct{ success, failure bool }
	bySession := make(map[string]*tally)

	for _, s := range snippets {
		t := bySession[s.SessionPath]
		if t == nil {
			t = &tally{}
			bySession[s.SessionPath] = t
		}
		if matchesAny(successPatterns, s.Text) {
			t.success = true
		}
		if matchesAny(failurePatterns, s.Text) {
			t.failure = true
		}
	}

	for _, t := range bySession {
		if t.success {
			successes++
		}
		if t.failure {
			failures++
		}
	}
	return successes, failures, len(bySession)
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
