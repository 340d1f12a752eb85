package scoring

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/playbook"
)

func testScoring() config.ScoringConfig {
	return config.ScoringConfig{
		DecayHalfLifeDays:        90,
		HarmfulMultiplier:        4,
		MinFeedbackForActive:     3,
		MinHelpfulForProven:      5,
		MaxHarmfulRatioForProven: 0.1,
		StaleDays:                90,
	}
}

func eventsAt(now time.Time, feedbackType playbook.FeedbackType, agesDays ...float64) []playbook.FeedbackEvent {
	events := make([]playbook.FeedbackEvent, 0, len(agesDays))
	for _, age := range agesDays {
		events = append(events, playbook.FeedbackEvent{
			Type:      feedbackType,
			Timestamp: now.Add(-time.Duration(age * 24 * float64(time.Hour))),
		})
	}
	return events
}

func TestDecayed(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name   string
		events []playbook.FeedbackEvent
		want   float64
	}{
		{"fresh event contributes 1", eventsAt(now, playbook.FeedbackHelpful, 0), 1.0},
		{"one half-life halves", eventsAt(now, playbook.FeedbackHelpful, 90), 0.5},
		{"two half-lives quarter", eventsAt(now, playbook.FeedbackHelpful, 180), 0.25},
		{"200 days at 90-day half-life", eventsAt(now, playbook.FeedbackHelpful, 200), math.Pow(0.5, 200.0/90.0)},
		{"future event clamps to present", eventsAt(now, playbook.FeedbackHelpful, -30), 1.0},
		{"wrong type ignored", eventsAt(now, playbook.FeedbackHarmful, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decayed(tt.events, playbook.FeedbackHelpful, 90, now)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Decayed = %v, want %v", got, tt.want)
			}
		})
	}

	// Weighted events scale linearly.
	weighted := []playbook.FeedbackEvent{{Type: playbook.FeedbackHelpful, Timestamp: now, Weight: 0.5}}
	if got := Decayed(weighted, playbook.FeedbackHelpful, 90, now); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("weighted event = %v, want 0.5", got)
	}
}

func TestEffectiveUsesMaturityMultiplier(t *testing.T) {
	now := time.Now().UTC()
	cfg := testScoring()

	b := &playbook.Bullet{
		Maturity:       playbook.MaturityProven,
		FeedbackEvents: eventsAt(now, playbook.FeedbackHelpful, 0, 0, 0, 0, 0, 0),
	}

	// 6 fresh helpful, 0 harmful: raw 6, proven multiplier 1.5, effective 9.
	if got := Effective(b, cfg, now); math.Abs(got-9.0) > 1e-9 {
		t.Errorf("Effective = %v, want 9.0", got)
	}

	b.Maturity = playbook.MaturityDeprecated
	if got := Effective(b, cfg, now); got != 0 {
		t.Errorf("deprecated bullet should score 0, got %v", got)
	}
}

func TestHarmfulAsymmetry(t *testing.T) {
	now := time.Now().UTC()
	cfg := testScoring()

	b := &playbook.Bullet{
		Maturity: playbook.MaturityEstablished,
		FeedbackEvents: append(
			eventsAt(now, playbook.FeedbackHelpful, 0, 0, 0),
			eventsAt(now, playbook.FeedbackHarmful, 0)...),
	}

	// 3 helpful - 4*1 harmful = -1.
	if got := Effective(b, cfg, now); math.Abs(got-(-1.0)) > 1e-9 {
		t.Errorf("Effective = %v, want -1", got)
	}
}

func TestNextMaturity(t *testing.T) {
	now := time.Now().UTC()
	cfg := testScoring()

	tests := []struct {
		name    string
		helpful int
		harmful int
		current playbook.Maturity
		want    playbook.Maturity
	}{
		{"no feedback stays candidate", 0, 0, playbook.MaturityCandidate, playbook.MaturityCandidate},
		{"below active threshold", 2, 0, playbook.MaturityCandidate, playbook.MaturityCandidate},
		{"enough mixed feedback", 3, 0, playbook.MaturityCandidate, playbook.MaturityEstablished},
		{"proven path", 6, 0, playbook.MaturityEstablished, playbook.MaturityProven},
		{"harmful ratio blocks proven", 6, 2, playbook.MaturityEstablished, playbook.MaturityEstablished},
		{"toxic ratio deprecates", 2, 4, playbook.MaturityEstablished, playbook.MaturityDeprecated},
		{"deprecated is a sink", 10, 0, playbook.MaturityDeprecated, playbook.MaturityDeprecated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &playbook.Bullet{Maturity: tt.current}
			for i := 0; i < tt.helpful; i++ {
				b.FeedbackEvents = append(b.FeedbackEvents, playbook.FeedbackEvent{Type: playbook.FeedbackHelpful, Timestamp: now})
			}
			for i := 0; i < tt.harmful; i++ {
				b.FeedbackEvents = append(b.FeedbackEvents, playbook.FeedbackEvent{Type: playbook.FeedbackHarmful, Timestamp: now})
			}
			if got := NextMaturity(b, cfg, now); got != tt.want {
				t.Errorf("NextMaturity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPromoteGuard(t *testing.T) {
	now := time.Now().UTC()
	cfg := testScoring()

	// Candidate with strong evidence jumps straight to proven.
	b := &playbook.Bullet{
		Maturity:       playbook.MaturityCandidate,
		FeedbackEvents: eventsAt(now, playbook.FeedbackHelpful, 0, 0, 0, 0, 0, 0),
	}
	next, changed := Promote(b, cfg, now)
	if !changed || next != playbook.MaturityProven {
		t.Errorf("Promote = (%v, %v), want (proven, true)", next, changed)
	}

	// Proven is a sink even when the evidence has decayed away.
	b = &playbook.Bullet{Maturity: playbook.MaturityProven}
	if _, changed := Promote(b, cfg, now); changed {
		t.Error("proven bullet should never move via promotion")
	}

	// Evidence supporting a lower level never regresses via promotion.
	b = &playbook.Bullet{Maturity: playbook.MaturityEstablished}
	next, changed = Promote(b, cfg, now)
	if changed || next != playbook.MaturityEstablished {
		t.Errorf("Promote regressed to %v", next)
	}

	// Toxic evidence does not deprecate via the promotion path.
	b = &playbook.Bullet{
		Maturity: playbook.MaturityEstablished,
		FeedbackEvents: append(
			eventsAt(now, playbook.FeedbackHelpful, 0),
			eventsAt(now, playbook.FeedbackHarmful, 0, 0, 0, 0)...),
	}
	if _, changed := Promote(b, cfg, now); changed {
		t.Error("promotion must not apply deprecation")
	}
}

func TestDemotion(t *testing.T) {
	now := time.Now().UTC()
	cfg := testScoring()

	// Mildly negative: one level down.
	b := &playbook.Bullet{
		State:    playbook.StateActive,
		Maturity: playbook.MaturityEstablished,
		FeedbackEvents: append(
			eventsAt(now, playbook.FeedbackHelpful, 0, 0, 0),
			eventsAt(now, playbook.FeedbackHarmful, 0)...),
	}
	if got := Demotion(b, cfg, 2, now); got != DemoteOneLevel {
		t.Errorf("Demotion = %v, want DemoteOneLevel", got)
	}

	// Deeply negative: deprecate.
	b.FeedbackEvents = eventsAt(now, playbook.FeedbackHarmful, 0, 0)
	if got := Demotion(b, cfg, 2, now); got != DemoteDeprecate {
		t.Errorf("Demotion = %v, want DemoteDeprecate", got)
	}

	// Pinned bullets are exempt.
	b.Pinned = true
	if got := Demotion(b, cfg, 2, now); got != DemoteNone {
		t.Errorf("pinned bullet demoted: %v", got)
	}

	if got := DemoteOne(playbook.MaturityProven); got != playbook.MaturityEstablished {
		t.Errorf("DemoteOne(proven) = %v", got)
	}
	if got := DemoteOne(playbook.MaturityCandidate); got != playbook.MaturityCandidate {
		t.Errorf("DemoteOne(candidate) = %v, candidate has no lower level", got)
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now().UTC()

	b := &playbook.Bullet{CreatedAt: now.Add(-100 * 24 * time.Hour)}
	if !IsStale(b, 90, now) {
		t.Error("eventless 100-day-old bullet should be stale at 90 days")
	}

	b.FeedbackEvents = eventsAt(now, playbook.FeedbackHelpful, 10)
	if IsStale(b, 90, now) {
		t.Error("recent event should reset staleness")
	}

	b.FeedbackEvents = eventsAt(now, playbook.FeedbackHelpful, 120)
	if !IsStale(b, 90, now) {
		t.Error("old last event should be stale")
	}
}

func TestShouldInvert(t *testing.T) {
	now := time.Now().UTC()
	cfg := testScoring()

	harmful := func(n int) []playbook.FeedbackEvent {
		var ages []float64
		for i := 0; i < n; i++ {
			ages = append(ages, 0)
		}
		return eventsAt(now, playbook.FeedbackHarmful, ages...)
	}

	b := &playbook.Bullet{State: playbook.StateActive, Maturity: playbook.MaturityEstablished, FeedbackEvents: harmful(3)}
	if !ShouldInvert(b, cfg, now) {
		t.Error("3 fresh harmful, 0 helpful should invert")
	}

	// Decay pushes harmful below the floor: 3 events at 200 days each
	// contribute 0.214, summing to ~0.64 < 3.
	b.FeedbackEvents = eventsAt(now, playbook.FeedbackHarmful, 200, 200, 200)
	if ShouldInvert(b, cfg, now) {
		t.Error("decayed harmful below 3 must not invert")
	}

	// Helpful evidence holds the line: 3 harmful but 2 helpful fails 2x rule.
	b.FeedbackEvents = append(harmful(3), eventsAt(now, playbook.FeedbackHelpful, 0, 0)...)
	if ShouldInvert(b, cfg, now) {
		t.Error("harmful not exceeding 2x helpful must not invert")
	}

	b.FeedbackEvents = harmful(4)
	b.Pinned = true
	if ShouldInvert(b, cfg, now) {
		t.Error("pinned bullets are exempt from inversion")
	}
	b.Pinned = false
	b.IsNegative = true
	if ShouldInvert(b, cfg, now) {
		t.Error("anti-patterns are never inverted again")
	}
}

func TestInvert(t *testing.T) {
	orig := &playbook.Bullet{
		ID:             "b-orig",
		Content:        "  Always use the shared helper for retries  ",
		Category:       "reliability",
		Scope:          playbook.ScopeWorkspace,
		Workspace:      "api",
		Tags:           []string{"retries"},
		SourceSessions: []string{"/s/1"},
	}

	inv := Invert(orig, "Caused duplicate side effects")

	if !strings.HasPrefix(inv.Content, "AVOID: Always use the shared helper for retries") {
		t.Errorf("content = %q", inv.Content)
	}
	if !strings.HasSuffix(inv.Content, ". Caused duplicate side effects") {
		t.Errorf("reason missing from content: %q", inv.Content)
	}
	if inv.Kind != playbook.KindAntiPattern || !inv.IsNegative {
		t.Error("inverted bullet must be an anti-pattern")
	}
	if inv.Maturity != playbook.MaturityCandidate {
		t.Errorf("inverted maturity = %v, want candidate", inv.Maturity)
	}
	if inv.Scope != playbook.ScopeWorkspace || inv.Workspace != "api" {
		t.Error("scope and workspace must be copied")
	}
	if len(inv.SourceSessions) != 1 || inv.SourceSessions[0] != "/s/1" {
		t.Error("source sessions must be copied")
	}
	if inv.ConfidenceDecayHalfLifeDays != 0 {
		t.Error("inverted bullet inherits the config half-life, not an override")
	}
	if inv.ID == orig.ID || inv.ID == "" {
		t.Errorf("inverted bullet needs a fresh id, got %q", inv.ID)
	}
}

func TestInversionReason(t *testing.T) {
	now := time.Now().UTC()
	b := &playbook.Bullet{FeedbackEvents: []playbook.FeedbackEvent{
		{Type: playbook.FeedbackHarmful, Timestamp: now.Add(-48 * time.Hour), Reason: "older reason"},
		{Type: playbook.FeedbackHarmful, Timestamp: now, Reason: "broke the deploy"},
		{Type: playbook.FeedbackHelpful, Timestamp: now, Reason: "ignored"},
	}}

	if got := InversionReason(b); got != "broke the deploy" {
		t.Errorf("InversionReason = %q, want latest harmful reason", got)
	}

	b.FeedbackEvents = []playbook.FeedbackEvent{{Type: playbook.FeedbackHarmful, Timestamp: now}}
	if got := InversionReason(b); got == "" {
		t.Error("fallback reason must be non-empty")
	}
}
