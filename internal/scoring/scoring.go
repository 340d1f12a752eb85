// Package scoring implements the time-decayed feedback model and the
// maturity lifecycle for playbook bullets.
//
// Harmful evidence is weighted several times heavier than helpful evidence,
// so trust degrades much faster than it grows. All scoring is pure: the
// curator decides when to persist the results.
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/similarity"
)

// Maturity multipliers applied to the raw score.
const (
	candidateMultiplier   = 0.5
	establishedMultiplier = 1.0
	provenMultiplier      = 1.5
	deprecatedMultiplier  = 0.0
)

// Inversion thresholds. A rule that keeps hurting becomes its own warning.
const (
	invertMinHarmful    = 3.0
	invertHarmfulFactor = 2.0
)

// demotionOneLevelCeiling: effective below zero demotes one level, below
// the negated prune threshold deprecates outright.

// Decayed sums the decayed contributions of feedback events of the given
// type. Each event of age d days contributes 0.5^(d/halfLife); future-dated
// events are clamped to age zero. An event weight of zero counts as 1.
func Decayed(events []playbook.FeedbackEvent, feedbackType playbook.FeedbackType, halfLifeDays float64, now time.Time) float64 {
	if halfLifeDays <= 0 {
		return 0
	}
	var sum float64
	for _, e := range events {
		if e.Type != feedbackType {
			continue
		}
		ageDays := now.Sub(e.Timestamp).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		weight := e.Weight
		if weight == 0 {
			weight = 1
		}
		sum += weight * math.Pow(0.5, ageDays/halfLifeDays)
	}
	return sum
}

// DecayedCounts returns the decayed helpful and harmful sums for a bullet,
// honoring its per-bullet half-life override.
func DecayedCounts(b *playbook.Bullet, cfg config.ScoringConfig, now time.Time) (helpful, harmful float64) {
	halfLife := b.HalfLifeDays(cfg.DecayHalfLifeDays)
	helpful = Decayed(b.FeedbackEvents, playbook.FeedbackHelpful, halfLife, now)
	harmful = Decayed(b.FeedbackEvents, playbook.FeedbackHarmful, halfLife, now)
	return helpful, harmful
}

// Raw computes decayedHelpful - harmfulMultiplier*decayedHarmful.
func Raw(helpful, harmful, harmfulMultiplier float64) float64 {
	return helpful - harmfulMultiplier*harmful
}

// MaturityMultiplier returns the score multiplier for a maturity level.
func MaturityMultiplier(m playbook.Maturity) float64 {
	switch m {
	case playbook.MaturityCandidate:
		return candidateMultiplier
	case playbook.MaturityEstablished:
		return establishedMultiplier
	case playbook.MaturityProven:
		return provenMultiplier
	case playbook.MaturityDeprecated:
		return deprecatedMultiplier
	}
	return candidateMultiplier
}

// Effective computes the bullet's effective score at the given time.
func Effective(b *playbook.Bullet, cfg config.ScoringConfig, now time.Time) float64 {
	helpful, harmful := DecayedCounts(b, cfg, now)
	return Raw(helpful, harmful, cfg.HarmfulMultiplier) * MaturityMultiplier(b.Maturity)
}

// NextMaturity evaluates the maturity state machine for a bullet's current
// decayed evidence. It returns the level the evidence supports, which may be
// below the current level; Promote applies the no-regression guard.
func NextMaturity(b *playbook.Bullet, cfg config.ScoringConfig, now time.Time) playbook.Maturity {
	if b.Maturity == playbook.MaturityDeprecated || b.Deprecated {
		return playbook.MaturityDeprecated
	}

	helpful, harmful := DecayedCounts(b, cfg, now)
	total := helpful + harmful
	harmfulRatio := 0.0
	if total > 0 {
		harmfulRatio = harmful / total
	}

	switch {
	case harmfulRatio > 0.3 && total > cfg.MinFeedbackForActive:
		return playbook.MaturityDeprecated
	case total < cfg.MinFeedbackForActive:
		return playbook.MaturityCandidate
	case helpful >= cfg.MinHelpfulForProven && harmfulRatio < cfg.MaxHarmfulRatioForProven:
		return playbook.MaturityProven
	default:
		return playbook.MaturityEstablished
	}
}

// maturityRank orders levels for the promotion guard. Deprecated sits below
// everything so the guard never promotes out of it.
func maturityRank(m playbook.Maturity) int {
	switch m {
	case playbook.MaturityDeprecated:
		return -1
	case playbook.MaturityCandidate:
		return 0
	case playbook.MaturityEstablished:
		return 1
	case playbook.MaturityProven:
		return 2
	}
	return 0
}

// Promote returns the bullet's next maturity under the promotion guard: a
// bullet only ever moves up via promotion, and proven and deprecated are
// sinks. Returns the new level and whether it changed.
func Promote(b *playbook.Bullet, cfg config.ScoringConfig, now time.Time) (playbook.Maturity, bool) {
	current := b.Maturity
	if current == "" {
		current = playbook.MaturityCandidate
	}
	if current == playbook.MaturityProven || current == playbook.MaturityDeprecated {
		return current, false
	}

	next := NextMaturity(b, cfg, now)
	if next == playbook.MaturityDeprecated {
		// Demotion handles downgrades; promotion never regresses.
		return current, false
	}
	if maturityRank(next) <= maturityRank(current) {
		return current, false
	}
	return next, true
}

// DemotionAction is the outcome of a demotion check.
type DemotionAction int

const (
	// DemoteNone leaves the bullet unchanged.
	DemoteNone DemotionAction = iota
	// DemoteOneLevel steps proven to established, established to candidate.
	DemoteOneLevel
	// DemoteDeprecate retires the bullet outright.
	DemoteDeprecate
)

// Demotion evaluates whether accumulated harm warrants a downgrade.
// Pinned bullets are exempt.
func Demotion(b *playbook.Bullet, cfg config.ScoringConfig, pruneThreshold float64, now time.Time) DemotionAction {
	if b.Pinned || !b.IsActive() {
		return DemoteNone
	}

	effective := Effective(b, cfg, now)
	switch {
	case effective < -pruneThreshold:
		return DemoteDeprecate
	case effective < 0:
		return DemoteOneLevel
	default:
		return DemoteNone
	}
}

// DemoteOne returns the level one step down. Candidate has nowhere lower to
// go short of deprecation, so it is returned unchanged.
func DemoteOne(m playbook.Maturity) playbook.Maturity {
	switch m {
	case playbook.MaturityProven:
		return playbook.MaturityEstablished
	case playbook.MaturityEstablished:
		return playbook.MaturityCandidate
	}
	return m
}

// IsStale reports whether a bullet has gone without signal for longer than
// staleDays. Bullets with no events age from createdAt.
func IsStale(b *playbook.Bullet, staleDays int, now time.Time) bool {
	if staleDays <= 0 {
		return false
	}
	cutoff := time.Duration(staleDays) * 24 * time.Hour

	if len(b.FeedbackEvents) == 0 {
		return now.Sub(b.CreatedAt) > cutoff
	}

	last := b.FeedbackEvents[0].Timestamp
	for _, e := range b.FeedbackEvents[1:] {
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return now.Sub(last) > cutoff
}

// ShouldInvert reports whether a bullet has accumulated enough harm to be
// flipped into an anti-pattern: active, not pinned, not already negative,
// decayed harmful at least 3 and more than twice the decayed helpful.
func ShouldInvert(b *playbook.Bullet, cfg config.ScoringConfig, now time.Time) bool {
	if b.Pinned || b.IsAntiPattern() || !b.IsActive() {
		return false
	}
	helpful, harmful := DecayedCounts(b, cfg, now)
	return harmful >= invertMinHarmful && harmful > invertHarmfulFactor*helpful
}

// Invert builds the anti-pattern bullet replacing a harmful rule. The
// caller appends it to the playbook and deprecates the original with
// replacedBy set to the new id. The new bullet uses the config half-life,
// not the original's override.
func Invert(b *playbook.Bullet, reason string) *playbook.Bullet {
	now := time.Now().UTC()
	content := "AVOID: " + strings.TrimSpace(b.Content)
	if reason != "" {
		content += ". " + reason
	}

	return &playbook.Bullet{
		ID:             playbook.NewBulletID(),
		Content:        content,
		Category:       b.Category,
		Kind:           playbook.KindAntiPattern,
		Type:           "anti-pattern",
		IsNegative:     true,
		Scope:          b.Scope,
		ScopeKey:       b.ScopeKey,
		Workspace:      b.Workspace,
		Tags:           append([]string(nil), b.Tags...),
		SourceSessions: append([]string(nil), b.SourceSessions...),
		SourceAgents:   append([]string(nil), b.SourceAgents...),
		State:          playbook.StateDraft,
		Maturity:       playbook.MaturityCandidate,
		CreatedAt:      now,
		UpdatedAt:      now,
		ContentHash:    similarity.HashContent(content),
	}
}

// InversionReason summarizes the harmful evidence on a bullet for the
// inverted content. The most recent harmful reason wins; the fallback names
// the count.
func InversionReason(b *playbook.Bullet) string {
	var latest time.Time
	var reason string
	harmful := 0
	for _, e := range b.FeedbackEvents {
		if e.Type != playbook.FeedbackHarmful {
			continue
		}
		harmful++
		if e.Reason != "" && e.Timestamp.After(latest) {
			latest = e.Timestamp
			reason = e.Reason
		}
	}
	if reason != "" {
		return reason
	}
	return "Repeatedly caused problems in practice"
}
