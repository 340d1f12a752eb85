// Package curator applies batches of playbook deltas and runs the
// lifecycle post-processing pass. The curator mutates the playbook in
// memory only; callers persist under the playbook lock.
package curator

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/scoring"
	"github.com/boshu2/cassmem/internal/similarity"
)

// Delta types.
const (
	DeltaAdd       = "add"
	DeltaHelpful   = "helpful"
	DeltaHarmful   = "harmful"
	DeltaReplace   = "replace"
	DeltaDeprecate = "deprecate"
	DeltaMerge     = "merge"
)

// BulletSpec is the payload of an add delta. State overrides the draft
// default when the evidence gate auto-accepts a candidate.
type BulletSpec struct {
	Content  string         `yaml:"content" json:"content"`
	Category string         `yaml:"category" json:"category"`
	Kind     playbook.Kind  `yaml:"kind,omitempty" json:"kind,omitempty"`
	Scope    playbook.Scope `yaml:"scope,omitempty" json:"scope,omitempty"`
	ScopeKey string         `yaml:"scopeKey,omitempty" json:"scopeKey,omitempty"`
	State    playbook.State `yaml:"state,omitempty" json:"state,omitempty"`
	Tags     []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Delta is one proposed playbook mutation. Type selects which of the other
// fields are meaningful; unknown types land in Result.Conflicts.
type Delta struct {
	Type string `yaml:"type" json:"type"`

	// add
	Bullet        *BulletSpec `yaml:"bullet,omitempty" json:"bullet,omitempty"`
	SourceSession string      `yaml:"sourceSession,omitempty" json:"sourceSession,omitempty"`

	// helpful / harmful / replace / deprecate
	BulletID   string `yaml:"bulletId,omitempty" json:"bulletId,omitempty"`
	Reason     string `yaml:"reason,omitempty" json:"reason,omitempty"`
	Context    string `yaml:"context,omitempty" json:"context,omitempty"`
	NewContent string `yaml:"newContent,omitempty" json:"newContent,omitempty"`
	ReplacedBy string `yaml:"replacedBy,omitempty" json:"replacedBy,omitempty"`

	// merge
	BulletIDs     []string `yaml:"bulletIds,omitempty" json:"bulletIds,omitempty"`
	MergedContent string   `yaml:"mergedContent,omitempty" json:"mergedContent,omitempty"`
}

// Conflict records why a delta was not applied.
type Conflict struct {
	Delta  Delta  `json:"delta"`
	Reason string `json:"reason"`
}

// Promotion records one maturity change from post-processing.
type Promotion struct {
	BulletID string            `json:"bulletId"`
	From     playbook.Maturity `json:"from"`
	To       playbook.Maturity `json:"to"`
	Reason   string            `json:"reason"`
}

// Inversion records a rule flipped into an anti-pattern.
type Inversion struct {
	OriginalID string `json:"originalId"`
	NewID      string `json:"newId"`
	Reason     string `json:"reason"`
}

// Result summarizes one curator pass.
type Result struct {
	Applied    int         `json:"applied"`
	Skipped    int         `json:"skipped"`
	Conflicts  []Conflict  `json:"conflicts,omitempty"`
	Promotions []Promotion `json:"promotions,omitempty"`
	Inversions []Inversion `json:"inversions,omitempty"`
	Pruned     int         `json:"pruned"`
}

// Curate applies the deltas in order, then runs promotions, demotions and
// inversions once. The playbook is mutated in place.
func Curate(pb *playbook.Playbook, deltas []Delta, cfg *config.Config, logger *zap.Logger) *Result {
	res := &Result{}

	for _, d := range deltas {
		if err := apply(pb, d, cfg); err != nil {
			res.Skipped++
			res.Conflicts = append(res.Conflicts, Conflict{Delta: d, Reason: err.Error()})
			logger.Debug("delta skipped", zap.String("type", d.Type), zap.String("reason", err.Error()))
			continue
		}
		res.Applied++
	}

	postProcess(pb, cfg, res, logger)

	logger.Info("curation complete",
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("promotions", len(res.Promotions)),
		zap.Int("inversions", len(res.Inversions)),
		zap.Int("pruned", res.Pruned))

	return res
}

func apply(pb *playbook.Playbook, d Delta, cfg *config.Config) error {
	switch d.Type {
	case DeltaAdd:
		return applyAdd(pb, d, cfg)
	case DeltaHelpful:
		return applyFeedback(pb, d, playbook.FeedbackHelpful)
	case DeltaHarmful:
		return applyFeedback(pb, d, playbook.FeedbackHarmful)
	case DeltaReplace:
		return applyReplace(pb, d)
	case DeltaDeprecate:
		return applyDeprecate(pb, d)
	case DeltaMerge:
		return applyMerge(pb, d)
	default:
		return fmt.Errorf("unknown delta type %q", d.Type)
	}
}

func applyAdd(pb *playbook.Playbook, d Delta, cfg *config.Config) error {
	if d.Bullet == nil {
		return fmt.Errorf("add delta missing bullet")
	}
	if strings.TrimSpace(d.Bullet.Content) == "" {
		return fmt.Errorf("add delta missing content")
	}
	if strings.TrimSpace(d.Bullet.Category) == "" {
		return fmt.Errorf("add delta missing category")
	}

	// Exact duplicates are silent no-ops, near duplicates reinforce.
	hash := similarity.HashContent(d.Bullet.Content)
	if other := activeHashHolder(pb, hash); other != nil {
		return fmt.Errorf("duplicate of %s", other.ID)
	}

	if existing := playbook.FindSimilarBullet(pb, d.Bullet.Content, cfg.DedupSimilarityThreshold); existing != nil {
		playbook.RecordFeedbackEvent(pb, existing.ID, playbook.FeedbackHelpful, playbook.FeedbackOpts{
			SessionPath: d.SourceSession,
			Context:     "Reinforced by similar insight",
		})
		return nil
	}

	b, err := playbook.AddBullet(pb, playbook.BulletInput{
		Content:  d.Bullet.Content,
		Category: d.Bullet.Category,
		Kind:     d.Bullet.Kind,
		Scope:    d.Bullet.Scope,
		ScopeKey: d.Bullet.ScopeKey,
		Tags:     d.Bullet.Tags,
	}, d.SourceSession, 0)
	if err != nil {
		return err
	}
	if d.Bullet.State != "" {
		b.State = d.Bullet.State
	}
	return nil
}

func applyFeedback(pb *playbook.Playbook, d Delta, feedbackType playbook.FeedbackType) error {
	if d.BulletID == "" {
		return fmt.Errorf("%s delta missing bulletId", d.Type)
	}
	ok := playbook.RecordFeedbackEvent(pb, d.BulletID, feedbackType, playbook.FeedbackOpts{
		SessionPath: d.SourceSession,
		Reason:      d.Reason,
		Context:     d.Context,
	})
	if !ok {
		return fmt.Errorf("bullet %s not found", d.BulletID)
	}
	return nil
}

func applyReplace(pb *playbook.Playbook, d Delta) error {
	b := playbook.FindBullet(pb, d.BulletID)
	if b == nil {
		return fmt.Errorf("bullet %s not found", d.BulletID)
	}
	if strings.TrimSpace(d.NewContent) == "" {
		return fmt.Errorf("replace delta missing newContent")
	}

	hash := similarity.HashContent(d.NewContent)
	if other := activeHashHolder(pb, hash, b.ID); other != nil {
		return fmt.Errorf("replacement duplicates %s", other.ID)
	}

	b.Content = d.NewContent
	b.ContentHash = hash
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func applyDeprecate(pb *playbook.Playbook, d Delta) error {
	if !playbook.DeprecateBullet(pb, d.BulletID, d.Reason, d.ReplacedBy) {
		return fmt.Errorf("bullet %s not found", d.BulletID)
	}
	return nil
}

func applyMerge(pb *playbook.Playbook, d Delta) error {
	if strings.TrimSpace(d.MergedContent) == "" {
		return fmt.Errorf("merge delta missing mergedContent")
	}

	var sources []*playbook.Bullet
	for _, id := range d.BulletIDs {
		if b := playbook.FindBullet(pb, id); b != nil {
			sources = append(sources, b)
		}
	}
	if len(sources) < 2 {
		return fmt.Errorf("merge requires at least 2 resolvable sources, got %d", len(sources))
	}

	// Sources are about to be deprecated, so only bullets outside the merge
	// can collide with the merged content.
	hash := similarity.HashContent(d.MergedContent)
	if other := activeHashHolder(pb, hash, d.BulletIDs...); other != nil {
		return fmt.Errorf("merged content duplicates %s", other.ID)
	}

	tagSet := map[string]bool{}
	var tags []string
	for _, src := range sources {
		for _, tag := range src.Tags {
			if !tagSet[tag] {
				tagSet[tag] = true
				tags = append(tags, tag)
			}
		}
	}

	merged, err := playbook.AddBullet(pb, playbook.BulletInput{
		Content:  d.MergedContent,
		Category: sources[0].Category,
		Scope:    sources[0].Scope,
		Tags:     tags,
	}, d.SourceSession, 0)
	if err != nil {
		return err
	}

	for _, src := range sources {
		playbook.DeprecateBullet(pb, src.ID, "merged", merged.ID)
	}
	return nil
}

// activeHashHolder returns the active bullet carrying hash, ignoring the
// given ids. Used to keep content hashes unique among active bullets on
// every path that writes content.
func activeHashHolder(pb *playbook.Playbook, hash string, ignoreIDs ...string) *playbook.Bullet {
	ignore := make(map[string]bool, len(ignoreIDs))
	for _, id := range ignoreIDs {
		ignore[id] = true
	}
	for _, b := range playbook.ActiveBullets(pb) {
		if !ignore[b.ID] && b.ContentHash == hash {
			return b
		}
	}
	return nil
}

// postProcess runs promotions, demotions and inversions, in that order.
func postProcess(pb *playbook.Playbook, cfg *config.Config, res *Result, logger *zap.Logger) {
	now := time.Now().UTC()

	for _, b := range pb.Bullets {
		if b.Deprecated || b.Maturity == playbook.MaturityDeprecated {
			continue
		}
		next, changed := scoring.Promote(b, cfg.Scoring, now)
		if !changed {
			continue
		}
		res.Promotions = append(res.Promotions, Promotion{
			BulletID: b.ID,
			From:     b.Maturity,
			To:       next,
			Reason:   "feedback threshold reached",
		})
		b.Maturity = next
		if b.State == playbook.StateDraft {
			b.State = playbook.StateActive
		}
		b.UpdatedAt = now
	}

	for _, b := range pb.Bullets {
		// Inversion-eligible bullets are handled below; pruning them here
		// would lose the anti-pattern.
		if scoring.ShouldInvert(b, cfg.Scoring, now) {
			continue
		}
		switch scoring.Demotion(b, cfg.Scoring, cfg.PruneHarmfulThreshold, now) {
		case scoring.DemoteDeprecate:
			playbook.DeprecateBullet(pb, b.ID, "auto-pruned: effective score below threshold", "")
			res.Pruned++
			logger.Info("bullet auto-pruned", zap.String("id", b.ID))
		case scoring.DemoteOneLevel:
			b.Maturity = scoring.DemoteOne(b.Maturity)
			b.UpdatedAt = now
		}
	}

	// Snapshot before appending: inversions must not reprocess the
	// anti-patterns they create.
	candidates := append([]*playbook.Bullet(nil), pb.Bullets...)
	for _, b := range candidates {
		if !scoring.ShouldInvert(b, cfg.Scoring, now) {
			continue
		}
		reason := scoring.InversionReason(b)
		inverted := scoring.Invert(b, reason)
		pb.Bullets = append(pb.Bullets, inverted)
		playbook.DeprecateBullet(pb, b.ID, "inverted to anti-pattern", inverted.ID)
		res.Inversions = append(res.Inversions, Inversion{
			OriginalID: b.ID,
			NewID:      inverted.ID,
			Reason:     reason,
		})
		logger.Info("bullet inverted",
			zap.String("original", b.ID),
			zap.String("antiPattern", inverted.ID))
	}
}
