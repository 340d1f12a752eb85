package playbook

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boshu2/cassmem/internal/similarity"
)

// agentMarkers maps session-path substrings to the agent that produced the
// session. Order matters: first match wins.
var agentMarkers = []struct {
	marker string
	agent  string
}{
	{".claude", "claude"},
	{".cursor", "cursor"},
	{".codex", "codex"},
	{".aider", "aider"},
}

// AgentFromSessionPath sniffs the source agent from a session path.
// Returns "unknown" when no marker matches.
func AgentFromSessionPath(sessionPath string) string {
	for _, m := range agentMarkers {
		if strings.Contains(sessionPath, m.marker) {
			return m.agent
		}
	}
	return "unknown"
}

// NewBulletID generates a stable bullet id.
func NewBulletID() string {
	return "b-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// BulletInput is the caller-supplied portion of a new bullet.
type BulletInput struct {
	Content   string
	Category  string
	Kind      Kind
	Scope     Scope
	ScopeKey  string
	Workspace string
	Tags      []string
}

// AddBullet constructs a fresh bullet with lifecycle defaults and appends it
// to the playbook. halfLifeDays of zero leaves the config default in effect.
func AddBullet(pb *Playbook, in BulletInput, sourceSession string, halfLifeDays float64) (*Bullet, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent
	}
	if strings.TrimSpace(in.Category) == "" {
		return nil, ErrEmptyCategory
	}

	now := time.Now().UTC()
	b := &Bullet{
		ID:          NewBulletID(),
		Content:     in.Content,
		Category:    in.Category,
		Kind:        in.Kind,
		Type:        "rule",
		Scope:       in.Scope,
		ScopeKey:    in.ScopeKey,
		Workspace:   in.Workspace,
		Tags:        in.Tags,
		State:       StateDraft,
		Maturity:    MaturityCandidate,
		CreatedAt:   now,
		UpdatedAt:   now,
		ContentHash: similarity.HashContent(in.Content),

		ConfidenceDecayHalfLifeDays: halfLifeDays,
	}
	if b.Kind == "" {
		b.Kind = KindWorkflowRule
	}
	if b.Kind == KindAntiPattern {
		b.IsNegative = true
		b.Type = "anti-pattern"
	}
	if b.Scope == "" {
		b.Scope = ScopeGlobal
	}
	if sourceSession != "" {
		b.SourceSessions = []string{sourceSession}
		b.SourceAgents = []string{AgentFromSessionPath(sourceSession)}
	}

	pb.Bullets = append(pb.Bullets, b)
	return b, nil
}

// FindBullet returns the bullet with the given id, or nil.
func FindBullet(pb *Playbook, id string) *Bullet {
	for _, b := range pb.Bullets {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// ActiveBullets returns bullets participating in active views, preserving
// insertion order.
func ActiveBullets(pb *Playbook) []*Bullet {
	var active []*Bullet
	for _, b := range pb.Bullets {
		if b.IsActive() {
			active = append(active, b)
		}
	}
	return active
}

// BulletsByCategory returns active bullets in a category, case-insensitively.
func BulletsByCategory(pb *Playbook, category string) []*Bullet {
	var out []*Bullet
	for _, b := range ActiveBullets(pb) {
		if strings.EqualFold(b.Category, category) {
			out = append(out, b)
		}
	}
	return out
}

// FilterByScope returns active bullets whose scope matches. workspace
// narrows ScopeWorkspace bullets to a single workspace when non-empty.
func FilterByScope(pb *Playbook, scope Scope, workspace string) []*Bullet {
	var out []*Bullet
	for _, b := range ActiveBullets(pb) {
		if b.Scope != scope {
			continue
		}
		if scope == ScopeWorkspace && workspace != "" && b.Workspace != workspace {
			continue
		}
		out = append(out, b)
	}
	return out
}

// FindSimilarBullet scans all active bullets and returns the single
// highest-Jaccard match at or above threshold. Ties break to insertion
// order. Returns nil when nothing qualifies.
func FindSimilarBullet(pb *Playbook, content string, threshold float64) *Bullet {
	active := ActiveBullets(pb)
	contents := make([]string, len(active))
	for i, b := range active {
		contents[i] = b.Content
	}
	idx, _ := similarity.BestMatch(contents, content, threshold)
	if idx < 0 {
		return nil
	}
	return active[idx]
}

// DeprecateBullet retires a bullet, setting all three retirement markers so
// they agree. Returns false when the id is unknown. Explicit deprecation is
// allowed on pinned bullets; automatic paths must check Pinned first.
func DeprecateBullet(pb *Playbook, id, reason, replacedBy string) bool {
	b := FindBullet(pb, id)
	if b == nil {
		return false
	}

	now := time.Now().UTC()
	b.Deprecated = true
	b.DeprecatedAt = &now
	b.DeprecationReason = reason
	b.ReplacedBy = replacedBy
	b.State = StateRetired
	b.Maturity = MaturityDeprecated
	b.UpdatedAt = now
	return true
}

// PinBullet protects a bullet from auto-deprecation, pruning and inversion.
func PinBullet(pb *Playbook, id, reason string) error {
	b := FindBullet(pb, id)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBulletNotFound, id)
	}
	b.Pinned = true
	b.PinnedReason = reason
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// UnpinBullet clears the pin.
func UnpinBullet(pb *Playbook, id string) error {
	b := FindBullet(pb, id)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBulletNotFound, id)
	}
	b.Pinned = false
	b.PinnedReason = ""
	b.UpdatedAt = time.Now().UTC()
	return nil
}
