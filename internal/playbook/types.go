// Package playbook defines the playbook document model and the file-backed
// store: cascaded loading, toxic filtering, bullet CRUD and the feedback API.
package playbook

import (
	"strings"
	"time"
)

// SchemaVersion is the current playbook document schema.
const SchemaVersion = 1

// Scope is the applicability scope of a bullet.
type Scope string

const (
	// ScopeGlobal applies everywhere.
	ScopeGlobal Scope = "global"

	// ScopeWorkspace applies to a single workspace (see Bullet.Workspace).
	ScopeWorkspace Scope = "workspace"

	// ScopeLanguage applies to a programming language (ScopeKey names it).
	ScopeLanguage Scope = "language"

	// ScopeFramework applies to a framework (ScopeKey names it).
	ScopeFramework Scope = "framework"

	// ScopeTask applies to a task type (ScopeKey names it).
	ScopeTask Scope = "task"
)

// ParseScope validates a scope string.
func ParseScope(raw string) (Scope, bool) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeGlobal:
		return ScopeGlobal, true
	case ScopeWorkspace:
		return ScopeWorkspace, true
	case ScopeLanguage:
		return ScopeLanguage, true
	case ScopeFramework:
		return ScopeFramework, true
	case ScopeTask:
		return ScopeTask, true
	}
	return "", false
}

// State is the coarse lifecycle state of a bullet.
type State string

const (
	// StateDraft is a bullet not yet validated for active use.
	StateDraft State = "draft"

	// StateActive is a bullet in the active set.
	StateActive State = "active"

	// StateRetired is a bullet excluded from active views, kept for audit.
	StateRetired State = "retired"
)

// Maturity is the quality tier of a bullet.
type Maturity string

const (
	// MaturityCandidate is the initial tier for new bullets.
	MaturityCandidate Maturity = "candidate"

	// MaturityEstablished has enough feedback to be trusted at full weight.
	MaturityEstablished Maturity = "established"

	// MaturityProven has strong helpful evidence and low harmful ratio.
	MaturityProven Maturity = "proven"

	// MaturityDeprecated is the terminal tier; the bullet is inactive.
	MaturityDeprecated Maturity = "deprecated"
)

// Kind categorizes what a bullet expresses.
type Kind string

const (
	// KindWorkflowRule is a positive procedural rule.
	KindWorkflowRule Kind = "workflow_rule"

	// KindAntiPattern advises avoidance. Implies IsNegative.
	KindAntiPattern Kind = "anti_pattern"

	// KindStackPattern is a technology-stack-specific pattern.
	KindStackPattern Kind = "stack_pattern"
)

// FeedbackType distinguishes helpful from harmful evidence.
type FeedbackType string

const (
	// FeedbackHelpful records that applying the bullet helped.
	FeedbackHelpful FeedbackType = "helpful"

	// FeedbackHarmful records that applying the bullet hurt.
	FeedbackHarmful FeedbackType = "harmful"
)

// FeedbackEvent is one observed signal about a bullet. Events are the single
// source of truth; the counters on Bullet are denormalized caches.
type FeedbackEvent struct {
	// Type is helpful or harmful.
	Type FeedbackType `yaml:"type" json:"type"`

	// Timestamp is when the signal was observed. Future timestamps are
	// clamped to now at decay time, never rewritten here.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`

	// SessionPath identifies the session that produced the signal.
	SessionPath string `yaml:"sessionPath,omitempty" json:"sessionPath,omitempty"`

	// Reason explains harmful signals.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`

	// Context carries free-form detail (e.g. outcome weights).
	Context string `yaml:"context,omitempty" json:"context,omitempty"`

	// Weight scales the event's decay contribution. Zero means 1.
	Weight float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// Bullet is one rule of procedural knowledge.
type Bullet struct {
	ID string `yaml:"id" json:"id"`

	Content  string `yaml:"content" json:"content"`
	Category string `yaml:"category" json:"category"`
	Kind     Kind   `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Type is "rule" or "anti-pattern"; kept alongside Kind for consumers
	// that only need the binary split.
	Type       string `yaml:"type,omitempty" json:"type,omitempty"`
	IsNegative bool   `yaml:"isNegative,omitempty" json:"isNegative,omitempty"`

	Scope     Scope  `yaml:"scope,omitempty" json:"scope,omitempty"`
	ScopeKey  string `yaml:"scopeKey,omitempty" json:"scopeKey,omitempty"`
	Workspace string `yaml:"workspace,omitempty" json:"workspace,omitempty"`

	State    State    `yaml:"state,omitempty" json:"state,omitempty"`
	Maturity Maturity `yaml:"maturity,omitempty" json:"maturity,omitempty"`

	Pinned       bool   `yaml:"pinned,omitempty" json:"pinned,omitempty"`
	PinnedReason string `yaml:"pinnedReason,omitempty" json:"pinnedReason,omitempty"`

	Deprecated        bool       `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`
	DeprecatedAt      *time.Time `yaml:"deprecatedAt,omitempty" json:"deprecatedAt,omitempty"`
	DeprecationReason string     `yaml:"deprecationReason,omitempty" json:"deprecationReason,omitempty"`
	ReplacedBy        string     `yaml:"replacedBy,omitempty" json:"replacedBy,omitempty"`

	SourceSessions []string `yaml:"sourceSessions,omitempty" json:"sourceSessions,omitempty"`
	SourceAgents   []string `yaml:"sourceAgents,omitempty" json:"sourceAgents,omitempty"`
	Tags           []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	FeedbackEvents []FeedbackEvent `yaml:"feedbackEvents,omitempty" json:"feedbackEvents,omitempty"`
	HelpfulCount   int             `yaml:"helpfulCount" json:"helpfulCount"`
	HarmfulCount   int             `yaml:"harmfulCount" json:"harmfulCount"`

	CreatedAt       time.Time  `yaml:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time  `yaml:"updatedAt" json:"updatedAt"`
	LastValidatedAt *time.Time `yaml:"lastValidatedAt,omitempty" json:"lastValidatedAt,omitempty"`

	// ConfidenceDecayHalfLifeDays overrides the config default half-life
	// for this bullet's feedback decay. Zero means use the default.
	ConfidenceDecayHalfLifeDays float64 `yaml:"confidenceDecayHalfLifeDays,omitempty" json:"confidenceDecayHalfLifeDays,omitempty"`

	Embedding   []float32 `yaml:"embedding,omitempty" json:"embedding,omitempty"`
	ContentHash string    `yaml:"contentHash,omitempty" json:"contentHash,omitempty"`
}

// IsActive reports whether the bullet participates in active views and
// scoring. The three retirement markers agree after any lifecycle transition,
// but any one of them is sufficient to exclude the bullet.
func (b *Bullet) IsActive() bool {
	return !b.Deprecated && b.State != StateRetired && b.Maturity != MaturityDeprecated
}

// IsAntiPattern reports whether the bullet advises avoidance.
func (b *Bullet) IsAntiPattern() bool {
	return b.IsNegative || b.Kind == KindAntiPattern
}

// HalfLifeDays resolves the bullet's decay half-life against a default.
func (b *Bullet) HalfLifeDays(defaultDays float64) float64 {
	if b.ConfidenceDecayHalfLifeDays > 0 {
		return b.ConfidenceDecayHalfLifeDays
	}
	return defaultDays
}

// DeprecatedPattern flags task text that matches an obsolete approach.
type DeprecatedPattern struct {
	// Pattern is matched case-insensitively as a substring against
	// candidate task text and history snippets.
	Pattern string `yaml:"pattern" json:"pattern"`

	// Reason explains why the pattern is deprecated.
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`

	// Replacement names what to use instead.
	Replacement string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
}

// Matches reports whether text contains the pattern, case-insensitively.
func (p *DeprecatedPattern) Matches(text string) bool {
	if p.Pattern == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(p.Pattern))
}

// Metadata carries playbook-level bookkeeping.
type Metadata struct {
	CreatedAt              time.Time  `yaml:"createdAt" json:"createdAt"`
	LastReflection         *time.Time `yaml:"lastReflection,omitempty" json:"lastReflection,omitempty"`
	TotalReflections       int        `yaml:"totalReflections" json:"totalReflections"`
	TotalSessionsProcessed int        `yaml:"totalSessionsProcessed" json:"totalSessionsProcessed"`
}

// Playbook is the aggregate root, persisted as one YAML document per file.
type Playbook struct {
	SchemaVersion      int                 `yaml:"schema_version" json:"schema_version"`
	Name               string              `yaml:"name" json:"name"`
	Description        string              `yaml:"description,omitempty" json:"description,omitempty"`
	Metadata           Metadata            `yaml:"metadata" json:"metadata"`
	DeprecatedPatterns []DeprecatedPattern `yaml:"deprecatedPatterns,omitempty" json:"deprecatedPatterns,omitempty"`
	Bullets            []*Bullet           `yaml:"bullets" json:"bullets"`
}

// New returns an empty playbook with defaults.
func New(name string) *Playbook {
	return &Playbook{
		SchemaVersion: SchemaVersion,
		Name:          name,
		Metadata:      Metadata{CreatedAt: time.Now().UTC()},
	}
}

// ToxicEntry is one forgotten piece of content that must never be
// resurrected by reflection. Persisted as append-only NDJSON.
type ToxicEntry struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Reason      string    `json:"reason,omitempty"`
	ForgottenAt time.Time `json:"forgottenAt"`
}
