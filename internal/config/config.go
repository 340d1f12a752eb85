// Package config provides configuration management for cass-mem.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (CASSMEM_*, with .env support)
// 3. Project config (./.cass/config.yaml)
// 4. Home config (~/.cass/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ScoringConfig holds the decay and maturity thresholds.
type ScoringConfig struct {
	// DecayHalfLifeDays is the default feedback half-life. Per-bullet
	// overrides take precedence.
	DecayHalfLifeDays float64 `yaml:"decayHalfLifeDays" json:"decayHalfLifeDays"`

	// HarmfulMultiplier weights decayed harmful evidence against helpful.
	// Harmful evidence degrades trust much faster than helpful grows it.
	HarmfulMultiplier float64 `yaml:"harmfulMultiplier" json:"harmfulMultiplier"`

	// MinFeedbackForActive is the total decayed feedback needed to leave
	// candidate maturity.
	MinFeedbackForActive float64 `yaml:"minFeedbackForActive" json:"minFeedbackForActive"`

	// MinHelpfulForProven is the decayed helpful sum needed for proven.
	MinHelpfulForProven float64 `yaml:"minHelpfulForProven" json:"minHelpfulForProven"`

	// MaxHarmfulRatioForProven caps harmful/(helpful+harmful) for proven.
	MaxHarmfulRatioForProven float64 `yaml:"maxHarmfulRatioForProven" json:"maxHarmfulRatioForProven"`

	// StaleDays is the no-signal age after which a bullet counts as stale.
	StaleDays int `yaml:"staleDays" json:"staleDays"`
}

// SanitizationConfig controls the secret redactor.
type SanitizationConfig struct {
	// Enabled toggles redaction of exported transcripts. Default true.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// ExtraPatterns are additional regex patterns. Patterns failing the
	// complexity guard are dropped with a warning.
	ExtraPatterns []string `yaml:"extraPatterns,omitempty" json:"extraPatterns,omitempty"`

	// AuditLog enables logging of redaction counts, never the secrets.
	AuditLog bool `yaml:"auditLog" json:"auditLog"`

	// AuditLevel is "info" or "debug".
	AuditLevel string `yaml:"auditLevel" json:"auditLevel"`
}

// Config holds all cass-mem configuration.
type Config struct {
	// PlaybookPath overrides the global playbook location.
	PlaybookPath string `yaml:"playbookPath" json:"playbookPath"`

	// CassPath names the session-search binary on PATH.
	CassPath string `yaml:"cassPath" json:"cassPath"`

	// Provider selects the reflection LLM provider.
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider-specific model name.
	Model string `yaml:"model" json:"model"`

	// Scoring settings
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`

	// DedupSimilarityThreshold is the Jaccard score above which a new
	// insight reinforces an existing bullet instead of creating one.
	DedupSimilarityThreshold float64 `yaml:"dedupSimilarityThreshold" json:"dedupSimilarityThreshold"`

	// PruneHarmfulThreshold triggers auto-deprecation when an unpinned
	// bullet's effective score falls to or below its negation.
	PruneHarmfulThreshold float64 `yaml:"pruneHarmfulThreshold" json:"pruneHarmfulThreshold"`

	// ValidationEnabled gates the LLM validator for ambiguous evidence.
	ValidationEnabled *bool `yaml:"validationEnabled,omitempty" json:"validationEnabled,omitempty"`

	// ValidationLookbackDays bounds evidence searches.
	ValidationLookbackDays int `yaml:"validationLookbackDays" json:"validationLookbackDays"`

	// MaxBulletsInContext caps the ranked briefing.
	MaxBulletsInContext int `yaml:"maxBulletsInContext" json:"maxBulletsInContext"`

	// MaxHistoryInContext caps historical snippets in the briefing.
	MaxHistoryInContext int `yaml:"maxHistoryInContext" json:"maxHistoryInContext"`

	// SessionLookbackDays bounds history searches for context building.
	SessionLookbackDays int `yaml:"sessionLookbackDays" json:"sessionLookbackDays"`

	// Sanitization settings
	Sanitization SanitizationConfig `yaml:"sanitization" json:"sanitization"`

	// SemanticSearchEnabled lets ranking and dedup consult embeddings.
	SemanticSearchEnabled bool `yaml:"semanticSearchEnabled" json:"semanticSearchEnabled"`

	// EmbeddingModel names the embedding hook, or "none".
	EmbeddingModel string `yaml:"embeddingModel" json:"embeddingModel"`
}

// DataDir returns the per-user data root (~/.cass). Falls back to a
// relative .cass when the home directory cannot be resolved.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cass"
	}
	return filepath.Join(home, ".cass")
}

// Default returns the default configuration.
func Default() *Config {
	enabled := true
	return &Config{
		PlaybookPath: filepath.Join(DataDir(), "playbook.yaml"),
		CassPath:     "cass",
		Provider:     "anthropic",
		Scoring: ScoringConfig{
			DecayHalfLifeDays:        90,
			HarmfulMultiplier:        4,
			MinFeedbackForActive:     3,
			MinHelpfulForProven:      5,
			MaxHarmfulRatioForProven: 0.1,
			StaleDays:                90,
		},
		DedupSimilarityThreshold: 0.85,
		PruneHarmfulThreshold:    2,
		ValidationEnabled:        &enabled,
		ValidationLookbackDays:   30,
		MaxBulletsInContext:      10,
		MaxHistoryInContext:      5,
		SessionLookbackDays:      30,
		Sanitization: SanitizationConfig{
			Enabled:    &enabled,
			AuditLevel: "info",
		},
		SemanticSearchEnabled: false,
		EmbeddingModel:        "none",
	}
}

// Load loads configuration with proper precedence. configFile, when
// non-empty, replaces the project config path (the --config flag).
func Load(configFile string) *Config {
	// .env values become process env before the env overrides run. A
	// missing .env is the normal case.
	_ = godotenv.Load()

	cfg := Default()

	if home := loadFromPath(homeConfigPath()); home != nil {
		merge(cfg, home)
	}

	projectPath := configFile
	if projectPath == "" {
		projectPath = projectConfigPath()
	}
	if proj := loadFromPath(projectPath); proj != nil {
		merge(cfg, proj)
	}

	applyEnv(cfg)
	return cfg
}

// ResolvedPlaybookPath returns the effective global playbook path.
func (c *Config) ResolvedPlaybookPath() string {
	if c.PlaybookPath != "" {
		return c.PlaybookPath
	}
	return filepath.Join(DataDir(), "playbook.yaml")
}

// SanitizationEnabled reports the effective sanitization toggle.
func (c *Config) SanitizationEnabled() bool {
	return c.Sanitization.Enabled == nil || *c.Sanitization.Enabled
}

// ValidationOn reports the effective validation toggle.
func (c *Config) ValidationOn() bool {
	return c.ValidationEnabled == nil || *c.ValidationEnabled
}

func homeConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

func projectConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".cass", "config.yaml")
}

// loadFromPath reads a partial config layer. Missing or malformed files
// contribute nothing rather than failing startup.
func loadFromPath(path string) *Config {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	return &cfg
}

// merge overlays the set fields of src onto dst. Numeric zero means unset
// for the threshold fields; booleans use pointers to distinguish unset.
func merge(dst, src *Config) {
	if src.PlaybookPath != "" {
		dst.PlaybookPath = src.PlaybookPath
	}
	if src.CassPath != "" {
		dst.CassPath = src.CassPath
	}
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Scoring.DecayHalfLifeDays > 0 {
		dst.Scoring.DecayHalfLifeDays = src.Scoring.DecayHalfLifeDays
	}
	if src.Scoring.HarmfulMultiplier > 0 {
		dst.Scoring.HarmfulMultiplier = src.Scoring.HarmfulMultiplier
	}
	if src.Scoring.MinFeedbackForActive > 0 {
		dst.Scoring.MinFeedbackForActive = src.Scoring.MinFeedbackForActive
	}
	if src.Scoring.MinHelpfulForProven > 0 {
		dst.Scoring.MinHelpfulForProven = src.Scoring.MinHelpfulForProven
	}
	if src.Scoring.MaxHarmfulRatioForProven > 0 {
		dst.Scoring.MaxHarmfulRatioForProven = src.Scoring.MaxHarmfulRatioForProven
	}
	if src.Scoring.StaleDays > 0 {
		dst.Scoring.StaleDays = src.Scoring.StaleDays
	}
	if src.DedupSimilarityThreshold > 0 {
		dst.DedupSimilarityThreshold = src.DedupSimilarityThreshold
	}
	if src.PruneHarmfulThreshold > 0 {
		dst.PruneHarmfulThreshold = src.PruneHarmfulThreshold
	}
	if src.ValidationEnabled != nil {
		dst.ValidationEnabled = src.ValidationEnabled
	}
	if src.ValidationLookbackDays > 0 {
		dst.ValidationLookbackDays = src.ValidationLookbackDays
	}
	if src.MaxBulletsInContext > 0 {
		dst.MaxBulletsInContext = src.MaxBulletsInContext
	}
	if src.MaxHistoryInContext > 0 {
		dst.MaxHistoryInContext = src.MaxHistoryInContext
	}
	if src.SessionLookbackDays > 0 {
		dst.SessionLookbackDays = src.SessionLookbackDays
	}
	if src.Sanitization.Enabled != nil {
		dst.Sanitization.Enabled = src.Sanitization.Enabled
	}
	if len(src.Sanitization.ExtraPatterns) > 0 {
		dst.Sanitization.ExtraPatterns = src.Sanitization.ExtraPatterns
	}
	if src.Sanitization.AuditLog {
		dst.Sanitization.AuditLog = true
	}
	if src.Sanitization.AuditLevel != "" {
		dst.Sanitization.AuditLevel = src.Sanitization.AuditLevel
	}
	if src.SemanticSearchEnabled {
		dst.SemanticSearchEnabled = true
	}
	if src.EmbeddingModel != "" {
		dst.EmbeddingModel = src.EmbeddingModel
	}
}

// applyEnv applies CASSMEM_* environment overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CASSMEM_PLAYBOOK_PATH"); v != "" {
		cfg.PlaybookPath = v
	}
	if v := os.Getenv("CASSMEM_CASS_PATH"); v != "" {
		cfg.CassPath = v
	}
	if v := os.Getenv("CASSMEM_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("CASSMEM_MODEL"); v != "" {
		cfg.Model = v
	}
	if f, ok := envFloat("CASSMEM_DECAY_HALF_LIFE_DAYS"); ok {
		cfg.Scoring.DecayHalfLifeDays = f
	}
	if f, ok := envFloat("CASSMEM_HARMFUL_MULTIPLIER"); ok {
		cfg.Scoring.HarmfulMultiplier = f
	}
	if f, ok := envFloat("CASSMEM_DEDUP_SIMILARITY_THRESHOLD"); ok {
		cfg.DedupSimilarityThreshold = f
	}
	if n, ok := envInt("CASSMEM_MAX_BULLETS_IN_CONTEXT"); ok {
		cfg.MaxBulletsInContext = n
	}
	if n, ok := envInt("CASSMEM_SESSION_LOOKBACK_DAYS"); ok {
		cfg.SessionLookbackDays = n
	}
	if b, ok := envBool("CASSMEM_VALIDATION_ENABLED"); ok {
		cfg.ValidationEnabled = &b
	}
	if b, ok := envBool("CASSMEM_SANITIZATION_ENABLED"); ok {
		cfg.Sanitization.Enabled = &b
	}
	if b, ok := envBool("CASSMEM_SANITIZATION_AUDIT_LOG"); ok {
		cfg.Sanitization.AuditLog = b
	}
	if b, ok := envBool("CASSMEM_SEMANTIC_SEARCH_ENABLED"); ok {
		cfg.SemanticSearchEnabled = b
	}
	if v := os.Getenv("CASSMEM_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}
