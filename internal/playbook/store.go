package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/boshu2/cassmem/internal/similarity"
	"github.com/boshu2/cassmem/internal/storage"
)

const (
	// RepoOverlayDir is the per-repo directory holding the overlay playbook
	// and toxic log.
	RepoOverlayDir = ".cass"

	// RepoPlaybookFile is the overlay playbook file name inside RepoOverlayDir.
	RepoPlaybookFile = "playbook.yaml"

	// RepoToxicFile is the overlay toxic log file name inside RepoOverlayDir.
	RepoToxicFile = "toxic.log"

	// GlobalToxicFile is the toxic log sibling of the global playbook.
	GlobalToxicFile = "toxic_bullets.log"

	// toxicJaccardThreshold suppresses bullets near-duplicating a toxic entry.
	toxicJaccardThreshold = 0.85
)

// Store loads and persists playbook files and their toxic logs.
type Store struct {
	// GlobalPath is the main playbook file (always loaded).
	GlobalPath string

	logger *zap.Logger
}

// NewStore creates a store around the global playbook path.
func NewStore(globalPath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{GlobalPath: globalPath, logger: logger}
}

// Load reads a single playbook file.
//   - Missing or empty file: an empty playbook, no error.
//   - Parse or schema failure: the file is quarantined to
//     path.backup.<epoch>, a warning is logged, and an empty playbook is
//     returned. User data is never silently dropped.
func (s *Store) Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(defaultName(path)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read playbook %s: %w", path, err)
	}
	if len(data) == 0 {
		return New(defaultName(path)), nil
	}

	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return s.quarantine(path, fmt.Errorf("parse: %w", err)), nil
	}
	if err := validate(&pb); err != nil {
		return s.quarantine(path, err), nil
	}

	normalize(&pb)
	return &pb, nil
}

// quarantine backs up a corrupt playbook and returns a fresh empty one.
func (s *Store) quarantine(path string, cause error) *Playbook {
	backup, qerr := storage.Quarantine(path, time.Now().Unix())
	if qerr != nil {
		s.logger.Warn("playbook corrupt and quarantine failed",
			zap.String("path", path), zap.Error(cause), zap.NamedError("quarantine_error", qerr))
	} else {
		s.logger.Warn("playbook corrupt, quarantined",
			zap.String("path", path), zap.String("backup", backup), zap.Error(cause))
	}
	return New(defaultName(path))
}

// validate enforces minimal schema invariants on a parsed document.
func validate(pb *Playbook) error {
	if pb.SchemaVersion < 1 {
		return fmt.Errorf("schema_version must be >= 1, got %d", pb.SchemaVersion)
	}
	seen := make(map[string]bool, len(pb.Bullets))
	for _, b := range pb.Bullets {
		if b == nil || b.ID == "" {
			return fmt.Errorf("bullet with empty id")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate bullet id %q", b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// normalize repairs derivable fields after load: anti-pattern kind implies
// isNegative, content hashes are backfilled, counters agree with events.
func normalize(pb *Playbook) {
	for _, b := range pb.Bullets {
		if b.Kind == KindAntiPattern {
			b.IsNegative = true
		}
		if b.ContentHash == "" {
			b.ContentHash = similarity.HashContent(b.Content)
		}
		if len(b.FeedbackEvents) > 0 {
			RebuildCounters(b)
		}
	}
}

// defaultName derives a playbook name from its file path.
func defaultName(path string) string {
	base := filepath.Base(filepath.Dir(path))
	if base == "." || base == string(filepath.Separator) {
		return "playbook"
	}
	return base
}

// Save persists the playbook atomically, stamping lastReflection.
func (s *Store) Save(pb *Playbook, path string) error {
	now := time.Now().UTC()
	pb.Metadata.LastReflection = &now
	if pb.SchemaVersion == 0 {
		pb.SchemaVersion = SchemaVersion
	}

	data, err := yaml.Marshal(pb)
	if err != nil {
		return fmt.Errorf("marshal playbook: %w", err)
	}
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return storage.AtomicWrite(path, data)
}

// RepoPlaybookPath returns the overlay playbook path for a repo, or "" when
// repoDir is empty.
func RepoPlaybookPath(repoDir string) string {
	if repoDir == "" {
		return ""
	}
	return filepath.Join(repoDir, RepoOverlayDir, RepoPlaybookFile)
}

// RepoToxicPath returns the overlay toxic log path for a repo, or "" when
// repoDir is empty.
func RepoToxicPath(repoDir string) string {
	if repoDir == "" {
		return ""
	}
	return filepath.Join(repoDir, RepoOverlayDir, RepoToxicFile)
}

// GlobalToxicPath returns the toxic log sibling of the global playbook.
func (s *Store) GlobalToxicPath() string {
	return filepath.Join(filepath.Dir(s.GlobalPath), GlobalToxicFile)
}

// LoadMerged loads the global playbook, merges the repo overlay if present,
// and filters toxic content from the merged view. On-disk files keep their
// bullets; suppression applies to the returned view only.
//
// Merge rule: by id, repo entries override global entries. Deprecated
// patterns are concatenated global-first. Metadata is the global's.
func (s *Store) LoadMerged(repoDir string) (*Playbook, error) {
	global, err := s.Load(s.GlobalPath)
	if err != nil {
		return nil, err
	}

	merged := global
	repoPath := RepoPlaybookPath(repoDir)
	if repoPath != "" {
		if _, statErr := os.Stat(repoPath); statErr == nil {
			repo, err := s.Load(repoPath)
			if err != nil {
				return nil, err
			}
			merged = mergePlaybooks(global, repo)
		}
	}

	toxic, err := s.loadToxicEntries(repoDir)
	if err != nil {
		return nil, err
	}
	merged.Bullets = filterToxic(merged.Bullets, toxic, s.logger)

	return merged, nil
}

// mergePlaybooks overlays repo bullets onto global by id.
func mergePlaybooks(global, repo *Playbook) *Playbook {
	merged := &Playbook{
		SchemaVersion:      global.SchemaVersion,
		Name:               global.Name,
		Description:        global.Description,
		Metadata:           global.Metadata,
		DeprecatedPatterns: append(append([]DeprecatedPattern{}, global.DeprecatedPatterns...), repo.DeprecatedPatterns...),
	}

	overridden := make(map[string]*Bullet, len(repo.Bullets))
	for _, b := range repo.Bullets {
		overridden[b.ID] = b
	}

	for _, b := range global.Bullets {
		if rb, ok := overridden[b.ID]; ok {
			merged.Bullets = append(merged.Bullets, rb)
			delete(overridden, b.ID)
			continue
		}
		merged.Bullets = append(merged.Bullets, b)
	}
	// Repo-only bullets keep their file order after the global ones.
	for _, b := range repo.Bullets {
		if _, ok := overridden[b.ID]; ok {
			merged.Bullets = append(merged.Bullets, b)
		}
	}

	return merged
}

// loadToxicEntries reads toxic logs along the cascade: the global log plus
// the repo overlay log when present.
func (s *Store) loadToxicEntries(repoDir string) ([]ToxicEntry, error) {
	entries, err := LoadToxicLog(s.GlobalToxicPath())
	if err != nil {
		return nil, err
	}
	if repoDir != "" {
		repoEntries, err := LoadToxicLog(filepath.Join(repoDir, RepoOverlayDir, RepoToxicFile))
		if err != nil {
			return nil, err
		}
		entries = append(entries, repoEntries...)
	}
	return entries, nil
}

// filterToxic drops bullets matching any toxic entry by content hash or by
// Jaccard above the suppression threshold.
func filterToxic(bullets []*Bullet, toxic []ToxicEntry, logger *zap.Logger) []*Bullet {
	if len(toxic) == 0 {
		return bullets
	}

	hashes := make(map[string]bool, len(toxic))
	for _, t := range toxic {
		hashes[similarity.HashContent(t.Content)] = true
	}

	kept := make([]*Bullet, 0, len(bullets))
	for _, b := range bullets {
		if isToxic(b, hashes, toxic) {
			logger.Debug("suppressing toxic bullet", zap.String("id", b.ID))
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

func isToxic(b *Bullet, hashes map[string]bool, toxic []ToxicEntry) bool {
	if hashes[similarity.HashContent(b.Content)] {
		return true
	}
	for _, t := range toxic {
		if similarity.Jaccard(b.Content, t.Content) > toxicJaccardThreshold {
			return true
		}
	}
	return false
}
