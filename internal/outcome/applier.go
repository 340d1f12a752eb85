package outcome

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/playbook"
)

// Applier converts outcome records into feedback events on the bullets
// they cite.
type Applier struct {
	store  *playbook.Store
	logger *zap.Logger
}

// NewApplier builds an applier over a playbook store.
func NewApplier(store *playbook.Store, logger *zap.Logger) *Applier {
	return &Applier{store: store, logger: logger}
}

// Apply records one feedback event per cited rule. Rules are resolved to
// the file that owns them, repo overlay preferred over global, then applied
// per file under that file's lock. Files are visited in lexicographic order
// so concurrent appliers cannot deadlock. Unknown rule ids are counted and
// logged, not fatal.
func (a *Applier) Apply(rec Record, repoDir string) (applied, missing int, err error) {
	fb := Derive(rec)

	byFile, missing, err := a.resolve(rec.RulesUsed, repoDir)
	if err != nil {
		return 0, missing, err
	}

	paths := make([]string, 0, len(byFile))
	for path := range byFile {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	feedbackType := playbook.FeedbackHarmful
	if fb.Helpful {
		feedbackType = playbook.FeedbackHelpful
	}

	for _, path := range paths {
		ids := byFile[path]
		err := fslock.WithLock(path, func() error {
			pb, err := a.store.Load(path)
			if err != nil {
				return err
			}
			for _, id := range ids {
				ok := playbook.RecordFeedbackEvent(pb, id, feedbackType, playbook.FeedbackOpts{
					Timestamp:   rec.RecordedAt,
					SessionPath: rec.Path,
					Reason:      rec.Notes,
					Context:     fmt.Sprintf("outcome %s (weight %.2f)", rec.Outcome, fb.Weight),
					Weight:      fb.Weight,
				})
				if !ok {
					// Resolved moments ago; a concurrent writer removed it.
					missing++
					continue
				}
				applied++
			}
			return a.store.Save(pb, path)
		})
		if err != nil {
			return applied, missing, fmt.Errorf("apply outcome to %s: %w", path, err)
		}
	}

	a.logger.Info("outcome applied",
		zap.String("session", rec.SessionID),
		zap.String("outcome", rec.Outcome),
		zap.Bool("helpful", fb.Helpful),
		zap.Float64("weight", fb.Weight),
		zap.Int("applied", applied),
		zap.Int("missing", missing))

	return applied, missing, nil
}

// resolve maps each rule id to its owning playbook file. The repo overlay
// wins when both files carry the id.
func (a *Applier) resolve(ids []string, repoDir string) (map[string][]string, int, error) {
	globalPath := a.store.GlobalPath
	repoPath := ""
	if repoDir != "" {
		repoPath = playbook.RepoPlaybookPath(repoDir)
	}

	known := func(path string) (map[string]bool, error) {
		if path == "" {
			return nil, nil
		}
		pb, err := a.store.Load(path)
		if err != nil {
			return nil, err
		}
		set := make(map[string]bool, len(pb.Bullets))
		for _, b := range pb.Bullets {
			set[b.ID] = true
		}
		return set, nil
	}

	repoIDs, err := known(repoPath)
	if err != nil {
		return nil, 0, err
	}
	globalIDs, err := known(globalPath)
	if err != nil {
		return nil, 0, err
	}

	byFile := make(map[string][]string)
	missing := 0
	for _, id := range ids {
		switch {
		case repoIDs[id]:
			byFile[repoPath] = append(byFile[repoPath], id)
		case globalIDs[id]:
			byFile[globalPath] = append(byFile[globalPath], id)
		default:
			missing++
			a.logger.Warn("outcome cites unknown rule", zap.String("id", id))
		}
	}
	return byFile, missing, nil
}
