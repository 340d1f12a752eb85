// Package reflector drives the learning loop: unprocessed sessions are
// exported, summarized into diaries, turned into playbook deltas, gated
// against historical evidence, and curated into the playbook.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/curator"
	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/gate"
	"github.com/boshu2/cassmem/internal/history"
	"github.com/boshu2/cassmem/internal/llm"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/sanitize"
	"github.com/boshu2/cassmem/internal/storage"
)

// maxConcurrentSessions bounds the export/diary fan-out. Curation itself is
// serialized under the playbook lock.
const maxConcurrentSessions = 4

// validatorUnavailable marks add deltas dropped because the evidence was
// ambiguous and no validator could break the tie.
const validatorUnavailable = "validator_unavailable"

// HistoryClient is the slice of the history tool the reflector needs.
type HistoryClient interface {
	history.Searcher
	Export(ctx context.Context, sessionPath string) (string, error)
	Timeline(ctx context.Context, days int) ([]history.Session, error)
}

// Reflector runs reflection cycles.
type Reflector struct {
	store     *playbook.Store
	histories HistoryClient
	extractor llm.DiaryExtractor
	validator llm.Validator
	sanitizer *sanitize.Sanitizer
	gate      *gate.Gate
	cfg       *config.Config
	dataDir   string
	logger    *zap.Logger
}

// New wires a reflector. extractor is required; validator may be nil, in
// which case ambiguous adds are skipped rather than guessed at.
func New(store *playbook.Store, histories HistoryClient, extractor llm.DiaryExtractor, validator llm.Validator, sanitizer *sanitize.Sanitizer, g *gate.Gate, cfg *config.Config, dataDir string, logger *zap.Logger) *Reflector {
	return &Reflector{
		store:     store,
		histories: histories,
		extractor: extractor,
		validator: validator,
		sanitizer: sanitizer,
		gate:      g,
		cfg:       cfg,
		dataDir:   dataDir,
		logger:    logger,
	}
}

// CycleResult summarizes one reflection run.
type CycleResult struct {
	SessionsSeen      int               `json:"sessionsSeen"`
	SessionsProcessed int               `json:"sessionsProcessed"`
	SessionsFailed    int               `json:"sessionsFailed"`
	DeltasProposed    int               `json:"deltasProposed"`
	DeltasApplied     int               `json:"deltasApplied"`
	GateRejected      int               `json:"gateRejected"`
	Curation          []*curator.Result `json:"curation,omitempty"`
}

// sessionOutcome carries one session's deltas back to the serial phase.
type sessionOutcome struct {
	session  history.Session
	deltas   []curator.Delta
	rejected int
	err      error
}

// Run executes one reflection cycle for a workspace. workspace selects the
// processed log; empty means the global log.
func (r *Reflector) Run(ctx context.Context, workspace string, days int) (*CycleResult, error) {
	sessions, err := r.histories.Timeline(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}

	logPath := filepath.Join(r.dataDir, "reflections", storage.WorkspaceLogName(workspace))
	processed, err := storage.LoadProcessedLog(logPath)
	if err != nil {
		return nil, fmt.Errorf("load processed log: %w", err)
	}

	var pending []history.Session
	for _, s := range sessions {
		if !processed.Contains(s.Path) {
			pending = append(pending, s)
		}
	}

	res := &CycleResult{SessionsSeen: len(sessions)}
	if len(pending) == 0 {
		return res, nil
	}

	outcomes := r.processSessions(ctx, pending)

	// Serial phase: gate verdicts already annotated the deltas; apply each
	// session's batch under its own lock acquisition so cancellation leaves
	// a consistent, partially-updated playbook.
	playbookPath := r.store.GlobalPath
	for _, oc := range outcomes {
		if oc.err != nil {
			res.SessionsFailed++
			r.logger.Warn("session reflection failed",
				zap.String("session", oc.session.Path), zap.Error(oc.err))
			continue
		}

		res.DeltasProposed += len(oc.deltas) + oc.rejected
		res.GateRejected += oc.rejected

		var applied int
		err := fslock.WithLock(playbookPath, func() error {
			pb, err := r.store.Load(playbookPath)
			if err != nil {
				return err
			}
			cres := curator.Curate(pb, oc.deltas, r.cfg, r.logger)
			res.Curation = append(res.Curation, cres)
			applied = cres.Applied
			return r.store.Save(pb, playbookPath)
		})
		if err != nil {
			res.SessionsFailed++
			r.logger.Warn("curation failed",
				zap.String("session", oc.session.Path), zap.Error(err))
			continue
		}

		res.DeltasApplied += applied
		res.SessionsProcessed++

		processed.Append(storage.ProcessedEntry{
			SessionPath:    oc.session.Path,
			ProcessedAt:    time.Now().UTC(),
			DeltasProposed: len(oc.deltas) + oc.rejected,
			DeltasApplied:  applied,
		})
	}

	// Another reflect run may have written the log since we loaded it, so
	// re-read under the lock and fold our entries in before rewriting.
	if err := fslock.WithLock(logPath, func() error {
		onDisk, err := storage.LoadProcessedLog(logPath)
		if err != nil {
			return err
		}
		for _, e := range processed.Entries() {
			onDisk.Append(e)
		}
		return onDisk.Save()
	}); err != nil {
		return res, fmt.Errorf("save processed log: %w", err)
	}

	r.logger.Info("reflection cycle complete",
		zap.Int("seen", res.SessionsSeen),
		zap.Int("processed", res.SessionsProcessed),
		zap.Int("failed", res.SessionsFailed),
		zap.Int("proposed", res.DeltasProposed),
		zap.Int("applied", res.DeltasApplied))

	return res, nil
}

// processSessions exports and summarizes sessions concurrently.
func (r *Reflector) processSessions(ctx context.Context, sessions []history.Session) []sessionOutcome {
	outcomes := make([]sessionOutcome, len(sessions))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSessions)

	for i, s := range sessions {
		i, s := i, s
		g.Go(func() error {
			deltas, rejected, err := r.reflectOne(gctx, s)
			mu.Lock()
			outcomes[i] = sessionOutcome{session: s, deltas: deltas, rejected: rejected, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// reflectOne turns one session into gated deltas.
func (r *Reflector) reflectOne(ctx context.Context, s history.Session) ([]curator.Delta, int, error) {
	transcript, err := r.histories.Export(ctx, s.Path)
	if err != nil {
		return nil, 0, err
	}
	if r.sanitizer != nil {
		transcript = r.sanitizer.Sanitize(transcript)
	}

	diary, err := r.extractor.ExtractDiary(ctx, transcript)
	if err != nil {
		return nil, 0, fmt.Errorf("extract diary: %w", err)
	}

	if err := r.saveDiary(s.Path, diary); err != nil {
		r.logger.Warn("diary not persisted", zap.Error(err))
	}

	deltas := deriveDeltas(diary, s.Path)
	return r.gateAdds(ctx, deltas)
}

// saveDiary persists the diary JSON for audit, named by session hash.
func (r *Reflector) saveDiary(sessionPath string, diary llm.Diary) error {
	data, err := json.MarshalIndent(diary, "", "  ")
	if err != nil {
		return err
	}
	name := storage.WorkspaceLogName(sessionPath)
	name = strings.TrimSuffix(name, ".processed.log") + ".json"
	path := filepath.Join(r.dataDir, "diary", name)
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return storage.AtomicWrite(path, data)
}

// deriveDeltas maps diary sections to playbook deltas. Learnings and
// preferences become candidate bullets; challenges are kept as context on
// the session, not turned into rules.
func deriveDeltas(diary llm.Diary, sessionPath string) []curator.Delta {
	var deltas []curator.Delta

	for _, learning := range diary.KeyLearnings {
		if strings.TrimSpace(learning) == "" {
			continue
		}
		deltas = append(deltas, curator.Delta{
			Type: curator.DeltaAdd,
			Bullet: &curator.BulletSpec{
				Content:  learning,
				Category: "learnings",
				Tags:     diary.Tags,
			},
			SourceSession: sessionPath,
		})
	}

	for _, pref := range diary.Preferences {
		if strings.TrimSpace(pref) == "" {
			continue
		}
		deltas = append(deltas, curator.Delta{
			Type: curator.DeltaAdd,
			Bullet: &curator.BulletSpec{
				Content:  pref,
				Category: "preferences",
				Tags:     diary.Tags,
			},
			SourceSession: sessionPath,
		})
	}

	return deltas
}

// gateAdds filters add deltas through the evidence gate and, when the
// evidence is ambiguous, the validator. Returns surviving deltas and the
// rejected count.
func (r *Reflector) gateAdds(ctx context.Context, deltas []curator.Delta) ([]curator.Delta, int, error) {
	var kept []curator.Delta
	rejected := 0

	for _, d := range deltas {
		if d.Type != curator.DeltaAdd || d.Bullet == nil {
			kept = append(kept, d)
			continue
		}

		verdict := r.gate.Check(ctx, d.Bullet.Content)
		if !verdict.Passed {
			rejected++
			r.logger.Debug("add rejected by evidence gate",
				zap.String("reason", verdict.Reason))
			continue
		}
		// Auto-accepted candidates skip the draft stage.
		if verdict.SuggestedState != "" {
			d.Bullet.State = verdict.SuggestedState
		}

		if verdict.Ambiguous && r.cfg.ValidationOn() {
			kd, ok := r.validateAdd(ctx, d)
			if !ok {
				rejected++
				continue
			}
			d = kd
		}

		kept = append(kept, d)
	}

	return kept, rejected, nil
}

// validateAdd consults the external validator for an ambiguous candidate.
func (r *Reflector) validateAdd(ctx context.Context, d curator.Delta) (curator.Delta, bool) {
	if r.validator == nil {
		r.logger.Debug("ambiguous add skipped", zap.String("reason", validatorUnavailable))
		return d, false
	}

	verdict, err := r.validator.Validate(ctx, d.Bullet.Content, nil)
	if err != nil {
		r.logger.Debug("ambiguous add skipped",
			zap.String("reason", validatorUnavailable), zap.Error(err))
		return d, false
	}

	verdict = llm.NormalizeVerdict(verdict)
	if verdict.Decision != llm.DecisionAccept {
		return d, false
	}
	if verdict.Refined != "" {
		d.Bullet.Content = verdict.Refined
	}
	return d, true
}
