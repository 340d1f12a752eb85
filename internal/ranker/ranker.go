// Package ranker builds the pre-task briefing: the playbook bullets most
// relevant to a task, split into rules and anti-patterns, plus historical
// snippets and deprecation warnings.
package ranker

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/embedding"
	"github.com/boshu2/cassmem/internal/history"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/scoring"
	"github.com/boshu2/cassmem/internal/similarity"
)

// taskKeywordCount bounds the keywords extracted from the task text.
const taskKeywordCount = 8

// RankedBullet pairs a bullet with its final score.
type RankedBullet struct {
	Bullet *playbook.Bullet `json:"bullet"`
	Score  float64          `json:"score"`
}

// Warning flags a deprecated pattern matched in the task or history.
type Warning struct {
	Pattern     string `json:"pattern"`
	Reason      string `json:"reason,omitempty"`
	Replacement string `json:"replacement,omitempty"`
	MatchedIn   string `json:"matchedIn"` // "task" or "history"
}

// ContextResult is the briefing handed to the agent before a task.
type ContextResult struct {
	Task                    string            `json:"task"`
	RelevantBullets         []RankedBullet    `json:"relevantBullets"`
	AntiPatterns            []RankedBullet    `json:"antiPatterns"`
	HistorySnippets         []history.Snippet `json:"historySnippets,omitempty"`
	DeprecatedWarnings      []Warning         `json:"deprecatedWarnings,omitempty"`
	SuggestedHistoryQueries []string          `json:"suggestedHistoryQueries,omitempty"`
	HistoryAvailable        bool              `json:"historyAvailable"`
}

// Opts tune one BuildContext call.
type Opts struct {
	Workspace string
	RepoDir   string
}

// Ranker scores bullets against tasks.
type Ranker struct {
	store    *playbook.Store
	searcher history.Searcher
	cache    *embedding.Cache
	embedder embedding.Embedder
	cfg      *config.Config
	logger   *zap.Logger
}

// New builds a ranker. searcher, cache and embedder may each be nil or
// unavailable; ranking degrades to keyword overlap over the playbook alone.
func New(store *playbook.Store, searcher history.Searcher, cache *embedding.Cache, embedder embedding.Embedder, cfg *config.Config, logger *zap.Logger) *Ranker {
	return &Ranker{store: store, searcher: searcher, cache: cache, embedder: embedder, cfg: cfg, logger: logger}
}

// BuildContext assembles the briefing for a task.
func (r *Ranker) BuildContext(ctx context.Context, task string, opts Opts) (*ContextResult, error) {
	pb, err := r.store.LoadMerged(opts.RepoDir)
	if err != nil {
		return nil, err
	}

	keywords := similarity.Keywords(task, taskKeywordCount)
	taskVec := r.taskVector(ctx, task)

	var ranked []RankedBullet
	now := time.Now().UTC()
	for _, b := range playbook.ActiveBullets(pb) {
		if opts.Workspace != "" && b.Scope == playbook.ScopeWorkspace && b.Workspace != opts.Workspace {
			continue
		}
		relevance := r.relevance(b, keywords, taskVec)
		effective := scoring.Effective(b, r.cfg.Scoring, now)
		final := relevance * max(0.1, effective)
		if final <= 0 {
			continue
		}
		ranked = append(ranked, RankedBullet{Bullet: b, Score: final})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > r.cfg.MaxBulletsInContext {
		ranked = ranked[:r.cfg.MaxBulletsInContext]
	}

	res := &ContextResult{Task: task}
	for _, rb := range ranked {
		if rb.Bullet.IsAntiPattern() {
			res.AntiPatterns = append(res.AntiPatterns, rb)
		} else {
			res.RelevantBullets = append(res.RelevantBullets, rb)
		}
	}

	res.SuggestedHistoryQueries = suggestQueries(keywords)
	res.HistorySnippets, res.HistoryAvailable = r.searchHistory(ctx, keywords, opts)
	res.DeprecatedWarnings = r.warnings(pb, task, res.HistorySnippets)

	r.logger.Debug("context built",
		zap.Int("rules", len(res.RelevantBullets)),
		zap.Int("antiPatterns", len(res.AntiPatterns)),
		zap.Int("snippets", len(res.HistorySnippets)),
		zap.Int("warnings", len(res.DeprecatedWarnings)))

	return res, nil
}

// relevance is keyword overlap between the task and the bullet's content
// and tags, upgraded to cosine similarity when both vectors exist.
func (r *Ranker) relevance(b *playbook.Bullet, taskKeywords []string, taskVec []float32) float64 {
	if taskVec != nil && r.cache != nil {
		if vec := r.cache.Get(b.ID); vec != nil {
			return similarity.Cosine(taskVec, vec)
		}
	}

	if len(taskKeywords) == 0 {
		return 0
	}

	bulletTokens := similarity.TokenSet(b.Content)
	for _, tag := range b.Tags {
		for tok := range similarity.TokenSet(tag) {
			bulletTokens[tok] = true
		}
	}

	matched := 0
	for _, kw := range taskKeywords {
		if bulletTokens[kw] {
			matched++
		}
	}
	return float64(matched) / float64(len(taskKeywords))
}

func (r *Ranker) taskVector(ctx context.Context, task string) []float32 {
	if !r.cfg.SemanticSearchEnabled || r.embedder == nil || r.cache == nil {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, task)
	if err != nil {
		return nil
	}
	return vec
}

func (r *Ranker) searchHistory(ctx context.Context, keywords []string, opts Opts) ([]history.Snippet, bool) {
	if r.searcher == nil || !r.searcher.Available() {
		return nil, false
	}
	snippets, err := r.searcher.Search(ctx, strings.Join(keywords, " "), history.SearchOpts{
		Limit:     r.cfg.MaxHistoryInContext,
		Days:      r.cfg.SessionLookbackDays,
		Workspace: opts.Workspace,
	})
	if err != nil {
		return nil, false
	}
	return snippets, r.searcher.Available()
}

// warnings matches deprecated patterns against the task text and every
// history snippet, case-insensitively.
func (r *Ranker) warnings(pb *playbook.Playbook, task string, snippets []history.Snippet) []Warning {
	var out []Warning
	for _, p := range pb.DeprecatedPatterns {
		if p.Matches(task) {
			out = append(out, Warning{
				Pattern:     p.Pattern,
				Reason:      p.Reason,
				Replacement: p.Replacement,
				MatchedIn:   "task",
			})
			continue
		}
		for _, s := range snippets {
			if p.Matches(s.Text) {
				out = append(out, Warning{
					Pattern:     p.Pattern,
					Reason:      p.Reason,
					Replacement: p.Replacement,
					MatchedIn:   "history",
				})
				break
			}
		}
	}
	return out
}

// suggestQueries builds a few history queries from the task keywords.
func suggestQueries(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	var queries []string
	queries = append(queries, strings.Join(keywords, " "))
	if len(keywords) >= 2 {
		queries = append(queries, strings.Join(keywords[:2], " "))
	}
	for _, kw := range keywords {
		if len(queries) >= 4 {
			break
		}
		queries = append(queries, kw)
	}
	return queries
}
