package ranker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/history"
	"github.com/boshu2/cassmem/internal/playbook"
)

type stubSearcher struct {
	snippets  []history.Snippet
	available bool
	lastQuery string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ history.SearchOpts) ([]history.Snippet, error) {
	s.lastQuery = query
	return s.snippets, nil
}

func (s *stubSearcher) Available() bool { return s.available }

func newFixture(t *testing.T, bullets ...*playbook.Bullet) (*Ranker, *playbook.Store, string) {
	t.Helper()
	globalPath := filepath.Join(t.TempDir(), "playbook.yaml")
	store := playbook.NewStore(globalPath, zap.NewNop())

	pb := playbook.New("test")
	pb.Bullets = bullets
	if err := store.Save(pb, globalPath); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	r := New(store, &stubSearcher{}, nil, nil, cfg, zap.NewNop())
	return r, store, globalPath
}

func activeBullet(id, content string, helpful int) *playbook.Bullet {
	now := time.Now().UTC()
	b := &playbook.Bullet{
		ID:        id,
		Content:   content,
		Category:  "general",
		State:     playbook.StateActive,
		Maturity:  playbook.MaturityEstablished,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 0; i < helpful; i++ {
		b.FeedbackEvents = append(b.FeedbackEvents, playbook.FeedbackEvent{
			Type: playbook.FeedbackHelpful, Timestamp: now,
		})
	}
	b.HelpfulCount = helpful
	return b
}

func TestBuildContextRanksByRelevanceAndScore(t *testing.T) {
	relevant := activeBullet("b-rel", "pin the postgres container version in integration tests", 4)
	unrelated := activeBullet("b-oth", "prefer smaller docker base images for deploys", 4)
	r, _, _ := newFixture(t, relevant, unrelated)

	res, err := r.BuildContext(context.Background(), "integration tests fail because the postgres version drifted", Opts{})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.RelevantBullets) == 0 {
		t.Fatal("no relevant bullets returned")
	}
	if res.RelevantBullets[0].Bullet.ID != "b-rel" {
		t.Errorf("top bullet = %s, want b-rel", res.RelevantBullets[0].Bullet.ID)
	}
	for _, rb := range res.RelevantBullets {
		if rb.Bullet.ID == "b-oth" {
			t.Error("bullet with zero keyword overlap should be dropped")
		}
	}
}

func TestBuildContextSplitsAntiPatterns(t *testing.T) {
	rule := activeBullet("b-rule", "run integration tests against pinned postgres versions", 3)
	anti := activeBullet("b-anti", "AVOID: unpinned postgres versions in integration tests", 3)
	anti.Kind = playbook.KindAntiPattern
	anti.IsNegative = true
	r, _, _ := newFixture(t, rule, anti)

	res, err := r.BuildContext(context.Background(), "postgres integration tests", Opts{})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.RelevantBullets) != 1 || res.RelevantBullets[0].Bullet.ID != "b-rule" {
		t.Errorf("rules = %+v", res.RelevantBullets)
	}
	if len(res.AntiPatterns) != 1 || res.AntiPatterns[0].Bullet.ID != "b-anti" {
		t.Errorf("antiPatterns = %+v", res.AntiPatterns)
	}
}

func TestBuildContextCapsResults(t *testing.T) {
	var bullets []*playbook.Bullet
	for i := 0; i < 15; i++ {
		bullets = append(bullets, activeBullet(
			playbook.NewBulletID(),
			"postgres integration tests advice variant number "+string(rune('a'+i)),
			2,
		))
	}
	r, _, _ := newFixture(t, bullets...)
	r.cfg.MaxBulletsInContext = 5

	res, err := r.BuildContext(context.Background(), "postgres integration tests", Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if total := len(res.RelevantBullets) + len(res.AntiPatterns); total > 5 {
		t.Errorf("returned %d bullets, cap is 5", total)
	}
}

func TestBuildContextWorkspaceFilter(t *testing.T) {
	mine := activeBullet("b-mine", "postgres integration tests advice", 2)
	mine.Scope = playbook.ScopeWorkspace
	mine.Workspace = "api"
	other := activeBullet("b-other", "postgres integration tests advice too", 2)
	other.Scope = playbook.ScopeWorkspace
	other.Workspace = "web"
	global := activeBullet("b-global", "postgres integration tests advice also", 2)

	r, _, _ := newFixture(t, mine, other, global)

	res, err := r.BuildContext(context.Background(), "postgres integration tests", Opts{Workspace: "api"})
	if err != nil {
		t.Fatal(err)
	}

	ids := map[string]bool{}
	for _, rb := range res.RelevantBullets {
		ids[rb.Bullet.ID] = true
	}
	if !ids["b-mine"] || !ids["b-global"] {
		t.Errorf("expected own-workspace and global bullets, got %v", ids)
	}
	if ids["b-other"] {
		t.Error("other workspace's bullet leaked through")
	}
}

func TestBuildContextNegativeScoreStillRankable(t *testing.T) {
	// One fresh harmful: raw -4, effective -4, but final uses max(0.1, eff)
	// so a relevant bullet still surfaces.
	b := activeBullet("b-neg", "postgres integration tests advice", 0)
	b.FeedbackEvents = []playbook.FeedbackEvent{{
		Type: playbook.FeedbackHarmful, Timestamp: time.Now().UTC(),
	}}
	b.HarmfulCount = 1

	r, _, _ := newFixture(t, b)

	res, err := r.BuildContext(context.Background(), "postgres integration tests", Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.RelevantBullets) != 1 {
		t.Errorf("negatively scored bullet should still rank via the 0.1 floor, got %d", len(res.RelevantBullets))
	}
}

func TestBuildContextHistoryAndWarnings(t *testing.T) {
	b := activeBullet("b-1", "postgres integration tests advice", 2)
	r, store, globalPath := newFixture(t, b)

	pb, err := store.Load(globalPath)
	if err != nil {
		t.Fatal(err)
	}
	pb.DeprecatedPatterns = []playbook.DeprecatedPattern{
		{Pattern: "docker-compose v1", Reason: "removed upstream", Replacement: "docker compose"},
		{Pattern: "LegacyAuthClient", Reason: "replaced"},
	}
	if err := store.Save(pb, globalPath); err != nil {
		t.Fatal(err)
	}

	searcher := &stubSearcher{available: true, snippets: []history.Snippet{
		{SessionPath: "/s/a.jsonl", Text: "we still call LegacyAuthClient here"},
	}}
	r.searcher = searcher

	res, err := r.BuildContext(context.Background(), "update the docker-compose V1 file for postgres integration tests", Opts{})
	if err != nil {
		t.Fatal(err)
	}

	if !res.HistoryAvailable {
		t.Error("history should be marked available")
	}
	if len(res.HistorySnippets) != 1 {
		t.Errorf("snippets = %+v", res.HistorySnippets)
	}
	if len(res.DeprecatedWarnings) != 2 {
		t.Fatalf("warnings = %+v", res.DeprecatedWarnings)
	}
	byPattern := map[string]string{}
	for _, w := range res.DeprecatedWarnings {
		byPattern[w.Pattern] = w.MatchedIn
	}
	if byPattern["docker-compose v1"] != "task" {
		t.Errorf("case-insensitive task match missing: %v", byPattern)
	}
	if byPattern["LegacyAuthClient"] != "history" {
		t.Errorf("history match missing: %v", byPattern)
	}
	if len(res.SuggestedHistoryQueries) == 0 {
		t.Error("expected suggested history queries")
	}
}

func TestBuildContextDegradesWithoutHistory(t *testing.T) {
	b := activeBullet("b-1", "postgres integration tests advice", 2)
	r, _, _ := newFixture(t, b)

	res, err := r.BuildContext(context.Background(), "postgres integration tests", Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if res.HistoryAvailable {
		t.Error("unavailable searcher must be reported")
	}
	if len(res.HistorySnippets) != 0 {
		t.Errorf("snippets = %+v", res.HistorySnippets)
	}
}
