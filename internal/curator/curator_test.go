package curator

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/playbook"
)

func testConfig() *config.Config {
	cfg := config.Default()
	return cfg
}

func addDelta(content, category string) Delta {
	return Delta{
		Type:          DeltaAdd,
		Bullet:        &BulletSpec{Content: content, Category: category},
		SourceSession: "/s/test.jsonl",
	}
}

func seedBullet(t *testing.T, pb *playbook.Playbook, content string) *playbook.Bullet {
	t.Helper()
	b, err := playbook.AddBullet(pb, playbook.BulletInput{Content: content, Category: "testing"}, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	b.State = playbook.StateActive
	return b
}

func TestCurateAddCreatesBullet(t *testing.T) {
	pb := playbook.New("test")
	res := Curate(pb, []Delta{addDelta("prefer table driven tests for parsers", "testing")}, testConfig(), zap.NewNop())

	if res.Applied != 1 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(pb.Bullets) != 1 {
		t.Fatalf("bullets = %d, want 1", len(pb.Bullets))
	}
	b := pb.Bullets[0]
	if b.State != playbook.StateDraft || b.Maturity != playbook.MaturityCandidate {
		t.Errorf("new bullet lifecycle = %v/%v", b.State, b.Maturity)
	}
}

func TestCurateAddHonorsSuggestedState(t *testing.T) {
	pb := playbook.New("test")
	delta := addDelta("retry idempotent requests with backoff", "networking")
	delta.Bullet.State = playbook.StateActive

	res := Curate(pb, []Delta{delta}, testConfig(), zap.NewNop())

	if res.Applied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if pb.Bullets[0].State != playbook.StateActive {
		t.Errorf("state = %v, want active", pb.Bullets[0].State)
	}
	if pb.Bullets[0].Maturity != playbook.MaturityCandidate {
		t.Errorf("state override must not touch maturity, got %v", pb.Bullets[0].Maturity)
	}
}

func TestCurateAddRejectsIncomplete(t *testing.T) {
	pb := playbook.New("test")
	deltas := []Delta{
		{Type: DeltaAdd, Bullet: &BulletSpec{Category: "testing"}},
		{Type: DeltaAdd, Bullet: &BulletSpec{Content: "something"}},
		{Type: DeltaAdd},
	}
	res := Curate(pb, deltas, testConfig(), zap.NewNop())

	if res.Applied != 0 || res.Skipped != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Conflicts) != 3 {
		t.Errorf("conflicts = %d, want 3", len(res.Conflicts))
	}
	if len(pb.Bullets) != 0 {
		t.Error("incomplete adds must not create bullets")
	}
}

func TestCurateAddSkipsExactDuplicate(t *testing.T) {
	pb := playbook.New("test")
	seedBullet(t, pb, "always gofmt before committing")

	// Hash normalization makes case and spacing irrelevant.
	res := Curate(pb, []Delta{addDelta("Always   gofmt before committing", "testing")}, testConfig(), zap.NewNop())

	if res.Skipped != 1 {
		t.Errorf("exact duplicate should skip, result = %+v", res)
	}
	if len(pb.Bullets) != 1 {
		t.Errorf("bullets = %d, want 1", len(pb.Bullets))
	}
}

func TestCurateAddReinforcesNearDuplicate(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "pin postgres version in integration test containers")

	res := Curate(pb, []Delta{addDelta("pin postgres version in integration test containers please", "testing")}, testConfig(), zap.NewNop())

	if res.Applied != 1 {
		t.Errorf("reinforcement counts as applied, result = %+v", res)
	}
	if len(pb.Bullets) != 1 {
		t.Fatalf("near duplicate must not create a bullet, got %d", len(pb.Bullets))
	}
	if b.HelpfulCount != 1 || len(b.FeedbackEvents) != 1 {
		t.Fatalf("existing bullet not reinforced: %d events", len(b.FeedbackEvents))
	}
	if b.FeedbackEvents[0].Context != "Reinforced by similar insight" {
		t.Errorf("event context = %q", b.FeedbackEvents[0].Context)
	}
}

func TestCurateFeedbackDeltas(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "run the linter locally")

	deltas := []Delta{
		{Type: DeltaHelpful, BulletID: b.ID, SourceSession: "/s/a.jsonl"},
		{Type: DeltaHarmful, BulletID: b.ID, Reason: "slowed down CI"},
		{Type: DeltaHelpful, BulletID: "b-missing"},
	}
	res := Curate(pb, deltas, testConfig(), zap.NewNop())

	if res.Applied != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v", res)
	}
	if b.HelpfulCount != 1 || b.HarmfulCount != 1 {
		t.Errorf("counters = %d/%d", b.HelpfulCount, b.HarmfulCount)
	}
	if b.LastValidatedAt == nil {
		t.Error("helpful feedback should set lastValidatedAt")
	}
}

func TestCurateReplace(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "old content here")
	oldHash := b.ContentHash

	res := Curate(pb, []Delta{{Type: DeltaReplace, BulletID: b.ID, NewContent: "new improved content"}}, testConfig(), zap.NewNop())

	if res.Applied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if b.Content != "new improved content" {
		t.Errorf("content = %q", b.Content)
	}
	if b.ContentHash == oldHash {
		t.Error("content hash must track the new content")
	}
}

func TestCurateReplaceRejectsDuplicateContent(t *testing.T) {
	pb := playbook.New("test")
	a := seedBullet(t, pb, "cache immutable responses aggressively")
	b := seedBullet(t, pb, "invalidate caches on every deploy")

	res := Curate(pb, []Delta{{Type: DeltaReplace, BulletID: a.ID, NewContent: b.Content}}, testConfig(), zap.NewNop())

	if res.Applied != 0 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Conflicts[0].Reason, b.ID) {
		t.Errorf("conflict reason = %q", res.Conflicts[0].Reason)
	}
	if a.Content != "cache immutable responses aggressively" {
		t.Errorf("rejected replace mutated content: %q", a.Content)
	}

	hashes := map[string]int{}
	for _, bb := range playbook.ActiveBullets(pb) {
		hashes[bb.ContentHash]++
	}
	for h, n := range hashes {
		if n > 1 {
			t.Errorf("hash %s appears %d times among active bullets", h, n)
		}
	}
}

func TestCurateDeprecate(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "use the deprecated client")

	res := Curate(pb, []Delta{{Type: DeltaDeprecate, BulletID: b.ID, Reason: "client removed"}}, testConfig(), zap.NewNop())

	if res.Applied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !b.Deprecated || b.State != playbook.StateRetired || b.Maturity != playbook.MaturityDeprecated {
		t.Error("all three retirement markers must agree")
	}
}

func TestCurateMerge(t *testing.T) {
	pb := playbook.New("test")
	a := seedBullet(t, pb, "first fragment of advice")
	a.Tags = []string{"ci", "shared"}
	b := seedBullet(t, pb, "second fragment of advice")
	b.Tags = []string{"shared", "docker"}

	res := Curate(pb, []Delta{{
		Type:          DeltaMerge,
		BulletIDs:     []string{a.ID, b.ID},
		MergedContent: "combined advice covering both",
	}}, testConfig(), zap.NewNop())

	if res.Applied != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(pb.Bullets) != 3 {
		t.Fatalf("bullets = %d, want 3", len(pb.Bullets))
	}

	merged := pb.Bullets[2]
	if merged.Category != a.Category {
		t.Errorf("merged category = %q, want first source's", merged.Category)
	}
	if len(merged.Tags) != 3 {
		t.Errorf("merged tags = %v, want union of 3", merged.Tags)
	}
	for _, src := range []*playbook.Bullet{a, b} {
		if !src.Deprecated || src.ReplacedBy != merged.ID {
			t.Errorf("source %s not retired into merged bullet", src.ID)
		}
	}
}

func TestCurateMergeNeedsTwoSources(t *testing.T) {
	pb := playbook.New("test")
	a := seedBullet(t, pb, "lonely advice")

	res := Curate(pb, []Delta{{
		Type:          DeltaMerge,
		BulletIDs:     []string{a.ID, "b-missing"},
		MergedContent: "combined",
	}}, testConfig(), zap.NewNop())

	if res.Skipped != 1 {
		t.Errorf("merge with one resolvable source must skip, result = %+v", res)
	}
	if a.Deprecated {
		t.Error("failed merge must not retire sources")
	}
}

func TestCurateMergeRejectsDuplicateContent(t *testing.T) {
	pb := playbook.New("test")
	a := seedBullet(t, pb, "first fragment of advice")
	b := seedBullet(t, pb, "second fragment of advice")
	c := seedBullet(t, pb, "standalone advice elsewhere")

	res := Curate(pb, []Delta{{
		Type:          DeltaMerge,
		BulletIDs:     []string{a.ID, b.ID},
		MergedContent: c.Content,
	}}, testConfig(), zap.NewNop())

	if res.Skipped != 1 {
		t.Fatalf("merge duplicating an outside bullet must skip, result = %+v", res)
	}
	if a.Deprecated || b.Deprecated {
		t.Error("rejected merge must not retire sources")
	}

	// Matching a source is fine: the source retires as part of the merge.
	res2 := Curate(pb, []Delta{{
		Type:          DeltaMerge,
		BulletIDs:     []string{a.ID, b.ID},
		MergedContent: a.Content,
	}}, testConfig(), zap.NewNop())
	if res2.Applied != 1 {
		t.Fatalf("merge matching its own source must apply, result = %+v", res2)
	}
	if !a.Deprecated || !b.Deprecated {
		t.Error("sources not retired after merge")
	}
}

func TestCurateUnknownDeltaType(t *testing.T) {
	pb := playbook.New("test")
	res := Curate(pb, []Delta{{Type: "rename"}}, testConfig(), zap.NewNop())

	if res.Skipped != 1 || len(res.Conflicts) != 1 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Conflicts[0].Reason, "unknown delta type") {
		t.Errorf("conflict reason = %q", res.Conflicts[0].Reason)
	}
}

func TestPostProcessPromotes(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "battle tested advice")
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		b.FeedbackEvents = append(b.FeedbackEvents, playbook.FeedbackEvent{Type: playbook.FeedbackHelpful, Timestamp: now})
	}
	playbook.RebuildCounters(b)

	res := Curate(pb, nil, testConfig(), zap.NewNop())

	if len(res.Promotions) != 1 {
		t.Fatalf("promotions = %+v", res.Promotions)
	}
	p := res.Promotions[0]
	if p.From != playbook.MaturityCandidate || p.To != playbook.MaturityProven {
		t.Errorf("promotion = %v -> %v", p.From, p.To)
	}
	if b.Maturity != playbook.MaturityProven {
		t.Errorf("maturity = %v", b.Maturity)
	}
}

func TestPostProcessAutoPrunes(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "advice that keeps backfiring")
	b.Maturity = playbook.MaturityEstablished
	now := time.Now().UTC()
	// 2 fresh harmful at multiplier 4: effective -8, well below -2.
	// Harmful also exceeds 3? No: decayed harmful = 2 < 3, so no inversion.
	for i := 0; i < 2; i++ {
		b.FeedbackEvents = append(b.FeedbackEvents, playbook.FeedbackEvent{Type: playbook.FeedbackHarmful, Timestamp: now})
	}
	playbook.RebuildCounters(b)

	res := Curate(pb, nil, testConfig(), zap.NewNop())

	if res.Pruned != 1 {
		t.Errorf("pruned = %d, want 1", res.Pruned)
	}
	if !b.Deprecated {
		t.Error("pruned bullet must be deprecated")
	}

	// Pinned bullets survive identical evidence.
	pb2 := playbook.New("test")
	p := seedBullet(t, pb2, "protected advice")
	p.Pinned = true
	p.FeedbackEvents = b.FeedbackEvents
	playbook.RebuildCounters(p)
	res2 := Curate(pb2, nil, testConfig(), zap.NewNop())
	if res2.Pruned != 0 || p.Deprecated {
		t.Error("pinned bullet must not be auto-pruned")
	}
}

func TestPostProcessInverts(t *testing.T) {
	pb := playbook.New("test")
	b := seedBullet(t, pb, "use retry loops around flaky calls")
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		b.FeedbackEvents = append(b.FeedbackEvents, playbook.FeedbackEvent{
			Type: playbook.FeedbackHarmful, Timestamp: now, Reason: "masked a real outage",
		})
	}
	playbook.RebuildCounters(b)

	res := Curate(pb, nil, testConfig(), zap.NewNop())

	if len(res.Inversions) != 1 {
		t.Fatalf("inversions = %+v", res.Inversions)
	}
	inv := res.Inversions[0]
	if inv.OriginalID != b.ID {
		t.Errorf("inversion original = %q", inv.OriginalID)
	}

	anti := playbook.FindBullet(pb, inv.NewID)
	if anti == nil {
		t.Fatal("inverted bullet missing from playbook")
	}
	if !strings.HasPrefix(anti.Content, "AVOID: use retry loops around flaky calls") {
		t.Errorf("anti content = %q", anti.Content)
	}
	if !anti.IsNegative || anti.Kind != playbook.KindAntiPattern {
		t.Error("inverted bullet must be negative")
	}
	if !b.Deprecated || b.ReplacedBy != anti.ID {
		t.Error("original must be retired pointing at the anti-pattern")
	}
}

func TestCurateNeverDuplicatesActiveHashes(t *testing.T) {
	pb := playbook.New("test")
	seedBullet(t, pb, "one true piece of advice")

	deltas := []Delta{
		addDelta("one true piece of advice", "testing"),
		addDelta("one TRUE piece of advice", "testing"),
	}
	Curate(pb, deltas, testConfig(), zap.NewNop())

	hashes := map[string]int{}
	for _, b := range playbook.ActiveBullets(pb) {
		hashes[b.ContentHash]++
	}
	for h, n := range hashes {
		if n > 1 {
			t.Errorf("hash %s appears %d times among active bullets", h, n)
		}
	}
}

func TestCurateActiveCountBoundedByAdds(t *testing.T) {
	pb := playbook.New("test")
	seedBullet(t, pb, "existing advice about databases")
	before := len(playbook.ActiveBullets(pb))

	deltas := []Delta{
		addDelta("fresh advice about caching layers", "perf"),
		addDelta("fresh advice about caching layers", "perf"), // dup of previous in-batch
		{Type: DeltaHelpful, BulletID: "b-missing"},
	}
	Curate(pb, deltas, testConfig(), zap.NewNop())

	after := len(playbook.ActiveBullets(pb))
	if after-before > 2 {
		t.Errorf("active count grew by %d, more than the %d adds", after-before, 2)
	}
}
