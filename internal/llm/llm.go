// Package llm declares the model-facing collaborator contracts. The core
// never calls a model itself; implementations are injected at the CLI
// boundary and every consumer tolerates their absence.
package llm

import "context"

// Decision values a validator may return.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
	DecisionRefine = "refine"
)

// Verdict is a validator's judgment on a proposed bullet.
type Verdict struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Refined    string  `json:"refined,omitempty"`
}

// Diary is the structured summary extracted from one session transcript.
type Diary struct {
	Status          string   `json:"status"`
	Accomplishments []string `json:"accomplishments,omitempty"`
	Decisions       []string `json:"decisions,omitempty"`
	Challenges      []string `json:"challenges,omitempty"`
	Preferences     []string `json:"preferences,omitempty"`
	KeyLearnings    []string `json:"keyLearnings,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	SearchAnchors   []string `json:"searchAnchors,omitempty"`
}

// Validator judges whether a candidate rule is worth keeping.
type Validator interface {
	Validate(ctx context.Context, content string, evidence []string) (Verdict, error)
}

// DiaryExtractor turns a sanitized transcript into a Diary.
type DiaryExtractor interface {
	ExtractDiary(ctx context.Context, transcript string) (Diary, error)
}

// NormalizeVerdict folds a refine decision into accept-with-caution. The
// refined content replaces the candidate and the confidence is discounted.
func NormalizeVerdict(v Verdict) Verdict {
	if v.Decision != DecisionRefine {
		return v
	}
	v.Decision = DecisionAccept
	v.Confidence *= 0.8
	if v.Reasoning == "" {
		v.Reasoning = "accepted with caution after refinement"
	}
	return v
}
