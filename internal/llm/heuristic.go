package llm

import (
	"bufio"
	"context"
	"strings"
)

// Markers recognized by the heuristic extractor. Agents that want their
// sessions reflected without a model can emit these line prefixes.
var (
	learningMarkers   = []string{"LEARNED:", "TIL:", "LESSON:"}
	preferenceMarkers = []string{"PREFERENCE:", "PREFER:"}
	challengeMarkers  = []string{"CHALLENGE:", "BLOCKED:"}
)

// HeuristicExtractor derives a diary from marker lines in the transcript.
// It is the fallback when no model provider is configured; sessions without
// markers produce an empty diary and no deltas.
type HeuristicExtractor struct{}

// ExtractDiary scans for marker-prefixed lines.
func (HeuristicExtractor) ExtractDiary(_ context.Context, transcript string) (Diary, error) {
	diary := Diary{Status: "extracted"}

	scanner := bufio.NewScanner(strings.NewReader(transcript))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if text, ok := afterMarker(line, learningMarkers); ok {
			diary.KeyLearnings = append(diary.KeyLearnings, text)
			continue
		}
		if text, ok := afterMarker(line, preferenceMarkers); ok {
			diary.Preferences = append(diary.Preferences, text)
			continue
		}
		if text, ok := afterMarker(line, challengeMarkers); ok {
			diary.Challenges = append(diary.Challenges, text)
		}
	}
	if err := scanner.Err(); err != nil {
		return diary, err
	}

	if len(diary.KeyLearnings) == 0 && len(diary.Preferences) == 0 && len(diary.Challenges) == 0 {
		diary.Status = "empty"
	}
	return diary, nil
}

func afterMarker(line string, markers []string) (string, bool) {
	for _, m := range markers {
		if rest, ok := strings.CutPrefix(line, m); ok {
			rest = strings.TrimSpace(rest)
			if rest != "" {
				return rest, true
			}
		}
	}
	return "", false
}
