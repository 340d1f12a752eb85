// Package outcome records observed results of applying playbook rules and
// translates them into weighted feedback events.
package outcome

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/boshu2/cassmem/internal/storage"
)

// Status values for an outcome record.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusMixed   = "mixed"
)

// Sentiment values.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
)

// Signal thresholds for the applier.
const (
	fastThresholdSec = 600
	slowThresholdSec = 3600
	minWeight        = 0.1
	maxWeight        = 2.0
)

// Record is one observed outcome, appended as NDJSON.
type Record struct {
	SessionID   string    `json:"sessionId"`
	Outcome     string    `json:"outcome"`
	RulesUsed   []string  `json:"rulesUsed"`
	Notes       string    `json:"notes,omitempty"`
	DurationSec float64   `json:"durationSec,omitempty"`
	ErrorCount  int       `json:"errorCount,omitempty"`
	HadRetries  bool      `json:"hadRetries,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
	Path        string    `json:"path,omitempty"`
}

// Append writes one record to the outcome log, stamping RecordedAt when
// unset. The underlying append is atomic for short writes, so concurrent
// recorders interleave whole lines.
func Append(logPath string, rec Record) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return storage.AppendLine(logPath, data)
}

// Load reads the outcome log, skipping malformed lines. A missing file
// yields an empty list.
func Load(logPath string) (records []Record, err error) {
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open outcome log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

// Feedback is the derived signal for one outcome.
type Feedback struct {
	Helpful bool
	Weight  float64
}

// Derive aggregates the record's signals into a single weighted feedback
// direction. The larger aggregate wins; ties break helpful. The weight is
// clamped to [0.1, 2.0].
func Derive(rec Record) Feedback {
	var helpful, harmful float64

	switch rec.Outcome {
	case StatusSuccess:
		helpful += 1
	case StatusFailure:
		harmful += 1
	case StatusMixed:
		helpful += 0.1
		harmful += 0.1
	}

	if rec.DurationSec > 0 {
		if rec.DurationSec < fastThresholdSec && rec.Outcome != StatusFailure {
			helpful += 0.5
		}
		if rec.DurationSec > slowThresholdSec {
			harmful += 0.3
		}
	}

	switch {
	case rec.ErrorCount >= 2:
		harmful += 0.7
	case rec.ErrorCount == 1:
		harmful += 0.3
	}

	if rec.HadRetries {
		harmful += 0.5
	}

	switch rec.Sentiment {
	case SentimentPositive:
		helpful += 0.3
	case SentimentNegative:
		harmful += 0.5
	}

	fb := Feedback{Helpful: helpful >= harmful}
	weight := harmful
	if fb.Helpful {
		weight = helpful
	}
	if weight < minWeight {
		weight = minWeight
	}
	if weight > maxWeight {
		weight = maxWeight
	}
	fb.Weight = weight
	return fb
}
