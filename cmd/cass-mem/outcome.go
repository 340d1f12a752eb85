package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/coreerr"
	"github.com/boshu2/cassmem/internal/outcome"
)

var (
	outcomeSessionID string
	outcomeStatus    string
	outcomeRules     []string
	outcomeNotes     string
	outcomeDuration  float64
	outcomeErrors    int
	outcomeRetries   bool
	outcomeSentiment string
	outcomeSession   string
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record a task outcome and weight the rules it used",
	Long: `Append an outcome record to the outcome log and translate it into one
weighted feedback event per cited rule. Duration, error count, retries and
sentiment all shift the weight; failure signals count several times heavier
than success signals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch outcomeStatus {
		case outcome.StatusSuccess, outcome.StatusFailure, outcome.StatusMixed:
		default:
			return coreerr.New(coreerr.CodeInvalidDelta,
				"--status must be success, failure, or mixed, got %q", outcomeStatus)
		}

		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		rec := outcome.Record{
			SessionID:   outcomeSessionID,
			Outcome:     outcomeStatus,
			RulesUsed:   outcomeRules,
			Notes:       outcomeNotes,
			DurationSec: outcomeDuration,
			ErrorCount:  outcomeErrors,
			HadRetries:  outcomeRetries,
			Sentiment:   outcomeSentiment,
			Path:        outcomeSession,
		}

		logPath := filepath.Join(config.DataDir(), "outcomes.jsonl")
		if err := outcome.Append(logPath, rec); err != nil {
			return err
		}

		applied, missing := 0, 0
		if len(outcomeRules) > 0 {
			applier := outcome.NewApplier(a.store, a.logger)
			var err error
			applied, missing, err = applier.Apply(rec, repoDir)
			if err != nil {
				return err
			}
		}

		if jsonOut {
			return printJSON(map[string]any{
				"success": true,
				"applied": applied,
				"missing": missing,
			})
		}
		fmt.Printf("Outcome recorded: %d rule(s) updated", applied)
		if missing > 0 {
			fmt.Printf(", %d unknown id(s) skipped", missing)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	outcomeCmd.Flags().StringVar(&outcomeSessionID, "session-id", "", "Session identifier")
	outcomeCmd.Flags().StringVar(&outcomeStatus, "status", "", "Outcome: success, failure, or mixed")
	outcomeCmd.Flags().StringSliceVar(&outcomeRules, "rules", nil, "Bullet ids the task relied on")
	outcomeCmd.Flags().StringVar(&outcomeNotes, "notes", "", "Free-form notes")
	outcomeCmd.Flags().Float64Var(&outcomeDuration, "duration", 0, "Task duration in seconds")
	outcomeCmd.Flags().IntVar(&outcomeErrors, "errors", 0, "Errors hit during the task")
	outcomeCmd.Flags().BoolVar(&outcomeRetries, "retries", false, "The task needed retries")
	outcomeCmd.Flags().StringVar(&outcomeSentiment, "sentiment", "", "Overall sentiment: positive or negative")
	outcomeCmd.Flags().StringVar(&outcomeSession, "session", "", "Session transcript path")
	_ = outcomeCmd.MarkFlagRequired("status")
	rootCmd.AddCommand(outcomeCmd)
}
