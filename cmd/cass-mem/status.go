package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/cassmem/internal/history"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/scoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show playbook health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		pb, err := a.store.LoadMerged(repoDir)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		byMaturity := map[playbook.Maturity]int{}
		active, pinned, stale, antiPatterns := 0, 0, 0, 0
		for _, b := range pb.Bullets {
			byMaturity[b.Maturity]++
			if b.IsActive() {
				active++
				if scoring.IsStale(b, a.cfg.Scoring.StaleDays, now) {
					stale++
				}
			}
			if b.Pinned {
				pinned++
			}
			if b.IsAntiPattern() {
				antiPatterns++
			}
		}

		searcher := history.NewClient(a.cfg.CassPath, a.logger)

		if jsonOut {
			return printJSON(map[string]any{
				"playbook":         a.store.GlobalPath,
				"total":            len(pb.Bullets),
				"active":           active,
				"pinned":           pinned,
				"stale":            stale,
				"antiPatterns":     antiPatterns,
				"byMaturity":       byMaturity,
				"historyAvailable": searcher.Available(),
				"lastReflection":   pb.Metadata.LastReflection,
			})
		}

		fmt.Printf("Playbook: %s\n", a.store.GlobalPath)
		fmt.Printf("  %d rules, %d active (%d stale), %d pinned, %d anti-patterns\n",
			len(pb.Bullets), active, stale, pinned, antiPatterns)
		fmt.Printf("  candidate %d / established %d / proven %d / deprecated %d\n",
			byMaturity[playbook.MaturityCandidate],
			byMaturity[playbook.MaturityEstablished],
			byMaturity[playbook.MaturityProven],
			byMaturity[playbook.MaturityDeprecated])
		if pb.Metadata.LastReflection != nil {
			fmt.Printf("  last reflection: %s\n", pb.Metadata.LastReflection.Format(time.RFC3339))
		}
		if !searcher.Available() {
			fmt.Println("  history tool unavailable: context and reflection degrade")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
