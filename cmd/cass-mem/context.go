package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/embedding"
	"github.com/boshu2/cassmem/internal/history"
	"github.com/boshu2/cassmem/internal/ranker"
)

var contextCmd = &cobra.Command{
	Use:   "context <task>",
	Short: "Build a pre-task briefing from the playbook and history",
	Long: `Rank the playbook's rules against a task description and assemble a
briefing: the most relevant rules, the anti-patterns to avoid, matching
historical snippets, and warnings for deprecated patterns.

Read-only: degrades gracefully when the history tool is unavailable and
annotates the result accordingly.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task := strings.Join(args, " ")
		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		searcher := history.NewClient(a.cfg.CassPath, a.logger)
		cache := embedding.OpenCache(config.DataDir(), a.logger)
		r := ranker.New(a.store, searcher, cache, embedding.None{}, a.cfg, a.logger)

		res, err := r.BuildContext(cmd.Context(), task, ranker.Opts{
			Workspace: workspace,
			RepoDir:   repoDir,
		})
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(res)
		}

		printContext(res)
		return nil
	},
}

func printContext(res *ranker.ContextResult) {
	fmt.Printf("Task: %s\n\n", res.Task)

	if len(res.RelevantBullets) > 0 {
		fmt.Println("Rules:")
		for _, rb := range res.RelevantBullets {
			fmt.Printf("  [%.2f] %s (%s, %s)\n", rb.Score, rb.Bullet.Content, rb.Bullet.ID, rb.Bullet.Maturity)
		}
		fmt.Println()
	}

	if len(res.AntiPatterns) > 0 {
		fmt.Println("Anti-patterns:")
		for _, rb := range res.AntiPatterns {
			fmt.Printf("  [%.2f] %s (%s)\n", rb.Score, rb.Bullet.Content, rb.Bullet.ID)
		}
		fmt.Println()
	}

	if len(res.DeprecatedWarnings) > 0 {
		fmt.Println("Warnings:")
		for _, w := range res.DeprecatedWarnings {
			line := fmt.Sprintf("  %q is deprecated", w.Pattern)
			if w.Replacement != "" {
				line += ", use " + w.Replacement
			}
			if w.Reason != "" {
				line += " (" + w.Reason + ")"
			}
			fmt.Println(line)
		}
		fmt.Println()
	}

	if len(res.HistorySnippets) > 0 {
		fmt.Println("History:")
		for _, s := range res.HistorySnippets {
			fmt.Printf("  %s: %s\n", s.SessionPath, s.Text)
		}
		fmt.Println()
	}

	if !res.HistoryAvailable {
		fmt.Println("(history tool unavailable, briefing built from the playbook alone)")
	}

	if len(res.RelevantBullets)+len(res.AntiPatterns) == 0 {
		fmt.Println("No relevant rules yet. Run 'cass-mem reflect' after a few sessions.")
	}
}

func init() {
	rootCmd.AddCommand(contextCmd)
}
