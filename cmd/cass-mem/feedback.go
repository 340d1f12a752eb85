package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/cassmem/internal/coreerr"
	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/playbook"
)

var (
	feedbackHelpful bool
	feedbackHarmful bool
	feedbackReason  string
	feedbackSession string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <bullet-id>",
	Short: "Record that a rule helped or hurt",
	Long: `Append a feedback event to a rule. Helpful feedback builds trust and
updates the validation timestamp; harmful feedback decays trust four times
faster. Maturity changes happen at the next curation pass, not here.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if feedbackHelpful == feedbackHarmful {
			return coreerr.New(coreerr.CodeInvalidDelta, "exactly one of --helpful or --harmful is required")
		}

		feedbackType := playbook.FeedbackHelpful
		if feedbackHarmful {
			feedbackType = playbook.FeedbackHarmful
		}

		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		id := args[0]
		path, err := resolveBulletFile(a, id)
		if err != nil {
			return err
		}

		err = fslock.WithLock(path, func() error {
			pb, err := a.store.Load(path)
			if err != nil {
				return err
			}
			if ok := playbook.RecordFeedbackEvent(pb, id, feedbackType, playbook.FeedbackOpts{
				SessionPath: feedbackSession,
				Reason:      feedbackReason,
			}); !ok {
				return coreerr.New(coreerr.CodeNotFound, "bullet %s not found", id)
			}
			return a.store.Save(pb, path)
		})
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(map[string]any{"success": true, "bulletId": id, "type": feedbackType})
		}
		fmt.Printf("Recorded %s feedback on %s\n", feedbackType, id)
		return nil
	},
}

// resolveBulletFile finds the playbook file owning a bullet id, repo overlay
// preferred over global.
func resolveBulletFile(a *app, id string) (string, error) {
	candidates := []string{}
	if repoDir != "" {
		candidates = append(candidates, playbook.RepoPlaybookPath(repoDir))
	}
	candidates = append(candidates, a.store.GlobalPath)

	for _, path := range candidates {
		pb, err := a.store.Load(path)
		if err != nil {
			return "", err
		}
		if playbook.FindBullet(pb, id) != nil {
			return path, nil
		}
	}
	return "", coreerr.New(coreerr.CodeNotFound, "bullet %s not found", id)
}

func init() {
	feedbackCmd.Flags().BoolVar(&feedbackHelpful, "helpful", false, "The rule helped")
	feedbackCmd.Flags().BoolVar(&feedbackHarmful, "harmful", false, "The rule hurt")
	feedbackCmd.Flags().StringVar(&feedbackReason, "reason", "", "Why the rule hurt")
	feedbackCmd.Flags().StringVar(&feedbackSession, "session", "", "Originating session path")
	rootCmd.AddCommand(feedbackCmd)
}
