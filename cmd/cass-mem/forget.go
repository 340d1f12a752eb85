package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/playbook"
)

var forgetReason string

var forgetCmd = &cobra.Command{
	Use:   "forget <bullet-id>",
	Short: "Permanently suppress a rule's content",
	Long: `Retire a rule and record its content in the toxic log. Unlike plain
deprecation, forgotten content can never be resurrected: reflection drops
any future insight whose content matches, exactly or by similarity.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		id := args[0]
		path, err := resolveBulletFile(a, id)
		if err != nil {
			return err
		}

		// Forgotten via the repo overlay goes to the repo's toxic log so
		// the suppression travels with the repository.
		toxicPath := a.store.GlobalToxicPath()
		if repoDir != "" && path == playbook.RepoPlaybookPath(repoDir) {
			toxicPath = playbook.RepoToxicPath(repoDir)
		}

		err = fslock.WithLock(path, func() error {
			pb, err := a.store.Load(path)
			if err != nil {
				return err
			}
			if err := playbook.Forget(pb, id, forgetReason, toxicPath); err != nil {
				return err
			}
			return a.store.Save(pb, path)
		})
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(map[string]any{"success": true, "bulletId": id})
		}
		fmt.Printf("Forgot %s, content suppressed\n", id)
		return nil
	},
}

func init() {
	forgetCmd.Flags().StringVar(&forgetReason, "reason", "", "Why the content is toxic")
	rootCmd.AddCommand(forgetCmd)
}
