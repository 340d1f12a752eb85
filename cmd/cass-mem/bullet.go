package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/cassmem/internal/coreerr"
	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/playbook"
	"github.com/boshu2/cassmem/internal/scoring"
)

var (
	bulletCategory   string
	bulletKind       string
	bulletScope      string
	bulletTags       []string
	bulletReason     string
	bulletReplacedBy string
	bulletToRepo     bool
	listAll          bool
	listCategory     string
)

var bulletCmd = &cobra.Command{
	Use:   "bullet",
	Short: "Add, list, pin, unpin, or deprecate rules",
}

var bulletAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a rule directly",
	Long: `Create a rule without going through reflection. New rules start as
draft candidates and earn activation through feedback. Rules go to the
global playbook unless --repo-local routes them to the repository overlay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		scope := playbook.ScopeGlobal
		if bulletScope != "" {
			parsed, ok := playbook.ParseScope(bulletScope)
			if !ok {
				return coreerr.New(coreerr.CodeInvalidScope, "unknown scope %q", bulletScope)
			}
			scope = parsed
		}

		path := a.store.GlobalPath
		if bulletToRepo {
			if repoDir == "" {
				return coreerr.New(coreerr.CodeInvalidDelta, "--repo-local requires --repo")
			}
			path = playbook.RepoPlaybookPath(repoDir)
		}

		var id string
		err := fslock.WithLock(path, func() error {
			pb, err := a.store.Load(path)
			if err != nil {
				return err
			}
			b, err := playbook.AddBullet(pb, playbook.BulletInput{
				Content:   args[0],
				Category:  bulletCategory,
				Kind:      playbook.Kind(bulletKind),
				Scope:     scope,
				Workspace: workspace,
				Tags:      bulletTags,
			}, "", 0)
			if err != nil {
				return err
			}
			id = b.ID
			return a.store.Save(pb, path)
		})
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(map[string]any{"success": true, "bulletId": id})
		}
		fmt.Printf("Added %s\n", id)
		return nil
	},
}

var bulletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		defer func() { _ = a.logger.Sync() }()

		pb, err := a.store.LoadMerged(repoDir)
		if err != nil {
			return err
		}

		bullets := pb.Bullets
		if !listAll {
			bullets = playbook.ActiveBullets(pb)
		}
		if listCategory != "" {
			var filtered []*playbook.Bullet
			for _, b := range bullets {
				if b.Category == listCategory {
					filtered = append(filtered, b)
				}
			}
			bullets = filtered
		}

		if jsonOut {
			return printJSON(bullets)
		}

		now := time.Now().UTC()
		for _, b := range bullets {
			marker := " "
			switch {
			case b.Pinned:
				marker = "*"
			case b.Deprecated:
				marker = "x"
			}
			fmt.Printf("%s %s [%s/%s, %+.1f] %s\n",
				marker, b.ID, b.Maturity, b.Category,
				scoring.Effective(b, a.cfg.Scoring, now), b.Content)
		}
		return nil
	},
}

var bulletPinCmd = &cobra.Command{
	Use:   "pin <bullet-id>",
	Short: "Protect a rule from automatic lifecycle changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateBullet(args[0], func(pb *playbook.Playbook, id string) error {
			return playbook.PinBullet(pb, id, bulletReason)
		}, "Pinned")
	},
}

var bulletUnpinCmd = &cobra.Command{
	Use:   "unpin <bullet-id>",
	Short: "Remove a rule's pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateBullet(args[0], func(pb *playbook.Playbook, id string) error {
			return playbook.UnpinBullet(pb, id)
		}, "Unpinned")
	},
}

var bulletDeprecateCmd = &cobra.Command{
	Use:   "deprecate <bullet-id>",
	Short: "Retire a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutateBullet(args[0], func(pb *playbook.Playbook, id string) error {
			if !playbook.DeprecateBullet(pb, id, bulletReason, bulletReplacedBy) {
				return coreerr.New(coreerr.CodeNotFound, "bullet %s not found", id)
			}
			return nil
		}, "Deprecated")
	},
}

// mutateBullet locks the owning file, applies fn, and saves.
func mutateBullet(id string, fn func(*playbook.Playbook, string) error, verb string) error {
	a := newApp()
	defer func() { _ = a.logger.Sync() }()

	path, err := resolveBulletFile(a, id)
	if err != nil {
		return err
	}

	err = fslock.WithLock(path, func() error {
		pb, err := a.store.Load(path)
		if err != nil {
			return err
		}
		if err := fn(pb, id); err != nil {
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
	fmt.Printf("%s %s\n", verb, id)
	return nil
}

func init() {
	bulletAddCmd.Flags().StringVar(&bulletCategory, "category", "general", "Rule category")
	bulletAddCmd.Flags().StringVar(&bulletKind, "kind", "", "Rule kind (workflow_rule, anti_pattern, stack_pattern)")
	bulletAddCmd.Flags().StringVar(&bulletScope, "scope", "", "Rule scope (global, workspace, language, framework, task)")
	bulletAddCmd.Flags().StringSliceVar(&bulletTags, "tags", nil, "Tags")
	bulletAddCmd.Flags().BoolVar(&bulletToRepo, "repo-local", false, "Write to the repository overlay instead of the global playbook")

	bulletListCmd.Flags().BoolVar(&listAll, "all", false, "Include retired rules")
	bulletListCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")

	bulletPinCmd.Flags().StringVar(&bulletReason, "reason", "", "Why the rule is pinned")
	bulletDeprecateCmd.Flags().StringVar(&bulletReason, "reason", "", "Why the rule is retired")
	bulletDeprecateCmd.Flags().StringVar(&bulletReplacedBy, "replaced-by", "", "Id of the replacement rule")

	bulletCmd.AddCommand(bulletAddCmd, bulletListCmd, bulletPinCmd, bulletUnpinCmd, bulletDeprecateCmd)
	rootCmd.AddCommand(bulletCmd)
}
