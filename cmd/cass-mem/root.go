package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boshu2/cassmem/internal/config"
	"github.com/boshu2/cassmem/internal/coreerr"
	"github.com/boshu2/cassmem/internal/fslock"
	"github.com/boshu2/cassmem/internal/logging"
	"github.com/boshu2/cassmem/internal/playbook"
)

var (
	// Global flags
	verbose   bool
	jsonOut   bool
	cfgFile   string
	workspace string
	repoDir   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cass-mem",
	Short: "Procedural memory for coding agents",
	Long: `cass-mem maintains a playbook of hard-won rules that coding agents
learn across sessions.

Core Commands:
  context      Build a pre-task briefing from the playbook and history
  reflect      Distill recent sessions into playbook updates
  feedback     Record that a rule helped or hurt
  outcome      Record a task outcome and weight the rules it used
  bullet       Add, list, pin, unpin, or deprecate rules
  forget       Permanently suppress a rule's content
  status       Show playbook health
  version      Show version information

Rules earn trust through feedback: helpful use promotes them, harm decays
them much faster, and rules that keep backfiring are inverted into
anti-patterns.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		failJSON(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Emit JSON for scripting")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./.cass/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "Workspace name for scoped rules")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", "", "Repository root holding a .cass overlay")
}

// app bundles the wiring every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *playbook.Store
}

func newApp() *app {
	cfg := config.Load(cfgFile)
	logger := logging.New(verbose, jsonOut)
	store := playbook.NewStore(cfg.ResolvedPlaybookPath(), logger)
	return &app{cfg: cfg, logger: logger, store: store}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// failJSON renders an error in the machine-readable failure envelope when
// --json is set, plain text otherwise.
func failJSON(err error) {
	if !jsonOut {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return
	}

	code := "internal"
	var ce *coreerr.Error
	switch {
	case errors.As(err, &ce):
		code = string(ce.Code)
	case errors.Is(err, playbook.ErrBulletNotFound):
		code = string(coreerr.CodeNotFound)
	case errors.Is(err, playbook.ErrPinned):
		code = string(coreerr.CodePinned)
	case errors.Is(err, fslock.ErrLockTimeout):
		code = string(coreerr.CodeLockTimeout)
	}
	envelope := map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": err.Error(),
		},
	}
	data, _ := json.Marshal(envelope)
	fmt.Println(string(data))
}
