// Package history wraps the external session-search tool. The tool indexes
// coding-agent transcripts and answers keyword queries; it is an optional
// collaborator and every call here fails soft so the rest of the system
// degrades instead of breaking when it is absent.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Timeouts for external tool invocations.
const (
	searchTimeout = 30 * time.Second
	exportTimeout = 30 * time.Second
)

// missingIndexExit is the tool's exit code when its index does not exist
// yet. One rebuild is attempted, then the original call retried once.
const missingIndexExit = 3

// Snippet is one search hit.
type Snippet struct {
	SessionPath string    `json:"sessionPath"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Agent       string    `json:"agent,omitempty"`
	Score       float64   `json:"score,omitempty"`
}

// Session is one timeline entry.
type Session struct {
	Path      string    `json:"path"`
	Agent     string    `json:"agent,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
}

// SearchOpts bound a search call.
type SearchOpts struct {
	Limit     int
	Days      int
	Agent     string
	Workspace string
}

// Searcher is the read side consumed by the gate and the ranker.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOpts) ([]Snippet, error)
	Available() bool
}

// Client shells out to the configured binary.
type Client struct {
	binary    string
	logger    *zap.Logger
	available bool
	rebuilt   bool

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewClient probes for the binary on PATH. A missing binary yields a client
// whose calls all return empty results.
func NewClient(binary string, logger *zap.Logger) *Client {
	if binary == "" {
		binary = "cass"
	}
	c := &Client{binary: binary, logger: logger, runCommand: runCommand}
	if _, err := exec.LookPath(binary); err == nil {
		c.available = true
	} else {
		logger.Debug("history tool not found, degrading", zap.String("binary", binary))
	}
	return c
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

// Available reports whether the external tool can serve queries.
func (c *Client) Available() bool {
	return c.available
}

// Search runs a keyword query over indexed sessions. Unavailable tool or a
// failed invocation yields an empty slice and flips Available to false so
// callers can distinguish "no evidence" from "no oracle".
func (c *Client) Search(ctx context.Context, query string, opts SearchOpts) ([]Snippet, error) {
	if !c.available {
		return nil, nil
	}

	args := []string{"search", query, "--json"}
	if opts.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(opts.Limit))
	}
	if opts.Days > 0 {
		args = append(args, "--days", strconv.Itoa(opts.Days))
	}
	if opts.Agent != "" {
		args = append(args, "--agent", opts.Agent)
	}
	if opts.Workspace != "" {
		args = append(args, "--workspace", opts.Workspace)
	}

	out, err := c.run(ctx, searchTimeout, args...)
	if err != nil {
		c.degrade("search", err)
		return nil, nil
	}

	var snippets []Snippet
	if err := json.Unmarshal(out, &snippets); err != nil {
		c.logger.Warn("history search returned unparseable output", zap.Error(err))
		return nil, nil
	}
	return snippets, nil
}

// Export returns the full transcript of one session.
func (c *Client) Export(ctx context.Context, sessionPath string) (string, error) {
	if !c.available {
		return "", fmt.Errorf("history tool unavailable")
	}
	out, err := c.run(ctx, exportTimeout, "export", sessionPath, "--text")
	if err != nil {
		return "", fmt.Errorf("export %s: %w", sessionPath, err)
	}
	return string(out), nil
}

// Timeline lists sessions from the last N days, newest first.
func (c *Client) Timeline(ctx context.Context, days int) ([]Session, error) {
	if !c.available {
		return nil, nil
	}
	out, err := c.run(ctx, searchTimeout, "timeline", "--days", strconv.Itoa(days), "--json")
	if err != nil {
		c.degrade("timeline", err)
		return nil, nil
	}

	var sessions []Session
	if err := json.Unmarshal(out, &sessions); err != nil {
		c.logger.Warn("history timeline returned unparseable output", zap.Error(err))
		return nil, nil
	}
	return sessions, nil
}

// run executes one tool invocation with a timeout, rebuilding the index
// once when the tool reports it missing.
func (c *Client) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := c.runCommand(cctx, c.binary, args...)
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == missingIndexExit && !c.rebuilt {
		c.rebuilt = true
		c.logger.Info("history index missing, rebuilding once")
		if _, rerr := c.runCommand(cctx, c.binary, "index", "--rebuild"); rerr != nil {
			return nil, err
		}
		return c.runCommand(cctx, c.binary, args...)
	}
	return out, err
}

func (c *Client) degrade(op string, err error) {
	c.logger.Warn("history tool failed, degrading to empty results",
		zap.String("op", op), zap.Error(err))
	c.available = false
}
