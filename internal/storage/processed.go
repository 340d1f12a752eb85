package storage

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// processedHeader is the first line of every processed log.
const processedHeader = "# id\tsessionPath\tprocessedAt\tdeltasProposed\tdeltasApplied"

// ProcessedEntry records one reflected session.
type ProcessedEntry struct {
	// ID is the diary or reflection id, "-" when unknown.
	ID string

	// SessionPath identifies the session transcript.
	SessionPath string

	// ProcessedAt is when reflection completed for the session.
	ProcessedAt time.Time

	// DeltasProposed is how many deltas the reflection produced.
	DeltasProposed int

	// DeltasApplied is how many deltas the curator applied.
	DeltasApplied int
}

// ProcessedLog is the crash-safe record of sessions already reflected.
// Membership queries are O(1) via an in-memory set keyed by session path.
type ProcessedLog struct {
	path    string
	entries []ProcessedEntry
	seen    map[string]bool
}

// WorkspaceLogName returns the per-scope processed log file name:
// "global.processed.log" for the global scope, "ws-<8hex>.processed.log"
// keyed by a hash of the workspace path otherwise.
func WorkspaceLogName(workspace string) string {
	if workspace == "" {
		return "global.processed.log"
	}
	sum := sha256.Sum256([]byte(workspace))
	return "ws-" + hex.EncodeToString(sum[:4]) + ".processed.log"
}

// LoadProcessedLog reads the log at path. A missing file yields an empty log.
// Malformed lines are skipped, not fatal.
func LoadProcessedLog(path string) (*ProcessedLog, error) {
	log := &ProcessedLog{path: path, seen: make(map[string]bool)}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return log, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open processed log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entry, ok := parseProcessedLine(line)
		if !ok {
			continue
		}
		log.entries = append(log.entries, entry)
		log.seen[entry.SessionPath] = true
	}

	return log, scanner.Err()
}

// parseProcessedLine parses one tab-separated row.
func parseProcessedLine(line string) (ProcessedEntry, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) != 5 {
		return ProcessedEntry{}, false
	}

	processedAt, err := time.Parse(time.RFC3339, fields[2])
	if err != nil {
		return ProcessedEntry{}, false
	}
	proposed, err := strconv.Atoi(fields[3])
	if err != nil {
		return ProcessedEntry{}, false
	}
	applied, err := strconv.Atoi(fields[4])
	if err != nil {
		return ProcessedEntry{}, false
	}

	return ProcessedEntry{
		ID:             fields[0],
		SessionPath:    fields[1],
		ProcessedAt:    processedAt,
		DeltasProposed: proposed,
		DeltasApplied:  applied,
	}, true
}

// Contains reports whether a session has already been reflected.
func (l *ProcessedLog) Contains(sessionPath string) bool {
	return l.seen[sessionPath]
}

// Entries returns all loaded entries in file order.
func (l *ProcessedLog) Entries() []ProcessedEntry {
	return l.entries
}

// Append records a session as processed. Idempotent per session path.
func (l *ProcessedLog) Append(entry ProcessedEntry) {
	if entry.ID == "" {
		entry.ID = "-"
	}
	if l.seen[entry.SessionPath] {
		return
	}
	l.entries = append(l.entries, entry)
	l.seen[entry.SessionPath] = true
}

// Save rewrites the log atomically. Callers hold the per-file lock when a
// concurrent reflector may be running.
func (l *ProcessedLog) Save() error {
	if err := EnsureDir(filepath.Dir(l.path)); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(processedHeader)
	b.WriteByte('\n')
	for _, e := range l.entries {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%d\t%d\n",
			e.ID, e.SessionPath, e.ProcessedAt.UTC().Format(time.RFC3339),
			e.DeltasProposed, e.DeltasApplied)
	}
	return AtomicWrite(l.path, []byte(b.String()))
}
