package playbook

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/boshu2/cassmem/internal/storage"
)

// LoadToxicLog reads an append-only NDJSON toxic log. A missing file yields
// an empty list; malformed lines are skipped.
func LoadToxicLog(path string) (entries []ToxicEntry, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open toxic log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry ToxicEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

// AppendToxicEntry appends one entry to a toxic log.
func AppendToxicEntry(path string, entry ToxicEntry) error {
	if entry.ForgottenAt.IsZero() {
		entry.ForgottenAt = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal toxic entry: %w", err)
	}
	return storage.AppendLine(path, data)
}

// Forget records a bullet's content in the toxic log at toxicPath and
// deprecates the bullet in pb. The bullet's content can never be resurrected
// by reflection afterwards.
func Forget(pb *Playbook, id, reason, toxicPath string) error {
	b := FindBullet(pb, id)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrBulletNotFound, id)
	}
	if b.Pinned {
		return fmt.Errorf("%w: unpin %s before forgetting it", ErrPinned, id)
	}

	if err := AppendToxicEntry(toxicPath, ToxicEntry{
		ID:      b.ID,
		Content: b.Content,
		Reason:  reason,
	}); err != nil {
		return err
	}

	DeprecateBullet(pb, id, "forgotten: "+reason, "")
	return nil
}
