// Package fslock provides per-path advisory file locks shared by every
// mutating path in cass-mem. The lock is a sibling file whose existence is
// the lock; cooperating processes on the same host respect it. Within one
// process a per-path mutex serializes goroutines before they touch the disk.
//
// Operations spanning multiple files must acquire locks in ascending
// lexicographic path order.
package fslock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// StaleLockThreshold is the age beyond which a lock file is presumed
	// abandoned by a crashed process and may be removed.
	StaleLockThreshold = 30 * time.Second

	// DefaultRetries is the number of acquisition attempts before giving up.
	DefaultRetries = 20

	// DefaultRetryDelay is the sleep between acquisition attempts.
	DefaultRetryDelay = 100 * time.Millisecond
)

// ErrLockTimeout is returned when the lock cannot be acquired after all
// retries. The wrapped message names the contended path.
var ErrLockTimeout = errors.New("lock timeout")

// options holds tunables for a single acquisition.
type options struct {
	retries    int
	retryDelay time.Duration
	now        func() time.Time
}

// Option adjusts lock acquisition behavior.
type Option func(*options)

// WithRetries overrides the number of acquisition attempts.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithRetryDelay overrides the sleep between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

// withClock overrides the time source. Test hook.
func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// processMu serializes goroutines of this process per target path, so the
// file lock only ever arbitrates between processes.
var processMu sync.Map // target path -> *sync.Mutex

func pathMutex(path string) *sync.Mutex {
	mu, _ := processMu.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// LockPath returns the lock file path for a target.
func LockPath(target string) string {
	return target + ".lock"
}

// WithLock runs fn with exclusive access to target among cooperating
// processes. The lock is released on all exit paths.
func WithLock(target string, fn func() error, opts ...Option) error {
	_, err := WithLockValue(target, func() (struct{}, error) {
		return struct{}{}, fn()
	}, opts...)
	return err
}

// WithLockValue is WithLock for operations that return a value.
func WithLockValue[T any](target string, fn func() (T, error), opts ...Option) (T, error) {
	var zero T

	o := options{retries: DefaultRetries, retryDelay: DefaultRetryDelay, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	mu := pathMutex(target)
	mu.Lock()
	defer mu.Unlock()

	lockPath := LockPath(target)
	if err := acquire(lockPath, o); err != nil {
		return zero, err
	}
	defer release(lockPath)

	return fn()
}

// acquire creates the lock file, handling stale locks, missing parent
// directories and contention retries.
func acquire(lockPath string, o options) error {
	for attempt := 0; attempt <= o.retries; attempt++ {
		err := tryCreate(lockPath)
		if err == nil {
			return nil
		}

		switch {
		case os.IsExist(err):
			if removeIfStale(lockPath, o.now()) {
				// Stale lock cleared; retry immediately without
				// burning an attempt's delay.
				continue
			}
		case os.IsNotExist(err):
			// Parent directory missing: create it and retry.
			if mkErr := os.MkdirAll(filepath.Dir(lockPath), 0700); mkErr != nil {
				return fmt.Errorf("create lock dir: %w", mkErr)
			}
			continue
		default:
			return fmt.Errorf("create lock %s: %w", lockPath, err)
		}

		if attempt < o.retries {
			time.Sleep(o.retryDelay)
		}
	}

	return fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
}

// tryCreate attempts an exclusive create of the lock file with pid and
// timestamp contents for debuggability.
func tryCreate(lockPath string) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return f.Close()
}

// removeIfStale removes the lock file if its mtime is older than
// StaleLockThreshold. The double stat narrows the race with a holder that
// refreshes or releases between checks.
func removeIfStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		// Holder released between create failure and stat; treat as cleared.
		return os.IsNotExist(err)
	}
	if now.Sub(info.ModTime()) < StaleLockThreshold {
		return false
	}

	// Re-check before removing: another process may have just recycled it.
	info2, err := os.Stat(lockPath)
	if err != nil {
		return os.IsNotExist(err)
	}
	if now.Sub(info2.ModTime()) < StaleLockThreshold {
		return false
	}

	return os.Remove(lockPath) == nil
}

// release removes the lock file. A missing lock file is not an error.
func release(lockPath string) {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to release lock %s: %v\n", lockPath, err)
	}
}
