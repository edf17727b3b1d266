package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const lockFileName = "state.lock"

// Default lock tuning. A sentinel lock older than the staleness threshold is
// assumed to belong to a crashed process and is force-removed.
const (
	DefaultLockTimeout   = 10 * time.Second
	DefaultLockPoll      = 25 * time.Millisecond
	DefaultLockStaleness = 30 * time.Second
)

// acquireLock creates the sentinel lock file with create-exclusive semantics,
// polling with backoff until the configured timeout. The returned release
// function removes the sentinel.
func (s *Store) acquireLock(ctx context.Context) (release func(), err error) {
	lockPath := filepath.Join(s.dir, lockFileName)
	deadline := s.now().Add(s.lockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock sentinel: %w", err)
		}
		// Crash recovery: a sentinel past the staleness threshold is orphaned.
		if fi, statErr := os.Stat(lockPath); statErr == nil && s.now().Sub(fi.ModTime()) > s.lockStaleness {
			_ = os.Remove(lockPath)
			continue
		}
		if s.now().After(deadline) {
			return nil, fmt.Errorf("%w: could not acquire %s within %s", ErrLockTimeout, lockPath, s.lockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.lockPoll):
		}
	}
}
