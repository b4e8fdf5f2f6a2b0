// Package filelock provides an advisory, cross-process lock file with a bounded wait.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultPollInterval is how often a contended lock is retried.
const DefaultPollInterval = 50 * time.Millisecond

var (
	// ErrLocked is returned by a single non-blocking attempt when another process holds the lock.
	ErrLocked = errors.New("file is locked by another process")
	// ErrTimeout is returned when the lock could not be acquired within the timeout.
	ErrTimeout = errors.New("timed out waiting for file lock")
)

// Lock is a held exclusive lock. Release it exactly once.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes an exclusive advisory lock on path, creating it if needed.
// Contended attempts are retried every DefaultPollInterval until timeout elapses.
// A non-positive timeout makes a single attempt.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	return AcquireWithInterval(ctx, path, timeout, DefaultPollInterval)
}

// AcquireWithInterval is Acquire with an explicit retry interval.
func AcquireWithInterval(ctx context.Context, path string, timeout, interval time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	attempt := func() (struct{}, error) {
		err := lockFile(f)
		if err == nil || errors.Is(err, ErrLocked) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(backoff.NewConstantBackOff(interval))}
	if timeout > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(timeout))
	} else {
		opts = append(opts, backoff.WithMaxTries(1))
	}

	if _, err := backoff.Retry(ctx, attempt, opts...); err != nil {
		if cerr := f.Close(); cerr != nil {
			// Best-effort close on failed acquire.
			_ = cerr
		}
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%s after %s: %w", path, timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and closes the lock file. The lock file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	uerr := unlockFile(l.f)
	cerr := l.f.Close()
	l.f = nil
	if uerr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, uerr)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %w", l.path, cerr)
	}
	return nil
}
