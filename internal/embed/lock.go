package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked LockContext retries.
const lockRetryDelay = 100 * time.Millisecond

// FileLock provides cross-process file locking using gofrs/flock.
// It serialises dense index builds so two processes never embed the
// same collection at once.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock backed by the file at path.
// The file is created on first acquisition.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

func (l *FileLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}

// Lock acquires an exclusive lock, blocking until it is available.
func (l *FileLock) Lock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.locked = true
	return nil
}

// LockContext acquires an exclusive lock, retrying until ctx is done.
func (l *FileLock) LockContext(ctx context.Context) error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	acquired, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", l.path, err)
	}
	if !acquired {
		return fmt.Errorf("failed to acquire lock %s", l.path)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held by another process.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the file lock.
// It's safe to call Unlock multiple times or on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}

	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

// IsLocked returns true if the lock is currently held.
func (l *FileLock) IsLocked() bool {
	return l.locked
}
