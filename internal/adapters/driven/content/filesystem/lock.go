package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// LockFileName is the lock file a receiver holds in its data directory.
const LockFileName = ".ferry.lock"

// DirLock is an exclusive, cross-process lock on a data directory.
type DirLock struct {
	lock *flock.Flock
}

// LockDir takes the lock on dir, creating the directory if needed. It
// fails with domain.ErrTransferInProgress when another process holds it.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is locked by another receiver", domain.ErrTransferInProgress, dir)
	}
	return &DirLock{lock: lock}, nil
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	return l.lock.Unlock()
}
