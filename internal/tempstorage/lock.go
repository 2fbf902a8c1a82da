package tempstorage

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

// WorkspaceLock is an advisory, detect-only lock over a workspace's local
// cache directory. Concurrent runs against the same workspace are
// unsupported, not forbidden, so a held lock produces a warning the caller
// can log rather than a hard failure.
type WorkspaceLock struct {
	fl *flock.Flock
}

// NewWorkspaceLock returns a lock handle for localRoot. Acquire must be
// called before the lock has any effect.
func NewWorkspaceLock(localRoot string) *WorkspaceLock {
	return &WorkspaceLock{fl: flock.New(filepath.Join(localRoot, ".workspace.lock"))}
}

// TryAcquire attempts a non-blocking lock, returning held=false (not an
// error) if another process already holds it.
func (w *WorkspaceLock) TryAcquire() (held bool, err error) {
	return w.fl.TryLock()
}

// Release drops the lock if held.
func (w *WorkspaceLock) Release() error {
	return w.fl.Unlock()
}
