package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// ErrLockTimeout is returned when a key lock could not be acquired in time
var ErrLockTimeout = errors.New("timed out waiting for cache lock")

const lockRetryDelay = 25 * time.Millisecond

// Locker hands out exclusive per-key locks shared across processes
type Locker interface {
	// blocks until the key's lock is held, ctx is done, or timeout elapses.
	// A timeout of zero or less makes a single attempt without waiting.
	// The returned release func is safe to call more than once
	Lock(ctx context.Context, key Key, timeout time.Duration) (release func(), err error)
}

// FileLock implements Locker with flock(2) on a lock file stored next to each entry.
// The kernel drops the lock when the holding process exits, however it exits.
type FileLock struct {
	cacheDir string
}

// NewFileLock creates a locker rooted at cacheDir
func NewFileLock(cacheDir string) *FileLock {
	return &FileLock{cacheDir: cacheDir}
}

// Path returns the lock file used for key
func (l *FileLock) Path(key Key) string {
	return filepath.Join(l.cacheDir, key.shard(), string(key)+lockSuffix)
}

func (l *FileLock) Lock(ctx context.Context, key Key, timeout time.Duration) (func(), error) {
	if !key.Valid() {
		return nil, ErrInvalidKey
	}

	lockPath := l.Path(key)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, &StorageError{Op: "lock", Path: lockPath, Err: err}
	}

	fl := flock.New(lockPath)
	var (
		locked bool
		err    error
	)
	if timeout > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		locked, err = fl.TryLockContext(waitCtx, lockRetryDelay)
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, &StorageError{Op: "lock", Path: lockPath, Err: err}
	}
	if !locked {
		return nil, fmt.Errorf("%w after %s: %s", ErrLockTimeout, timeout, lockPath)
	}

	logrus.Debugf("Acquired cache lock %s", lockPath)
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if err := fl.Unlock(); err != nil {
			logrus.Warnf("Failed to release cache lock %s: %v", lockPath, err)
			return
		}
		logrus.Debugf("Released cache lock %s", lockPath)
	}, nil
}
