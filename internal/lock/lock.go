// Package lock guards a project directory against concurrent provisioning
// runs with an exclusive lock file.
package lock

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RetryPeriod is the period to wait between attempts to acquire the lock.
var RetryPeriod = 1000 * time.Millisecond

// ErrTimeout is returned when the lock could not be acquired in time.
var ErrTimeout = errors.New("timeout waiting for provisioning lock")

// Lock is a held lock file. Always call Unlock when done.
type Lock struct {
	path  string
	flock *flock.Flock
}

// Acquire takes the exclusive lock at path, retrying every RetryPeriod until
// timeout elapses or ctx is cancelled. A zero timeout tries exactly once.
func Acquire(ctx context.Context, path string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for lock %q", path)
	}

	l := &Lock{path: path, flock: flock.New(path)}
	deadline := time.After(timeout)
	warned := false
	for {
		ok, err := l.flock.TryLock()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to acquire lock %q", path)
		}
		if ok {
			return l, nil
		}
		if !warned {
			klog.Warningf("Another wanctl run holds %q, waiting up to %s", path, timeout)
			warned = true
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for lock %q", path)
		case <-deadline:
			return nil, errors.Wrapf(ErrTimeout,
				"either another launch is provisioning %q, or the lock file is stale: remove it manually and retry",
				path)
		case <-time.After(RetryPeriod):
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Unlock releases the lock. It is safe to call on a nil Lock.
func (l *Lock) Unlock() error {
	if l == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return errors.Wrapf(err, "failed to unlock %q: please clean-up the lock manually", l.path)
	}
	return nil
}
