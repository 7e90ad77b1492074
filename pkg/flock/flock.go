// Package flock provides a non-blocking exclusive advisory lock on a file.
// Callers only see TryLock and Unlock; the platform primitive lives in the
// build-tagged files.
package flock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type Lock struct {
	path string

	mu     sync.Mutex
	f      *os.File
	locked bool
}

func New(path string) *Lock {
	return &Lock{path: path}
}

func (l *Lock) Path() string { return l.path }

// TryLock attempts to take the lock without waiting. It reports false with a
// nil error when another holder owns the lock.
func (l *Lock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.locked {
		return true, nil
	}
	if l.f == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return false, fmt.Errorf("create lock directory: %w", err)
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return false, fmt.Errorf("open lock file: %w", err)
		}
		l.f = f
	}

	ok, err := tryLock(l.f)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.path, err)
	}
	l.locked = ok
	return ok, nil
}

// Unlock releases the lock if held. It is safe to call repeatedly.
func (l *Lock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return nil
	}
	l.locked = false
	return unlock(l.f)
}

// Close releases the lock and the file handle. It is idempotent.
func (l *Lock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.locked {
		err = unlock(l.f)
		l.locked = false
	}
	if l.f != nil {
		if cerr := l.f.Close(); err == nil {
			err = cerr
		}
		l.f = nil
	}
	return err
}
