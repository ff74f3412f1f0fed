// Package drainlock provides advisory file locks so that processes sharing a
// queue do not step on each other.
package drainlock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrUnsupported is returned on platforms without flock(2).
var ErrUnsupported = errors.New("drain lock is not supported on this platform")

type FileLock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func New(path string) (*FileLock, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lock file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileLock{path: path}, nil
}

func (l *FileLock) Path() string {
	return l.path
}

// TryAcquire takes the lock without blocking. acquired is false when another
// holder has it; release must be called exactly once after a successful
// acquire.
func (l *FileLock) TryAcquire() (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return nil, false, nil
	}
	file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, err
	}
	acquired, err := tryLock(file)
	if err != nil || !acquired {
		_ = file.Close()
		return nil, false, err
	}
	l.file = file
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			_ = unlock(l.file)
			_ = l.file.Close()
			l.file = nil
		})
	}, true, nil
}

// Exclusive blocks until it holds an exclusive lock on path. Each call opens
// its own descriptor, so callers in one process must serialize themselves.
func Exclusive(path string) (func(), error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lock file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockBlocking(file); err != nil {
		_ = file.Close()
		return nil, err
	}
	return func() {
		_ = unlock(file)
		_ = file.Close()
	}, nil
}
