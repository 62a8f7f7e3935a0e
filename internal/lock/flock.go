package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"offsite-go/internal/offsite"
)

// DefaultPollInterval is how often a blocking Lock retries a held lock.
const DefaultPollInterval = 50 * time.Millisecond

// FileLocker hands out flock(2) locks on files in a directory:
//
//	<dir>/
//	  <name>.lock
//
// flock locks belong to the open file, so two FileLockers in the same
// process exclude each other just like two processes do.
type FileLocker struct {
	dir          string
	pollInterval time.Duration
}

// NewFileLocker creates a locker that keeps its lock files in dir.
func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FileLocker{dir: dir, pollInterval: DefaultPollInterval}, nil
}

// TryLock acquires the named lock without waiting.
func (l *FileLocker) TryLock(name string) (offsite.Lock, error) {
	f, err := l.open(name)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", offsite.ErrLocked, name)
		}
		return nil, fmt.Errorf("locking %s: %w", name, err)
	}
	return &fileLock{f: f}, nil
}

// Lock waits until the named lock is acquired or ctx is done.
func (l *FileLocker) Lock(ctx context.Context, name string) (offsite.Lock, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		lock, err := l.TryLock(name)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, offsite.ErrLocked) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for lock %s: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *FileLocker) open(name string) (*os.File, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid lock name %q", name)
	}
	path := filepath.Join(l.dir, name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	return f, nil
}

type fileLock struct {
	f *os.File
}

func (l *fileLock) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("unlocking: %w", err)
	}
	return closeErr
}

// Compile-time check that FileLocker implements offsite.Locker
var _ offsite.Locker = (*FileLocker)(nil)
