package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsite-go/internal/offsite"
)

func TestFileLocker_TryLock(t *testing.T) {
	t.Run("second holder fails fast", func(t *testing.T) {
		dir := t.TempDir()
		a, _ := NewFileLocker(dir)
		b, _ := NewFileLocker(dir)

		held, err := a.TryLock("offsite-schedule-asset1")
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}
		defer held.Unlock()

		_, err = b.TryLock("offsite-schedule-asset1")
		if !errors.Is(err, offsite.ErrLocked) {
			t.Errorf("second TryLock() error = %v, want ErrLocked", err)
		}
	})

	t.Run("different names do not conflict", func(t *testing.T) {
		l, _ := NewFileLocker(t.TempDir())

		first, err := l.TryLock("offsite-schedule-a")
		if err != nil {
			t.Fatalf("TryLock(a) error = %v", err)
		}
		defer first.Unlock()

		second, err := l.TryLock("offsite-reconcile")
		if err != nil {
			t.Fatalf("TryLock(reconcile) error = %v", err)
		}
		defer second.Unlock()
	})

	t.Run("lock can be retaken after unlock", func(t *testing.T) {
		l, _ := NewFileLocker(t.TempDir())

		held, err := l.TryLock("x")
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}
		if err := held.Unlock(); err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		if err := held.Unlock(); err != nil {
			t.Fatalf("second Unlock() error = %v", err)
		}

		again, err := l.TryLock("x")
		if err != nil {
			t.Fatalf("TryLock() after unlock error = %v", err)
		}
		again.Unlock()
	})

	t.Run("rejects names with path separators", func(t *testing.T) {
		l, _ := NewFileLocker(t.TempDir())
		if _, err := l.TryLock("../escape"); err == nil {
			t.Error("TryLock() expected error for invalid name")
		}
	})
}

func TestFileLocker_Lock(t *testing.T) {
	t.Run("waits for holder to release", func(t *testing.T) {
		l, _ := NewFileLocker(t.TempDir())
		l.pollInterval = 5 * time.Millisecond

		held, err := l.TryLock("offsite-reconcile")
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}

		acquired := make(chan error, 1)
		go func() {
			lock, err := l.Lock(context.Background(), "offsite-reconcile")
			if err == nil {
				lock.Unlock()
			}
			acquired <- err
		}()

		select {
		case err := <-acquired:
			t.Fatalf("Lock() returned while held: %v", err)
		case <-time.After(30 * time.Millisecond):
		}

		held.Unlock()

		select {
		case err := <-acquired:
			if err != nil {
				t.Errorf("Lock() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Lock() did not acquire after release")
		}
	})

	t.Run("gives up when context is cancelled", func(t *testing.T) {
		l, _ := NewFileLocker(t.TempDir())
		l.pollInterval = 5 * time.Millisecond

		held, _ := l.TryLock("offsite-reconcile")
		defer held.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if _, err := l.Lock(ctx, "offsite-reconcile"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Lock() error = %v, want DeadlineExceeded", err)
		}
	})
}
