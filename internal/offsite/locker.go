package offsite

import "context"

// Lock is a held lock.
type Lock interface {
	Unlock() error
}

// Locker hands out named exclusive locks shared across processes.
type Locker interface {
	// TryLock acquires the named lock without waiting.
	// Returns an error wrapping ErrLocked if another holder has it.
	TryLock(name string) (Lock, error)

	// Lock blocks until the named lock is acquired or ctx is done.
	Lock(ctx context.Context, name string) (Lock, error)
}

const reconcileLockName = "offsite-reconcile"

func scheduleLockName(assetKey string) string {
	return "offsite-schedule-" + assetKey
}
