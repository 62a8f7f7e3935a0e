package offsite

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTracked is returned when an operation needs per-dataset state from the
	// replication tool for a dataset the tool does not know about.
	ErrNotTracked = errors.New("dataset not tracked by replication tool")

	// ErrLocked is returned by a non-blocking lock attempt when the lock is held.
	ErrLocked = errors.New("lock already held")

	// ErrAssetNotFound is returned by an AssetRepository for an unknown key.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrPartialPause is returned when one or both pause axes failed to change state.
	ErrPartialPause = errors.New("pause state only partially applied")

	// ErrInvalidPolicy is returned when a raw offsite interval matches no policy.
	ErrInvalidPolicy = errors.New("invalid offsite policy")

	// ErrInvalidReason is returned for an unknown remote destroy reason.
	ErrInvalidReason = errors.New("invalid remote destroy reason")
)

// ToolError reports a non-zero result from a replication tool command.
type ToolError struct {
	Op      string
	Dataset string
	Code    int
	Output  string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("replication tool %s failed with code %d", e.Op, e.Code)
	if e.Dataset != "" {
		msg += fmt.Sprintf(" (dataset %s)", e.Dataset)
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}
