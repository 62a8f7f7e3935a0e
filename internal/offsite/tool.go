package offsite

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DestroyReason explains a remote destroy to the replication tool.
type DestroyReason string

const (
	ReasonUserDelete      DestroyReason = "user-delete"
	ReasonRetention       DestroyReason = "retention"
	ReasonDeviceMigration DestroyReason = "device-migration"
)

// ParseDestroyReason validates a reason string.
func ParseDestroyReason(s string) (DestroyReason, error) {
	switch r := DestroyReason(s); r {
	case ReasonUserDelete, ReasonRetention, ReasonDeviceMigration:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
	}
}

// Options is the pause state the replication tool reports for a dataset or the device.
type Options struct {
	ZfsPaused      bool `json:"zfsPaused"`
	TransferPaused bool `json:"transferPaused"`
}

func (o Options) IsZfsPaused() bool      { return o.ZfsPaused }
func (o Options) IsTransferPaused() bool { return o.TransferPaused }

// IsPaused reports whether either axis is paused.
func (o Options) IsPaused() bool { return o.ZfsPaused || o.TransferPaused }

// SnapshotListing is the combined per-dataset listing.
type SnapshotListing struct {
	Remote   []int64 `json:"remote"`
	Critical []int64 `json:"critical"`
	Pending  []int64 `json:"pending"`
}

// Job describes a dataset tracked by the replication tool.
type Job struct {
	Target string `json:"target"`
	State  string `json:"state"`
}

// Action is an in-flight transfer reported by the replication tool.
type Action struct {
	Snapshot string  `json:"snapshot"` // <dataset>@<epoch>
	Size     int64   `json:"size"`
	Sent     int64   `json:"sent"`
	Rate     float64 `json:"rate"` // bytes per second
}

// Dataset returns the dataset part of the snapshot identity.
func (a Action) Dataset() string {
	dataset, _, _ := strings.Cut(a.Snapshot, "@")
	return dataset
}

// Epoch returns the epoch part of the snapshot identity, or 0 if it has none.
func (a Action) Epoch() int64 {
	_, epoch, ok := strings.Cut(a.Snapshot, "@")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// SnapshotName formats a dataset@epoch identity.
func SnapshotName(dataset string, epoch int64) string {
	return dataset + "@" + strconv.FormatInt(epoch, 10)
}

// ToolClient drives the external replication tool.
// Mutating calls return a *ToolError for a non-zero result and an error
// wrapping ErrNotTracked when the dataset is unknown to the tool.
type ToolClient interface {
	AddDataset(ctx context.Context, dataset string) error
	AddDatasetToTarget(ctx context.Context, dataset, target string) error
	Mirror(ctx context.Context, dataset string, epoch int64) error
	RemoteDestroy(ctx context.Context, snapshot string, reason DestroyReason) error

	ListSnapshots(ctx context.Context, dataset string) (*SnapshotListing, error)
	GetRemotePoints(ctx context.Context, dataset string) ([]int64, error)
	GetCriticalPoints(ctx context.Context, dataset string) ([]int64, error)
	GetRemotePending(ctx context.Context, dataset string) ([]int64, error)
	GetLocalPoints(ctx context.Context, dataset string) ([]int64, error)
	GetRemoteUsed(ctx context.Context, dataset string) (int64, error)
	GetJobs(ctx context.Context) (map[string]Job, error)
	GetActions(ctx context.Context) ([]Action, error)

	PauseZfs(ctx context.Context, dataset string) error
	ResumeZfs(ctx context.Context, dataset string) error
	PauseTransfer(ctx context.Context, dataset string) error
	ResumeTransfer(ctx context.Context, dataset string) error
	PauseDeviceZfs(ctx context.Context) error
	ResumeDeviceZfs(ctx context.Context) error
	PauseDeviceTransfer(ctx context.Context) error
	ResumeDeviceTransfer(ctx context.Context) error
	GetDatasetOptions(ctx context.Context, dataset string) (Options, error)
	GetGlobalOptions(ctx context.Context) (Options, error)

	Halt(ctx context.Context, dataset string) error
	Refresh(ctx context.Context, dataset string) error
	RefreshAll(ctx context.Context) error
	SetMaxSyncs(ctx context.Context, n int) error
	GetMaxSyncs(ctx context.Context) (int, error)
}
