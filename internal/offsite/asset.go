package offsite

import (
	"sort"
	"time"
)

// Origin says where an asset's recovery points come from.
type Origin string

const (
	// OriginLocal assets are backed up by this device and are replication sources.
	OriginLocal Origin = "local"
	// OriginReplicated assets were received from another device.
	OriginReplicated Origin = "replicated"
)

// Offsite target sentinels. Any other non-empty value is a replication
// destination identifier understood by the replication tool.
const (
	TargetNone  = "none"
	TargetCloud = "cloud"
)

// RecoveryPoint is an immutable snapshot reference identified by its epoch.
type RecoveryPoint struct {
	Epoch int64
}

// Time returns the point's epoch as a time in the given location.
func (p RecoveryPoint) Time(loc *time.Location) time.Time {
	return time.Unix(p.Epoch, 0).In(loc)
}

// RecoveryPoints is a collection of points ordered oldest to newest.
type RecoveryPoints []RecoveryPoint

// NewRecoveryPoints builds an ordered, de-duplicated collection from epochs.
func NewRecoveryPoints(epochs ...int64) RecoveryPoints {
	sorted := sortedUnique(epochs)
	points := make(RecoveryPoints, len(sorted))
	for i, e := range sorted {
		points[i] = RecoveryPoint{Epoch: e}
	}
	return points
}

// Next returns the oldest point newer than epoch.
func (r RecoveryPoints) Next(epoch int64) (RecoveryPoint, bool) {
	i := sort.Search(len(r), func(i int) bool { return r[i].Epoch > epoch })
	if i == len(r) {
		return RecoveryPoint{}, false
	}
	return r[i], true
}

// Previous returns the newest point older than epoch.
func (r RecoveryPoints) Previous(epoch int64) (RecoveryPoint, bool) {
	i := sort.Search(len(r), func(i int) bool { return r[i].Epoch >= epoch })
	if i == 0 {
		return RecoveryPoint{}, false
	}
	return r[i-1], true
}

// Last returns the newest point.
func (r RecoveryPoints) Last() (RecoveryPoint, bool) {
	if len(r) == 0 {
		return RecoveryPoint{}, false
	}
	return r[len(r)-1], true
}

// Epochs returns the epochs of all points, oldest first.
func (r RecoveryPoints) Epochs() []int64 {
	epochs := make([]int64, len(r))
	for i, p := range r {
		epochs[i] = p.Epoch
	}
	return epochs
}

// Asset is a protected machine or share with its replication settings.
type Asset struct {
	Key           string
	DatasetPath   string
	Origin        Origin
	Archived      bool
	OffsiteTarget string
	DirectToCloud bool

	// OffsiteInterval is the raw persisted policy value. Use Policy to interpret it.
	OffsiteInterval int64
	// OffsiteSchedule marks the hours replication may run under a custom policy.
	OffsiteSchedule WeeklySchedule

	// BackupSchedule marks the hours local backups run; the zero value means every hour.
	BackupSchedule WeeklySchedule
	// BackupInterval is the local backup frequency.
	BackupInterval time.Duration

	Points RecoveryPoints
}

// IsReplicated reports whether the asset was received from another device.
func (a *Asset) IsReplicated() bool {
	return a.Origin == OriginReplicated
}

// HasOffsiteTarget reports whether the asset replicates anywhere.
func (a *Asset) HasOffsiteTarget() bool {
	return a.OffsiteTarget != "" && a.OffsiteTarget != TargetNone
}

// Policy parses the asset's offsite interval into a Policy.
func (a *Asset) Policy() (Policy, error) {
	return ParsePolicy(a.OffsiteInterval, a.OffsiteSchedule)
}

// AssetRepository provides read access to protected assets.
type AssetRepository interface {
	// ListAssets returns every asset with its recovery points.
	ListAssets() ([]*Asset, error)

	// GetAsset returns a single asset. Returns ErrAssetNotFound for unknown keys.
	GetAsset(key string) (*Asset, error)
}

// sortedUnique returns a sorted copy of epochs without duplicates.
func sortedUnique(epochs []int64) []int64 {
	out := make([]int64, 0, len(epochs))
	seen := make(map[int64]bool, len(epochs))
	for _, e := range epochs {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
