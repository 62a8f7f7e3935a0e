package offsite

import (
	"context"
	"fmt"
	"time"
)

// AssetStatus is the replication view of one asset.
type AssetStatus struct {
	Key            string
	Dataset        string
	Policy         string
	Archived       bool
	Replicated     bool
	Paused         bool
	LatestOffsite  int64
	Tracked        bool
	CacheUpdated   time.Time
	OffsitePoints  int
	QueuedPoints   int
	CriticalPoints int
	Replicating    int
	RemoteUsedSize int64
	Transfers      []Action
}

// DeviceStatus is the replication view of the whole device.
type DeviceStatus struct {
	Paused     bool
	PauseHours int
	Inputs     PauseInputs
	Actions    []Action
	Assets     []*AssetStatus
}

// Status assembles the device and per-asset replication status from the
// cache, the control records and the pause state. It does not query the
// replication tool.
func (s *Service) Status(ctx context.Context) (*DeviceStatus, error) {
	in, err := s.PauseInputs(ctx)
	if err != nil {
		return nil, err
	}
	hours, err := s.PauseHoursRemaining(ctx)
	if err != nil {
		return nil, err
	}
	cache, err := s.ReadCache()
	if err != nil {
		return nil, err
	}
	assets, err := s.assets.ListAssets()
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	status := &DeviceStatus{
		Paused:     ShouldBePaused(in),
		PauseHours: hours,
		Inputs:     in,
		Actions:    cache.Actions,
	}
	for _, asset := range assets {
		st, err := s.assetStatus(asset, cache)
		if err != nil {
			return nil, err
		}
		status.Assets = append(status.Assets, st)
	}
	return status, nil
}

func (s *Service) assetStatus(asset *Asset, cache *ReplicationCache) (*AssetStatus, error) {
	st := &AssetStatus{
		Key:        asset.Key,
		Dataset:    asset.DatasetPath,
		Archived:   asset.Archived,
		Replicated: asset.IsReplicated(),
	}

	if policy, err := asset.Policy(); err != nil {
		st.Policy = "invalid"
	} else {
		st.Policy = policy.String()
	}

	paused, err := s.IsAssetPaused(asset.Key)
	if err != nil {
		return nil, err
	}
	st.Paused = paused

	record, err := s.controls.LoadControl(asset.Key)
	if err != nil {
		return nil, fmt.Errorf("loading offsite control for %s: %w", asset.Key, err)
	}
	if record != nil {
		st.LatestOffsite = record.LatestOffsiteSnapshot
	}

	if entry, ok := cache.Entries[asset.DatasetPath]; ok {
		st.Tracked = true
		st.CacheUpdated = time.Unix(entry.Updated, 0)
		st.OffsitePoints = len(entry.OffsitePoints)
		st.QueuedPoints = len(entry.QueuedPoints)
		st.CriticalPoints = len(entry.CriticalPoints)
		st.Replicating = len(entry.RemoteReplicatingPoints)
		st.RemoteUsedSize = entry.RemoteUsedSize
	}
	for _, action := range cache.Actions {
		if action.Dataset() == asset.DatasetPath {
			st.Transfers = append(st.Transfers, action)
		}
	}
	return st, nil
}
