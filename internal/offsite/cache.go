package offsite

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// CacheVersion is the schema version of the replication cache file.
const CacheVersion = 1

// ReplicationCache is the device-wide snapshot of replication facts.
type ReplicationCache struct {
	Version int                    `json:"version"`
	Actions []Action               `json:"actions"`
	Entries map[string]*CacheEntry `json:"entries"`
}

// NewReplicationCache returns an empty cache at the current version.
func NewReplicationCache() *ReplicationCache {
	return &ReplicationCache{
		Version: CacheVersion,
		Actions: []Action{},
		Entries: make(map[string]*CacheEntry),
	}
}

// CacheEntry holds the replication facts of one dataset.
type CacheEntry struct {
	Updated                 int64   `json:"updated"`
	OffsitePoints           []int64 `json:"offsitePoints"`
	CriticalPoints          []int64 `json:"criticalPoints"`
	RemoteReplicatingPoints []int64 `json:"remoteReplicatingPoints"`
	QueuedPoints            []int64 `json:"queuedPoints"`
	RemoteUsedSize          int64   `json:"remoteUsedSize"`
}

// CacheStore persists the replication cache.
type CacheStore interface {
	// Read returns the last written cache. Unreadable content yields an empty cache.
	Read() (*ReplicationCache, error)

	// Update applies fn to the current cache and writes the result, holding
	// the cache lock for the whole read-modify-write.
	Update(ctx context.Context, fn func(*ReplicationCache) error) error
}

// QueuedPoints returns the local points that are neither critical nor offsite,
// sorted and without duplicates.
func QueuedPoints(local, critical, offsite []int64) []int64 {
	exclude := make(map[int64]bool, len(critical)+len(offsite))
	for _, e := range critical {
		exclude[e] = true
	}
	for _, e := range offsite {
		exclude[e] = true
	}

	queued := []int64{}
	for _, e := range sortedUnique(local) {
		if !exclude[e] {
			queued = append(queued, e)
		}
	}
	return queued
}

// ReadCache returns the last written replication cache.
func (s *Service) ReadCache() (*ReplicationCache, error) {
	cache, err := s.cache.Read()
	if err != nil {
		return nil, fmt.Errorf("reading replication cache: %w", err)
	}
	return cache, nil
}

// RefreshCache rebuilds the cache entries of the given datasets, or of every
// tracked dataset when none are given. Entries outside the batch are kept
// unless their dataset is no longer tracked. A dataset that cannot be queried
// keeps its previous entry.
func (s *Service) RefreshCache(ctx context.Context, datasets ...string) error {
	jobs, err := s.tool.GetJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing replication jobs: %w", err)
	}

	targets := datasets
	if len(targets) == 0 {
		for dataset := range jobs {
			targets = append(targets, dataset)
		}
		sort.Strings(targets)
	}

	var mu sync.Mutex
	entries := make(map[string]*CacheEntry, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.refreshConcurrency)
	for _, dataset := range targets {
		if _, ok := jobs[dataset]; !ok {
			s.logger.Warn("skipping cache refresh for untracked dataset", "dataset", dataset)
			continue
		}
		dataset := dataset
		g.Go(func() error {
			entry, err := s.fetchCacheEntry(gctx, dataset)
			if err != nil {
				s.logger.Warn("cache refresh failed for dataset", "dataset", dataset, "error", err)
				return nil
			}
			mu.Lock()
			entries[dataset] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	actions, actionsErr := s.tool.GetActions(ctx)
	if actionsErr != nil {
		s.logger.Warn("listing replication actions", "error", actionsErr)
	}

	err = s.cache.Update(ctx, func(cache *ReplicationCache) error {
		for dataset, entry := range entries {
			cache.Entries[dataset] = entry
		}
		for dataset := range cache.Entries {
			if _, ok := jobs[dataset]; !ok {
				delete(cache.Entries, dataset)
			}
		}
		if actionsErr == nil {
			cache.Actions = actions
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing replication cache: %w", err)
	}

	s.logger.Debug("replication cache refreshed", "datasets", len(entries))
	return nil
}

func (s *Service) fetchCacheEntry(ctx context.Context, dataset string) (*CacheEntry, error) {
	var remote, critical, pending []int64

	listing, err := s.tool.ListSnapshots(ctx, dataset)
	if err == nil {
		remote, critical, pending = listing.Remote, listing.Critical, listing.Pending
	} else {
		s.logger.Debug("snapshot listing unavailable, using individual queries", "dataset", dataset, "error", err)
		if remote, err = s.tool.GetRemotePoints(ctx, dataset); err != nil {
			return nil, fmt.Errorf("remote points: %w", err)
		}
		if critical, err = s.tool.GetCriticalPoints(ctx, dataset); err != nil {
			return nil, fmt.Errorf("critical points: %w", err)
		}
		if pending, err = s.tool.GetRemotePending(ctx, dataset); err != nil {
			return nil, fmt.Errorf("remote pending points: %w", err)
		}
	}

	local, err := s.tool.GetLocalPoints(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("local points: %w", err)
	}
	used, err := s.tool.GetRemoteUsed(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("remote used size: %w", err)
	}

	remote = sortedUnique(remote)
	critical = sortedUnique(critical)
	return &CacheEntry{
		Updated:                 s.clock.Now().Unix(),
		OffsitePoints:           remote,
		CriticalPoints:          critical,
		RemoteReplicatingPoints: sortedUnique(pending),
		QueuedPoints:            QueuedPoints(local, critical, remote),
		RemoteUsedSize:          used,
	}, nil
}
