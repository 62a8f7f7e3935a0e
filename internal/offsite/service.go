package offsite

import (
	"context"
	"fmt"
	"time"
)

// DefaultRefreshConcurrency bounds how many datasets a cache refresh queries at once.
const DefaultRefreshConcurrency = 4

// Dependencies are the collaborators a Service is built from.
// Logger, Clock, Notifier and Location default when left nil.
type Dependencies struct {
	Assets   AssetRepository
	Controls ControlStore
	Markers  PauseMarkers
	Cache    CacheStore
	Tool     ToolClient
	Device   DeviceConfig
	Billing  Billing
	Notifier Notifier
	Locker   Locker
	Logger   Logger
	Clock    Clock
	Location *time.Location

	RefreshConcurrency int
}

// Service is the orchestration layer for offsite replication: it decides which
// recovery points to send, reconciles pause state with the replication tool,
// and maintains the replication state cache.
type Service struct {
	assets   AssetRepository
	controls ControlStore
	markers  PauseMarkers
	cache    CacheStore
	tool     ToolClient
	device   DeviceConfig
	billing  Billing
	notifier Notifier
	locker   Locker
	logger   Logger
	clock    Clock
	location *time.Location

	refreshConcurrency int
}

// NewService creates a Service from its dependencies.
func NewService(deps Dependencies) *Service {
	s := &Service{
		assets:             deps.Assets,
		controls:           deps.Controls,
		markers:            deps.Markers,
		cache:              deps.Cache,
		tool:               deps.Tool,
		device:             deps.Device,
		billing:            deps.Billing,
		notifier:           deps.Notifier,
		locker:             deps.Locker,
		logger:             deps.Logger,
		clock:              deps.Clock,
		location:           deps.Location,
		refreshConcurrency: deps.RefreshConcurrency,
	}
	if s.logger == nil {
		s.logger = NewNopLogger()
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.refreshConcurrency <= 0 {
		s.refreshConcurrency = DefaultRefreshConcurrency
	}
	return s
}

// DestroyRemote removes one recovery point from the remote store and
// refreshes the dataset's cache entry.
func (s *Service) DestroyRemote(ctx context.Context, assetKey string, epoch int64, reason DestroyReason) error {
	if _, err := ParseDestroyReason(string(reason)); err != nil {
		return err
	}
	asset, err := s.assets.GetAsset(assetKey)
	if err != nil {
		return fmt.Errorf("loading asset %s: %w", assetKey, err)
	}

	snapshot := SnapshotName(asset.DatasetPath, epoch)
	if err := s.tool.RemoteDestroy(ctx, snapshot, reason); err != nil {
		return fmt.Errorf("destroying %s remotely: %w", snapshot, err)
	}
	s.logger.Info("remote point destroyed", "asset", assetKey, "snapshot", snapshot, "reason", string(reason))

	if err := s.RefreshCache(ctx, asset.DatasetPath); err != nil {
		s.logger.Warn("cache refresh after remote destroy failed", "asset", assetKey, "error", err)
	}
	return nil
}

// SetMaxSyncs sets how many datasets the replication tool transfers at once.
func (s *Service) SetMaxSyncs(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("max syncs must be at least 1, got %d", n)
	}
	if err := s.tool.SetMaxSyncs(ctx, n); err != nil {
		return fmt.Errorf("setting max syncs: %w", err)
	}
	s.logger.Info("max syncs updated", "maxSyncs", n)
	return nil
}

// GetMaxSyncs returns the replication tool's concurrent transfer limit.
func (s *Service) GetMaxSyncs(ctx context.Context) (int, error) {
	n, err := s.tool.GetMaxSyncs(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting max syncs: %w", err)
	}
	return n, nil
}

// RefreshTool asks the replication tool to re-read a dataset, or every
// dataset when dataset is empty.
func (s *Service) RefreshTool(ctx context.Context, dataset string) error {
	if dataset == "" {
		if err := s.tool.RefreshAll(ctx); err != nil {
			return fmt.Errorf("refreshing all datasets: %w", err)
		}
		return nil
	}
	if err := s.tool.Refresh(ctx, dataset); err != nil {
		return fmt.Errorf("refreshing %s: %w", dataset, err)
	}
	return nil
}
