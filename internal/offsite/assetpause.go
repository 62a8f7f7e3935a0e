package offsite

import (
	"context"
	"errors"
	"fmt"
)

// CheckSummary counts the outcome of a per-asset consistency sweep.
type CheckSummary struct {
	Checked    int
	Corrected  int
	NotTracked int
	Failed     int
}

// IsAssetPaused reports the declared pause state of an asset.
func (s *Service) IsAssetPaused(assetKey string) (bool, error) {
	paused, err := s.markers.IsPaused(assetKey)
	if err != nil {
		return false, fmt.Errorf("reading pause marker for %s: %w", assetKey, err)
	}
	return paused, nil
}

// PauseAsset pauses replication of one asset. When halt is set, queued and
// running work for the dataset is also stopped. The pause marker stays in
// place even if the tool rejects the pause, so a later CheckAssets retries.
func (s *Service) PauseAsset(ctx context.Context, assetKey string, halt bool) error {
	asset, err := s.assets.GetAsset(assetKey)
	if err != nil {
		return fmt.Errorf("loading asset %s: %w", assetKey, err)
	}

	lock, err := s.locker.Lock(ctx, reconcileLockName)
	if err != nil {
		return fmt.Errorf("acquiring reconciliation lock: %w", err)
	}
	defer s.unlock(lock)

	return s.pauseAsset(ctx, asset, halt)
}

// ResumeAsset resumes replication of one asset.
func (s *Service) ResumeAsset(ctx context.Context, assetKey string) error {
	asset, err := s.assets.GetAsset(assetKey)
	if err != nil {
		return fmt.Errorf("loading asset %s: %w", assetKey, err)
	}

	lock, err := s.locker.Lock(ctx, reconcileLockName)
	if err != nil {
		return fmt.Errorf("acquiring reconciliation lock: %w", err)
	}
	defer s.unlock(lock)

	return s.resumeAsset(ctx, asset)
}

func (s *Service) pauseAsset(ctx context.Context, asset *Asset, halt bool) error {
	if asset.IsReplicated() {
		s.logger.Debug("not pausing replicated asset", "asset", asset.Key)
		return nil
	}

	if err := s.markers.SetPaused(asset.Key); err != nil {
		return fmt.Errorf("writing pause marker for %s: %w", asset.Key, err)
	}

	zfsErr := s.tool.PauseZfs(ctx, asset.DatasetPath)
	transferErr := s.tool.PauseTransfer(ctx, asset.DatasetPath)
	if zfsErr != nil || transferErr != nil {
		s.logger.Error("asset pause not applied", "asset", asset.Key,
			"zfsError", errString(zfsErr), "transferError", errString(transferErr))
		return fmt.Errorf("pausing %s: %w: zfs: %s, transfer: %s",
			asset.Key, ErrPartialPause, errString(zfsErr), errString(transferErr))
	}

	if halt {
		if err := s.tool.Halt(ctx, asset.DatasetPath); err != nil {
			return fmt.Errorf("halting %s: %w", asset.Key, err)
		}
	}

	if err := s.notifier.AssetPaused(ctx, asset.Key); err != nil {
		s.logger.Warn("asset pause notification failed", "asset", asset.Key, "error", err)
	}
	s.logger.Info("asset paused", "asset", asset.Key, "halt", halt)
	return nil
}

func (s *Service) resumeAsset(ctx context.Context, asset *Asset) error {
	if asset.IsReplicated() {
		s.logger.Debug("not resuming replicated asset", "asset", asset.Key)
		return nil
	}

	if err := s.markers.ClearPaused(asset.Key); err != nil {
		return fmt.Errorf("removing pause marker for %s: %w", asset.Key, err)
	}

	zfsErr := s.tool.ResumeZfs(ctx, asset.DatasetPath)
	transferErr := s.tool.ResumeTransfer(ctx, asset.DatasetPath)
	if zfsErr != nil || transferErr != nil {
		s.logger.Error("asset resume not applied", "asset", asset.Key,
			"zfsError", errString(zfsErr), "transferError", errString(transferErr))
		return fmt.Errorf("resuming %s: %w: zfs: %s, transfer: %s",
			asset.Key, ErrPartialPause, errString(zfsErr), errString(transferErr))
	}

	if err := s.notifier.AssetResumed(ctx, asset.Key); err != nil {
		s.logger.Warn("asset resume notification failed", "asset", asset.Key, "error", err)
	}
	s.logger.Info("asset resumed", "asset", asset.Key)
	return nil
}

// CheckAsset compares an asset's pause marker with the tool's dataset state
// and re-applies the marker's state on mismatch.
func (s *Service) CheckAsset(ctx context.Context, asset *Asset) error {
	lock, err := s.locker.Lock(ctx, reconcileLockName)
	if err != nil {
		return fmt.Errorf("acquiring reconciliation lock: %w", err)
	}
	defer s.unlock(lock)

	_, err = s.checkAsset(ctx, asset)
	return err
}

// checkAsset returns true when the tool state had to be corrected.
func (s *Service) checkAsset(ctx context.Context, asset *Asset) (bool, error) {
	if asset.IsReplicated() {
		return false, nil
	}

	declared, err := s.IsAssetPaused(asset.Key)
	if err != nil {
		return false, err
	}
	opts, err := s.tool.GetDatasetOptions(ctx, asset.DatasetPath)
	if err != nil {
		return false, fmt.Errorf("reading tool state for %s: %w", asset.Key, err)
	}

	inSync := declared == (opts.IsZfsPaused() && opts.IsTransferPaused()) &&
		(declared || !opts.IsPaused())
	if inSync {
		return false, nil
	}

	s.logger.Warn("asset pause state drifted", "asset", asset.Key, "paused", declared,
		"zfsPaused", opts.IsZfsPaused(), "transferPaused", opts.IsTransferPaused())
	if declared {
		return true, s.pauseAsset(ctx, asset, false)
	}
	return true, s.resumeAsset(ctx, asset)
}

// CheckAssets runs CheckAsset over every asset under one reconciliation lock.
// Per-asset failures are logged and counted, never returned.
func (s *Service) CheckAssets(ctx context.Context) (*CheckSummary, error) {
	assets, err := s.assets.ListAssets()
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	lock, err := s.locker.Lock(ctx, reconcileLockName)
	if err != nil {
		return nil, fmt.Errorf("acquiring reconciliation lock: %w", err)
	}
	defer s.unlock(lock)

	summary := &CheckSummary{}
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if asset.IsReplicated() {
			continue
		}
		summary.Checked++

		corrected, err := s.checkAsset(ctx, asset)
		switch {
		case errors.Is(err, ErrNotTracked):
			summary.NotTracked++
			s.logger.Warn("asset not tracked by replication tool", "asset", asset.Key)
		case err != nil:
			summary.Failed++
			s.logger.Error("asset consistency check failed", "asset", asset.Key, "error", err)
		case corrected:
			summary.Corrected++
		}
	}
	return summary, nil
}
