package offsite

import (
	"context"
	"fmt"
)

// ScheduleSummary counts the outcome of a scheduling run over all assets.
type ScheduleSummary struct {
	Assets int
	Sent   int
	Failed int
}

// ScheduleSnapshotsForAllAssets runs a scheduling pass for every asset.
// A failing asset is logged and does not stop the run.
func (s *Service) ScheduleSnapshotsForAllAssets(ctx context.Context) (*ScheduleSummary, error) {
	assets, err := s.assets.ListAssets()
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	summary := &ScheduleSummary{}
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Assets++

		sent, err := s.ScheduleSnapshots(ctx, asset)
		summary.Sent += sent
		if err != nil {
			summary.Failed++
			s.logger.Error("offsite scheduling failed", "asset", asset.Key, "error", err)
		}
	}

	s.logger.Info("offsite scheduling complete",
		"assets", summary.Assets, "sent", summary.Sent, "failed", summary.Failed)
	return summary, nil
}

// ScheduleSnapshots sends every due recovery point of one asset offsite.
// It holds the asset's scheduling lock for the whole pass and fails fast if
// another pass holds it. Returns the number of points mirrored.
func (s *Service) ScheduleSnapshots(ctx context.Context, asset *Asset) (int, error) {
	switch {
	case asset.Archived:
		s.logger.Debug("skipping archived asset", "asset", asset.Key)
		return 0, nil
	case asset.IsReplicated():
		s.logger.Debug("skipping replicated asset", "asset", asset.Key)
		return 0, nil
	case !asset.HasOffsiteTarget():
		s.logger.Debug("skipping asset without offsite target", "asset", asset.Key)
		return 0, nil
	}

	lock, err := s.locker.TryLock(scheduleLockName(asset.Key))
	if err != nil {
		return 0, fmt.Errorf("could not acquire lock for asset %s: %w", asset.Key, err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("releasing scheduling lock", "asset", asset.Key, "error", err)
		}
	}()

	eval, err := s.newEvaluation(asset)
	if err != nil {
		return 0, err
	}

	sent := 0
	tracked := false
	for _, point := range asset.Points {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if !eval.ready(point) {
			continue
		}

		if !tracked {
			if err := s.ensureTracked(ctx, asset); err != nil {
				return sent, err
			}
			tracked = true
		}

		mirrorErr := s.tool.Mirror(ctx, asset.DatasetPath, point.Epoch)
		if mirrorErr != nil {
			s.logger.Warn("mirror failed", "asset", asset.Key, "epoch", point.Epoch, "error", mirrorErr)
			// Direct-to-cloud cadence still advances so a rejected point cannot stall it.
			if !asset.DirectToCloud {
				continue
			}
		} else {
			sent++
			s.logger.Info("point queued offsite", "asset", asset.Key, "epoch", point.Epoch)
		}

		if err := s.advanceHighWaterMark(asset, eval, point.Epoch); err != nil {
			return sent, err
		}
	}

	return sent, nil
}

// ensureTracked adds the asset's dataset to the replication tool if needed.
func (s *Service) ensureTracked(ctx context.Context, asset *Asset) error {
	jobs, err := s.tool.GetJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing replication jobs: %w", err)
	}
	if _, ok := jobs[asset.DatasetPath]; ok {
		return nil
	}

	if asset.OffsiteTarget == TargetCloud {
		err = s.tool.AddDataset(ctx, asset.DatasetPath)
	} else {
		err = s.tool.AddDatasetToTarget(ctx, asset.DatasetPath, asset.OffsiteTarget)
	}
	if err != nil {
		return fmt.Errorf("adding dataset %s: %w", asset.DatasetPath, err)
	}

	s.logger.Info("dataset added to replication", "asset", asset.Key, "dataset", asset.DatasetPath, "target", asset.OffsiteTarget)
	return nil
}

// advanceHighWaterMark records epoch as sent. The mark never moves backwards.
func (s *Service) advanceHighWaterMark(asset *Asset, eval *evaluation, epoch int64) error {
	record := &ControlRecord{Interval: asset.OffsiteInterval}
	if eval.record != nil {
		record.LatestOffsiteSnapshot = eval.record.LatestOffsiteSnapshot
	}
	if epoch > record.LatestOffsiteSnapshot {
		record.LatestOffsiteSnapshot = epoch
	}

	if err := s.controls.SaveControl(asset.Key, record); err != nil {
		return fmt.Errorf("saving offsite control for %s: %w", asset.Key, err)
	}
	eval.record = record
	return nil
}
