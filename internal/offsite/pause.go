package offsite

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"
)

// IndefinitePauseHours is reported to the management service for a pause
// with no resume time.
const IndefinitePauseHours = 999999

// localPauseIndefinite is the stored resume time of an open-ended local pause.
const localPauseIndefinite int64 = -1

// PauseInputs are the independent authorities that can pause the device.
type PauseInputs struct {
	BillingLocalOnly    bool
	BillingOutOfService bool
	MaintenanceMode     bool
	LocalPause          bool
	CloudPause          bool
}

// ShouldBePaused merges the device-wide pause inputs.
func ShouldBePaused(in PauseInputs) bool {
	return in.BillingLocalOnly ||
		in.BillingOutOfService ||
		in.MaintenanceMode ||
		in.LocalPause ||
		in.CloudPause
}

// LocalPause is a user-initiated device pause.
type LocalPause struct {
	Indefinite bool
	ResumeAt   time.Time
}

// GetLocalPause returns the stored local pause, or nil if there is none.
func (s *Service) GetLocalPause() (*LocalPause, error) {
	raw, ok, err := s.device.Get(KeyLocalPause)
	if err != nil {
		return nil, fmt.Errorf("reading local pause: %w", err)
	}
	if !ok {
		return nil, nil
	}
	resume, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing local pause %q: %w", raw, err)
	}
	if resume == localPauseIndefinite {
		return &LocalPause{Indefinite: true}, nil
	}
	return &LocalPause{ResumeAt: time.Unix(resume, 0)}, nil
}

// IsUnexpiredLocalPause reports whether a local pause is in effect.
// An expired pause record is removed as a side effect.
func (s *Service) IsUnexpiredLocalPause() (bool, error) {
	pause, err := s.GetLocalPause()
	if err != nil {
		return false, err
	}
	if pause == nil {
		return false, nil
	}
	if pause.Indefinite || pause.ResumeAt.After(s.clock.Now()) {
		return true, nil
	}

	if err := s.device.Clear(KeyLocalPause); err != nil {
		return false, fmt.Errorf("clearing expired local pause: %w", err)
	}
	s.logger.Info("expired local pause cleared", "resumeAt", pause.ResumeAt.Unix())
	return false, nil
}

// PauseInputs gathers the current device-wide pause inputs.
func (s *Service) PauseInputs(ctx context.Context) (PauseInputs, error) {
	var in PauseInputs
	var err error

	if in.BillingLocalOnly, err = s.billing.IsLocalOnly(ctx); err != nil {
		return in, fmt.Errorf("reading billing local-only: %w", err)
	}
	if in.BillingOutOfService, err = s.billing.IsOutOfService(ctx); err != nil {
		return in, fmt.Errorf("reading billing out-of-service: %w", err)
	}
	if in.MaintenanceMode, err = s.flag(KeyMaintenanceMode); err != nil {
		return in, err
	}
	if in.LocalPause, err = s.IsUnexpiredLocalPause(); err != nil {
		return in, err
	}
	if in.CloudPause, err = s.flag(KeyCloudPause); err != nil {
		return in, err
	}
	return in, nil
}

// ShouldBePaused reports whether the device should currently be paused.
func (s *Service) ShouldBePaused(ctx context.Context) (bool, error) {
	in, err := s.PauseInputs(ctx)
	if err != nil {
		return false, err
	}
	return ShouldBePaused(in), nil
}

// Check converges the replication tool's device-wide pause state on the
// desired state. It holds the reconciliation lock for its duration.
func (s *Service) Check(ctx context.Context) error {
	lock, err := s.locker.Lock(ctx, reconcileLockName)
	if err != nil {
		return fmt.Errorf("acquiring reconciliation lock: %w", err)
	}
	defer s.unlock(lock)

	return s.check(ctx)
}

func (s *Service) check(ctx context.Context) error {
	desired, err := s.ShouldBePaused(ctx)
	if err != nil {
		return err
	}
	opts, err := s.tool.GetGlobalOptions(ctx)
	if err != nil {
		return fmt.Errorf("reading replication tool state: %w", err)
	}

	actual := opts.IsPaused()
	if desired == actual {
		s.logger.Debug("device pause state consistent", "paused", desired)
		return nil
	}

	s.logger.Info("device pause state drifted", "desired", desired,
		"zfsPaused", opts.IsZfsPaused(), "transferPaused", opts.IsTransferPaused())

	var zfsErr, transferErr error
	if desired {
		zfsErr = s.tool.PauseDeviceZfs(ctx)
		transferErr = s.tool.PauseDeviceTransfer(ctx)
	} else {
		zfsErr = s.tool.ResumeDeviceZfs(ctx)
		transferErr = s.tool.ResumeDeviceTransfer(ctx)
	}
	if zfsErr != nil || transferErr != nil {
		s.logger.Error("device pause state not applied", "paused", desired,
			"zfsError", errString(zfsErr), "transferError", errString(transferErr))
		return fmt.Errorf("%w: zfs: %s, transfer: %s", ErrPartialPause, errString(zfsErr), errString(transferErr))
	}
	return nil
}

// Pause pauses replication device-wide for d, or indefinitely when d <= 0.
func (s *Service) Pause(ctx context.Context, d time.Duration) error {
	value := localPauseIndefinite
	if d > 0 {
		value = s.clock.Now().Add(d).Unix()
	}
	return s.changeDeviceInput(ctx, "pause", func() error {
		return s.device.Set(KeyLocalPause, strconv.FormatInt(value, 10))
	})
}

// Resume clears a local device pause.
func (s *Service) Resume(ctx context.Context) error {
	return s.changeDeviceInput(ctx, "resume", func() error {
		return s.device.Clear(KeyLocalPause)
	})
}

// CloudPause records a pause requested by the management service.
func (s *Service) CloudPause(ctx context.Context) error {
	return s.changeDeviceInput(ctx, "cloud pause", func() error {
		return s.device.Set(KeyCloudPause, "1")
	})
}

// CloudResume clears a pause requested by the management service.
func (s *Service) CloudResume(ctx context.Context) error {
	return s.changeDeviceInput(ctx, "cloud resume", func() error {
		return s.device.Clear(KeyCloudPause)
	})
}

// changeDeviceInput mutates one pause input, converges, and notifies the
// management service of the resulting pause duration.
func (s *Service) changeDeviceInput(ctx context.Context, op string, mutate func() error) error {
	lock, err := s.locker.Lock(ctx, reconcileLockName)
	if err != nil {
		return fmt.Errorf("acquiring reconciliation lock: %w", err)
	}

	if err := mutate(); err != nil {
		s.unlock(lock)
		return fmt.Errorf("recording %s: %w", op, err)
	}
	checkErr := s.check(ctx)
	s.unlock(lock)

	hours, err := s.PauseHoursRemaining(ctx)
	if err != nil {
		s.logger.Warn("computing pause duration", "error", err)
	} else if err := s.notifier.DevicePaused(ctx, hours); err != nil {
		s.logger.Warn("device pause notification failed", "hours", hours, "error", err)
	}

	s.logger.Info("device "+op+" applied", "hours", hours)
	return checkErr
}

// PauseHoursRemaining returns the hours until replication resumes: 0 when not
// paused and IndefinitePauseHours when no resume time applies.
func (s *Service) PauseHoursRemaining(ctx context.Context) (int, error) {
	in, err := s.PauseInputs(ctx)
	if err != nil {
		return 0, err
	}
	if !ShouldBePaused(in) {
		return 0, nil
	}
	if in.BillingLocalOnly || in.BillingOutOfService || in.MaintenanceMode || in.CloudPause {
		return IndefinitePauseHours, nil
	}

	pause, err := s.GetLocalPause()
	if err != nil {
		return 0, err
	}
	if pause == nil || pause.Indefinite {
		return IndefinitePauseHours, nil
	}
	remaining := pause.ResumeAt.Sub(s.clock.Now())
	return int(math.Ceil(remaining.Hours())), nil
}

// flag reads a presence-style device config key.
func (s *Service) flag(key string) (bool, error) {
	value, ok, err := s.device.Get(key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		// Presence alone marks the flag.
		return true, nil
	}
	return enabled, nil
}

func (s *Service) unlock(lock Lock) {
	if err := lock.Unlock(); err != nil {
		s.logger.Warn("releasing reconciliation lock", "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
