package offsite

import (
	"fmt"
	"strconv"
	"time"
)

const (
	// maxPointAge is how far back non direct-to-cloud points are considered.
	maxPointAge = 24 * time.Hour

	// ShortestBackupInterval is the most frequent supported local backup cadence.
	ShortestBackupInterval = 5 * time.Minute

	// intervalGrace is subtracted from sub-daily intervals so a point landing
	// just before the ideal boundary is not skipped.
	intervalGrace = ShortestBackupInterval / 2

	// hourDriftTolerance is how far past an hour boundary a point may land and
	// still count as the last backup of the previous hour.
	hourDriftTolerance = ShortestBackupInterval

	// predictionHorizon bounds the search for the next predicted backup.
	predictionHorizon = 7 * 24 * time.Hour
)

// IsReadyToSendOffsite reports whether a recovery point is due for replication.
// An invalid offsite policy is logged and reported as not ready.
func (s *Service) IsReadyToSendOffsite(asset *Asset, point RecoveryPoint) (bool, error) {
	e, err := s.newEvaluation(asset)
	if err != nil {
		return false, err
	}
	return e.ready(point), nil
}

// evaluation holds the state needed to judge the points of one asset in one pass.
type evaluation struct {
	asset     *Asset
	record    *ControlRecord
	policy    Policy
	policyErr error
	offset    time.Duration
	now       time.Time
	loc       *time.Location
	logger    Logger
}

func (s *Service) newEvaluation(asset *Asset) (*evaluation, error) {
	record, err := s.controls.LoadControl(asset.Key)
	if err != nil {
		return nil, fmt.Errorf("loading offsite control for %s: %w", asset.Key, err)
	}
	offset, err := s.backupOffset()
	if err != nil {
		return nil, err
	}
	policy, policyErr := asset.Policy()
	return &evaluation{
		asset:     asset,
		record:    record,
		policy:    policy,
		policyErr: policyErr,
		offset:    offset,
		now:       s.clock.Now().In(s.location),
		loc:       s.location,
		logger:    s.logger,
	}, nil
}

// backupOffset returns the device-wide shift of backups past the top of the hour.
func (s *Service) backupOffset() (time.Duration, error) {
	raw, ok, err := s.device.Get(KeyBackupOffset)
	if err != nil {
		return 0, fmt.Errorf("reading backup offset: %w", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil || minutes < 0 || minutes >= 60 {
		s.logger.Warn("ignoring invalid backup offset", "value", raw)
		return 0, nil
	}
	return time.Duration(minutes) * time.Minute, nil
}

func (e *evaluation) ready(point RecoveryPoint) bool {
	pointTime := point.Time(e.loc)

	// Never holds even before the first send.
	if e.policyErr == nil && e.policy.Kind == PolicyNever {
		return false
	}

	if e.now.Sub(pointTime) > maxPointAge && !e.asset.DirectToCloud {
		return false
	}

	// Without a control record the tool decides what is already offsite.
	if e.record == nil {
		return true
	}

	if point.Epoch <= e.record.LatestOffsiteSnapshot {
		return false
	}

	if e.policyErr != nil {
		e.logger.Error("invalid offsite interval", "asset", e.asset.Key, "error", e.policyErr)
		return false
	}

	switch e.policy.Kind {
	case PolicyNever:
		return false
	case PolicyAlways:
		return true
	case PolicyCustom:
		return e.readyCustom(point)
	case PolicyInterval:
		if e.policy.Interval >= 24*time.Hour {
			return e.readyDaily(point)
		}
		return e.readySubDaily(point)
	default:
		e.logger.Error("unknown offsite policy", "asset", e.asset.Key, "kind", int(e.policy.Kind))
		return false
	}
}

// readySubDaily handles intervals shorter than a day.
func (e *evaluation) readySubDaily(point RecoveryPoint) bool {
	interval := int64(e.policy.Interval / time.Second)
	grace := int64(intervalGrace / time.Second)
	idealNext := e.record.LatestOffsiteSnapshot + interval - grace
	return point.Epoch >= idealNext
}

// readyDaily handles intervals of a day or more: only the day's last point is
// sent, and only once the day of the ideal next offsite has arrived.
func (e *evaluation) readyDaily(point RecoveryPoint) bool {
	idealNext := time.Unix(e.record.LatestOffsiteSnapshot, 0).In(e.loc).Add(e.policy.Interval)
	if startOfDay(idealNext).After(startOfDay(point.Time(e.loc))) {
		return false
	}
	return e.isLastOfDay(point)
}

func (e *evaluation) isLastOfDay(point RecoveryPoint) bool {
	pointTime := point.Time(e.loc)
	if next, ok := e.asset.Points.Next(point.Epoch); ok {
		return !sameDay(next.Time(e.loc), pointTime)
	}

	dayEnd := startOfDay(pointTime).AddDate(0, 0, 1)
	if !e.now.Before(dayEnd) {
		return true
	}

	predicted, ok := e.predictNextBackup(pointTime)
	return !ok || !sameDay(predicted, pointTime)
}

// predictNextBackup returns when the next local backup after t should run
// according to the asset's backup interval and schedule.
func (e *evaluation) predictNextBackup(t time.Time) (time.Time, bool) {
	interval := e.asset.BackupInterval
	if interval <= 0 {
		return time.Time{}, false
	}
	schedule := e.asset.BackupSchedule
	for next := t.Add(interval); next.Sub(t) <= predictionHorizon; next = next.Add(interval) {
		if schedule.IsZero() || schedule.Enabled(next.Weekday(), next.Hour()) {
			return next, true
		}
	}
	return time.Time{}, false
}

// readyCustom handles the weekly custom schedule. A point qualifies when it is
// the last backup of its (offset-shifted) hour, or when it landed just after
// an hour boundary and no other point covers the previous hour.
func (e *evaluation) readyCustom(point RecoveryPoint) bool {
	schedule := e.policy.Schedule
	hour := e.targetHour(point.Epoch)

	if e.isLastInHour(point, hour) &&
		schedule.Enabled(hour.Weekday(), hour.Hour()) &&
		!e.sentSince(hour) {
		return true
	}

	previous := hour.Add(-time.Hour)
	if e.isLastForPreviousHour(point, hour) &&
		schedule.Enabled(previous.Weekday(), previous.Hour()) &&
		!e.sentSince(previous) {
		return true
	}
	return false
}

// targetHour maps an epoch to the schedule hour it belongs to once the
// device backup offset is taken into account.
func (e *evaluation) targetHour(epoch int64) time.Time {
	t := time.Unix(epoch, 0).In(e.loc).Add(-e.offset)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, e.loc)
}

// hourStart is the wall-clock start of a target hour.
func (e *evaluation) hourStart(hour time.Time) time.Time {
	return hour.Add(e.offset)
}

func (e *evaluation) isLastInHour(point RecoveryPoint, hour time.Time) bool {
	if next, ok := e.asset.Points.Next(point.Epoch); ok {
		return !e.targetHour(next.Epoch).Equal(hour)
	}

	hourEnd := e.hourStart(hour).Add(time.Hour)
	if !e.now.Before(hourEnd) {
		return true
	}

	predicted, ok := e.predictNextBackup(point.Time(e.loc))
	return !ok || !predicted.Before(hourEnd)
}

func (e *evaluation) isLastForPreviousHour(point RecoveryPoint, hour time.Time) bool {
	if point.Time(e.loc).Sub(e.hourStart(hour)) >= hourDriftTolerance {
		return false
	}
	prev, ok := e.asset.Points.Previous(point.Epoch)
	if !ok {
		return true
	}
	// An older point in this hour or the previous one already covers it.
	return e.targetHour(prev.Epoch).Before(hour.Add(-time.Hour))
}

// sentSince reports whether the high-water mark was sent for hour or a later one.
func (e *evaluation) sentSince(hour time.Time) bool {
	if e.record == nil || e.record.LatestOffsiteSnapshot <= 0 {
		return false
	}
	return !e.coveredHour(e.record.LatestOffsiteSnapshot).Before(hour)
}

// coveredHour is the schedule hour a sent point was sent for. A point that
// stood in for the previous hour covers that hour, not its own.
func (e *evaluation) coveredHour(epoch int64) time.Time {
	mark := RecoveryPoint{Epoch: epoch}
	hour := e.targetHour(epoch)
	previous := hour.Add(-time.Hour)
	schedule := e.policy.Schedule

	if e.isLastInHour(mark, hour) && schedule.Enabled(hour.Weekday(), hour.Hour()) {
		return hour
	}
	if e.isLastForPreviousHour(mark, hour) && schedule.Enabled(previous.Weekday(), previous.Hour()) {
		return previous
	}
	return hour
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	return startOfDay(a).Equal(startOfDay(b))
}
