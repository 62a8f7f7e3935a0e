package app

import (
	"context"
	"fmt"

	"offsite-go/internal/config"
	"offsite-go/internal/offsite"

	"github.com/robfig/cron/v3"
)

// cronSpecParser accepts standard five-field cron expressions.
var cronSpecParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// daemonJob is one periodic engine task.
type daemonJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func (a *OffsiteApp) daemonJobs(specs config.DaemonConfig) []daemonJob {
	return []daemonJob{
		{name: "Schedule", spec: specs.ScheduleSpec, run: func(ctx context.Context) error {
			summary, err := a.service.ScheduleSnapshotsForAllAssets(ctx)
			if summary != nil {
				a.logger.Info("scheduling pass finished", "assets", summary.Assets, "sent", summary.Sent, "failed", summary.Failed)
			}
			return err
		}},
		{name: "Check", spec: specs.CheckSpec, run: a.service.Check},
		{name: "CheckAssets", spec: specs.CheckAssetsSpec, run: func(ctx context.Context) error {
			summary, err := a.service.CheckAssets(ctx)
			if summary != nil {
				a.logger.Info("asset check finished", "checked", summary.Checked, "corrected", summary.Corrected,
					"notTracked", summary.NotTracked, "failed", summary.Failed)
			}
			return err
		}},
		{name: "RefreshCache", spec: specs.CacheSpec, run: func(ctx context.Context) error {
			return a.service.RefreshCache(ctx)
		}},
	}
}

// RunDaemon runs the periodic engine tasks on their cron specs until ctx is
// cancelled. Each run is recorded as its own operation. A job whose previous
// run is still going is skipped.
func (a *OffsiteApp) RunDaemon(ctx context.Context) error {
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	logger := cronLogger{l: a.logger}
	c := cron.New(
		cron.WithParser(cronSpecParser),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	registered := 0
	for _, job := range a.daemonJobs(a.cfg.Daemon) {
		if job.spec == "" {
			a.logger.Info("daemon job disabled", "job", job.name)
			continue
		}
		if _, err := c.AddFunc(job.spec, func() { a.runJob(ctx, job) }); err != nil {
			return fmt.Errorf("invalid cron spec %q for %s: %w", job.spec, job.name, err)
		}
		registered++
	}
	if registered == 0 {
		return fmt.Errorf("no daemon jobs configured")
	}

	a.logger.Info("daemon started", "jobs", registered)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("daemon stopped")
	return nil
}

// runJob runs one job and records it in the operations table.
func (a *OffsiteApp) runJob(ctx context.Context, job daemonJob) {
	if ctx.Err() != nil {
		return
	}
	op, err := a.db.CreateOperation(a.op.RunID, job.name, "daemon")
	if err != nil {
		a.logger.Error("recording daemon job", "job", job.name, "error", err)
	}

	status := StatusSuccess
	if err := job.run(ctx); err != nil {
		status = StatusError
		a.logger.Error("daemon job failed", "job", job.name, "error", err)
	}

	if op != nil {
		if err := a.db.FinishOperation(op.ID, status); err != nil {
			a.logger.Error("finishing daemon job record", "job", job.name, "error", err)
		}
	}
}

// ValidateDaemonSpecs checks every non-empty cron spec in specs.
func ValidateDaemonSpecs(specs config.DaemonConfig) error {
	for name, spec := range map[string]string{
		"schedule_spec":     specs.ScheduleSpec,
		"check_spec":        specs.CheckSpec,
		"check_assets_spec": specs.CheckAssetsSpec,
		"cache_spec":        specs.CacheSpec,
	} {
		if spec == "" {
			continue
		}
		if _, err := cronSpecParser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	return nil
}

// cronLogger adapts offsite.Logger to cron.Logger.
type cronLogger struct {
	l offsite.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
