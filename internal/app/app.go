package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"offsite-go/internal/cache"
	"offsite-go/internal/config"
	"offsite-go/internal/database"
	"offsite-go/internal/lock"
	"offsite-go/internal/notify"
	"offsite-go/internal/offsite"
	"offsite-go/internal/state"
	"offsite-go/internal/tool"

	"github.com/kballard/go-shellquote"
)

// Options tune how an OffsiteApp is built.
type Options struct {
	// Verbose enables debug logging.
	Verbose bool
}

// OffsiteApp is the application layer between the CLI and the offsite Service.
// It constructs all dependencies from config, records mutating commands as
// operations, and manages the DB lifecycle on Close.
type OffsiteApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	service *offsite.Service
	logger  offsite.Logger
	op      *RunOperation
	logFile *os.File
}

// NewOffsiteApp creates a fully wired OffsiteApp from the given config.
// operation identifies the CLI command being run (e.g. "Schedule", "Pause").
// The caller must call Close when done.
func NewOffsiteApp(cfg *config.Config, operation, parameters string, opts Options) (*OffsiteApp, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("config has no device_id")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	runID := offsite.UUIDGenerator{}.New()
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slogger, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	fail := func(err error) (*OffsiteApp, error) {
		logFile.Close()
		return nil, err
	}

	locker, err := lock.NewFileLocker(cfg.LockDir)
	if err != nil {
		return fail(fmt.Errorf("creating locker: %w", err))
	}
	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return fail(fmt.Errorf("creating state store: %w", err))
	}
	toolClient, err := tool.NewClientFromConfig(cfg.Tool, logger)
	if err != nil {
		return fail(fmt.Errorf("creating tool client: %w", err))
	}
	notifier, err := notify.NewNotifierFromConfig(cfg.Notify, cfg.DeviceID, logger)
	if err != nil {
		return fail(fmt.Errorf("creating notifier: %w", err))
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.DeviceID)
	if err != nil {
		return fail(fmt.Errorf("creating database: %w", err))
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return fail(fmt.Errorf("database schema out of date: %w", err))
	}

	svc := offsite.NewService(offsite.Dependencies{
		Assets:             db,
		Controls:           store,
		Markers:            store,
		Cache:              cache.NewFileStore(cfg.CachePath, locker, logger),
		Tool:               toolClient,
		Device:             db,
		Billing:            database.NewBilling(db),
		Notifier:           notifier,
		Locker:             locker,
		Logger:             logger,
		Clock:              offsite.RealClock{},
		Location:           loc,
		RefreshConcurrency: cfg.RefreshConcurrency,
	})

	return &OffsiteApp{
		cfg:     cfg,
		db:      db,
		service: svc,
		logger:  logger,
		op:      NewRunOperation(runID, operation, parameters),
		logFile: logFile,
	}, nil
}

// Service returns the underlying offsite Service.
func (a *OffsiteApp) Service() *offsite.Service {
	return a.service
}

// Operation returns the operation this app was created for.
func (a *OffsiteApp) Operation() *RunOperation {
	return a.op
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for commands that change replication state.
func (a *OffsiteApp) persistOperation() error {
	if a.op.Persisted() {
		return nil
	}
	dbOp, err := a.db.CreateOperation(a.op.RunID, a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate persists the operation, then runs fn and records its outcome.
func (a *OffsiteApp) mutate(fn func() error) error {
	if err := a.persistOperation(); err != nil {
		return err
	}
	return a.op.Fail(fn())
}

// Schedule sends due recovery points offsite for one asset, or for every
// asset when assetKey is empty.
func (a *OffsiteApp) Schedule(ctx context.Context, assetKey string) (*offsite.ScheduleSummary, error) {
	var summary *offsite.ScheduleSummary
	err := a.mutate(func() error {
		if assetKey == "" {
			var err error
			summary, err = a.service.ScheduleSnapshotsForAllAssets(ctx)
			return err
		}
		asset, err := a.db.GetAsset(assetKey)
		if err != nil {
			return err
		}
		sent, err := a.service.ScheduleSnapshots(ctx, asset)
		summary = &offsite.ScheduleSummary{Assets: 1, Sent: sent}
		if err != nil {
			summary.Failed = 1
		}
		return err
	})
	return summary, err
}

// Check converges the device pause state.
func (a *OffsiteApp) Check(ctx context.Context) error {
	return a.mutate(func() error { return a.service.Check(ctx) })
}

// CheckAssets converges every asset's pause state.
func (a *OffsiteApp) CheckAssets(ctx context.Context) (*offsite.CheckSummary, error) {
	var summary *offsite.CheckSummary
	err := a.mutate(func() error {
		var err error
		summary, err = a.service.CheckAssets(ctx)
		return err
	})
	return summary, err
}

// Pause pauses the device for d, or indefinitely when d <= 0.
func (a *OffsiteApp) Pause(ctx context.Context, d time.Duration) error {
	return a.mutate(func() error { return a.service.Pause(ctx, d) })
}

// Resume clears a local device pause.
func (a *OffsiteApp) Resume(ctx context.Context) error {
	return a.mutate(func() error { return a.service.Resume(ctx) })
}

// CloudPause records a management service pause.
func (a *OffsiteApp) CloudPause(ctx context.Context) error {
	return a.mutate(func() error { return a.service.CloudPause(ctx) })
}

// CloudResume clears a management service pause.
func (a *OffsiteApp) CloudResume(ctx context.Context) error {
	return a.mutate(func() error { return a.service.CloudResume(ctx) })
}

// AddAsset registers a new asset.
func (a *OffsiteApp) AddAsset(asset *offsite.Asset) error {
	if asset.Key == "" || asset.DatasetPath == "" {
		return fmt.Errorf("asset key and dataset are required")
	}
	if _, err := asset.Policy(); err != nil {
		return err
	}
	return a.mutate(func() error { return a.db.CreateAsset(asset) })
}

// RemoveAsset deletes an asset and its recovery points.
func (a *OffsiteApp) RemoveAsset(key string) error {
	return a.mutate(func() error { return a.db.DeleteAsset(key) })
}

// ListAssets returns every registered asset.
func (a *OffsiteApp) ListAssets() ([]*offsite.Asset, error) {
	return a.db.ListAssets()
}

// AddPoint records a local recovery point for an asset.
func (a *OffsiteApp) AddPoint(assetKey string, epoch int64) error {
	return a.mutate(func() error {
		if _, err := a.db.GetAsset(assetKey); err != nil {
			return err
		}
		return a.db.AddRecoveryPoint(assetKey, epoch)
	})
}

// PauseAsset pauses one asset, halting its transfers when halt is set.
func (a *OffsiteApp) PauseAsset(ctx context.Context, key string, halt bool) error {
	return a.mutate(func() error { return a.service.PauseAsset(ctx, key, halt) })
}

// ResumeAsset resumes one asset.
func (a *OffsiteApp) ResumeAsset(ctx context.Context, key string) error {
	return a.mutate(func() error { return a.service.ResumeAsset(ctx, key) })
}

// RefreshCache rebuilds the replication cache for datasets, or for all tracked datasets.
func (a *OffsiteApp) RefreshCache(ctx context.Context, datasets ...string) error {
	return a.mutate(func() error { return a.service.RefreshCache(ctx, datasets...) })
}

// ReadCache returns the replication cache without querying the tool.
func (a *OffsiteApp) ReadCache() (*offsite.ReplicationCache, error) {
	return a.service.ReadCache()
}

// Status returns the device replication status.
func (a *OffsiteApp) Status(ctx context.Context) (*offsite.DeviceStatus, error) {
	return a.service.Status(ctx)
}

// DestroyRemote removes a recovery point from the remote store.
func (a *OffsiteApp) DestroyRemote(ctx context.Context, assetKey string, epoch int64, reason string) error {
	r, err := offsite.ParseDestroyReason(reason)
	if err != nil {
		return err
	}
	return a.mutate(func() error { return a.service.DestroyRemote(ctx, assetKey, epoch, r) })
}

// SetMaxSyncs sets the replication tool's concurrent transfer limit.
func (a *OffsiteApp) SetMaxSyncs(ctx context.Context, n int) error {
	return a.mutate(func() error { return a.service.SetMaxSyncs(ctx, n) })
}

// GetMaxSyncs returns the replication tool's concurrent transfer limit.
func (a *OffsiteApp) GetMaxSyncs(ctx context.Context) (int, error) {
	return a.service.GetMaxSyncs(ctx)
}

// RefreshTool asks the replication tool to re-read a dataset, or all datasets.
func (a *OffsiteApp) RefreshTool(ctx context.Context, dataset string) error {
	return a.mutate(func() error { return a.service.RefreshTool(ctx, dataset) })
}

// GetHistory returns the most recent recorded operations.
func (a *OffsiteApp) GetHistory(limit int) ([]*database.Operation, error) {
	return a.db.ListOperations(limit)
}

// SetDeviceConfig sets a device config key such as backup.offsetMinutes.
func (a *OffsiteApp) SetDeviceConfig(key, value string) error {
	return a.mutate(func() error { return a.db.Set(key, value) })
}

// ClearDeviceConfig removes a device config key.
func (a *OffsiteApp) ClearDeviceConfig(key string) error {
	return a.mutate(func() error { return a.db.Clear(key) })
}

// DeviceConfig returns every device config key.
func (a *OffsiteApp) DeviceConfig() (map[string]string, error) {
	return a.db.ListConfig()
}

// Close finalizes the operation record and closes all resources.
func (a *OffsiteApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// JoinParameters formats command arguments for the operations table.
func JoinParameters(args ...string) string {
	return shellquote.Join(args...)
}
