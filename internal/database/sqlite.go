package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"offsite-go/internal/database/migrations"
	"offsite-go/internal/offsite"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase is the device database: the asset registry, the device
// key/value configuration and the operation log.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// The scheduler, the daemon and CLI invocations share the file
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Device configuration

// Get implements offsite.DeviceConfig.
func (s *SQLiteDatabase) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM device_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading device config %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteDatabase) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO device_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing device config %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteDatabase) Clear(key string) error {
	if _, err := s.db.Exec("DELETE FROM device_config WHERE key = ?", key); err != nil {
		return fmt.Errorf("clearing device config %s: %w", key, err)
	}
	return nil
}

// ListConfig returns every device config entry.
func (s *SQLiteDatabase) ListConfig() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM device_config ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing device config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scanning device config: %w", err)
		}
		values[k] = v
	}
	return values, rows.Err()
}

// Assets

const assetColumns = `key, dataset_path, origin, archived, offsite_target, direct_to_cloud,
	offsite_interval, offsite_schedule, backup_schedule, backup_interval`

// CreateAsset registers a new asset.
func (s *SQLiteDatabase) CreateAsset(asset *offsite.Asset) error {
	offsiteSchedule, backupSchedule := scheduleText(asset.OffsiteSchedule), scheduleText(asset.BackupSchedule)
	_, err := s.db.Exec(`
		INSERT INTO assets (`+assetColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.Key, asset.DatasetPath, string(originOrLocal(asset.Origin)), asset.Archived,
		targetOrCloud(asset.OffsiteTarget), asset.DirectToCloud, asset.OffsiteInterval,
		offsiteSchedule, backupSchedule, int64(asset.BackupInterval/time.Second), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating asset %s: %w", asset.Key, err)
	}
	return nil
}

// UpdateAsset replaces an asset's replication settings. Points are not touched.
func (s *SQLiteDatabase) UpdateAsset(asset *offsite.Asset) error {
	res, err := s.db.Exec(`
		UPDATE assets SET origin = ?, archived = ?, offsite_target = ?, direct_to_cloud = ?,
			offsite_interval = ?, offsite_schedule = ?, backup_schedule = ?, backup_interval = ?
		WHERE key = ?`,
		string(originOrLocal(asset.Origin)), asset.Archived, targetOrCloud(asset.OffsiteTarget),
		asset.DirectToCloud, asset.OffsiteInterval, scheduleText(asset.OffsiteSchedule),
		scheduleText(asset.BackupSchedule), int64(asset.BackupInterval/time.Second), asset.Key)
	if err != nil {
		return fmt.Errorf("updating asset %s: %w", asset.Key, err)
	}
	return requireRow(res, asset.Key)
}

// DeleteAsset removes an asset and its recovery points.
func (s *SQLiteDatabase) DeleteAsset(key string) error {
	res, err := s.db.Exec("DELETE FROM assets WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("deleting asset %s: %w", key, err)
	}
	return requireRow(res, key)
}

// GetAsset implements offsite.AssetRepository.
func (s *SQLiteDatabase) GetAsset(key string) (*offsite.Asset, error) {
	row := s.db.QueryRow("SELECT "+assetColumns+" FROM assets WHERE key = ?", key)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", offsite.ErrAssetNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	points, err := s.recoveryPoints(key)
	if err != nil {
		return nil, err
	}
	asset.Points = points
	return asset, nil
}

// ListAssets implements offsite.AssetRepository.
func (s *SQLiteDatabase) ListAssets() ([]*offsite.Asset, error) {
	rows, err := s.db.Query("SELECT " + assetColumns + " FROM assets ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	var assets []*offsite.Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		assets = append(assets, asset)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}

	for _, asset := range assets {
		if asset.Points, err = s.recoveryPoints(asset.Key); err != nil {
			return nil, err
		}
	}
	return assets, nil
}

// AddRecoveryPoint records a local recovery point for an asset. Adding an
// existing point is a no-op.
func (s *SQLiteDatabase) AddRecoveryPoint(assetKey string, epoch int64) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO recovery_points (asset_key, epoch) VALUES (?, ?)", assetKey, epoch)
	if err != nil {
		return fmt.Errorf("adding recovery point %d to %s: %w", epoch, assetKey, err)
	}
	return nil
}

// RemoveRecoveryPoint forgets a local recovery point.
func (s *SQLiteDatabase) RemoveRecoveryPoint(assetKey string, epoch int64) error {
	_, err := s.db.Exec("DELETE FROM recovery_points WHERE asset_key = ? AND epoch = ?", assetKey, epoch)
	if err != nil {
		return fmt.Errorf("removing recovery point %d from %s: %w", epoch, assetKey, err)
	}
	return nil
}

func (s *SQLiteDatabase) recoveryPoints(assetKey string) (offsite.RecoveryPoints, error) {
	rows, err := s.db.Query("SELECT epoch FROM recovery_points WHERE asset_key = ? ORDER BY epoch", assetKey)
	if err != nil {
		return nil, fmt.Errorf("listing recovery points for %s: %w", assetKey, err)
	}
	defer rows.Close()

	var epochs []int64
	for rows.Next() {
		var e int64
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("scanning recovery point: %w", err)
		}
		epochs = append(epochs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing recovery points for %s: %w", assetKey, err)
	}
	return offsite.NewRecoveryPoints(epochs...), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (*offsite.Asset, error) {
	var (
		asset                           offsite.Asset
		origin                          string
		offsiteSchedule, backupSchedule string
		backupIntervalSeconds           int64
	)
	err := row.Scan(&asset.Key, &asset.DatasetPath, &origin, &asset.Archived, &asset.OffsiteTarget,
		&asset.DirectToCloud, &asset.OffsiteInterval, &offsiteSchedule, &backupSchedule, &backupIntervalSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning asset: %w", err)
	}

	asset.Origin = offsite.Origin(origin)
	asset.BackupInterval = time.Duration(backupIntervalSeconds) * time.Second
	if asset.OffsiteSchedule, err = offsite.ParseWeeklySchedule(offsiteSchedule); err != nil {
		return nil, fmt.Errorf("asset %s offsite schedule: %w", asset.Key, err)
	}
	if asset.BackupSchedule, err = offsite.ParseWeeklySchedule(backupSchedule); err != nil {
		return nil, fmt.Errorf("asset %s backup schedule: %w", asset.Key, err)
	}
	return &asset, nil
}

func scheduleText(w offsite.WeeklySchedule) string {
	if w.IsZero() {
		return ""
	}
	return w.String()
}

func originOrLocal(o offsite.Origin) offsite.Origin {
	if o == "" {
		return offsite.OriginLocal
	}
	return o
}

func targetOrCloud(target string) string {
	if target == "" {
		return offsite.TargetCloud
	}
	return target
}

func requireRow(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", offsite.ErrAssetNotFound, key)
	}
	return nil
}

// Operation tracking

// Operation is one recorded CLI or daemon run.
type Operation struct {
	ID         int64
	RunID      string
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

func (s *SQLiteDatabase) CreateOperation(runID, operation, parameters string) (*Operation, error) {
	op := &Operation{
		RunID:      runID,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	res, err := s.db.Exec(`
		INSERT INTO operations (run_id, operation, parameters, started_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		op.RunID, op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	if op.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec("UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (s *SQLiteDatabase) ListOperations(limit int) ([]*Operation, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var op Operation
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.RunID, &op.Operation, &op.Parameters, &op.StartedAt, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			op.FinishedAt = &finished.Time
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema to the latest version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Billing reads the service plan flags that the management agent writes
// into the device config.
type Billing struct {
	config offsite.DeviceConfig
}

// NewBilling creates a Billing reading from config.
func NewBilling(config offsite.DeviceConfig) *Billing {
	return &Billing{config: config}
}

func (b *Billing) IsLocalOnly(context.Context) (bool, error) {
	return b.flag(offsite.KeyBillingLocalOnly)
}

func (b *Billing) IsOutOfService(context.Context) (bool, error) {
	return b.flag(offsite.KeyBillingOutOfService)
}

func (b *Billing) flag(key string) (bool, error) {
	value, ok, err := b.config.Get(key)
	if err != nil || !ok {
		return false, err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("billing flag %s: %w", key, err)
	}
	return enabled, nil
}

// Compile-time checks
var (
	_ offsite.AssetRepository = (*SQLiteDatabase)(nil)
	_ offsite.DeviceConfig    = (*SQLiteDatabase)(nil)
	_ offsite.Billing         = (*Billing)(nil)
)
