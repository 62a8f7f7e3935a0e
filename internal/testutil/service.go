package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"offsite-go/internal/cache"
	"offsite-go/internal/database"
	"offsite-go/internal/lock"
	"offsite-go/internal/offsite"
	"offsite-go/internal/state"
	"offsite-go/internal/tool"
)

// Harness is an offsite.Service wired to in-memory and temp-dir collaborators.
// Tool is nil when the harness was built around another tool client.
type Harness struct {
	Service  *offsite.Service
	DB       *database.SQLiteDatabase
	Tool     *tool.MemoryClient
	State    *state.Store
	Cache    *cache.FileStore
	Locker   *lock.FileLocker
	Clock    *StubClock
	Notifier *RecordingNotifier
}

// NewHarness creates a Harness with its clock at now. Times are evaluated in UTC.
func NewHarness(t *testing.T, now time.Time) *Harness {
	t.Helper()
	mem := tool.NewMemoryClient()
	h := NewHarnessWithTool(t, now, mem)
	h.Tool = mem
	return h
}

// NewHarnessWithTool is NewHarness with toolClient in place of the memory tool.
func NewHarnessWithTool(t *testing.T, now time.Time, toolClient offsite.ToolClient) *Harness {
	t.Helper()
	dir := t.TempDir()

	locker, err := lock.NewFileLocker(filepath.Join(dir, "lock"))
	if err != nil {
		t.Fatalf("failed to create locker: %v", err)
	}
	store, err := state.NewStore(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("failed to create state store: %v", err)
	}

	h := &Harness{
		DB:       NewTestDatabase(t),
		State:    store,
		Cache:    cache.NewFileStore(filepath.Join(dir, "cache", "replication.json"), locker, nil),
		Locker:   locker,
		Clock:    NewStubClock(now),
		Notifier: &RecordingNotifier{},
	}
	h.Service = offsite.NewService(offsite.Dependencies{
		Assets:   h.DB,
		Controls: h.State,
		Markers:  h.State,
		Cache:    h.Cache,
		Tool:     toolClient,
		Device:   h.DB,
		Billing:  database.NewBilling(h.DB),
		Notifier: h.Notifier,
		Locker:   h.Locker,
		Clock:    h.Clock,
		Location: time.UTC,
	})
	return h
}

// AddAsset registers asset and its points in the database and returns the stored copy.
func (h *Harness) AddAsset(t *testing.T, asset *offsite.Asset) *offsite.Asset {
	t.Helper()
	if err := h.DB.CreateAsset(asset); err != nil {
		t.Fatalf("CreateAsset() error = %v", err)
	}
	for _, p := range asset.Points {
		if err := h.DB.AddRecoveryPoint(asset.Key, p.Epoch); err != nil {
			t.Fatalf("AddRecoveryPoint() error = %v", err)
		}
	}
	stored, err := h.DB.GetAsset(asset.Key)
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	return stored
}

// SetControl writes a control record for an asset.
func (h *Harness) SetControl(t *testing.T, assetKey string, latest, interval int64) {
	t.Helper()
	err := h.State.SaveControl(assetKey, &offsite.ControlRecord{LatestOffsiteSnapshot: latest, Interval: interval})
	if err != nil {
		t.Fatalf("SaveControl() error = %v", err)
	}
}

// Latest returns the high-water mark of an asset, or 0 if it has no control record.
func (h *Harness) Latest(t *testing.T, assetKey string) int64 {
	t.Helper()
	record, err := h.State.LoadControl(assetKey)
	if err != nil {
		t.Fatalf("LoadControl() error = %v", err)
	}
	if record == nil {
		return 0
	}
	return record.LatestOffsiteSnapshot
}
