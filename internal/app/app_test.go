package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsite-go/internal/config"
	"offsite-go/internal/offsite"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig("device-1", t.TempDir())
	cfg.Tool = config.ToolConfig{Type: "memory"}
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Timezone = "UTC"
	return cfg
}

func newTestApp(t *testing.T, operation string) *OffsiteApp {
	t.Helper()
	a, err := NewOffsiteApp(newTestConfig(t), operation, "", Options{})
	if err != nil {
		t.Fatalf("NewOffsiteApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewOffsiteApp_Validation(t *testing.T) {
	t.Run("missing device id", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.DeviceID = ""
		if _, err := NewOffsiteApp(cfg, "Check", "", Options{}); err == nil {
			t.Error("NewOffsiteApp() expected error for missing device id")
		}
	})

	t.Run("bad timezone", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Timezone = "Mars/Olympus"
		if _, err := NewOffsiteApp(cfg, "Check", "", Options{}); err == nil {
			t.Error("NewOffsiteApp() expected error for unknown timezone")
		}
	})

	t.Run("unknown tool type", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Tool.Type = "carrier-pigeon"
		if _, err := NewOffsiteApp(cfg, "Check", "", Options{}); err == nil {
			t.Error("NewOffsiteApp() expected error for unknown tool type")
		}
	})
}

func TestOffsiteApp_ScheduleEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "Schedule")

	asset := &offsite.Asset{Key: "a1", DatasetPath: "tank/a1", OffsiteInterval: 3600}
	if err := a.AddAsset(asset); err != nil {
		t.Fatalf("AddAsset() error = %v", err)
	}
	if err := a.AddPoint("a1", time.Now().Add(-time.Minute).Unix()); err != nil {
		t.Fatalf("AddPoint() error = %v", err)
	}

	summary, err := a.Schedule(ctx, "")
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if summary.Assets != 1 || summary.Sent != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want one point sent", summary)
	}

	// A second pass has nothing new to send.
	summary, err = a.Schedule(ctx, "a1")
	if err != nil {
		t.Fatalf("Schedule(a1) error = %v", err)
	}
	if summary.Sent != 0 {
		t.Errorf("second pass sent = %d, want 0", summary.Sent)
	}

	ops, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != "Schedule" {
		t.Errorf("operations = %+v, want a single Schedule record", ops)
	}
}

func TestOffsiteApp_ReadOnlyCommandsAreNotRecorded(t *testing.T) {
	a := newTestApp(t, "ListAssets")

	if _, err := a.ListAssets(); err != nil {
		t.Fatalf("ListAssets() error = %v", err)
	}
	if _, err := a.Status(context.Background()); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if a.Operation().Persisted() {
		t.Error("read-only commands persisted an operation")
	}
}

func TestOffsiteApp_FailedCommandMarksOperation(t *testing.T) {
	a := newTestApp(t, "AddPoint")

	err := a.AddPoint("ghost", 100)
	if !errors.Is(err, offsite.ErrAssetNotFound) {
		t.Fatalf("AddPoint() error = %v, want ErrAssetNotFound", err)
	}
	if a.Operation().Status != StatusError {
		t.Errorf("Status = %q, want %q", a.Operation().Status, StatusError)
	}
}

func TestOffsiteApp_AddAssetValidation(t *testing.T) {
	a := newTestApp(t, "AddAsset")

	if err := a.AddAsset(&offsite.Asset{Key: "a1"}); err == nil {
		t.Error("AddAsset() expected error without dataset")
	}
	err := a.AddAsset(&offsite.Asset{Key: "a1", DatasetPath: "tank/a1", OffsiteInterval: -9})
	if !errors.Is(err, offsite.ErrInvalidPolicy) {
		t.Errorf("AddAsset() error = %v, want ErrInvalidPolicy", err)
	}
}

func TestOffsiteApp_PauseAndStatus(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "Pause")

	if err := a.Pause(ctx, 2*time.Hour); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	status, err := a.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Paused || !status.Inputs.LocalPause || status.PauseHours != 2 {
		t.Errorf("status = %+v, want a two hour local pause", status)
	}

	if err := a.Resume(ctx); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	status, _ = a.Status(ctx)
	if status.Paused {
		t.Error("device still paused after Resume()")
	}
}

func TestOffsiteApp_DestroyRemoteRejectsReason(t *testing.T) {
	a := newTestApp(t, "DestroyRemote")

	err := a.DestroyRemote(context.Background(), "a1", 100, "because")
	if !errors.Is(err, offsite.ErrInvalidReason) {
		t.Errorf("DestroyRemote() error = %v, want ErrInvalidReason", err)
	}
	if a.Operation().Persisted() {
		t.Error("rejected command persisted an operation")
	}
}

func TestOffsiteApp_DeviceConfig(t *testing.T) {
	a := newTestApp(t, "SetDeviceConfig")

	if err := a.SetDeviceConfig(offsite.KeyBackupOffset, "15"); err != nil {
		t.Fatalf("SetDeviceConfig() error = %v", err)
	}
	values, err := a.DeviceConfig()
	if err != nil {
		t.Fatalf("DeviceConfig() error = %v", err)
	}
	if values[offsite.KeyBackupOffset] != "15" {
		t.Errorf("device config = %v", values)
	}
	if err := a.ClearDeviceConfig(offsite.KeyBackupOffset); err != nil {
		t.Fatalf("ClearDeviceConfig() error = %v", err)
	}
}

func TestJoinParameters(t *testing.T) {
	if got := JoinParameters("a1", "my dataset"); got != "a1 'my dataset'" {
		t.Errorf("JoinParameters() = %q", got)
	}
}
