package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"offsite-go/internal/config"
)

func TestValidateDaemonSpecs(t *testing.T) {
	if err := ValidateDaemonSpecs(config.NewConfig("d", "/tmp").Daemon); err != nil {
		t.Errorf("ValidateDaemonSpecs(defaults) error = %v", err)
	}
	if err := ValidateDaemonSpecs(config.DaemonConfig{}); err != nil {
		t.Errorf("ValidateDaemonSpecs(empty) error = %v", err)
	}
	if err := ValidateDaemonSpecs(config.DaemonConfig{CheckSpec: "every five minutes"}); err == nil {
		t.Error("ValidateDaemonSpecs() expected error for invalid spec")
	}
}

func TestRunJob_RecordsOperation(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, "Daemon")

	a.runJob(ctx, daemonJob{name: "Check", run: func(context.Context) error { return nil }})
	a.runJob(ctx, daemonJob{name: "RefreshCache", run: func(context.Context) error { return errors.New("tool down") }})

	ops, err := a.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}
	// Newest first.
	if ops[0].Operation != "RefreshCache" || ops[0].Status != StatusError {
		t.Errorf("ops[0] = %+v, want failed RefreshCache", ops[0])
	}
	if ops[1].Operation != "Check" || ops[1].Status != StatusSuccess {
		t.Errorf("ops[1] = %+v, want successful Check", ops[1])
	}
	if ops[1].RunID != a.Operation().RunID {
		t.Errorf("RunID = %q, want %q", ops[1].RunID, a.Operation().RunID)
	}
}

func TestRunJob_SkipsAfterCancel(t *testing.T) {
	a := newTestApp(t, "Daemon")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	a.runJob(ctx, daemonJob{name: "Check", run: func(context.Context) error { ran = true; return nil }})
	if ran {
		t.Error("job ran after cancellation")
	}
}

func TestRunDaemon(t *testing.T) {
	t.Run("no jobs configured", func(t *testing.T) {
		a := newTestApp(t, "Daemon")
		a.cfg.Daemon = config.DaemonConfig{}
		if err := a.RunDaemon(context.Background()); err == nil {
			t.Error("RunDaemon() expected error with no jobs")
		}
	})

	t.Run("invalid spec", func(t *testing.T) {
		a := newTestApp(t, "Daemon")
		a.cfg.Daemon.CacheSpec = "sometimes"
		if err := a.RunDaemon(context.Background()); err == nil {
			t.Error("RunDaemon() expected error for invalid spec")
		}
	})

	t.Run("stops on cancel", func(t *testing.T) {
		a := newTestApp(t, "Daemon")
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if err := a.RunDaemon(ctx); err != nil {
			t.Errorf("RunDaemon() error = %v", err)
		}
	})
}
