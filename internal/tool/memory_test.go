package tool_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"offsite-go/internal/offsite"
	"offsite-go/internal/tool"
)

func TestMemoryClient(t *testing.T) {
	ctx := context.Background()

	t.Run("mirror requires tracking", func(t *testing.T) {
		m := tool.NewMemoryClient()

		if err := m.Mirror(ctx, "tank/a", 100); !errors.Is(err, offsite.ErrNotTracked) {
			t.Fatalf("Mirror() error = %v, want ErrNotTracked", err)
		}
		if err := m.AddDatasetToTarget(ctx, "tank/a", "peer-1"); err != nil {
			t.Fatalf("AddDatasetToTarget() error = %v", err)
		}
		if err := m.Mirror(ctx, "tank/a", 100); err != nil {
			t.Fatalf("Mirror() error = %v", err)
		}
		if got := m.RemotePoints("tank/a"); !reflect.DeepEqual(got, []int64{100}) {
			t.Errorf("RemotePoints() = %v, want [100]", got)
		}
		if got := m.Target("tank/a"); got != "peer-1" {
			t.Errorf("Target() = %q, want %q", got, "peer-1")
		}
	})

	t.Run("pause axes", func(t *testing.T) {
		m := tool.NewMemoryClient()
		m.Track("tank/a")

		m.PauseZfs(ctx, "tank/a")
		opts, _ := m.GetDatasetOptions(ctx, "tank/a")
		if !opts.IsZfsPaused() || opts.IsTransferPaused() {
			t.Errorf("options = %+v, want zfs only", opts)
		}

		m.PauseDeviceTransfer(ctx)
		global, _ := m.GetGlobalOptions(ctx)
		if !global.IsTransferPaused() || global.IsZfsPaused() {
			t.Errorf("global options = %+v, want transfer only", global)
		}
	})

	t.Run("injected failure", func(t *testing.T) {
		m := tool.NewMemoryClient()
		m.Track("tank/a")
		boom := errors.New("boom")
		m.Fail("pause transfer", boom)

		if err := m.PauseTransfer(ctx, "tank/a"); !errors.Is(err, boom) {
			t.Errorf("PauseTransfer() error = %v, want boom", err)
		}
		if err := m.PauseZfs(ctx, "tank/a"); err != nil {
			t.Errorf("PauseZfs() error = %v", err)
		}

		m.ClearFailures()
		if err := m.PauseTransfer(ctx, "tank/a"); err != nil {
			t.Errorf("PauseTransfer() after ClearFailures error = %v", err)
		}
	})

	t.Run("remote destroy removes point", func(t *testing.T) {
		m := tool.NewMemoryClient()
		m.SetPoints("tank/a", nil, []int64{1, 2, 3}, nil, nil)

		if err := m.RemoteDestroy(ctx, "tank/a@2", offsite.ReasonUserDelete); err != nil {
			t.Fatalf("RemoteDestroy() error = %v", err)
		}
		if got := m.RemotePoints("tank/a"); !reflect.DeepEqual(got, []int64{1, 3}) {
			t.Errorf("RemotePoints() = %v, want [1 3]", got)
		}
	})

	t.Run("call log", func(t *testing.T) {
		m := tool.NewMemoryClient()
		m.Track("tank/a")
		m.Halt(ctx, "tank/a")
		m.SetMaxSyncs(ctx, 2)

		want := []string{"halt tank/a", "config maxSyncs 2"}
		if got := m.Calls(); !reflect.DeepEqual(got, want) {
			t.Errorf("Calls() = %q, want %q", got, want)
		}
		if !m.Halted("tank/a") {
			t.Error("Halted() = false after Halt")
		}
	})
}
