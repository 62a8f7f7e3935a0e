package offsite_test

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"offsite-go/internal/offsite"
	"offsite-go/internal/testutil"
)

func TestShouldBePaused(t *testing.T) {
	tests := []struct {
		name string
		in   offsite.PauseInputs
		want bool
	}{
		{name: "nothing set", in: offsite.PauseInputs{}, want: false},
		{name: "billing out of service", in: offsite.PauseInputs{BillingOutOfService: true}, want: true},
		{name: "billing local only", in: offsite.PauseInputs{BillingLocalOnly: true}, want: true},
		{name: "maintenance", in: offsite.PauseInputs{MaintenanceMode: true}, want: true},
		{name: "local pause", in: offsite.PauseInputs{LocalPause: true}, want: true},
		{name: "cloud pause", in: offsite.PauseInputs{CloudPause: true}, want: true},
		{name: "several", in: offsite.PauseInputs{CloudPause: true, LocalPause: true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsite.ShouldBePaused(tt.in); got != tt.want {
				t.Errorf("ShouldBePaused(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestService_ShouldBePaused(t *testing.T) {
	ctx := context.Background()

	t.Run("billing out of service", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyBillingOutOfService, "true")

		paused, err := h.Service.ShouldBePaused(ctx)
		if err != nil {
			t.Fatalf("ShouldBePaused() error = %v", err)
		}
		if !paused {
			t.Error("ShouldBePaused() = false, want true")
		}
	})

	t.Run("maintenance flag by presence", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyMaintenanceMode, "yes")

		if paused, _ := h.Service.ShouldBePaused(ctx); !paused {
			t.Error("ShouldBePaused() = false, want true")
		}
	})

	t.Run("maintenance flag explicitly off", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyMaintenanceMode, "0")

		if paused, _ := h.Service.ShouldBePaused(ctx); paused {
			t.Error("ShouldBePaused() = true, want false")
		}
	})

	t.Run("nothing set", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))

		if paused, _ := h.Service.ShouldBePaused(ctx); paused {
			t.Error("ShouldBePaused() = true, want false")
		}
	})
}

func TestService_IsUnexpiredLocalPause(t *testing.T) {
	t.Run("expired record self-clears", func(t *testing.T) {
		now := at(16, 12, 0)
		h := testutil.NewHarness(t, now)
		h.DB.Set(offsite.KeyLocalPause, strconv.FormatInt(now.Unix()-1, 10))

		paused, err := h.Service.IsUnexpiredLocalPause()
		if err != nil {
			t.Fatalf("IsUnexpiredLocalPause() error = %v", err)
		}
		if paused {
			t.Error("IsUnexpiredLocalPause() = true for expired pause")
		}
		if _, ok, _ := h.DB.Get(offsite.KeyLocalPause); ok {
			t.Error("expired local pause record was not removed")
		}
	})

	t.Run("future resume time", func(t *testing.T) {
		now := at(16, 12, 0)
		h := testutil.NewHarness(t, now)
		h.DB.Set(offsite.KeyLocalPause, strconv.FormatInt(now.Unix()+60, 10))

		if paused, _ := h.Service.IsUnexpiredLocalPause(); !paused {
			t.Error("IsUnexpiredLocalPause() = false, want true")
		}
	})

	t.Run("indefinite", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyLocalPause, "-1")

		if paused, _ := h.Service.IsUnexpiredLocalPause(); !paused {
			t.Error("IsUnexpiredLocalPause() = false, want true")
		}
	})

	t.Run("malformed record", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyLocalPause, "soon")

		if _, err := h.Service.IsUnexpiredLocalPause(); err == nil {
			t.Error("IsUnexpiredLocalPause() expected error for malformed record")
		}
	})
}

func TestService_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("converges and is idempotent", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyCloudPause, "1")

		if err := h.Service.Check(ctx); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		want := []string{"options", "pause zfs", "pause transfer"}
		if got := h.Tool.Calls(); !reflect.DeepEqual(got, want) {
			t.Errorf("first Check() calls = %q, want %q", got, want)
		}

		h.Tool.ResetCalls()
		if err := h.Service.Check(ctx); err != nil {
			t.Fatalf("second Check() error = %v", err)
		}
		if got := h.Tool.Calls(); !reflect.DeepEqual(got, []string{"options"}) {
			t.Errorf("second Check() calls = %q, want only the state read", got)
		}
	})

	t.Run("resumes when nothing asks for a pause", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.Tool.SetGlobalOptions(offsite.Options{TransferPaused: true})

		if err := h.Service.Check(ctx); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		opts, _ := h.Tool.GetGlobalOptions(ctx)
		if opts.IsPaused() {
			t.Errorf("global options = %+v, want resumed", opts)
		}
	})

	t.Run("partial failure", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyMaintenanceMode, "1")
		h.Tool.Fail("pause transfer", errors.New("socket closed"))

		err := h.Service.Check(ctx)
		if !errors.Is(err, offsite.ErrPartialPause) {
			t.Fatalf("Check() error = %v, want ErrPartialPause", err)
		}
		opts, _ := h.Tool.GetGlobalOptions(ctx)
		if !opts.IsZfsPaused() || opts.IsTransferPaused() {
			t.Errorf("global options = %+v, want zfs paused only", opts)
		}
	})

	t.Run("waits for the reconciliation lock", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		held, err := h.Locker.TryLock("offsite-reconcile")
		if err != nil {
			t.Fatalf("TryLock() error = %v", err)
		}
		defer held.Unlock()

		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		if err := h.Service.Check(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Check() error = %v, want DeadlineExceeded", err)
		}
	})
}

func TestService_PauseResume(t *testing.T) {
	ctx := context.Background()

	t.Run("timed pause", func(t *testing.T) {
		now := at(16, 12, 0)
		h := testutil.NewHarness(t, now)

		if err := h.Service.Pause(ctx, 90*time.Minute); err != nil {
			t.Fatalf("Pause() error = %v", err)
		}
		value, ok, _ := h.DB.Get(offsite.KeyLocalPause)
		if !ok || value != strconv.FormatInt(now.Add(90*time.Minute).Unix(), 10) {
			t.Errorf("local pause record = %q, %v", value, ok)
		}
		opts, _ := h.Tool.GetGlobalOptions(ctx)
		if !opts.IsZfsPaused() || !opts.IsTransferPaused() {
			t.Errorf("global options = %+v, want both paused", opts)
		}

		if err := h.Service.Resume(ctx); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		opts, _ = h.Tool.GetGlobalOptions(ctx)
		if opts.IsPaused() {
			t.Errorf("global options = %+v, want resumed", opts)
		}

		want := []string{"device 2", "device 0"}
		if got := h.Notifier.Events(); !reflect.DeepEqual(got, want) {
			t.Errorf("notifications = %q, want %q", got, want)
		}
	})

	t.Run("indefinite pause", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))

		if err := h.Service.Pause(ctx, 0); err != nil {
			t.Fatalf("Pause() error = %v", err)
		}
		if got := h.Notifier.Events(); !reflect.DeepEqual(got, []string{"device 999999"}) {
			t.Errorf("notifications = %q", got)
		}
	})

	t.Run("resume keeps other authorities", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		h.DB.Set(offsite.KeyBillingLocalOnly, "true")

		h.Service.Pause(ctx, time.Hour)
		if err := h.Service.Resume(ctx); err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		opts, _ := h.Tool.GetGlobalOptions(ctx)
		if !opts.IsPaused() {
			t.Error("device resumed despite billing pause")
		}
		events := h.Notifier.Events()
		if events[len(events)-1] != "device 999999" {
			t.Errorf("last notification = %q, want indefinite", events[len(events)-1])
		}
	})

	t.Run("cloud pause and resume", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))

		if err := h.Service.CloudPause(ctx); err != nil {
			t.Fatalf("CloudPause() error = %v", err)
		}
		if _, ok, _ := h.DB.Get(offsite.KeyCloudPause); !ok {
			t.Error("cloud pause marker missing")
		}
		if err := h.Service.CloudResume(ctx); err != nil {
			t.Fatalf("CloudResume() error = %v", err)
		}
		want := []string{"device 999999", "device 0"}
		if got := h.Notifier.Events(); !reflect.DeepEqual(got, want) {
			t.Errorf("notifications = %q, want %q", got, want)
		}
	})
}

func TestService_PauseHoursRemaining(t *testing.T) {
	ctx := context.Background()
	now := at(16, 12, 0)

	tests := []struct {
		name  string
		setup map[string]string
		want  int
	}{
		{name: "not paused", want: 0},
		{name: "partial hour rounds up", setup: map[string]string{offsite.KeyLocalPause: strconv.FormatInt(now.Add(61*time.Minute).Unix(), 10)}, want: 2},
		{name: "exact hours", setup: map[string]string{offsite.KeyLocalPause: strconv.FormatInt(now.Add(3*time.Hour).Unix(), 10)}, want: 3},
		{name: "indefinite local", setup: map[string]string{offsite.KeyLocalPause: "-1"}, want: offsite.IndefinitePauseHours},
		{name: "maintenance outranks timed pause", setup: map[string]string{
			offsite.KeyLocalPause:      strconv.FormatInt(now.Add(time.Hour).Unix(), 10),
			offsite.KeyMaintenanceMode: "1",
		}, want: offsite.IndefinitePauseHours},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testutil.NewHarness(t, now)
			for k, v := range tt.setup {
				h.DB.Set(k, v)
			}

			got, err := h.Service.PauseHoursRemaining(ctx)
			if err != nil {
				t.Fatalf("PauseHoursRemaining() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("PauseHoursRemaining() = %d, want %d", got, tt.want)
			}
		})
	}
}
