package offsite_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"offsite-go/internal/offsite"
	"offsite-go/internal/testutil"
)

func newPausableAsset(t *testing.T, h *testutil.Harness, key, dataset string) *offsite.Asset {
	t.Helper()
	h.Tool.Track(dataset)
	return h.AddAsset(t, &offsite.Asset{Key: key, DatasetPath: dataset, OffsiteInterval: 3600})
}

func datasetOptions(t *testing.T, h *testutil.Harness, dataset string) offsite.Options {
	t.Helper()
	opts, err := h.Tool.GetDatasetOptions(context.Background(), dataset)
	if err != nil {
		t.Fatalf("GetDatasetOptions(%s) error = %v", dataset, err)
	}
	return opts
}

func TestPauseAsset_PauseThenResume(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t, at(16, 12, 0))
	newPausableAsset(t, h, "x", "tank/x")

	if err := h.Service.PauseAsset(ctx, "x", false); err != nil {
		t.Fatalf("PauseAsset() error = %v", err)
	}
	if paused, _ := h.Service.IsAssetPaused("x"); !paused {
		t.Error("IsAssetPaused() = false after pause")
	}
	if opts := datasetOptions(t, h, "tank/x"); !opts.IsZfsPaused() || !opts.IsTransferPaused() {
		t.Errorf("dataset options = %+v, want both paused", opts)
	}
	if h.Tool.Halted("tank/x") {
		t.Error("dataset halted without halt flag")
	}

	if err := h.Service.ResumeAsset(ctx, "x"); err != nil {
		t.Fatalf("ResumeAsset() error = %v", err)
	}
	if paused, _ := h.Service.IsAssetPaused("x"); paused {
		t.Error("IsAssetPaused() = true after resume")
	}
	if opts := datasetOptions(t, h, "tank/x"); opts.IsPaused() {
		t.Errorf("dataset options = %+v, want resumed", opts)
	}

	want := []string{"paused x", "resumed x"}
	if got := h.Notifier.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("notifications = %q, want %q", got, want)
	}
}

func TestPauseAsset_Halt(t *testing.T) {
	h := testutil.NewHarness(t, at(16, 12, 0))
	newPausableAsset(t, h, "x", "tank/x")

	if err := h.Service.PauseAsset(context.Background(), "x", true); err != nil {
		t.Fatalf("PauseAsset() error = %v", err)
	}
	if !h.Tool.Halted("tank/x") {
		t.Error("dataset not halted")
	}
}

func TestPauseAsset_ReplicatedIsNoop(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t, at(16, 12, 0))
	h.AddAsset(t, &offsite.Asset{Key: "r", DatasetPath: "tank/r", Origin: offsite.OriginReplicated})

	if err := h.Service.PauseAsset(ctx, "r", true); err != nil {
		t.Fatalf("PauseAsset() error = %v", err)
	}
	if paused, _ := h.Service.IsAssetPaused("r"); paused {
		t.Error("replicated asset got a pause marker")
	}
	if calls := h.Tool.Calls(); len(calls) != 0 {
		t.Errorf("tool calls = %q, want none", calls)
	}
	if events := h.Notifier.Events(); len(events) != 0 {
		t.Errorf("notifications = %q, want none", events)
	}
}

func TestPauseAsset_UnknownAsset(t *testing.T) {
	h := testutil.NewHarness(t, at(16, 12, 0))

	err := h.Service.PauseAsset(context.Background(), "ghost", false)
	if !errors.Is(err, offsite.ErrAssetNotFound) {
		t.Errorf("PauseAsset() error = %v, want ErrAssetNotFound", err)
	}
}

func TestPauseAsset_FailureKeepsMarker(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t, at(16, 12, 0))
	newPausableAsset(t, h, "x", "tank/x")
	h.Tool.Fail("pause transfer tank/x", errors.New("busy"))

	err := h.Service.PauseAsset(ctx, "x", false)
	if !errors.Is(err, offsite.ErrPartialPause) {
		t.Fatalf("PauseAsset() error = %v, want ErrPartialPause", err)
	}
	if paused, _ := h.Service.IsAssetPaused("x"); !paused {
		t.Error("pause marker removed after failed pause")
	}
	if events := h.Notifier.Events(); len(events) != 0 {
		t.Errorf("notifications = %q, want none", events)
	}

	// The sweep finishes the job once the tool recovers.
	h.Tool.ClearFailures()
	summary, err := h.Service.CheckAssets(ctx)
	if err != nil {
		t.Fatalf("CheckAssets() error = %v", err)
	}
	if summary.Corrected != 1 {
		t.Errorf("summary = %+v, want one correction", summary)
	}
	if opts := datasetOptions(t, h, "tank/x"); !opts.IsTransferPaused() {
		t.Errorf("dataset options = %+v, want transfer paused", opts)
	}
}

func TestCheckAsset_CorrectsDrift(t *testing.T) {
	ctx := context.Background()

	t.Run("marker without tool pause", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		asset := newPausableAsset(t, h, "x", "tank/x")
		h.State.SetPaused("x")

		if err := h.Service.CheckAsset(ctx, asset); err != nil {
			t.Fatalf("CheckAsset() error = %v", err)
		}
		if opts := datasetOptions(t, h, "tank/x"); !opts.IsZfsPaused() || !opts.IsTransferPaused() {
			t.Errorf("dataset options = %+v, want both paused", opts)
		}
	})

	t.Run("tool pause without marker", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		asset := newPausableAsset(t, h, "x", "tank/x")
		h.Tool.SetDatasetOptions("tank/x", offsite.Options{ZfsPaused: true})

		if err := h.Service.CheckAsset(ctx, asset); err != nil {
			t.Fatalf("CheckAsset() error = %v", err)
		}
		if opts := datasetOptions(t, h, "tank/x"); opts.IsPaused() {
			t.Errorf("dataset options = %+v, want resumed", opts)
		}
	})

	t.Run("half paused with marker", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		asset := newPausableAsset(t, h, "x", "tank/x")
		h.State.SetPaused("x")
		h.Tool.SetDatasetOptions("tank/x", offsite.Options{TransferPaused: true})

		if err := h.Service.CheckAsset(ctx, asset); err != nil {
			t.Fatalf("CheckAsset() error = %v", err)
		}
		if opts := datasetOptions(t, h, "tank/x"); !opts.IsZfsPaused() {
			t.Errorf("dataset options = %+v, want zfs paused", opts)
		}
	})

	t.Run("consistent state makes no changes", func(t *testing.T) {
		h := testutil.NewHarness(t, at(16, 12, 0))
		asset := newPausableAsset(t, h, "x", "tank/x")

		if err := h.Service.CheckAsset(ctx, asset); err != nil {
			t.Fatalf("CheckAsset() error = %v", err)
		}
		if got := h.Tool.Calls(); !reflect.DeepEqual(got, []string{"options tank/x"}) {
			t.Errorf("calls = %q, want only the state read", got)
		}
	})
}

func TestCheckAssets_Summary(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewHarness(t, at(16, 12, 0))

	newPausableAsset(t, h, "ok", "tank/ok")
	newPausableAsset(t, h, "drift", "tank/drift")
	h.State.SetPaused("drift")
	h.AddAsset(t, &offsite.Asset{Key: "lost", DatasetPath: "tank/lost"})
	h.AddAsset(t, &offsite.Asset{Key: "r", DatasetPath: "tank/r", Origin: offsite.OriginReplicated})

	summary, err := h.Service.CheckAssets(ctx)
	if err != nil {
		t.Fatalf("CheckAssets() error = %v", err)
	}
	want := offsite.CheckSummary{Checked: 3, Corrected: 1, NotTracked: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}

	summary, err = h.Service.CheckAssets(ctx)
	if err != nil {
		t.Fatalf("second CheckAssets() error = %v", err)
	}
	if summary.Corrected != 0 {
		t.Errorf("second sweep corrected %d assets, want 0", summary.Corrected)
	}
}
