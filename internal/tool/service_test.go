package tool_test

import (
	"context"
	"reflect"
	"strconv"
	"testing"
	"time"

	"offsite-go/internal/offsite"
	"offsite-go/internal/testutil"
	"offsite-go/internal/tool"
)

func TestClient_DrivesService(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 16, 16, 30, 0, 0, time.UTC)
	point := now.Add(-10 * time.Minute).Unix()

	t.Run("device check reads global options", func(t *testing.T) {
		r := newFakeRunner()
		r.on("options --json", ok(`{"zfsPaused":false,"transferPaused":false}`))
		h := testutil.NewHarnessWithTool(t, now, newClient(r))

		if err := h.Service.Check(ctx); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		want := []string{"speedsync options --json"}
		if !reflect.DeepEqual(r.calls, want) {
			t.Errorf("calls = %q, want %q", r.calls, want)
		}
	})

	t.Run("schedule adds the dataset and mirrors", func(t *testing.T) {
		r := newFakeRunner()
		r.on("jobs --json", ok(`{}`))
		h := testutil.NewHarnessWithTool(t, now, newClient(r))
		asset := h.AddAsset(t, &offsite.Asset{
			Key: "a1", DatasetPath: "tank/a1", OffsiteTarget: offsite.TargetCloud,
			OffsiteInterval: offsite.IntervalAlways, Points: offsite.NewRecoveryPoints(point),
		})

		sent, err := h.Service.ScheduleSnapshots(ctx, asset)
		if err != nil {
			t.Fatalf("ScheduleSnapshots() error = %v", err)
		}
		if sent != 1 {
			t.Errorf("sent = %d, want 1", sent)
		}
		want := []string{
			"speedsync jobs --json",
			"speedsync add tank/a1",
			"speedsync mirror tank/a1@" + strconv.FormatInt(point, 10),
		}
		if !reflect.DeepEqual(r.calls, want) {
			t.Errorf("calls = %q, want %q", r.calls, want)
		}
		if got := h.Latest(t, "a1"); got != point {
			t.Errorf("latestOffsiteSnapshot = %d, want %d", got, point)
		}
	})

	t.Run("untracked dataset is counted as not tracked", func(t *testing.T) {
		r := newFakeRunner()
		r.on("options tank/x --json", failed(tool.ExitNotTracked, ""))
		h := testutil.NewHarnessWithTool(t, now, newClient(r))
		h.AddAsset(t, &offsite.Asset{
			Key: "x", DatasetPath: "tank/x", OffsiteTarget: offsite.TargetCloud, OffsiteInterval: 3600,
		})

		summary, err := h.Service.CheckAssets(ctx)
		if err != nil {
			t.Fatalf("CheckAssets() error = %v", err)
		}
		want := offsite.CheckSummary{Checked: 1, NotTracked: 1}
		if *summary != want {
			t.Errorf("CheckAssets() = %+v, want %+v", *summary, want)
		}
	})
}
