package main

import (
	"fmt"
	"io"
	"time"

	"offsite-go/internal/offsite"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
)

// printStatus renders a device status as a human-readable table.
func printStatus(w io.Writer, status *offsite.DeviceStatus) {
	switch {
	case !status.Paused:
		fmt.Fprintln(w, "Replication: active")
	case status.PauseHours >= offsite.IndefinitePauseHours:
		fmt.Fprintf(w, "Replication: paused indefinitely (%s)\n", pauseReasons(status.Inputs))
	default:
		fmt.Fprintf(w, "Replication: paused for %d more hour(s) (%s)\n", status.PauseHours, pauseReasons(status.Inputs))
	}

	for _, a := range status.Actions {
		progress := ""
		if a.Size > 0 {
			progress = fmt.Sprintf(" %d%%", a.Sent*100/a.Size)
		}
		fmt.Fprintf(w, "  sending %s: %s of %s%s at %s/s\n", a.Snapshot,
			humanize.IBytes(uint64(a.Sent)), humanize.IBytes(uint64(a.Size)), progress,
			humanize.IBytes(uint64(a.Rate)))
	}
	fmt.Fprintln(w)

	if len(status.Assets) == 0 {
		fmt.Fprintln(w, "No assets registered.")
		return
	}

	fmt.Fprintf(w, "%-16s  %-14s  %-7s  %-6s  %-6s  %-8s  %-10s  %s\n",
		"ASSET", "POLICY", "STATE", "REMOTE", "QUEUED", "CRITICAL", "USED", "LAST OFFSITE")
	for _, a := range status.Assets {
		fmt.Fprintf(w, "%-16s  %-14s  %-7s  %-6s  %-6s  %-8s  %-10s  %s\n",
			a.Key, a.Policy, assetState(a),
			count(a.Tracked, a.OffsitePoints), count(a.Tracked, a.QueuedPoints), count(a.Tracked, a.CriticalPoints),
			usedSize(a), lastOffsite(a.LatestOffsite))
	}
}

func pauseReasons(in offsite.PauseInputs) string {
	var reasons []string
	if in.BillingOutOfService {
		reasons = append(reasons, "out of service")
	}
	if in.BillingLocalOnly {
		reasons = append(reasons, "local only")
	}
	if in.MaintenanceMode {
		reasons = append(reasons, "maintenance")
	}
	if in.CloudPause {
		reasons = append(reasons, "cloud")
	}
	if in.LocalPause {
		reasons = append(reasons, "local")
	}
	return english.OxfordWordSeries(reasons, "and")
}

func assetState(a *offsite.AssetStatus) string {
	switch {
	case a.Archived:
		return "archive"
	case a.Replicated:
		return "inbound"
	case a.Paused:
		return "paused"
	case len(a.Transfers) > 0:
		return "sending"
	default:
		return "ok"
	}
}

func count(tracked bool, n int) string {
	if !tracked {
		return "-"
	}
	return humanize.Comma(int64(n))
}

func usedSize(a *offsite.AssetStatus) string {
	if !a.Tracked {
		return "-"
	}
	return humanize.IBytes(uint64(a.RemoteUsedSize))
}

func lastOffsite(epoch int64) string {
	if epoch <= 0 {
		return "never"
	}
	return humanize.Time(time.Unix(epoch, 0))
}
