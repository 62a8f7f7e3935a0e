package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"offsite-go/internal/app"
	"offsite-go/internal/config"
	"offsite-go/internal/offsite"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates an OffsiteApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Schedule", "Pause").
func newApp(operation string, args ...string) (*app.OffsiteApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewOffsiteApp(cfg, operation, app.JoinParameters(args...), app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// isTerminal reports whether stdout is a terminal; otherwise output is JSON.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var rootCmd = &cobra.Command{
	Use:           "offsite",
	Short:         "Offsite replication engine",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID, _ := cmd.Flags().GetString("device-id")
		if deviceID == "" {
			deviceID = uuid.New().String()
		}

		cfg := config.NewConfig(deviceID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := app.ValidateDaemonSpecs(cfg.Daemon); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("State Dir:  %s\n", cfg.StateDir)
		fmt.Printf("Cache:      %s\n", cfg.CachePath)
		fmt.Printf("Tool:       %s %s\n", cfg.Tool.Type, cfg.Tool.Binary)
		fmt.Printf("Database:   %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Notify:     %s %s\n", cfg.Notify.Type, cfg.Notify.Endpoint)
		return nil
	},
}

var configDeviceCmd = &cobra.Command{
	Use:   "device [KEY [VALUE]]",
	Short: "View or set device config keys",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearKey, _ := cmd.Flags().GetBool("clear")

		a, err := newApp("DeviceConfig", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		switch {
		case len(args) == 2:
			return a.SetDeviceConfig(args[0], args[1])
		case len(args) == 1 && clearKey:
			return a.ClearDeviceConfig(args[0])
		}

		values, err := a.DeviceConfig()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			fmt.Println(values[args[0]])
			return nil
		}
		for k, v := range values {
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	},
}

// schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule [ASSET]",
	Short: "Send due recovery points offsite",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Schedule", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		assetKey := ""
		if len(args) == 1 {
			assetKey = args[0]
		}
		summary, err := a.Schedule(cmd.Context(), assetKey)
		if summary != nil {
			fmt.Printf("Assets: %d  Sent: %d  Failed: %d\n", summary.Assets, summary.Sent, summary.Failed)
		}
		return err
	},
}

// check commands
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Reconcile the device pause state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Check")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Check(cmd.Context())
	},
}

var checkAssetsCmd = &cobra.Command{
	Use:   "check-assets",
	Short: "Reconcile every asset's pause state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CheckAssets")
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.CheckAssets(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Checked: %d  Corrected: %d  Not tracked: %d  Failed: %d\n",
			summary.Checked, summary.Corrected, summary.NotTracked, summary.Failed)
		return nil
	},
}

// pause commands
var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause offsite replication on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")

		a, err := newApp("Pause", strconv.Itoa(hours))
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Pause(cmd.Context(), time.Duration(hours)*time.Hour); err != nil {
			return err
		}
		if hours > 0 {
			fmt.Printf("Paused for %d hour(s)\n", hours)
		} else {
			fmt.Println("Paused indefinitely")
		}
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume offsite replication on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Resume")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Resume(cmd.Context())
	},
}

var cloudCmd = &cobra.Command{
	Use:   "cloud",
	Short: "Apply management service pause requests",
}

var cloudPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Record a management service pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CloudPause")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloudPause(cmd.Context())
	},
}

var cloudResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear a management service pause",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CloudResume")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.CloudResume(cmd.Context())
	},
}

// asset commands
var assetCmd = &cobra.Command{
	Use:   "asset",
	Short: "Manage protected assets",
}

var assetAddCmd = &cobra.Command{
	Use:   "add KEY DATASET",
	Short: "Register an asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		intervalFlag, _ := flags.GetString("interval")
		target, _ := flags.GetString("target")
		directToCloud, _ := flags.GetBool("direct-to-cloud")
		replicated, _ := flags.GetBool("replicated")
		scheduleFlag, _ := flags.GetString("schedule")
		backupScheduleFlag, _ := flags.GetString("backup-schedule")
		backupInterval, _ := flags.GetDuration("backup-interval")

		interval, err := app.ParseInterval(intervalFlag)
		if err != nil {
			return err
		}
		schedule, err := offsite.ParseWeeklySchedule(scheduleFlag)
		if err != nil {
			return fmt.Errorf("--schedule: %w", err)
		}
		backupSchedule, err := offsite.ParseWeeklySchedule(backupScheduleFlag)
		if err != nil {
			return fmt.Errorf("--backup-schedule: %w", err)
		}

		asset := &offsite.Asset{
			Key:             args[0],
			DatasetPath:     args[1],
			Origin:          offsite.OriginLocal,
			OffsiteTarget:   target,
			DirectToCloud:   directToCloud,
			OffsiteInterval: interval,
			OffsiteSchedule: schedule,
			BackupSchedule:  backupSchedule,
			BackupInterval:  backupInterval,
		}
		if replicated {
			asset.Origin = offsite.OriginReplicated
		}

		a, err := newApp("AddAsset", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddAsset(asset); err != nil {
			return err
		}
		fmt.Printf("Added asset %s (%s)\n", asset.Key, asset.DatasetPath)
		return nil
	},
}

var assetRemoveCmd = &cobra.Command{
	Use:   "remove KEY",
	Short: "Unregister an asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RemoveAsset", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RemoveAsset(args[0])
	},
}

var assetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListAssets")
		if err != nil {
			return err
		}
		defer a.Close()

		assets, err := a.ListAssets()
		if err != nil {
			return err
		}
		if !isTerminal() {
			return printJSON(assets)
		}
		if len(assets) == 0 {
			fmt.Println("No assets registered.")
			return nil
		}
		for _, asset := range assets {
			policy := "invalid"
			if p, err := asset.Policy(); err == nil {
				policy = p.String()
			}
			fmt.Printf("%-16s  %-32s  %-10s  %-14s  %d point(s)\n",
				asset.Key, asset.DatasetPath, asset.Origin, policy, len(asset.Points))
		}
		return nil
	},
}

var assetPauseCmd = &cobra.Command{
	Use:   "pause KEY",
	Short: "Pause replication of one asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		halt, _ := cmd.Flags().GetBool("halt")

		a, err := newApp("PauseAsset", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.PauseAsset(cmd.Context(), args[0], halt)
	},
}

var assetResumeCmd = &cobra.Command{
	Use:   "resume KEY",
	Short: "Resume replication of one asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ResumeAsset", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.ResumeAsset(cmd.Context(), args[0])
	},
}

var assetPointCmd = &cobra.Command{
	Use:   "point KEY EPOCH",
	Short: "Record a local recovery point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		epoch, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid epoch %q: %w", args[1], err)
		}

		a, err := newApp("AddPoint", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.AddPoint(args[0], epoch)
	},
}

// cache commands
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the replication state cache",
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh [DATASET...]",
	Short: "Rebuild cache entries from the replication tool",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RefreshCache", args...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RefreshCache(cmd.Context(), args...)
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the replication state cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ReadCache")
		if err != nil {
			return err
		}
		defer a.Close()

		cache, err := a.ReadCache()
		if err != nil {
			return err
		}
		return printJSON(cache)
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		if !isTerminal() {
			return printJSON(status)
		}
		printStatus(os.Stdout, status)
		return nil
	},
}

// destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy ASSET EPOCH",
	Short: "Destroy a recovery point in the remote store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		epoch, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid epoch %q: %w", args[1], err)
		}

		a, err := newApp("DestroyRemote", append(args, reason)...)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.DestroyRemote(cmd.Context(), args[0], epoch, reason)
	},
}

// syncs command
var syncsCmd = &cobra.Command{
	Use:   "syncs [N]",
	Short: "View or set the concurrent transfer limit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MaxSyncs", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid count %q: %w", args[0], err)
			}
			return a.SetMaxSyncs(cmd.Context(), n)
		}
		n, err := a.GetMaxSyncs(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

// refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh [DATASET]",
	Short: "Ask the replication tool to re-read dataset state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RefreshTool", args...)
		if err != nil {
			return err
		}
		defer a.Close()

		dataset := ""
		if len(args) == 1 {
			dataset = args[0]
		}
		return a.RefreshTool(cmd.Context(), dataset)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-14s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduling, reconciliation and cache refresh periodically",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Daemon")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.RunDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("device-id", "", "Device ID (default: random UUID)")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configDeviceCmd)
	configDeviceCmd.Flags().Bool("clear", false, "Remove the key")

	// cloud subcommands
	cloudCmd.AddCommand(cloudPauseCmd)
	cloudCmd.AddCommand(cloudResumeCmd)

	// asset subcommands
	assetCmd.AddCommand(assetAddCmd)
	assetAddCmd.Flags().String("interval", "24h", "Offsite interval: never, always, custom, a duration or seconds")
	assetAddCmd.Flags().String("target", offsite.TargetCloud, "Replication target id, or none")
	assetAddCmd.Flags().Bool("direct-to-cloud", false, "Points are taken directly for the cloud")
	assetAddCmd.Flags().Bool("replicated", false, "Asset was received from another device")
	assetAddCmd.Flags().String("schedule", "", "Custom offsite schedule as 168 0/1 characters, Sunday 00:00 first")
	assetAddCmd.Flags().String("backup-schedule", "", "Local backup schedule as 168 0/1 characters (default: every hour)")
	assetAddCmd.Flags().Duration("backup-interval", time.Hour, "Local backup interval")
	assetCmd.AddCommand(assetRemoveCmd)
	assetCmd.AddCommand(assetListCmd)
	assetCmd.AddCommand(assetPauseCmd)
	assetPauseCmd.Flags().Bool("halt", false, "Also stop queued and running transfers")
	assetCmd.AddCommand(assetResumeCmd)
	assetCmd.AddCommand(assetPointCmd)

	// cache subcommands
	cacheCmd.AddCommand(cacheRefreshCmd)
	cacheCmd.AddCommand(cacheShowCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(checkAssetsCmd)
	rootCmd.AddCommand(pauseCmd)
	pauseCmd.Flags().Int("hours", 0, "Hours to pause for (0 pauses indefinitely)")
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cloudCmd)
	rootCmd.AddCommand(assetCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(destroyCmd)
	destroyCmd.Flags().String("reason", string(offsite.ReasonUserDelete), "Reason: user-delete, retention or device-migration")
	rootCmd.AddCommand(syncsCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(daemonCmd)
}
