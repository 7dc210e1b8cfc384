package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/catalog/ingest"
	"github.com/teranos/datacat/catalog/tasks"
	"github.com/teranos/datacat/logger"
	"github.com/teranos/datacat/pulse/async"
	"github.com/teranos/datacat/pulse/schedule"
)

// PulseCmd groups the background worker commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Run and inspect the background worker pool",
	Long: `Pulse runs catalog tasks in the background: loading approved datasets,
refreshing them and removing them.

Example:
  datacat pulse start              # Start the worker pool in the foreground
  datacat pulse start --workers 3  # Start with 3 concurrent workers
  datacat pulse status             # Show queue counts and memory headroom`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd runs the worker pool until interrupted
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker pool",
	Long: `Start the worker pool in the foreground.

Tasks left running by a crash are re-queued on startup. This assumes a single
worker process per database. Every [pulse] refresh_interval_minutes, approved
datasets whose update frequency has elapsed get an update task. Rate limits in the resolver section of the
config file are applied without a restart. Ctrl+C waits for running tasks
to finish.`,
	RunE: runPulseStart,
}

var pulseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and memory headroom",
	RunE:  runPulseStatus,
}

var pulseWorkers int

func init() {
	PulseStartCmd.Flags().IntVar(&pulseWorkers, "workers", 0, "Number of concurrent workers (default from [pulse] workers)")

	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(pulseStatusCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	poolCfg := async.PoolConfigFromAm(a.cfg.Pulse)
	if pulseWorkers > 0 {
		poolCfg.Workers = pulseWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := async.NewWorkerPoolWithContext(ctx, a.conn, poolCfg, logger.Logger)
	deps, err := a.ingestDeps(pool.GetQueue())
	if err != nil {
		return err
	}
	ingest.RegisterHandlers(pool.Registry(), deps)

	watcher := watchConfig(a)
	if watcher != nil {
		defer watcher.Stop()
	}

	pool.Start()

	var ticker *schedule.Ticker
	if minutes := a.cfg.Pulse.RefreshIntervalMinutes; minutes > 0 {
		refresher := tasks.NewRefresher(pool.GetQueue(), a.records,
			tasks.NewDispatcher(pool.GetQueue(), a.records, logger.Logger), logger.Logger)
		tickerCfg := schedule.DefaultTickerConfig()
		tickerCfg.Interval = time.Duration(minutes) * time.Minute
		ticker = schedule.NewTickerWithContext(ctx, pool.GetQueue(), pool, tickerCfg, logger.Logger, refresher)
		ticker.Start()
	}

	pterm.Success.Printf("Pulse started with %d worker(s)\n", poolCfg.Workers)
	fmt.Printf("  Poll interval: %v\n", poolCfg.PollInterval)
	fmt.Printf("  Max retries:   %d\n", poolCfg.MaxRetries)
	fmt.Printf("  Handlers:      %v\n", pool.Registry().Names())
	if ticker != nil {
		fmt.Printf("  Refresh sweep: every %d minute(s)\n", a.cfg.Pulse.RefreshIntervalMinutes)
	}
	fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Waiting for running tasks...")
	// Stop components in reverse order of startup
	if ticker != nil {
		ticker.Stop()
	}
	pool.Stop()
	cancel()

	pterm.Success.Println("Pulse stopped")
	return nil
}

// watchConfig reloads rate limits from the highest-precedence config file
// that exists. It returns nil when no file is present.
func watchConfig(a *app) *am.ConfigWatcher {
	paths := am.ConfigPaths()
	path := ""
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err == nil {
			path = paths[i]
			break
		}
	}
	if path == "" {
		return nil
	}

	watcher, err := am.NewConfigWatcher(path, logger.Logger)
	if err != nil {
		logger.Logger.Warnw("Config reload disabled", "path", path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		a.client.SetRateLimit(cfg.Resolver.RequestsPerSecond, cfg.Resolver.Burst)
		logger.Logger.Infow("Rate limit reloaded",
			"requests_per_second", cfg.Resolver.RequestsPerSecond,
			"burst", cfg.Resolver.Burst)
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()
	return watcher
}

func runPulseStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	stats, err := a.queue.GetStats(ctx)
	if err != nil {
		return err
	}

	// A pool that is never started only reports configuration and memory.
	pool := async.NewWorkerPool(a.conn, async.PoolConfigFromAm(a.cfg.Pulse), logger.Logger)
	metrics := pool.GetSystemMetrics(ctx)

	if done, err := structured(struct {
		Queue  *async.QueueStats   `json:"queue" yaml:"queue"`
		System async.SystemMetrics `json:"system" yaml:"system"`
	}{stats, metrics}); done {
		return err
	}

	itoa := strconv.Itoa
	if err := renderTable([]string{"Queued", "Running", "Completed", "Failed", "Cancelled", "Total"}, [][]string{{
		itoa(stats.Queued), itoa(stats.Running), itoa(stats.Completed),
		itoa(stats.Failed), itoa(stats.Cancelled), itoa(stats.Total),
	}}); err != nil {
		return err
	}
	fmt.Printf("Workers configured: %d\n", metrics.WorkersTotal)
	fmt.Printf("Memory used:        %.1f/%.1f GB (%.0f%%)\n", metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
	return nil
}
