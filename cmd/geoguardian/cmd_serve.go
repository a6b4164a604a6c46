package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/bus"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/cache"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/device"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/httpapi"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/perf"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/realtime"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/recovery"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/scheduler"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/subscription"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/syncerr"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/telemetry"
	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
	"github.com/spf13/cobra"
)

var simulate bool

func init() {
	serveCmd.Flags().BoolVar(&simulate, "simulate", false, "publish synthetic circle member movement")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync coordination daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "geoguardian.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus and cross-cutting services
	b := bus.New()
	gov := perf.New(b, cfg.Perf)
	defer gov.Close()
	errs := syncerr.New(b, cfg.Retry)

	// Realtime backend. Only the in-memory backend is wired so far; a
	// configured endpoint would silently go unused, so refuse it instead.
	if cfg.Realtime.Endpoint != "" {
		return fmt.Errorf("realtime.endpoint is set but no remote backend is implemented; leave it empty to run the in-memory backend")
	}
	client := realtime.NewMemoryClient()

	// Location cache and per-user history
	locations, err := cache.New(filepath.Join(cfg.DataDir, "cache.json"))
	if err != nil {
		return fmt.Errorf("open location cache: %w", err)
	}
	history := cache.NewHistoryLog(filepath.Join(cfg.DataDir, "history"))

	// Stale positions beat no positions: a warm cache from the previous
	// run stands in when the service is unreachable past every retry.
	// Terminal failures (bad credentials) are not masked.
	errs.RegisterFallback(syncerr.Fallback{
		Name:     "last_known_positions",
		Priority: 10,
		Condition: func(se *syncerr.SyncError) bool {
			return se.Retryable
		},
		Run: func(ctx context.Context) error {
			if locations.Len() == 0 {
				return fmt.Errorf("location cache is empty")
			}
			slog.Warn("starting from cached positions", "entries", locations.Len())
			return nil
		},
	})

	// Subscription manager
	subs := subscription.New(b, gov, errs, client, locations, history)
	subs.Initialize()
	defer subs.Cleanup()

	// Device state sources
	probe := device.NewProbeMonitor(cfg.Probe.URL, cfg.Probe.Interval)
	go func() {
		if err := probe.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("connectivity monitor stopped", "error", err)
		}
	}()
	life := device.NewManualLifecycle(types.AppStateActive)

	// Recovery manager
	rec := recovery.New(b, gov, errs, client, subs, probe, life)
	rec.Initialize(ctx)
	defer rec.Cleanup()

	// Initial sync primes the live picture before anything is exposed.
	if err := errs.ExecuteWithFallback(ctx, "initial_sync", client.ForceSync); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	// Metrics
	metrics := telemetry.New(b, telemetry.Sources{
		ActiveSubscriptions: func() int { return len(subs.ActiveUserIDs()) },
		QueueDepth:          rec.QueueSize,
		MemoryBytes:         gov.MemoryEstimate,
		BusListeners:        b.TotalListeners,
		RetrySuccesses:      func() int { return errs.ErrorStats().RetrySuccesses },
		RetryFailures:       func() int { return errs.ErrorStats().RetryFailures },
	})
	defer metrics.Close()

	// HTTP API
	api := httpapi.NewServer(errs, gov, subs, rec, history, metrics)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	// Maintenance scheduler
	sched := scheduler.New(
		scheduler.Job{Name: "queue-drain", Schedule: cfg.Schedules.QueueDrain, Run: func() {
			if n := rec.ForceProcessQueue(ctx); n > 0 {
				slog.Debug("scheduled drain processed operations", "count", n)
			}
		}},
		scheduler.Job{Name: "memory-cleanup", Schedule: cfg.Schedules.Cleanup, Run: gov.StandardCleanup},
		scheduler.Job{Name: "adaptive-tuning", Schedule: cfg.Schedules.Tuning, Run: func() { gov.TunePerformance() }},
	)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Simulator: synthetic circle members wandering around, plus a walk
	// sampler standing in for the device's own sensors, so the whole
	// pipeline moves without a real mobile client attached.
	if simulate {
		members := make([]types.UserID, 0, len(cfg.Simulator.Members))
		for _, m := range cfg.Simulator.Members {
			members = append(members, types.UserID(m))
		}
		for _, id := range members {
			if _, err := subs.Subscribe(id, nil); err != nil {
				slog.Warn("simulated member subscribe failed", "user_id", id, "error", err)
			}
		}
		// The device watches itself too, so its own track shows up in
		// cache and history like any member's.
		self := types.UserID(cfg.UserID)
		if _, err := subs.Subscribe(self, nil); err != nil {
			slog.Warn("self subscribe failed", "user_id", self, "error", err)
		}
		sim := realtime.NewSimulator(client, members, cfg.Simulator.Interval)
		go func() {
			if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("simulator stopped", "error", err)
			}
		}()
		pub := device.NewPublisher(gov, errs, client, device.NewWalkSampler(), self, cfg.Simulator.Interval)
		go func() {
			if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("device publisher stopped", "error", err)
			}
		}()
		slog.Info("simulator started", "members", len(members), "self", self, "interval", cfg.Simulator.Interval)
	}

	slog.Info("geoguardian started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"probe_url", cfg.Probe.URL,
		"probe_interval", cfg.Probe.Interval,
		"scheduled_jobs", sched.Entries(),
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
