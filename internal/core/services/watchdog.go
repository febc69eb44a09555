package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/disk"

	"botflow/internal/core/ports"
)

// WatchdogConfig controls the inbound log auto-purge
type WatchdogConfig struct {
	Schedule       string        // cron expression, default every 10 minutes
	DiskPath       string        // filesystem to watch
	ThresholdPct   float64       // purge only above this usage
	Retention      time.Duration // keep entries younger than this
	PurgeBatchSize int
}

// DefaultWatchdogConfig returns the production settings
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Schedule:       "*/10 * * * *",
		DiskPath:       ".",
		ThresholdPct:   70,
		Retention:      7 * 24 * time.Hour,
		PurgeBatchSize: 1000,
	}
}

// Watchdog purges old inbound messages when the disk fills up
type Watchdog struct {
	cfg       WatchdogConfig
	messages  ports.MessageLog
	diskUsage func(ctx context.Context, path string) (float64, error)
	cron      *cron.Cron
}

// NewWatchdog creates a watchdog over the message log
func NewWatchdog(cfg WatchdogConfig, messages ports.MessageLog) *Watchdog {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Watchdog{
		cfg:       cfg,
		messages:  messages,
		diskUsage: diskUsedPercent,
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start schedules the check. Stop must be called on shutdown.
func (w *Watchdog) Start(ctx context.Context) error {
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() { w.Check(ctx) }); err != nil {
		return fmt.Errorf("schedule watchdog %q: %w", w.cfg.Schedule, err)
	}
	w.cron.Start()
	slog.Info("Watchdog started", "schedule", w.cfg.Schedule, "threshold_pct", w.cfg.ThresholdPct)
	return nil
}

// Stop halts the schedule and waits for a running check
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
}

// Check runs one resource check and returns the number of purged rows
func (w *Watchdog) Check(ctx context.Context) int64 {
	usage, err := w.diskUsage(ctx, w.cfg.DiskPath)
	if err != nil {
		slog.Warn("Watchdog disk check failed", "error", err)
		return 0
	}
	if usage < w.cfg.ThresholdPct {
		slog.Debug("Disk usage OK, no purge needed", "disk_used_pct", usage)
		return 0
	}

	slog.Warn("Disk usage above threshold, purging inbound log",
		"disk_used_pct", usage,
		"threshold_pct", w.cfg.ThresholdPct,
	)
	purged, err := w.messages.Purge(ctx, w.cfg.Retention, w.cfg.PurgeBatchSize)
	if err != nil {
		slog.Error("Watchdog purge failed", "error", err)
		return 0
	}
	slog.Info("Watchdog purge done", "purged", purged)
	return purged
}

func diskUsedPercent(ctx context.Context, path string) (float64, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return stat.UsedPercent, nil
}
