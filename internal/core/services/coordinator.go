package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// CoordinatorConfig holds lease and tick timings
type CoordinatorConfig struct {
	InstanceID        string
	LeaseTTL          time.Duration // heartbeat timeout
	PollInterval      time.Duration // leader, bots present
	IdleInterval      time.Duration // leader, nothing to poll
	StandbyInterval   time.Duration // not leader, or paused
	ErrorInterval     time.Duration // after a critical error
	BroadcastInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// DefaultCoordinatorConfig returns the production timings
func DefaultCoordinatorConfig(instanceID string) CoordinatorConfig {
	return CoordinatorConfig{
		InstanceID:        instanceID,
		LeaseTTL:          5 * time.Second,
		PollInterval:      4 * time.Second,
		IdleInterval:      6 * time.Second,
		StandbyInterval:   5 * time.Second,
		ErrorInterval:     15 * time.Second,
		BroadcastInterval: 3 * time.Second,
		BackoffBase:       10 * time.Second,
		BackoffMax:        60 * time.Second,
	}
}

// UpdateIngester consumes fetched updates
type UpdateIngester interface {
	Ingest(ctx context.Context, bot *domain.Bot, update *dto.TelegramUpdate) (Outcome, error)
}

// LeaderTask is periodic work only the leader performs
type LeaderTask interface {
	Tick(ctx context.Context) error
}

// Coordinator elects a leader among instances and, while leading, polls bots
// and runs the broadcast tasks
type Coordinator struct {
	cfg      CoordinatorConfig
	leases   ports.LeaseStore
	bots     ports.BotRepository
	gateway  ports.PlatformGateway
	ingester UpdateIngester
	activity ports.ActivityLog
	tasks    []LeaderTask
	pause    *PauseSwitch
	backoff  *Backoff
	now      func() time.Time

	leading atomic.Bool
}

// NewCoordinator creates a coordinator with dependencies injected
func NewCoordinator(
	cfg CoordinatorConfig,
	leases ports.LeaseStore,
	bots ports.BotRepository,
	gateway ports.PlatformGateway,
	ingester UpdateIngester,
	activity ports.ActivityLog,
	pause *PauseSwitch,
	tasks ...LeaderTask,
) *Coordinator {
	if pause == nil {
		pause = NewPauseSwitch()
	}
	return &Coordinator{
		cfg:      cfg,
		leases:   leases,
		bots:     bots,
		gateway:  gateway,
		ingester: ingester,
		activity: activity,
		tasks:    tasks,
		pause:    pause,
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		now:      time.Now,
	}
}

// InstanceID returns this instance's identity
func (c *Coordinator) InstanceID() string { return c.cfg.InstanceID }

// IsLeader reports the outcome of the last leadership check
func (c *Coordinator) IsLeader() bool { return c.leading.Load() }

// Backoff exposes the per-bot backoff tracker
func (c *Coordinator) Backoff() *Backoff { return c.backoff }

// Run starts the poll and broadcast loops and blocks until ctx is cancelled.
// A stopped instance simply stops renewing; another takes over after the TTL.
func (c *Coordinator) Run(ctx context.Context) {
	slog.Info("Coordinator started",
		"instance_id", c.cfg.InstanceID,
		"lease_ttl", c.cfg.LeaseTTL,
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.broadcastLoop(ctx)
	}()
	wg.Wait()

	c.leading.Store(false)
	slog.Info("Coordinator stopped", "instance_id", c.cfg.InstanceID)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(c.safePollTick(ctx))
		}
	}
}

func (c *Coordinator) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.safeBroadcastTick(ctx)
		}
	}
}

func (c *Coordinator) safePollTick(ctx context.Context) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in poll tick", "panic", r)
			next = c.cfg.ErrorInterval
		}
	}()
	return c.PollTick(ctx)
}

func (c *Coordinator) safeBroadcastTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in broadcast tick", "panic", r)
		}
	}()
	c.BroadcastTick(ctx)
}

// CheckLeadership renews our lease or tries to take it over
func (c *Coordinator) CheckLeadership(ctx context.Context) (bool, error) {
	lease, err := c.leases.Read(ctx)
	if err != nil {
		c.setLeading(false)
		return false, fmt.Errorf("read lease: %w", err)
	}

	var ok bool
	if lease != nil && lease.LeaderInstanceID == c.cfg.InstanceID {
		ok, err = c.leases.Renew(ctx, c.cfg.InstanceID, c.cfg.LeaseTTL)
	} else {
		ok, err = c.leases.TryAcquire(ctx, c.cfg.InstanceID, c.cfg.LeaseTTL)
	}
	if err != nil {
		c.setLeading(false)
		return false, fmt.Errorf("claim lease: %w", err)
	}
	c.setLeading(ok)
	return ok, nil
}

func (c *Coordinator) setLeading(ok bool) {
	if was := c.leading.Swap(ok); was != ok {
		if ok {
			slog.Info("👑 Leadership acquired", "instance_id", c.cfg.InstanceID)
		} else {
			slog.Warn("Leadership lost", "instance_id", c.cfg.InstanceID)
		}
	}
}

// PollTick runs one poll cycle and returns the delay before the next one
func (c *Coordinator) PollTick(ctx context.Context) time.Duration {
	leader, err := c.CheckLeadership(ctx)
	if err != nil {
		slog.Error("Leadership check failed", "error", err)
		return c.cfg.ErrorInterval
	}
	if !leader || c.pause.IsPaused() {
		return c.cfg.StandbyInterval
	}

	bots, err := c.bots.List(ctx)
	if err != nil {
		slog.Error("Failed to list bots", "error", err)
		return c.cfg.ErrorInterval
	}

	pollable := c.canonicalize(ctx, bots)
	if len(pollable) == 0 {
		return c.cfg.IdleInterval
	}

	// One in-flight fetch per bot; the tick waits for all of them
	var wg sync.WaitGroup
	for _, bot := range pollable {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("PANIC recovered in bot sync", "panic", r, "bot_id", id)
				}
			}()
			c.SyncBot(ctx, id)
		}(bot.ID)
	}
	wg.Wait()
	return c.cfg.PollInterval
}

// canonicalize deactivates duplicate-token bots and returns the pollable set
func (c *Coordinator) canonicalize(ctx context.Context, bots []*domain.Bot) []*domain.Bot {
	pollable, demoted := CanonicalBots(bots)
	for _, bot := range demoted {
		slog.Warn("Deactivating duplicate-token bot", "bot_id", bot.ID)
		if err := c.bots.Save(ctx, bot); err != nil {
			slog.Error("Failed to save deduplicated bot", "error", err, "bot_id", bot.ID)
			continue
		}
		c.recordActivity(ctx, bot.ID, domain.ActivityBotDeduped, "Deactivated: another bot uses the same token", "WARN")
	}
	return pollable
}

// SyncBot fetches and ingests one batch of updates for a bot
func (c *Coordinator) SyncBot(ctx context.Context, botID string) {
	if !c.backoff.Ready(botID) {
		return
	}

	bot, err := c.bots.Get(ctx, botID)
	if err != nil {
		slog.Warn("Failed to reload bot", "error", err, "bot_id", botID)
		return
	}
	if !bot.Active {
		return
	}

	updates, err := c.gateway.FetchUpdates(ctx, bot, bot.LastUpdateID+1)
	if err != nil {
		c.handleFetchError(ctx, bot, err)
		return
	}
	c.backoff.Reset(bot.ID)

	if len(updates) == 0 {
		return
	}

	processed := 0
	cursor := bot.LastUpdateID
	window := bot.Window()
	for i := range updates {
		u := &updates[i]
		if u.UpdateID > cursor {
			cursor = u.UpdateID
		}
		outcome, err := c.ingester.Ingest(ctx, bot, u)
		if err != nil {
			slog.Error("Failed to ingest update",
				"error", err,
				"bot_id", bot.ID,
				"update_id", u.UpdateID,
			)
		}
		window.Add(u.UpdateID)
		if outcome != OutcomeDuplicate {
			processed++
		}
	}
	bot.LastUpdateID = cursor

	if processed == 0 {
		return
	}
	if err := c.bots.Save(ctx, bot); err != nil {
		slog.Error("Failed to save bot cursor",
			"error", err,
			"bot_id", bot.ID,
			"last_update_id", cursor,
		)
		return
	}
	slog.Info("Bot synced",
		"bot_id", bot.ID,
		"processed", processed,
		"fetched", len(updates),
		"last_update_id", cursor,
	)
}

func (c *Coordinator) handleFetchError(ctx context.Context, bot *domain.Bot, err error) {
	if errors.Is(err, domain.ErrPlatformFatal) {
		slog.Error("Critical platform error, disabling bot", "error", err, "bot_id", bot.ID)
		bot.Active = false
		c.recordActivity(ctx, bot.ID, domain.ActivityBotDisabled, "Critical Error: "+err.Error(), "ERROR")
		if saveErr := c.bots.Save(ctx, bot); saveErr != nil {
			slog.Error("Failed to save disabled bot", "error", saveErr, "bot_id", bot.ID)
		}
		return
	}

	delay := c.backoff.Failure(bot.ID)
	slog.Warn("Transient platform error, backing off",
		"error", err,
		"bot_id", bot.ID,
		"failures", c.backoff.Failures(bot.ID),
		"retry_in", delay,
	)
}

// BroadcastTick runs the leader-only tasks once
func (c *Coordinator) BroadcastTick(ctx context.Context) {
	leader, err := c.CheckLeadership(ctx)
	if err != nil {
		slog.Error("Leadership check failed", "error", err)
		return
	}
	if !leader || c.pause.IsPaused() {
		return
	}
	for _, task := range c.tasks {
		if err := task.Tick(ctx); err != nil {
			slog.Error("Leader task failed", "error", err, "task", fmt.Sprintf("%T", task))
		}
	}
}

func (c *Coordinator) recordActivity(ctx context.Context, botID, action, details, level string) {
	if c.activity == nil {
		return
	}
	entry := &domain.ActivityEntry{
		BotID:     botID,
		Action:    action,
		Details:   details,
		Level:     level,
		CreatedAt: c.now(),
	}
	if err := c.activity.Record(ctx, entry); err != nil {
		slog.Warn("Failed to record activity", "error", err, "action", action)
	}
}
