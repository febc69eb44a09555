package services

import (
	"log/slog"
	"sync"
	"time"
)

// PauseSwitch suspends leader work (polling, campaigns, scheduled posts)
// without stopping the process or giving up the lease
type PauseSwitch struct {
	mu       sync.RWMutex
	paused   bool
	pausedBy string
	pausedAt time.Time
	reason   string
}

// NewPauseSwitch returns a switch in the running state
func NewPauseSwitch() *PauseSwitch {
	return &PauseSwitch{}
}

// IsPaused returns whether leader work is suspended
func (p *PauseSwitch) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// Pause suspends leader work
func (p *PauseSwitch) Pause(reason, pausedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.paused = true
	p.reason = reason
	p.pausedBy = pausedBy
	p.pausedAt = time.Now()

	slog.Warn("🚨 COORDINATOR PAUSED",
		"reason", reason,
		"paused_by", pausedBy,
	)
}

// Resume restarts leader work
func (p *PauseSwitch) Resume(resumedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.paused {
		return
	}
	duration := time.Since(p.pausedAt)
	p.paused = false

	slog.Info("✅ COORDINATOR RESUMED",
		"resumed_by", resumedBy,
		"duration", duration,
	)
}

// GetStatus returns the current switch state
func (p *PauseSwitch) GetStatus() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]interface{}{
		"paused":    p.paused,
		"reason":    p.reason,
		"paused_by": p.pausedBy,
		"paused_at": p.pausedAt,
	}
}
