package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
	"botflow/internal/core/services"
)

// CoordinatorView is the read side of the polling coordinator
type CoordinatorView interface {
	InstanceID() string
	IsLeader() bool
}

// ActivityReader lists recent operational events of a bot
type ActivityReader interface {
	RecentActivity(ctx context.Context, botID string, limit int) ([]*domain.ActivityEntry, error)
}

// DashboardHandler serves the operator API
type DashboardHandler struct {
	coordinator CoordinatorView
	pause       *services.PauseSwitch
	leases      ports.LeaseStore
	sessions    ports.SessionStore
	activity    ActivityReader // optional, nil when MariaDB is disabled
	logClients  func() int

	leaseTTL          time.Duration
	watchdogThreshold float64
	startedAt         time.Time
}

// DashboardDeps groups the collaborators of the operator API
type DashboardDeps struct {
	Coordinator       CoordinatorView
	Pause             *services.PauseSwitch
	Leases            ports.LeaseStore
	Sessions          ports.SessionStore
	Activity          ActivityReader
	LogClients        func() int
	LeaseTTL          time.Duration
	WatchdogThreshold float64
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(deps DashboardDeps) *DashboardHandler {
	logClients := deps.LogClients
	if logClients == nil {
		logClients = func() int { return 0 }
	}
	return &DashboardHandler{
		coordinator:       deps.Coordinator,
		pause:             deps.Pause,
		leases:            deps.Leases,
		sessions:          deps.Sessions,
		activity:          deps.Activity,
		logClients:        logClients,
		leaseTTL:          deps.LeaseTTL,
		watchdogThreshold: deps.WatchdogThreshold,
		startedAt:         time.Now(),
	}
}

// RegisterRoutes mounts the operator endpoints on an authenticated group
func (h *DashboardHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/status", h.GetStatus)
	api.GET("/system/metrics", h.GetSystemMetrics)

	coordinator := api.Group("/coordinator")
	{
		coordinator.GET("/pause", h.GetPause)
		coordinator.POST("/pause", h.Pause)
		coordinator.POST("/resume", h.Resume)
	}
	api.GET("/lease", h.GetLease)

	api.GET("/sessions/:botId/:chatId", h.GetSession)
	api.DELETE("/sessions/:botId/:chatId", h.ClearSession)
	api.GET("/bots/:botId/activity", h.GetActivity)
}

// ============================================================================
// System Status
// ============================================================================

// SystemStatusResponse represents overall instance status
type SystemStatusResponse struct {
	Online          bool   `json:"online"`
	Uptime          string `json:"uptime"`
	InstanceID      string `json:"instance_id"`
	Leader          bool   `json:"leader"`
	Paused          bool   `json:"paused"`
	LogClients      int    `json:"log_clients"`
	GoroutinesCount int    `json:"goroutines_count"`
}

// GetStatus returns instance status
// GET /api/status
func (h *DashboardHandler) GetStatus(c *gin.Context) {
	respondOK(c, SystemStatusResponse{
		Online:          true,
		Uptime:          formatDuration(time.Since(h.startedAt)),
		InstanceID:      h.coordinator.InstanceID(),
		Leader:          h.coordinator.IsLeader(),
		Paused:          h.pause.IsPaused(),
		LogClients:      h.logClients(),
		GoroutinesCount: runtime.NumGoroutine(),
	})
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current host health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	// CPU usage (average over 200ms)
	var cpuPercent float64
	if cpuPercents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = bytesToGB(memStat.Used)
		ramTotalGB = bytesToGB(memStat.Total)
		ramPercent = memStat.UsedPercent
	}

	var diskUsedGB, diskTotalGB, diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, "."); err == nil {
		diskUsedGB = bytesToGB(diskStat.Used)
		diskTotalGB = bytesToGB(diskStat.Total)
		diskPercent = diskStat.UsedPercent
	}

	response := SystemMetricsResponse{
		CPUPercent:        roundTo2Decimals(cpuPercent),
		RAMUsedGB:         roundTo2Decimals(ramUsedGB),
		RAMTotalGB:        roundTo2Decimals(ramTotalGB),
		RAMPercent:        roundTo2Decimals(ramPercent),
		DiskUsedGB:        roundTo2Decimals(diskUsedGB),
		DiskTotalGB:       roundTo2Decimals(diskTotalGB),
		DiskPercent:       roundTo2Decimals(diskPercent),
		GoroutinesCount:   runtime.NumGoroutine(),
		WatchdogActive:    diskPercent >= h.watchdogThreshold,
		WatchdogThreshold: h.watchdogThreshold,
		DiskWarningLevel:  diskWarningLevel(diskPercent, h.watchdogThreshold),
	}

	slog.Debug("System metrics retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
		"watchdog_active", response.WatchdogActive,
	)
	respondOK(c, response)
}

// ============================================================================
// Coordinator Control
// ============================================================================

type pauseRequest struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator"`
}

// GetPause returns the pause switch state
// GET /api/coordinator/pause
func (h *DashboardHandler) GetPause(c *gin.Context) {
	respondOK(c, h.pause.GetStatus())
}

// Pause suspends polling, campaigns and scheduled posts on this instance
// POST /api/coordinator/pause
func (h *DashboardHandler) Pause(c *gin.Context) {
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, BadRequestResponse("Invalid request body"))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	h.pause.Pause(req.Reason, operatorName(c, req.Operator))
	respondOK(c, h.pause.GetStatus())
}

// Resume restarts leader work
// POST /api/coordinator/resume
func (h *DashboardHandler) Resume(c *gin.Context) {
	var req pauseRequest
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&req)
	}
	h.pause.Resume(operatorName(c, req.Operator))
	respondOK(c, h.pause.GetStatus())
}

// LeaseResponse describes the shared leadership record
type LeaseResponse struct {
	LeaderInstanceID string    `json:"leader_instance_id"`
	LastHeartbeatAt  time.Time `json:"last_heartbeat_at"`
	Expired          bool      `json:"expired"`
	Self             bool      `json:"self"`
}

// GetLease returns who currently holds the polling lease
// GET /api/lease
func (h *DashboardHandler) GetLease(c *gin.Context) {
	lease, err := h.leases.Read(c.Request.Context())
	if err != nil {
		slog.Error("Failed to read lease", "error", err)
		respondError(c, InternalErrorResponse("Failed to read lease"))
		return
	}
	if lease == nil {
		respondOK(c, nil)
		return
	}
	respondOK(c, LeaseResponse{
		LeaderInstanceID: lease.LeaderInstanceID,
		LastHeartbeatAt:  lease.LastHeartbeatAt,
		Expired:          lease.Expired(time.Now(), h.leaseTTL),
		Self:             lease.LeaderInstanceID == h.coordinator.InstanceID(),
	})
}

// ============================================================================
// Sessions & Activity
// ============================================================================

// GetSession returns the conversation state of one chat
// GET /api/sessions/:botId/:chatId
func (h *DashboardHandler) GetSession(c *gin.Context) {
	botID, chatID := c.Param("botId"), c.Param("chatId")
	session, err := h.sessions.Get(c.Request.Context(), botID, chatID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "bot_id", botID, "chat_id", chatID)
		respondError(c, InternalErrorResponse("Failed to load session"))
		return
	}
	if session == nil {
		respondError(c, NotFoundResponse("Session not found"))
		return
	}
	respondOK(c, session)
}

// ClearSession deletes the conversation state of one chat
// DELETE /api/sessions/:botId/:chatId
func (h *DashboardHandler) ClearSession(c *gin.Context) {
	botID, chatID := c.Param("botId"), c.Param("chatId")
	if err := h.sessions.Clear(c.Request.Context(), botID, chatID); err != nil {
		slog.Error("Failed to clear session", "error", err, "bot_id", botID, "chat_id", chatID)
		respondError(c, InternalErrorResponse("Failed to clear session"))
		return
	}
	slog.Info("Session cleared by operator", "bot_id", botID, "chat_id", chatID)
	respondOK(c, gin.H{"cleared": true})
}

// GetActivity lists recent operational events of a bot
// GET /api/bots/:botId/activity?limit=50
func (h *DashboardHandler) GetActivity(c *gin.Context) {
	if h.activity == nil {
		respondError(c, NewErrorResponse(http.StatusServiceUnavailable, "Activity log disabled"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		respondError(c, BadRequestResponse("Invalid limit"))
		return
	}
	entries, err := h.activity.RecentActivity(c.Request.Context(), c.Param("botId"), limit)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Error("Failed to load activity", "error", err, "bot_id", c.Param("botId"))
		respondError(c, InternalErrorResponse("Failed to load activity"))
		return
	}
	if entries == nil {
		entries = []*domain.ActivityEntry{}
	}
	respondOK(c, entries)
}

// ============================================================================
// Helpers
// ============================================================================

func operatorName(c *gin.Context, given string) string {
	if given != "" {
		return given
	}
	return "operator@" + c.ClientIP()
}

func bytesToGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func diskWarningLevel(percent, threshold float64) string {
	switch {
	case percent < threshold:
		return "safe"
	case percent < threshold+10:
		return "warning"
	}
	return "critical"
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
