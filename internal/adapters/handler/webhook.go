package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
	"botflow/internal/core/services"
)

const (
	secretTokenHeader  = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBodySize = 1 << 20
	webhookTimeout     = 60 * time.Second
)

// WebhookHandler receives Telegram updates pushed to /webhook/telegram/:botId.
// Telegram must get its answer fast, so the update is processed after the response.
type WebhookHandler struct {
	bots     ports.BotRepository
	ingester services.UpdateIngester
	secret   string

	// base outlives the request; cancelled on shutdown
	base context.Context
	wg   sync.WaitGroup
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(base context.Context, bots ports.BotRepository, ingester services.UpdateIngester, secret string) *WebhookHandler {
	return &WebhookHandler{
		bots:     bots,
		ingester: ingester,
		secret:   secret,
		base:     base,
	}
}

// RegisterRoutes mounts the webhook endpoint
func (h *WebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhook/telegram/:botId", h.HandleTelegramUpdate)
}

// ============================================================================
// POST /webhook/telegram/:botId - Webhook Events
// ============================================================================

// HandleTelegramUpdate validates and queues one pushed update
func (h *WebhookHandler) HandleTelegramUpdate(c *gin.Context) {
	botID := c.Param("botId")

	// ========================================================================
	// Step 1: Validate the secret token header
	// ========================================================================
	if !h.validSecret(c.GetHeader(secretTokenHeader)) {
		slog.Warn("Webhook secret token mismatch",
			"bot_id", botID,
			"remote_addr", c.ClientIP(),
		)
		respondError(c, NewErrorResponse(http.StatusForbidden, "Forbidden"))
		return
	}

	// ========================================================================
	// Step 2: Read and decode the update
	// ========================================================================
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodySize))
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err, "bot_id", botID)
		respondError(c, BadRequestResponse("Bad Request"))
		return
	}
	var update dto.TelegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		slog.Warn("Invalid webhook payload", "error", err, "bot_id", botID)
		respondError(c, BadRequestResponse("Invalid update"))
		return
	}

	// ========================================================================
	// Step 3: Return HTTP 200 OK IMMEDIATELY (Fire & Forget)
	// ========================================================================
	c.JSON(http.StatusOK, NewSuccessResponse(nil))

	// ========================================================================
	// Step 4: Process asynchronously with panic recovery
	// ========================================================================
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("PANIC in webhook processing goroutine",
					"panic", r,
					"bot_id", botID,
					"update_id", update.UpdateID,
				)
			}
		}()
		h.process(botID, &update)
	}()

	slog.Info("Webhook received and queued for processing",
		"bot_id", botID,
		"update_id", update.UpdateID,
	)
}

// Wait blocks until queued updates are processed
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

func (h *WebhookHandler) process(botID string, update *dto.TelegramUpdate) {
	ctx, cancel := context.WithTimeout(h.base, webhookTimeout)
	defer cancel()

	bot, err := h.bots.Get(ctx, botID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("Webhook for unknown bot", "bot_id", botID)
			return
		}
		slog.Error("Failed to load bot for webhook", "error", err, "bot_id", botID)
		return
	}
	if !bot.Active {
		slog.Debug("Webhook for inactive bot ignored", "bot_id", botID)
		return
	}

	outcome, err := h.ingester.Ingest(ctx, bot, update)
	if err != nil {
		slog.Error("Webhook update failed",
			"error", err,
			"bot_id", botID,
			"update_id", update.UpdateID,
		)
	}
	if outcome == services.OutcomeDuplicate {
		return
	}
	if err := h.bots.Save(ctx, bot); err != nil {
		slog.Error("Failed to save bot after webhook", "error", err, "bot_id", botID)
	}
}

func (h *WebhookHandler) validSecret(given string) bool {
	if h.secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) == 1
}
