// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// Outcome of ingesting one update
type Outcome int

const (
	// OutcomeProcessed: the update was new and went through the pipeline
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped: channel post, or no container/sender
	OutcomeSkipped
	// OutcomeDuplicate: already seen in the bot's window or the shared dedup store
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// DefaultDedupTTL keeps shared dedup markers for a day
const DefaultDedupTTL = 24 * time.Hour

// Ingester turns raw platform updates into interpreter invocations
type Ingester struct {
	gateway  ports.PlatformGateway
	messages ports.MessageLog
	records  ports.RecordStore
	dedup    ports.DedupRepository // optional
	handler  UpdateHandler
	dedupTTL time.Duration
	now      func() time.Time
}

// NewIngester creates a new ingester instance with dependencies injected.
// dedup may be nil when no shared cache is configured.
func NewIngester(
	gateway ports.PlatformGateway,
	messages ports.MessageLog,
	records ports.RecordStore,
	dedup ports.DedupRepository,
	handler UpdateHandler,
) *Ingester {
	return &Ingester{
		gateway:  gateway,
		messages: messages,
		records:  records,
		dedup:    dedup,
		handler:  handler,
		dedupTTL: DefaultDedupTTL,
		now:      time.Now,
	}
}

// Ingest processes one update for a bot. The bot's processed-update window is
// updated in memory; persisting the bot is the caller's job.
func (g *Ingester) Ingest(ctx context.Context, bot *domain.Bot, update *dto.TelegramUpdate) (outcome Outcome, err error) {
	// ========================================================================
	// CRITICAL: Panic Recovery
	// A broken update must not take down the poll loop
	// ========================================================================
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in Ingest",
				"panic", r,
				"bot_id", bot.ID,
				"update_id", update.UpdateID,
			)
			err = fmt.Errorf("panic while ingesting update %d: %v", update.UpdateID, r)
		}
	}()

	// ========================================================================
	// Step 1: Drop what never reaches a dialogue
	// ========================================================================
	if update.ChannelPost != nil {
		return OutcomeSkipped, nil
	}
	msg := update.Container()
	user := update.Sender()
	if msg == nil || user == nil {
		slog.Debug("Skipping update without message or sender",
			"bot_id", bot.ID,
			"update_id", update.UpdateID,
		)
		return OutcomeSkipped, nil
	}

	// ========================================================================
	// Step 2: Deduplicate (bot window first, then the shared cache)
	// ========================================================================
	window := bot.Window()
	if window.Contains(update.UpdateID) {
		slog.Info("Duplicate update detected, skipping",
			"bot_id", bot.ID,
			"update_id", update.UpdateID,
		)
		return OutcomeDuplicate, nil
	}

	dedupKey := buildUpdateKey(bot.ID, update.UpdateID)
	if g.dedup != nil {
		isDup, err := g.dedup.IsDuplicate(ctx, dedupKey)
		if err != nil {
			// Cache down: the window still protects this instance
			slog.Warn("Dedup check failed, continuing", "error", err, "update_id", update.UpdateID)
		} else if isDup {
			window.Add(update.UpdateID)
			return OutcomeDuplicate, nil
		}
	}

	window.Add(update.UpdateID)
	if g.dedup != nil {
		if err := g.dedup.MarkProcessed(ctx, dedupKey, g.dedupTTL); err != nil {
			slog.Warn("Failed to mark update in dedup cache",
				"error", err,
				"update_id", update.UpdateID,
			)
		}
	}

	adapter := g.gateway.Adapter(bot)
	chatID := update.ChatID()

	// ========================================================================
	// Step 3: Audit log (local MariaDB), never blocks the dialogue
	// ========================================================================
	g.saveInbound(ctx, bot, adapter, update)

	// ========================================================================
	// Step 4: Ensure the chat is a known destination
	// ========================================================================
	destType := domain.DestinationGroup
	if update.IsPrivate() {
		destType = domain.DestinationUser
	}
	dest := &domain.Destination{
		ID:         destinationID(chatID),
		Name:       user.FirstName,
		Type:       destType,
		Identifier: chatID,
		Tags:       []string{"bot-user"},
		Verified:   true,
	}
	if err := g.records.UpsertDestination(ctx, dest); err != nil {
		slog.Warn("Failed to upsert destination",
			"error", err,
			"destination_id", dest.ID,
		)
	}

	// ========================================================================
	// Step 5: Only one-to-one chats drive dialogues
	// ========================================================================
	if !update.IsPrivate() {
		return OutcomeProcessed, nil
	}
	if err := g.handler.HandleUpdate(ctx, bot, adapter, update); err != nil {
		return OutcomeProcessed, fmt.Errorf("handle update %d: %w", update.UpdateID, err)
	}

	slog.Info("Update processed",
		"bot_id", bot.ID,
		"update_id", update.UpdateID,
		"chat_id", chatID,
	)
	return OutcomeProcessed, nil
}

func (g *Ingester) saveInbound(ctx context.Context, bot *domain.Bot, adapter ports.PlatformAdapter, update *dto.TelegramUpdate) {
	if g.messages == nil {
		return
	}
	msg := update.Container()
	user := update.Sender()

	attachments := json.RawMessage("[]")
	if photo, ok := update.Message.LargestPhoto(); ok {
		url, err := adapter.FetchFile(ctx, photo.FileID)
		if err != nil {
			slog.Warn("Failed to resolve photo", "error", err, "file_id", photo.FileID)
		} else {
			attachments, _ = json.Marshal([]map[string]string{{"type": "photo", "url": url}})
		}
	}
	payload, _ := json.Marshal(map[string]any{"from": user, "chat": msg.Chat})

	inbound := &domain.InboundMessage{
		ID:          "msg_" + strconv.FormatInt(update.UpdateID, 10),
		BotID:       bot.ID,
		MessageID:   msg.MessageID,
		ChatID:      update.ChatID(),
		Platform:    domain.PlatformTelegram,
		Direction:   domain.DirectionIncoming,
		FromName:    user.FirstName,
		Text:        update.LogText(),
		Attachments: attachments,
		Payload:     payload,
		CreatedAt:   g.now(),
	}
	if err := g.messages.SaveInbound(ctx, inbound); err != nil {
		slog.Error("Failed to save inbound message",
			"error", err,
			"message_id", inbound.ID,
		)
	}
}

// buildUpdateKey scopes update ids per bot (ids are only unique per token)
func buildUpdateKey(botID string, updateID int64) string {
	return fmt.Sprintf("tg:%s:%d", botID, updateID)
}
