package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// Publisher posts SCHEDULED drafts once their time has come
type Publisher struct {
	records ports.RecordStore
	bots    ports.BotRepository
	gateway ports.PlatformGateway
	now     func() time.Time
}

// NewPublisher creates a scheduled post publisher
func NewPublisher(records ports.RecordStore, bots ports.BotRepository, gateway ports.PlatformGateway) *Publisher {
	return &Publisher{
		records: records,
		bots:    bots,
		gateway: gateway,
		now:     time.Now,
	}
}

// Tick publishes every due draft. Each draft ends POSTED or FAILED.
func (p *Publisher) Tick(ctx context.Context) error {
	now := p.now()
	drafts, err := p.records.ListDueDrafts(ctx, now)
	if err != nil {
		return fmt.Errorf("list due drafts: %w", err)
	}

	for _, draft := range drafts {
		if draft.Status != domain.DraftScheduled {
			continue
		}
		if draft.ScheduledAt != nil && draft.ScheduledAt.After(now) {
			continue
		}

		msgID, err := p.publish(ctx, draft)
		if err != nil {
			draft.Status = domain.DraftFailed
			draft.Error = err.Error()
			slog.Warn("Scheduled post failed",
				"error", err,
				"draft_id", draft.ID,
				"destination", draft.Destination,
			)
		} else {
			posted := p.now()
			draft.Status = domain.DraftPosted
			draft.PostedAt = &posted
			draft.Error = ""
			if msgID != 0 {
				if draft.Metadata == nil {
					draft.Metadata = map[string]string{}
				}
				draft.Metadata["messageId"] = fmt.Sprint(msgID)
			}
			slog.Info("Scheduled post published",
				"draft_id", draft.ID,
				"destination", draft.Destination,
			)
		}

		if err := p.records.UpdateDraft(ctx, draft); err != nil {
			slog.Error("Failed to update draft", "error", err, "draft_id", draft.ID)
		}
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, draft *domain.Draft) (int64, error) {
	if draft.Destination == "" {
		return 0, fmt.Errorf("draft has no destination")
	}
	bot, err := p.bots.Get(ctx, draft.BotID)
	if err != nil {
		return 0, fmt.Errorf("load bot %s: %w", draft.BotID, err)
	}
	adapter := p.gateway.Adapter(bot)

	var res *domain.SendResult
	switch {
	case draft.ButtonURL != "":
		buttons := []domain.LinkButton{{Text: firstNonEmpty(draft.ButtonText, defaultBroadcastLabel), URL: draft.ButtonURL}}
		res, err = adapter.SendLinkButtons(ctx, draft.Destination, draft.Description, buttons)
	case draft.ImageURL != "":
		res, err = adapter.SendPhoto(ctx, draft.Destination, draft.ImageURL, draft.Description)
	default:
		res, err = adapter.SendText(ctx, draft.Destination, draft.Description)
	}
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	return res.MessageID, nil
}
