package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// DefaultManagerName fills {{manager}} when none is configured
const DefaultManagerName = "Manager"

// CampaignDispatcher sends one message per running campaign per tick
type CampaignDispatcher struct {
	campaigns   ports.CampaignRepository
	bots        ports.BotRepository
	sender      ports.Sender
	managerName string
	now         func() time.Time
}

// NewCampaignDispatcher creates a dispatcher
func NewCampaignDispatcher(campaigns ports.CampaignRepository, bots ports.BotRepository, sender ports.Sender, managerName string) *CampaignDispatcher {
	if managerName == "" {
		managerName = DefaultManagerName
	}
	return &CampaignDispatcher{
		campaigns:   campaigns,
		bots:        bots,
		sender:      sender,
		managerName: managerName,
		now:         time.Now,
	}
}

// Tick advances every RUNNING campaign by at most one destination
func (d *CampaignDispatcher) Tick(ctx context.Context) error {
	running, err := d.campaigns.ListCampaigns(ctx, domain.CampaignRunning)
	if err != nil {
		return fmt.Errorf("list running campaigns: %w", err)
	}
	if len(running) == 0 {
		return nil
	}

	destinations, err := d.campaigns.ListDestinations(ctx)
	if err != nil {
		return fmt.Errorf("list destinations: %w", err)
	}
	byID := make(map[string]*domain.Destination, len(destinations))
	for _, dest := range destinations {
		byID[dest.ID] = dest
	}

	for _, campaign := range running {
		if err := d.advance(ctx, campaign, byID); err != nil {
			slog.Error("Campaign step failed", "error", err, "campaign_id", campaign.ID)
		}
	}
	return nil
}

func (d *CampaignDispatcher) advance(ctx context.Context, campaign *domain.Campaign, destinations map[string]*domain.Destination) error {
	bot, err := d.bots.Get(ctx, campaign.BotID)
	if err != nil {
		return fmt.Errorf("load bot %s: %w", campaign.BotID, err)
	}
	if !bot.Active {
		return nil
	}

	content, err := d.campaigns.GetContent(ctx, campaign.ContentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load content %s: %w", campaign.ContentID, err)
	}

	destID, ok := campaign.NextPending()
	if !ok {
		campaign.Status = domain.CampaignCompleted
		campaign.RecomputeProgress()
		return d.campaigns.SaveCampaign(ctx, campaign)
	}

	entry := domain.DeliveryLog{DestinationID: destID, SentAt: d.now()}
	dest, known := destinations[destID]
	if !known {
		entry.Status = domain.DeliveryFailed
		entry.Error = "destination not found"
	} else {
		msg := domain.OutboundMessage{
			ChatID: dest.Identifier,
			Text:   d.render(content.Body, dest),
			BotID:  bot.ID,
		}
		if len(content.MediaURLs) > 0 {
			msg.ImageURL = content.MediaURLs[0]
		}
		res, err := d.sender.SendMessage(ctx, msg)
		if err != nil {
			entry.Status = domain.DeliveryFailed
			entry.Error = err.Error()
		} else {
			entry.Status = domain.DeliverySuccess
			if res != nil {
				entry.MessageID = res.MessageID
			}
		}
	}

	campaign.Logs = append(campaign.Logs, entry)
	campaign.RecomputeProgress()
	if _, pending := campaign.NextPending(); !pending {
		campaign.Status = domain.CampaignCompleted
	}

	slog.Info("Campaign delivery",
		"campaign_id", campaign.ID,
		"destination_id", destID,
		"status", entry.Status,
		"sent", campaign.Progress.Sent,
		"failed", campaign.Progress.Failed,
		"total", campaign.Progress.Total,
	)
	return d.campaigns.SaveCampaign(ctx, campaign)
}

func (d *CampaignDispatcher) render(body string, dest *domain.Destination) string {
	name := dest.Name
	if name == "" {
		name = defaultFriendName
	}
	return strings.NewReplacer("{{name}}", name, "{{manager}}", d.managerName).Replace(body)
}
