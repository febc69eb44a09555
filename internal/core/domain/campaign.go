package domain

import "time"

// CampaignStatus lifecycle of a broadcast
type CampaignStatus string

const (
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// DeliveryStatus of one destination inside a campaign
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "SUCCESS"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// DeliveryLog is the per-destination outcome of a campaign send
type DeliveryLog struct {
	DestinationID string         `json:"destinationId"`
	Status        DeliveryStatus `json:"status"`
	SentAt        time.Time      `json:"sentAt"`
	MessageID     int64          `json:"messageId,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// CampaignProgress counters derived from logs
type CampaignProgress struct {
	Sent   int `json:"sent"`
	Total  int `json:"total"`
	Failed int `json:"failed"`
}

// Campaign is a broadcast queue entry
type Campaign struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	BotID          string           `json:"botId"`
	ContentID      string           `json:"contentId"`
	DestinationIDs []string         `json:"destinationIds"`
	Status         CampaignStatus   `json:"status"`
	ScheduledAt    *time.Time       `json:"scheduledAt,omitempty"`
	Progress       CampaignProgress `json:"progress"`
	Logs           []DeliveryLog    `json:"logs"`
}

// NextPending returns the first destination id without a log entry
func (c *Campaign) NextPending() (string, bool) {
	logged := make(map[string]struct{}, len(c.Logs))
	for _, l := range c.Logs {
		logged[l.DestinationID] = struct{}{}
	}
	for _, id := range c.DestinationIDs {
		if _, ok := logged[id]; !ok {
			return id, true
		}
	}
	return "", false
}

// RecomputeProgress derives counters from the log list
func (c *Campaign) RecomputeProgress() {
	sent, failed := 0, 0
	for _, l := range c.Logs {
		switch l.Status {
		case DeliverySuccess:
			sent++
		case DeliveryFailed:
			failed++
		}
	}
	c.Progress = CampaignProgress{Sent: sent, Failed: failed, Total: len(c.DestinationIDs)}
}

// Content is the message template a campaign sends
type Content struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	MediaURLs []string `json:"mediaUrls,omitempty"`
}

// DestinationType of a chat
type DestinationType string

const (
	DestinationUser    DestinationType = "USER"
	DestinationGroup   DestinationType = "GROUP"
	DestinationChannel DestinationType = "CHANNEL"
)

// Destination is a chat the bot can send to
type Destination struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Type       DestinationType `json:"type"`
	Identifier string          `json:"identifier"`
	Tags       []string        `json:"tags"`
	Verified   bool            `json:"verified"`
}
