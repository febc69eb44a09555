// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"botflow/internal/core/domain"
)

// ScenarioRepository provides read-only access to authored scenarios
type ScenarioRepository interface {
	// Get returns a scenario by id, domain.ErrScenarioNotFound when missing
	Get(ctx context.Context, id string) (*domain.Scenario, error)

	// FindByTrigger returns the scenario whose trigger command matches (leading "/" ignored)
	FindByTrigger(ctx context.Context, command string) (*domain.Scenario, error)

	// FindByKeyword returns the first active scenario with a keyword contained in the normalized text
	FindByKeyword(ctx context.Context, normalizedText string) (*domain.Scenario, error)
}

// SessionStore persists per-chat conversation state
// Last write wins: concurrent turns on the same chat are serialized by the caller
type SessionStore interface {
	// Get returns the session or (nil, nil) when the chat has none
	Get(ctx context.Context, botID, chatID string) (*domain.Session, error)

	// Put creates or replaces the session
	Put(ctx context.Context, session *domain.Session) error

	// Clear deletes the session (operator action only)
	Clear(ctx context.Context, botID, chatID string) error
}

// BotRepository reads and updates bot runtime records
type BotRepository interface {
	List(ctx context.Context) ([]*domain.Bot, error)
	Get(ctx context.Context, id string) (*domain.Bot, error)
	Save(ctx context.Context, bot *domain.Bot) error
}

// CampaignRepository gives the broadcast loop its queue
type CampaignRepository interface {
	// ListCampaigns returns campaigns with the given status
	ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error)

	SaveCampaign(ctx context.Context, campaign *domain.Campaign) error

	// GetContent returns the content template, domain.ErrNotFound when missing
	GetContent(ctx context.Context, id string) (*domain.Content, error)

	ListDestinations(ctx context.Context) ([]*domain.Destination, error)
}

// RecordStore is the external record collaborator used by scenario actions
type RecordStore interface {
	UpsertDestination(ctx context.Context, dest *domain.Destination) error
	TagDestination(ctx context.Context, destinationID, tag string) error

	CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
	CreateRequest(ctx context.Context, req *domain.Request) (*domain.Request, error)

	// FindRequest resolves a request by internal id or public id
	FindRequest(ctx context.Context, ref string) (*domain.Request, error)
	AddVariant(ctx context.Context, requestID string, variant domain.Variant) error

	SearchInventory(ctx context.Context, filter domain.SearchFilter) ([]domain.CarCard, error)
	GetInventoryItem(ctx context.Context, canonicalID string) (*domain.CarCard, error)
	SaveInventoryItem(ctx context.Context, card domain.CarCard) error
	SearchExternal(ctx context.Context, filter domain.SearchFilter) ([]domain.CarCard, error)

	// NormalizeBrand maps free text to a canonical brand, "" when unknown
	NormalizeBrand(ctx context.Context, raw string) (string, error)

	AddNotification(ctx context.Context, n *domain.Notification) error

	CreateDraft(ctx context.Context, draft *domain.Draft) error
	ListDueDrafts(ctx context.Context, now time.Time) ([]*domain.Draft, error)
	UpdateDraft(ctx context.Context, draft *domain.Draft) error
}

// Sender delivers campaign messages through the backend's unified send endpoint
type Sender interface {
	SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error)
}

// MessageLog keeps the local audit trail of inbound updates
type MessageLog interface {
	// SaveInbound persists one inbound message; saving the same id twice is a no-op
	SaveInbound(ctx context.Context, msg *domain.InboundMessage) error

	// Purge deletes entries older than retention, at most limit rows per call
	Purge(ctx context.Context, retention time.Duration, limit int) (int64, error)
}

// ActivityLog records operational events (bot disabled, deduplicated, ...)
type ActivityLog interface {
	Record(ctx context.Context, entry *domain.ActivityEntry) error
}

// LeaseStore holds the single leadership lease shared by all instances
type LeaseStore interface {
	// TryAcquire takes the lease when it is absent, expired or already ours
	TryAcquire(ctx context.Context, instanceID string, ttl time.Duration) (bool, error)

	// Renew extends our lease; false when another instance holds it
	Renew(ctx context.Context, instanceID string, ttl time.Duration) (bool, error)

	// Read returns the current lease, nil when none is held
	Read(ctx context.Context) (*domain.Lease, error)
}

// DedupRepository handles deduplication of platform updates using cache
// Shared between instances so a webhook and a poll cannot both deliver an update
type DedupRepository interface {
	// IsDuplicate checks if an event ID has already been processed
	// Returns true if the event exists in cache (is a duplicate)
	IsDuplicate(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed marks an event as processed in the cache
	// Sets a TTL to automatically expire old entries
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}
