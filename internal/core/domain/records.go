package domain

import (
	"encoding/json"
	"time"
)

// Records created or read through the external record store.

// LeadStatus constants
const (
	LeadStatusNew = "NEW"
)

// RequestStatus constants
const (
	RequestStatusDraft = "DRAFT"
)

// VariantStatus constants
const (
	VariantStatusSubmitted = "SUBMITTED"
)

// LeadSourceTelegram marks records created by the bot
const LeadSourceTelegram = "TELEGRAM"

// Lead is a potential client
type Lead struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Phone          string `json:"phone,omitempty"`
	Source         string `json:"source"`
	TelegramChatID string `json:"telegramChatId"`
	Status         string `json:"status"`
	Language       Locale `json:"language,omitempty"`
	Goal           string `json:"goal,omitempty"`
}

// Request is a client's car search request
type Request struct {
	ID           string    `json:"id,omitempty"`
	PublicID     string    `json:"publicId,omitempty"`
	Title        string    `json:"title"`
	YearMin      int       `json:"yearMin"`
	BudgetMax    int       `json:"budgetMax"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	ClientChatID string    `json:"clientChatId,omitempty"`
	Variants     []Variant `json:"variants,omitempty"`
}

// Ref returns the public id when present, else the internal id
func (r *Request) Ref() string {
	if r.PublicID != "" {
		return r.PublicID
	}
	return r.ID
}

// Variant is a car offered against a request
type Variant struct {
	Title     string `json:"title"`
	Price     *Price `json:"price,omitempty"`
	Year      int    `json:"year,omitempty"`
	Mileage   int    `json:"mileage,omitempty"`
	Location  string `json:"location,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
	URL       string `json:"url,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Source    string `json:"source,omitempty"`
	Specs     *Specs `json:"specs,omitempty"`
	Status    string `json:"status"`
}

// Price of a listing
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Specs of a listing
type Specs struct {
	Engine       string `json:"engine,omitempty"`
	Drive        string `json:"drive,omitempty"`
	Transmission string `json:"transmission,omitempty"`
	VIN          string `json:"vin,omitempty"`
}

// CarCard is a search result or inventory item
type CarCard struct {
	CanonicalID string `json:"canonicalId"`
	Title       string `json:"title"`
	Year        int    `json:"year,omitempty"`
	Mileage     int    `json:"mileage,omitempty"`
	Price       *Price `json:"price,omitempty"`
	Location    string `json:"location,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	Source      string `json:"source,omitempty"`
	Specs       *Specs `json:"specs,omitempty"`
	Status      string `json:"status,omitempty"`
}

// DedupKey identifies the same car across sources
func (c CarCard) DedupKey() string {
	if c.CanonicalID != "" {
		return c.CanonicalID
	}
	return c.SourceURL
}

// AsVariant converts a card into a request variant
func (c CarCard) AsVariant() Variant {
	return Variant{
		Title:     c.Title,
		Price:     c.Price,
		Year:      c.Year,
		Mileage:   c.Mileage,
		Location:  c.Location,
		Thumbnail: c.Thumbnail,
		URL:       c.SourceURL,
		SourceURL: c.SourceURL,
		Source:    c.Source,
		Specs:     c.Specs,
		Status:    VariantStatusSubmitted,
	}
}

// SearchFilter narrows inventory and external searches
type SearchFilter struct {
	Brand    string `json:"brand,omitempty"`
	Model    string `json:"model,omitempty"`
	PriceMax int    `json:"priceMax,omitempty"`
}

// Notification is an in-app admin notice
type Notification struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// DraftStatus lifecycle of a channel post
type DraftStatus string

const (
	DraftScheduled DraftStatus = "SCHEDULED"
	DraftPosted    DraftStatus = "POSTED"
	DraftFailed    DraftStatus = "FAILED"
)

// Draft is a channel post, either already posted or waiting for its time
type Draft struct {
	ID          string            `json:"id,omitempty"`
	Source      string            `json:"source"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"url,omitempty"`
	Destination string            `json:"destination"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	PostedAt    *time.Time        `json:"postedAt,omitempty"`
	Status      DraftStatus       `json:"status"`
	BotID       string            `json:"botId"`
	ButtonText  string            `json:"buttonText,omitempty"`
	ButtonURL   string            `json:"buttonUrl,omitempty"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InboundMessage is the audit record of one received update
type InboundMessage struct {
	ID          string          `json:"id" db:"id"` // msg_<update_id>
	BotID       string          `json:"bot_id" db:"bot_id"`
	MessageID   int64           `json:"message_id" db:"message_id"`
	ChatID      string          `json:"chat_id" db:"chat_id"`
	Platform    string          `json:"platform" db:"platform"`
	Direction   string          `json:"direction" db:"direction"` // "INCOMING"
	FromName    string          `json:"from_name" db:"from_name"`
	Text        string          `json:"text" db:"text"`
	Attachments json.RawMessage `json:"attachments,omitempty" db:"attachments"` // JSON field
	Payload     json.RawMessage `json:"payload,omitempty" db:"payload"`         // JSON field
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Direction constants
const (
	DirectionIncoming = "INCOMING"
	DirectionOutgoing = "OUTGOING"
)

// ActivityEntry is an operational event worth keeping (bot disabled, deduped, ...)
type ActivityEntry struct {
	BotID     string    `json:"bot_id" db:"bot_id"`
	Action    string    `json:"action" db:"action"`
	Details   string    `json:"details" db:"details"`
	Level     string    `json:"level" db:"level"` // "INFO", "WARN", "ERROR"
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Activity actions
const (
	ActivityBotDisabled  = "BOT_DISABLED"
	ActivityBotDeduped   = "BOT_DEDUPED"
	ActivityBotException = "BOT_EXCEPTION"
)

// OutboundMessage is a send through the backend's unified send endpoint
type OutboundMessage struct {
	ChatID   string `json:"chatId"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	BotID    string `json:"botId"`
}

// SendResult is the platform message created by a send
type SendResult struct {
	MessageID int64 `json:"message_id"`
}
