// Package dto contains data transfer objects for external APIs
// Separating DTOs from handlers prevents import cycles
package dto

import (
	"encoding/json"
	"strconv"
	"strings"
)

// TelegramUpdate is one element of getUpdates / one webhook delivery
// Ref: https://core.telegram.org/bots/api#update
type TelegramUpdate struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`

	// Posts in channels the bot administers. Never routed to dialogues.
	ChannelPost *Message `json:"channel_post,omitempty"`
}

// Message is an inbound chat message
type Message struct {
	MessageID  int64       `json:"message_id"`
	From       *User       `json:"from,omitempty"`
	Chat       Chat        `json:"chat"`
	Date       int64       `json:"date"`
	Text       string      `json:"text,omitempty"`
	Contact    *Contact    `json:"contact,omitempty"`
	Photo      []PhotoSize `json:"photo,omitempty"`
	WebAppData *WebAppData `json:"web_app_data,omitempty"`
}

// User is the sender of a message or callback
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat types
const (
	ChatPrivate = "private"
	ChatGroup   = "group"
	ChatChannel = "channel"
)

// Chat the message belongs to
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Contact shared through the "share contact" keyboard button
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name,omitempty"`
}

// PhotoSize is one resolution of a sent photo
type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int    `json:"file_size,omitempty"`
}

// WebAppData carries a mini-app submission
type WebAppData struct {
	Data string `json:"data"`
}

// CallbackQuery is an inline-button press
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Container returns the message the update is about (message or callback's message)
func (u *TelegramUpdate) Container() *Message {
	if u.Message != nil {
		return u.Message
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.Message
	}
	return nil
}

// Sender returns who triggered the update
func (u *TelegramUpdate) Sender() *User {
	if u.Message != nil && u.Message.From != nil {
		return u.Message.From
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.From
	}
	return nil
}

// ChatID returns the chat identifier as text
func (u *TelegramUpdate) ChatID() string {
	if msg := u.Container(); msg != nil {
		return strconv.FormatInt(msg.Chat.ID, 10)
	}
	return ""
}

// IsPrivate reports a one-to-one chat
func (u *TelegramUpdate) IsPrivate() bool {
	msg := u.Container()
	return msg != nil && msg.Chat.Type == ChatPrivate
}

// IsCallback reports an inline-button press
func (u *TelegramUpdate) IsCallback() bool {
	return u.CallbackQuery != nil
}

// InputText is the message text, or the callback data
func (u *TelegramUpdate) InputText() string {
	if u.Message != nil && u.Message.Text != "" {
		return u.Message.Text
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.Data
	}
	return ""
}

// LogText is what the inbound message log stores as text
func (u *TelegramUpdate) LogText() string {
	if u.Message != nil && u.Message.Contact != nil {
		return "[Contact Shared]"
	}
	return u.InputText()
}

// LargestPhoto returns the biggest photo size, if any
func (m *Message) LargestPhoto() (PhotoSize, bool) {
	if m == nil || len(m.Photo) == 0 {
		return PhotoSize{}, false
	}
	best := m.Photo[0]
	for _, p := range m.Photo[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best, true
}

// ============================================================================
// Mini-app payloads
// ============================================================================

// Web app payload types
const (
	WebAppRunScenario = "RUN_SCENARIO"
	WebAppLead        = "LEAD"
)

// WebAppPayload is the JSON a mini-app submits
type WebAppPayload struct {
	Type          string         `json:"type"`
	ScenarioID    string         `json:"scenarioId,omitempty"`
	Name          string         `json:"name,omitempty"`
	Phone         string         `json:"phone,omitempty"`
	Lang          string         `json:"lang,omitempty"`
	CarID         string         `json:"carId,omitempty"`
	RequestPreset *RequestPreset `json:"requestPreset,omitempty"`
	Request       *RequestPreset `json:"request,omitempty"`
}

// NormalizedType upper-cases the payload type
func (p *WebAppPayload) NormalizedType() string {
	return strings.ToUpper(strings.TrimSpace(p.Type))
}

// Preset returns requestPreset, else request, else an empty preset
func (p *WebAppPayload) Preset() RequestPreset {
	if p.RequestPreset != nil {
		return *p.RequestPreset
	}
	if p.Request != nil {
		return *p.Request
	}
	return RequestPreset{}
}

// RequestPreset pre-fills a request from a mini-app
type RequestPreset struct {
	Brand  string  `json:"brand,omitempty"`
	Model  string  `json:"model,omitempty"`
	Year   FlexInt `json:"year,omitempty"`
	Budget FlexInt `json:"budget,omitempty"`
}

// FlexInt accepts a JSON number or a numeric string
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(i)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = FlexInt(v)
	return nil
}

// ParseWebAppPayload decodes a mini-app submission
func ParseWebAppPayload(data string) (*WebAppPayload, error) {
	var p WebAppPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
