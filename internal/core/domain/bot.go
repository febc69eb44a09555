package domain

import (
	"sort"
	"strconv"
	"strings"
)

// MenuButtonType decides what a main-menu button does
type MenuButtonType string

const (
	MenuButtonScenario MenuButtonType = "SCENARIO"
	MenuButtonText     MenuButtonType = "TEXT"
	MenuButtonLink     MenuButtonType = "LINK"
)

// MenuButton is one entry of a bot's main menu
type MenuButton struct {
	ID      string         `json:"id"`
	Label   string         `json:"label"`
	LabelUK string         `json:"label_uk,omitempty"`
	LabelRU string         `json:"label_ru,omitempty"`
	Type    MenuButtonType `json:"type"`
	Value   string         `json:"value"`
	Row     int            `json:"row"`
	Col     int            `json:"col"`
}

// LabelFor returns the label for a locale, falling back to any non-empty label
func (b MenuButton) LabelFor(locale Locale) string {
	switch {
	case locale == LocaleUK && b.LabelUK != "":
		return b.LabelUK
	case locale == LocaleRU && b.LabelRU != "":
		return b.LabelRU
	case b.Label != "":
		return b.Label
	case b.LabelUK != "":
		return b.LabelUK
	}
	return b.LabelRU
}

// MenuConfig is the bot's main menu
type MenuConfig struct {
	WelcomeMessage string       `json:"welcomeMessage,omitempty"`
	Buttons        []MenuButton `json:"buttons"`
}

// DefaultWelcome is shown when a bot has no welcome message
const DefaultWelcome = "Menu:"

// Normalized trims labels, drops label-less buttons and fills ids
func (m MenuConfig) Normalized() MenuConfig {
	out := MenuConfig{WelcomeMessage: m.WelcomeMessage}
	if out.WelcomeMessage == "" {
		out.WelcomeMessage = DefaultWelcome
	}
	for idx, b := range m.Buttons {
		b.Label = strings.TrimSpace(b.Label)
		b.LabelUK = strings.TrimSpace(b.LabelUK)
		b.LabelRU = strings.TrimSpace(b.LabelRU)
		if b.Label == "" && b.LabelUK == "" && b.LabelRU == "" {
			continue
		}
		if b.ID == "" {
			b.ID = "btn_" + strconv.Itoa(idx)
		}
		out.Buttons = append(out.Buttons, b)
	}
	return out
}

// Rows lays the buttons out by row then column, localized
func (m MenuConfig) Rows(locale Locale) [][]string {
	buttons := append([]MenuButton(nil), m.Normalized().Buttons...)
	sort.SliceStable(buttons, func(i, j int) bool {
		if buttons[i].Row != buttons[j].Row {
			return buttons[i].Row < buttons[j].Row
		}
		return buttons[i].Col < buttons[j].Col
	})

	var rows [][]string
	lastRow := 0
	for _, b := range buttons {
		label := b.LabelFor(locale)
		if label == "" {
			continue
		}
		if len(rows) == 0 || b.Row != lastRow {
			rows = append(rows, []string{})
			lastRow = b.Row
		}
		rows[len(rows)-1] = append(rows[len(rows)-1], label)
	}
	return rows
}

// Bot is the runtime record of a platform bot
type Bot struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Username           string        `json:"username"`
	Token              string        `json:"token"`
	Active             bool          `json:"active"`
	AutoSync           *bool         `json:"autoSync,omitempty"`
	LastUpdateID       int64         `json:"lastUpdateId"`
	ProcessedUpdateIDs *UpdateWindow `json:"processedUpdateIds"`
	MenuConfig         MenuConfig    `json:"menuConfig"`
	ChannelID          string        `json:"channelId,omitempty"`
	AdminChannelID     string        `json:"adminChannelId,omitempty"`
}

// Window returns the processed-update window, creating it when missing
func (b *Bot) Window() *UpdateWindow {
	if b.ProcessedUpdateIDs == nil {
		b.ProcessedUpdateIDs = NewUpdateWindow(DefaultUpdateWindowSize)
	}
	return b.ProcessedUpdateIDs
}

// Pollable reports whether the bot should be polled when it wins canonicalization
func (b *Bot) Pollable() bool {
	return b.Active && (b.AutoSync == nil || *b.AutoSync)
}
