// Package gateway implements external API adapters
// Following Hexagonal Architecture: Outbound adapters for external services
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// Ensure the Telegram types implement the platform ports
var (
	_ ports.PlatformGateway = (*TelegramGateway)(nil)
	_ ports.PlatformAdapter = (*TelegramAdapter)(nil)
)

const (
	// mediaGroupLimit is the platform's album size cap
	mediaGroupLimit = 10

	imageUnavailableSuffix = "\n\n(🖼️ Image unavailable)"

	parseModeHTML = "HTML"
)

// TelegramConfig tunes the gateway
type TelegramConfig struct {
	APIEndpoint string        // format string with token and method, tgbotapi.APIEndpoint when empty
	Timeout     time.Duration // per call
	RatePerSec  float64       // outbound sends per bot
	RateBurst   int
	PollLimit   int // max updates per getUpdates
}

// DefaultTelegramConfig returns production settings
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		APIEndpoint: tgbotapi.APIEndpoint,
		Timeout:     10 * time.Second,
		RatePerSec:  25,
		RateBurst:   5,
		PollLimit:   100,
	}
}

// TelegramGateway hands out one adapter per bot and polls updates
type TelegramGateway struct {
	cfg        TelegramConfig
	httpClient *http.Client

	mu       sync.Mutex
	adapters map[string]*TelegramAdapter
}

// NewTelegramGateway creates a new Telegram gateway
func NewTelegramGateway(cfg TelegramConfig) *TelegramGateway {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = 100
	}
	return &TelegramGateway{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		adapters: make(map[string]*TelegramAdapter),
	}
}

// Adapter returns the cached adapter for the bot, rebuilt when its token changes
func (g *TelegramGateway) Adapter(bot *domain.Bot) ports.PlatformAdapter {
	return g.adapter(bot)
}

func (g *TelegramGateway) adapter(bot *domain.Bot) *TelegramAdapter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if a, ok := g.adapters[bot.ID]; ok && a.api.Token == bot.Token {
		return a
	}

	// Built by hand: tgbotapi.NewBotAPI calls getMe, which would turn a bad
	// token into a constructor error instead of a classified fetch error
	api := &tgbotapi.BotAPI{
		Token:  bot.Token,
		Client: g.httpClient,
		Buffer: 100,
	}
	api.SetAPIEndpoint(g.cfg.APIEndpoint)

	limit := rate.Inf
	if g.cfg.RatePerSec > 0 {
		limit = rate.Limit(g.cfg.RatePerSec)
	}
	burst := g.cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	a := &TelegramAdapter{
		botID:   bot.ID,
		api:     api,
		limiter: rate.NewLimiter(limit, burst),
	}
	g.adapters[bot.ID] = a
	return a
}

// FetchUpdates calls getUpdates from offset. The raw result is decoded into
// our DTOs so webhook and polling share one update shape.
func (g *TelegramGateway) FetchUpdates(ctx context.Context, bot *domain.Bot, offset int64) ([]dto.TelegramUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlatformTransient, err)
	}
	a := g.adapter(bot)

	params := tgbotapi.Params{
		"offset":          strconv.FormatInt(offset, 10),
		"limit":           strconv.Itoa(g.cfg.PollLimit),
		"timeout":         "0",
		"allowed_updates": `["message","callback_query","channel_post"]`,
	}
	resp, err := a.api.MakeRequest("getUpdates", params)
	if err != nil {
		classified := classifyError(err)
		slog.Warn("getUpdates failed",
			"error", classified,
			"bot_id", bot.ID,
			"offset", offset,
		)
		return nil, classified
	}

	var updates []dto.TelegramUpdate
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("%w: decode updates: %v", domain.ErrPlatformTransient, err)
	}
	return updates, nil
}

// ============================================================================
// Per-bot adapter
// ============================================================================

// TelegramAdapter sends through one bot, rate limited
type TelegramAdapter struct {
	botID   string
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// baseChat addresses numeric chat ids and @channel usernames alike
func baseChat(chatID string) tgbotapi.BaseChat {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tgbotapi.BaseChat{ChatID: id}
	}
	return tgbotapi.BaseChat{ChannelUsername: chatID}
}

func (a *TelegramAdapter) wait(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", domain.ErrPlatformTransient, err)
	}
	return nil
}

func (a *TelegramAdapter) send(ctx context.Context, c tgbotapi.Chattable) (*domain.SendResult, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	msg, err := a.api.Send(c)
	if err != nil {
		return nil, classifyError(err)
	}
	return &domain.SendResult{MessageID: int64(msg.MessageID)}, nil
}

func (a *TelegramAdapter) request(ctx context.Context, c tgbotapi.Chattable) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.api.Request(c); err != nil {
		return classifyError(err)
	}
	return nil
}

func textMessage(chatID, text string, markup any) tgbotapi.MessageConfig {
	bc := baseChat(chatID)
	bc.ReplyMarkup = markup
	return tgbotapi.MessageConfig{
		BaseChat:  bc,
		Text:      text,
		ParseMode: parseModeHTML,
	}
}

// SendText sends an HTML text message
func (a *TelegramAdapter) SendText(ctx context.Context, chatID, text string) (*domain.SendResult, error) {
	return a.send(ctx, textMessage(chatID, text, nil))
}

// SendPhoto sends a photo by URL, falling back to text when the platform rejects the image
func (a *TelegramAdapter) SendPhoto(ctx context.Context, chatID, photoURL, caption string) (*domain.SendResult, error) {
	return a.sendPhoto(ctx, chatID, photoURL, caption, nil)
}

func (a *TelegramAdapter) sendPhoto(ctx context.Context, chatID, photoURL, caption string, markup any) (*domain.SendResult, error) {
	bc := baseChat(chatID)
	bc.ReplyMarkup = markup
	photo := tgbotapi.PhotoConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: bc,
			File:     tgbotapi.FileURL(photoURL),
		},
		Caption:   caption,
		ParseMode: parseModeHTML,
	}

	res, err := a.send(ctx, photo)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, domain.ErrPlatformFatal) {
		return nil, err
	}

	slog.Warn("Photo send failed, falling back to text",
		"error", err,
		"bot_id", a.botID,
		"chat_id", chatID,
	)
	return a.send(ctx, textMessage(chatID, caption+imageUnavailableSuffix, markup))
}

// SendMediaGroup sends up to 10 photos as an album, caption on the first
func (a *TelegramAdapter) SendMediaGroup(ctx context.Context, chatID string, photoURLs []string, caption string) error {
	if len(photoURLs) > mediaGroupLimit {
		photoURLs = photoURLs[:mediaGroupLimit]
	}
	media := make([]interface{}, 0, len(photoURLs))
	for i, u := range photoURLs {
		p := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(u))
		if i == 0 {
			p.Caption = caption
			p.ParseMode = parseModeHTML
		}
		media = append(media, p)
	}

	cfg := tgbotapi.MediaGroupConfig{Media: media}
	bc := baseChat(chatID)
	cfg.ChatID, cfg.ChannelUsername = bc.ChatID, bc.ChannelUsername

	if err := a.wait(ctx); err != nil {
		return err
	}
	if _, err := a.api.SendMediaGroup(cfg); err != nil {
		return classifyError(err)
	}
	return nil
}

func inlineMarkup(kb domain.InlineKeyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
			}
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// SendChoiceKeyboard sends text with inline buttons
func (a *TelegramAdapter) SendChoiceKeyboard(ctx context.Context, chatID, text string, kb domain.InlineKeyboard) error {
	_, err := a.send(ctx, textMessage(chatID, text, inlineMarkup(kb)))
	return err
}

// SendReplyKeyboard sends text with a persistent reply keyboard
func (a *TelegramAdapter) SendReplyKeyboard(ctx context.Context, chatID, text string, rows [][]string) error {
	kbRows := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		if len(buttons) > 0 {
			kbRows = append(kbRows, buttons)
		}
	}
	if len(kbRows) == 0 {
		_, err := a.send(ctx, textMessage(chatID, text, tgbotapi.NewRemoveKeyboard(true)))
		return err
	}
	markup := tgbotapi.NewReplyKeyboard(kbRows...)
	markup.ResizeKeyboard = true
	_, err := a.send(ctx, textMessage(chatID, text, markup))
	return err
}

// RemoveKeyboard sends text and hides the reply keyboard
func (a *TelegramAdapter) RemoveKeyboard(ctx context.Context, chatID, text string) error {
	_, err := a.send(ctx, textMessage(chatID, text, tgbotapi.NewRemoveKeyboard(true)))
	return err
}

var contactLabels = domain.LocalizedText{
	Default: "📱 Share phone number",
	UK:      "📱 Поділитися номером",
	RU:      "📱 Поделиться номером",
}

// SendContactRequest sends a one-time keyboard with a share-contact button
func (a *TelegramAdapter) SendContactRequest(ctx context.Context, chatID, text string, locale domain.Locale) error {
	markup := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(contactLabels.Resolve(locale))),
	)
	markup.ResizeKeyboard = true
	markup.OneTimeKeyboard = true
	_, err := a.send(ctx, textMessage(chatID, text, markup))
	return err
}

// SendRecordCard sends a car card: photo with caption when available, else text
func (a *TelegramAdapter) SendRecordCard(ctx context.Context, chatID string, card domain.RecordCard) error {
	var markup any
	if len(card.Keyboard) > 0 {
		markup = inlineMarkup(card.Keyboard)
	}
	if card.PhotoURL != "" {
		_, err := a.sendPhoto(ctx, chatID, card.PhotoURL, card.Caption, markup)
		return err
	}
	_, err := a.send(ctx, textMessage(chatID, card.Caption, markup))
	return err
}

// SendLinkButtons sends text with URL buttons, one per row
func (a *TelegramAdapter) SendLinkButtons(ctx context.Context, chatID, text string, buttons []domain.LinkButton) (*domain.SendResult, error) {
	kb := make(domain.InlineKeyboard, 0, len(buttons))
	for _, b := range buttons {
		kb = append(kb, []domain.InlineButton{{Text: b.Text, URL: b.URL}})
	}
	return a.send(ctx, textMessage(chatID, text, inlineMarkup(kb)))
}

// AnswerCallback acknowledges an inline button press
func (a *TelegramAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return a.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

// ShowTyping shows the typing indicator
func (a *TelegramAdapter) ShowTyping(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil
	}
	return a.request(ctx, tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
}

// FetchFile resolves a file id into a direct download URL
func (a *TelegramAdapter) FetchFile(ctx context.Context, fileID string) (string, error) {
	if err := a.wait(ctx); err != nil {
		return "", err
	}
	u, err := a.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", classifyError(err)
	}
	return u, nil
}
