package ports

import (
	"context"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
)

// PlatformAdapter is the outbound side of one bot on a messaging platform.
// Errors wrap domain.ErrPlatformFatal or domain.ErrPlatformTransient.
type PlatformAdapter interface {
	SendText(ctx context.Context, chatID, text string) (*domain.SendResult, error)

	// SendPhoto falls back to a text message when the image cannot be sent
	SendPhoto(ctx context.Context, chatID, photoURL, caption string) (*domain.SendResult, error)

	// SendMediaGroup sends up to 10 photos, the caption goes on the first
	SendMediaGroup(ctx context.Context, chatID string, photoURLs []string, caption string) error

	SendChoiceKeyboard(ctx context.Context, chatID, text string, kb domain.InlineKeyboard) error
	SendReplyKeyboard(ctx context.Context, chatID, text string, rows [][]string) error
	RemoveKeyboard(ctx context.Context, chatID, text string) error
	SendContactRequest(ctx context.Context, chatID, text string, locale domain.Locale) error
	SendRecordCard(ctx context.Context, chatID string, card domain.RecordCard) error
	SendLinkButtons(ctx context.Context, chatID, text string, buttons []domain.LinkButton) (*domain.SendResult, error)

	AnswerCallback(ctx context.Context, callbackID, text string) error
	ShowTyping(ctx context.Context, chatID string) error

	// FetchFile resolves a platform file id into a downloadable URL
	FetchFile(ctx context.Context, fileID string) (string, error)
}

// PlatformGateway hands out per-bot adapters and pulls updates
type PlatformGateway interface {
	Adapter(bot *domain.Bot) PlatformAdapter

	// FetchUpdates long-polls updates with id >= offset
	FetchUpdates(ctx context.Context, bot *domain.Bot, offset int64) ([]dto.TelegramUpdate, error)
}
