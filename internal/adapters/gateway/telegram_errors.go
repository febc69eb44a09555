package gateway

import (
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"botflow/internal/core/domain"
)

// classifyError maps a Telegram failure onto the platform error kinds.
// 401 (bad token), 404 (unknown bot) and 409 (webhook set, or another poller)
// are fatal; everything else, network errors included, is transient.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	code, msg, ok := apiErrorCode(err)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrPlatformTransient, err)
	}
	switch code {
	case 401, 404, 409:
		return fmt.Errorf("%w: telegram %d: %s", domain.ErrPlatformFatal, code, msg)
	default:
		return fmt.Errorf("%w: telegram %d: %s", domain.ErrPlatformTransient, code, msg)
	}
}

func apiErrorCode(err error) (int, string, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code, apiErr.Message, true
	}
	return 0, "", false
}
