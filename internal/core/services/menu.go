package services

import (
	"context"

	"botflow/internal/core/domain"
)

// sendMainMenu shows the bot's main menu as a reply keyboard.
// text overrides the configured welcome message.
func (in *Interpreter) sendMainMenu(ctx context.Context, t *turn, text string) error {
	cfg := t.bot.MenuConfig.Normalized()
	if text == "" {
		text = cfg.WelcomeMessage
	}
	if text == cartieWelcome {
		text = cartieWelcomeLocalized.Resolve(t.session.Locale)
	}
	return t.adapter.SendReplyKeyboard(ctx, t.chatID(), text, cfg.Rows(t.session.Locale.OrDefault()))
}

// matchMenuButton finds the menu button whose label (any locale) equals the normalized input
func matchMenuButton(cfg domain.MenuConfig, input string) (domain.MenuButton, bool) {
	if input == "" {
		return domain.MenuButton{}, false
	}
	for _, b := range cfg.Normalized().Buttons {
		for _, label := range []string{b.Label, b.LabelUK, b.LabelRU} {
			if label != "" && normalizeInput(label) == input {
				return b, true
			}
		}
	}
	return domain.MenuButton{}, false
}

func (in *Interpreter) runMenuButton(ctx context.Context, t *turn, b domain.MenuButton) error {
	switch b.Type {
	case domain.MenuButtonScenario:
		return in.startScenario(ctx, t, b.Value)
	case domain.MenuButtonLink:
		return t.say(ctx, "🔗 "+b.Value)
	default:
		text := b.Value
		if text == "" {
			text = "Info"
		}
		return t.say(ctx, text)
	}
}
