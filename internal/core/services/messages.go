package services

import (
	"fmt"
	"regexp"
	"strings"

	"botflow/internal/core/domain"
)

// ============================================================================
// User-facing phrases (default / UK / RU)
// ============================================================================

var (
	msgNothingToGoBack = domain.LocalizedText{Default: "Nothing to go back to.", UK: "Нікуди повертатися.", RU: "Некуда возвращаться."}
	msgUseButtons      = domain.LocalizedText{Default: "Please use the buttons provided.", UK: "Будь ласка, оберіть опцію з меню.", RU: "Пожалуйста, выберите опцию."}
	msgSessionExpired  = domain.LocalizedText{Default: "⚠️ Session expired. Resetting...", UK: "⚠️ Сесія минула. Скидання..."}
	msgRequestReceived = domain.LocalizedText{Default: "✅ Request received!", UK: "✅ Ваша заявка прийнята!", RU: "✅ Ваша заявка принята!"}
	msgCarSelected     = domain.LocalizedText{Default: "✅ Request received!", UK: "✅ Заявку прийнято!"}
	msgNoActiveRequest = domain.LocalizedText{Default: "⚠️ No active request to attach this car.", UK: "⚠️ Немає активного запиту для додавання авто."}
	msgAddedToRequest  = domain.LocalizedText{Default: "✅ Added to request.", UK: "✅ Додано в запит."}
	msgAlreadyInStock  = domain.LocalizedText{Default: "ℹ️ Car is already in catalog.", UK: "ℹ️ Авто вже в каталозі."}
	msgAddedToCatalog  = domain.LocalizedText{Default: "✅ Added to catalog.", UK: "✅ Додано в каталог."}
	msgWelcomeBack     = domain.LocalizedText{Default: "👋 Welcome back, %s!", UK: "👋 З поверненням, %s!"}
	msgDealerInvite    = domain.LocalizedText{Default: "👋 Welcome! You've been invited to join as a Partner.", UK: "👋 Вітаємо! Вас запрошено приєднатися як Партнера."}
	msgViewingRequest  = domain.LocalizedText{Default: "📄 Viewing Request #%s", UK: "📄 Ви переглядаєте запит #%s"}
	msgViewingOffer    = domain.LocalizedText{Default: "💰 Viewing Offer #%s", UK: "💰 Перегляд пропозиції #%s"}

	labelBack   = domain.LocalizedText{Default: "⬅️ Back", UK: "⬅️ Назад", RU: "⬅️ Назад"}
	labelCancel = domain.LocalizedText{Default: "❌ Cancel", UK: "❌ Відміна", RU: "❌ Отмена"}
	labelMenu   = domain.LocalizedText{Default: "🏠 Menu", UK: "🏠 Меню", RU: "🏠 Меню"}

	labelAddToRequest = domain.LocalizedText{Default: "➕ Add to Request", UK: "➕ Додати в запит", RU: "➕ Добавить в запрос"}
	labelToCatalog    = domain.LocalizedText{Default: "📋 To Catalog", UK: "📋 В каталог", RU: "📋 В каталог"}
	labelOpenSource   = domain.LocalizedText{Default: "🔗 Open Source (URL)", UK: "🔗 Відкрити джерело (URL)", RU: "🔗 Открыть источник (URL)"}
	labelKilometers   = domain.LocalizedText{Default: "km", UK: "км", RU: "км"}
)

// Locale-independent phrases
const (
	msgWelcome          = "👋 Welcome!"
	msgCancelled        = "🚫 Cancelled."
	msgContactSaved     = "Thanks! Contact saved."
	msgSystemError      = "⚠️ System Error. Returning to menu."
	msgScenarioNotFound = "⚠️ Scenario not found."
	msgCarNotFound      = "⚠️ Car not found."
	msgRequestNotFound  = "⚠️ Request not found."
	msgPostScheduled    = "✅ Post scheduled."
	msgPostIncomplete   = "⚠️ Channel post missing destination or text."
	msgBroadcastMissing = "⚠️ Broadcast missing destination, requestId, or bot username."
	msgOfferMissing     = "⚠️ Offer collect missing destination, requestId, or bot username."

	defaultFriendName     = "Friend"
	defaultBroadcastLabel = "💼 Подати пропозицію"
	defaultOfferLabel     = "💰 Надіслати пропозицію"

	cartieWelcome = "👋 Welcome to CarTié! Choose an option below:"
)

var cartieWelcomeLocalized = domain.LocalizedText{
	Default: cartieWelcome,
	UK:      "👋 Вітаємо в CarTié! Оберіть опцію нижче:",
	RU:      "👋 Добро пожаловать в CarTié! Выберите опцию ниже:",
}

// Command aliases, compared against normalized input
var (
	menuAliases   = []string{"/menu", "menu", "🏠 menu", "cmd:menu", "main menu"}
	backAliases   = []string{"/back", "back", "⬅️ back", "cmd:back"}
	cancelAliases = []string{"/cancel", "cancel", "❌ cancel", "cmd:cancel"}
)

// contactMarker is the synthetic input fed to the current node when a contact is shared
const contactMarker = "[CONTACT]"

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeInput trims, lower-cases and collapses whitespace
func normalizeInput(text string) string {
	return whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}

func isOneOf(input string, aliases []string) bool {
	for _, a := range aliases {
		if input == a {
			return true
		}
	}
	return false
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// interpolate replaces {name} tokens with session variables; missing names render empty
func interpolate(text string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		return domain.VarString(vars, token[1:len(token)-1])
	})
}

func localizedf(t domain.LocalizedText, locale domain.Locale, args ...any) string {
	return fmt.Sprintf(t.Resolve(locale), args...)
}
