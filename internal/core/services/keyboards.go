package services

import (
	"regexp"
	"strconv"
	"strings"

	"botflow/internal/core/command"
	"botflow/internal/core/domain"
)

// choiceKeyboard lays choices two per row with a Back/Cancel row at the bottom
func choiceKeyboard(choices []domain.Choice, locale domain.Locale) domain.InlineKeyboard {
	var kb domain.InlineKeyboard
	for i := 0; i < len(choices); i += 2 {
		row := []domain.InlineButton{choiceButton(choices[i], locale)}
		if i+1 < len(choices) {
			row = append(row, choiceButton(choices[i+1], locale))
		}
		kb = append(kb, row)
	}
	kb = append(kb, []domain.InlineButton{
		{Text: labelBack.Resolve(locale), CallbackData: command.Cmd(command.ActionBack).String()},
		{Text: labelCancel.Resolve(locale), CallbackData: command.Cmd(command.ActionCancel).String()},
	})
	return kb
}

func choiceButton(c domain.Choice, locale domain.Locale) domain.InlineButton {
	return domain.InlineButton{
		Text:         c.Labels().Resolve(locale),
		CallbackData: command.Choice(c.Value).String(),
	}
}

// menuReplyRows lays choice labels two per row with a Back/Menu row at the bottom
func menuReplyRows(choices []domain.Choice, locale domain.Locale) [][]string {
	var rows [][]string
	for i := 0; i < len(choices); i += 2 {
		row := []string{choices[i].Labels().Resolve(locale)}
		if i+1 < len(choices) {
			row = append(row, choices[i+1].Labels().Resolve(locale))
		}
		rows = append(rows, row)
	}
	return append(rows, []string{labelBack.Resolve(locale), labelMenu.Resolve(locale)})
}

// matchChoice finds the choice selected by input. Callbacks match by value only;
// typed text also matches the default or localized label.
func matchChoice(choices []domain.Choice, input string, locale domain.Locale, isCallback bool) (domain.Choice, bool) {
	norm := normalizeInput(input)
	for _, c := range choices {
		if c.Value == input {
			return c, true
		}
		if isCallback {
			continue
		}
		if normalizeInput(c.Label) == norm {
			return c, true
		}
		var localized string
		switch locale.OrDefault() {
		case domain.LocaleUK:
			localized = c.LabelUK
		case domain.LocaleRU:
			localized = c.LabelRU
		}
		if localized != "" && normalizeInput(localized) == norm {
			return c, true
		}
	}
	return domain.Choice{}, false
}

// ============================================================================
// Car cards
// ============================================================================

var yearInTitle = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// carCaption renders a car as an HTML caption
func carCaption(car domain.CarCard, locale domain.Locale) string {
	title := strings.TrimSpace(whitespaceRun.ReplaceAllString(yearInTitle.ReplaceAllString(car.Title, ""), " "))
	header := title
	if car.Year > 0 {
		header = strings.TrimSpace(title + " " + strconv.Itoa(car.Year))
	}
	if header == "" {
		header = car.Title
	}

	parts := []string{"🚗 <b>" + strings.ToUpper(header) + "</b>"}
	if car.Mileage > 0 {
		km := (car.Mileage + 500) / 1000
		parts = append(parts, "🛣 "+strconv.Itoa(km)+" "+labelKilometers.Resolve(locale))
	}
	if s := car.Specs; s != nil {
		if s.Engine != "" {
			parts = append(parts, "⚙️ "+s.Engine)
		}
		if s.Drive != "" {
			parts = append(parts, "🛞 "+s.Drive)
		}
		if s.Transmission != "" {
			parts = append(parts, "🕹 "+s.Transmission)
		}
		if s.VIN != "" {
			parts = append(parts, "🔑 VIN: "+s.VIN)
		}
	}
	if car.Price != nil && car.Price.Amount > 0 {
		parts = append(parts, "💰 "+groupThousands(int64(car.Price.Amount))+" "+car.Price.Currency)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// carKeyboard offers add-to-request, add-to-catalog and a source link
func carKeyboard(car domain.CarCard, locale domain.Locale) domain.InlineKeyboard {
	kb := domain.InlineKeyboard{
		{{Text: labelAddToRequest.Resolve(locale), CallbackData: command.Car(command.ActionAddRequest, car.CanonicalID).String()}},
	}
	second := []domain.InlineButton{
		{Text: labelToCatalog.Resolve(locale), CallbackData: command.Car(command.ActionAddCatalog, car.CanonicalID).String()},
	}
	if car.SourceURL != "" {
		second = append(second, domain.InlineButton{Text: labelOpenSource.Resolve(locale), URL: car.SourceURL})
	}
	return append(kb, second)
}

// carRecordCard prepares a car for the adapter; only http(s) thumbnails are sent as photos
func carRecordCard(car domain.CarCard, locale domain.Locale) domain.RecordCard {
	card := domain.RecordCard{
		Caption:  carCaption(car, locale),
		Keyboard: carKeyboard(car, locale),
	}
	if strings.HasPrefix(car.Thumbnail, "http") {
		card.PhotoURL = car.Thumbnail
	}
	return card
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// requestSummary is the default broadcast text for a request
func requestSummary(req *domain.Request) string {
	title := req.Title
	if title == "" {
		title = "Car Request"
	}
	budget := "Open"
	if req.BudgetMax > 0 {
		budget = groupThousands(int64(req.BudgetMax))
	}
	year := "Any"
	if req.YearMin > 0 {
		year = strconv.Itoa(req.YearMin)
	}
	desc := req.Description
	if desc == "" {
		desc = "No special requirements"
	}
	return "🆘 <b>Looking for Car!</b>\n\n🚙 " + title +
		"\n💰 Budget: up to " + budget +
		"\n📅 Year: " + year + "+" +
		"\n\n📝 Reqs: " + desc +
		"\n\nTap below if you have it! 👇"
}
