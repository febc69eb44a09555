package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/command"
	"botflow/internal/core/domain"
)

const (
	searchThreshold   = 3
	searchResultLimit = 5
	defaultYearMin    = 2015

	draftSourceManual = "MANUAL"
	draftTitle        = "Scenario Post"
	inventoryInStock  = "AVAILABLE"
)

func msDuration(ms int) time.Duration {
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// ============================================================================
// ACTION nodes
// ============================================================================

func (in *Interpreter) runAction(ctx context.Context, t *turn, body domain.ActionBody, text string) error {
	session := t.session

	switch body.Action {
	case domain.ActionSetLang:
		selected := session.Var("language")
		if selected == "" {
			selected = session.Var("lang")
		}
		locale := domain.LocaleEN
		switch {
		case strings.Contains(selected, "Ukra") || strings.EqualFold(selected, "UK"):
			locale = domain.LocaleUK
		case strings.Contains(selected, "Russ") || strings.EqualFold(selected, "RU"):
			locale = domain.LocaleRU
		}
		session.Locale = locale
		session.SetVar("language", string(locale))

	case domain.ActionNormalizeRequest:
		raw := session.Var("brandRaw")
		brand, err := in.records.NormalizeBrand(ctx, raw)
		if err != nil {
			return fmt.Errorf("normalize brand: %w", err)
		}
		if brand == "" {
			brand = raw
		}
		session.SetVar("brand", brand)

	case domain.ActionCreateLead:
		name := session.Var("name")
		if name == "" {
			name = session.Var("first_name")
		}
		if _, err := in.records.CreateLead(ctx, &domain.Lead{
			Name:           name,
			Phone:          session.Var("phone"),
			Source:         domain.LeadSourceTelegram,
			TelegramChatID: session.ChatID,
			Status:         domain.LeadStatusNew,
			Language:       session.Locale,
		}); err != nil {
			return fmt.Errorf("create lead: %w", err)
		}

	case domain.ActionCreateRequest:
		req, err := in.records.CreateRequest(ctx, &domain.Request{
			Title:        strings.TrimSpace(session.Var("brand") + " " + session.Var("model")),
			YearMin:      domain.AtoiOr(session.Var("year"), 0),
			BudgetMax:    domain.AtoiOr(session.Var("budget"), 0),
			Description:  "Via Bot. User: " + session.Var("name"),
			Status:       domain.RequestStatusDraft,
			Source:       domain.PlatformTelegram,
			ClientChatID: session.ChatID,
		})
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		session.SetVar("requestId", req.Ref())

	case domain.ActionTagUser:
		if body.Tag == "" {
			return nil
		}
		if err := in.records.TagDestination(ctx, destinationID(session.ChatID), body.Tag); err != nil {
			return fmt.Errorf("tag user: %w", err)
		}
		session.SetVar("tags", appendTag(session.Variables["tags"], body.Tag))

	case domain.ActionNotifyAdmin:
		if text == "" {
			text = fmt.Sprintf("🔔 %s (%s) needs attention", session.Var("first_name"), session.ChatID)
		}
		return in.notifyAdmin(ctx, t, "Bot Notification", text)

	default:
		slog.Warn("Unknown action type", "action", body.Action, "chat_id", session.ChatID)
	}
	return nil
}

func appendTag(existing any, tag string) []any {
	var tags []any
	if list, ok := existing.([]any); ok {
		tags = append(tags, list...)
	}
	for _, v := range tags {
		if domain.ValueString(v) == tag {
			return tags
		}
	}
	return append(tags, tag)
}

// notifyAdmin posts to the bot's admin channel, or files an in-app notification
func (in *Interpreter) notifyAdmin(ctx context.Context, t *turn, title, text string) error {
	if t.bot.AdminChannelID != "" {
		_, err := t.adapter.SendText(ctx, t.bot.AdminChannelID, text)
		return err
	}
	return in.records.AddNotification(ctx, &domain.Notification{
		Type:      "INFO",
		Title:     title,
		Message:   text,
		CreatedAt: in.now(),
	})
}

func destinationID(chatID string) string {
	return "dest_" + chatID
}

// ============================================================================
// SEARCH_CARS / SEARCH_FALLBACK
// ============================================================================

func (in *Interpreter) searchCars(ctx context.Context, t *turn, externalOnly bool) error {
	session := t.session
	filter := domain.SearchFilter{
		Brand:    session.Var("brand"),
		Model:    session.Var("model"),
		PriceMax: domain.AtoiOr(session.Var("budget"), 0),
	}

	var results []domain.CarCard
	if !externalOnly {
		internal, err := in.records.SearchInventory(ctx, filter)
		if err != nil {
			return fmt.Errorf("inventory search: %w", err)
		}
		results = internal
	}

	if externalOnly || len(results) < searchThreshold {
		external, err := in.records.SearchExternal(ctx, filter)
		if err != nil {
			return fmt.Errorf("external search: %w", err)
		}
		if externalOnly {
			results = external
		} else {
			results = mergeResults(results, external)
		}
	}

	session.SetVar("found_count", len(results))
	if len(results) > searchResultLimit {
		results = results[:searchResultLimit]
	}
	session.TempResults = results
	return nil
}

// mergeResults appends external cars not already present, keyed by canonical id or source URL
func mergeResults(internal, external []domain.CarCard) []domain.CarCard {
	seen := make(map[string]struct{}, len(internal)+len(external))
	merged := append([]domain.CarCard(nil), internal...)
	for _, c := range internal {
		seen[c.DedupKey()] = struct{}{}
	}
	for _, c := range external {
		key := c.DedupKey()
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, c)
	}
	return merged
}

// ============================================================================
// Outbound posting nodes
// ============================================================================

func (in *Interpreter) channelPost(ctx context.Context, t *turn, sc *domain.Scenario, node *domain.Node, body domain.ChannelPostBody, text string) (step, error) {
	session := t.session
	destination := firstNonEmpty(body.Destination.Resolve(session.Variables), t.bot.ChannelID, t.bot.AdminChannelID)
	images := resolveImages(body.Image, session.Variables)

	if text == "" && len(session.TempResults) > 0 {
		text = carCaption(session.TempResults[0], session.Locale)
	}
	if destination == "" || text == "" {
		return waitStep, t.say(ctx, msgPostIncomplete)
	}

	draft := &domain.Draft{
		Source:      draftSourceManual,
		Title:       draftTitle,
		Description: text,
		Destination: destination,
		BotID:       t.bot.ID,
		Metadata:    map[string]string{"scenarioId": sc.ID, "nodeId": node.ID},
	}
	if len(images) > 0 {
		draft.ImageURL = images[0]
	}

	scheduled, err := in.scheduleDraft(ctx, t, draft, body.ScheduleAt)
	if err != nil || scheduled {
		return advanceOnSuccess(node, err)
	}

	switch {
	case len(images) > 1:
		err = t.adapter.SendMediaGroup(ctx, destination, images, text)
	case len(images) == 1:
		_, err = t.adapter.SendPhoto(ctx, destination, images[0], text)
	default:
		_, err = t.adapter.SendText(ctx, destination, text)
	}
	if err != nil {
		return step{}, fmt.Errorf("post to %s: %w", destination, err)
	}

	posted := in.now()
	draft.Status = domain.DraftPosted
	draft.PostedAt = &posted
	if err := in.records.CreateDraft(ctx, draft); err != nil {
		return step{}, fmt.Errorf("record posted draft: %w", err)
	}
	return advance(node), nil
}

func (in *Interpreter) requestBroadcast(ctx context.Context, t *turn, node *domain.Node, body domain.RequestBroadcastBody, text string) (step, error) {
	destination := firstNonEmpty(body.Destination.Resolve(t.session.Variables), t.bot.ChannelID)
	return in.postRequestLink(ctx, t, node, requestPost{
		destination: destination,
		requestVar:  body.RequestVar,
		text:        text,
		buttonText:  firstNonEmpty(body.ButtonText, defaultBroadcastLabel),
		scheduleAt:  body.ScheduleAt,
		link:        command.RequestLink,
		missingMsg:  msgBroadcastMissing,
		defaultText: requestSummary,
	})
}

func (in *Interpreter) offerCollect(ctx context.Context, t *turn, node *domain.Node, body domain.OfferCollectBody, text string) (step, error) {
	vars := t.session.Variables
	destination := body.Destination.Literal
	if destination == "" && body.DealerChatVar != "" {
		destination = domain.VarString(vars, body.DealerChatVar)
	}
	if destination == "" && body.Destination.Var != "" {
		destination = domain.VarString(vars, body.Destination.Var)
	}
	return in.postRequestLink(ctx, t, node, requestPost{
		destination: destination,
		requestVar:  body.RequestVar,
		text:        text,
		buttonText:  firstNonEmpty(body.ButtonText, defaultOfferLabel),
		scheduleAt:  body.ScheduleAt,
		link:        func(ref string) command.DeepLink { return command.OfferLink(ref, "") },
		missingMsg:  msgOfferMissing,
		defaultText: func(req *domain.Request) string {
			return strings.TrimSpace("💰 Запит: " + req.Title + "\n" + req.Description)
		},
	})
}

type requestPost struct {
	destination string
	requestVar  string
	text        string
	buttonText  string
	scheduleAt  domain.Ref
	link        func(ref string) command.DeepLink
	missingMsg  string
	defaultText func(*domain.Request) string
}

// postRequestLink sends a request summary with a deep-link button into the bot
func (in *Interpreter) postRequestLink(ctx context.Context, t *turn, node *domain.Node, p requestPost) (step, error) {
	session := t.session
	requestVar := firstNonEmpty(p.requestVar, "requestId")
	ref := firstNonEmpty(session.Var(requestVar), session.Var("requestId"), session.Var("requestPublicId"))
	if p.destination == "" || ref == "" || t.bot.Username == "" {
		return waitStep, t.say(ctx, p.missingMsg)
	}

	req, err := in.records.FindRequest(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return waitStep, t.say(ctx, msgRequestNotFound)
	}
	if err != nil {
		return step{}, fmt.Errorf("find request %s: %w", ref, err)
	}

	text := p.text
	if text == "" {
		text = p.defaultText(req)
	}
	link := command.BuildURL(t.bot.Username, p.link(req.Ref()))

	draft := &domain.Draft{
		Source:      draftSourceManual,
		Title:       draftTitle,
		Description: text,
		Destination: p.destination,
		BotID:       t.bot.ID,
		ButtonText:  p.buttonText,
		ButtonURL:   link,
		Metadata:    map[string]string{"requestId": req.ID, "nodeId": node.ID},
	}
	scheduled, err := in.scheduleDraft(ctx, t, draft, p.scheduleAt)
	if err != nil || scheduled {
		return advanceOnSuccess(node, err)
	}

	buttons := []domain.LinkButton{{Text: p.buttonText, URL: link}}
	if _, err := t.adapter.SendLinkButtons(ctx, p.destination, text, buttons); err != nil {
		return step{}, fmt.Errorf("post to %s: %w", p.destination, err)
	}
	return advance(node), nil
}

// scheduleDraft stores the draft as SCHEDULED when the node resolves a schedule time
func (in *Interpreter) scheduleDraft(ctx context.Context, t *turn, draft *domain.Draft, at domain.Ref) (bool, error) {
	raw := strings.TrimSpace(at.Resolve(t.session.Variables))
	if raw == "" {
		return false, nil
	}
	when, err := parseScheduleTime(raw)
	if err != nil {
		return false, err
	}
	draft.Status = domain.DraftScheduled
	draft.ScheduledAt = &when
	if err := in.records.CreateDraft(ctx, draft); err != nil {
		return false, fmt.Errorf("schedule draft: %w", err)
	}
	return true, t.say(ctx, msgPostScheduled)
}

func parseScheduleTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid schedule time %q", raw)
}

func advanceOnSuccess(node *domain.Node, err error) (step, error) {
	if err != nil {
		return step{}, err
	}
	return advance(node), nil
}

// resolveImages returns the image URLs of a node: a literal or variable holding
// one URL, a comma/space separated list, or a list value
func resolveImages(ref domain.Ref, vars map[string]any) []string {
	if ref.Literal == "" && ref.Var != "" {
		if list, ok := vars[ref.Var].([]any); ok {
			var urls []string
			for _, v := range list {
				if s := strings.TrimSpace(domain.ValueString(v)); s != "" {
					urls = append(urls, s)
				}
			}
			return urls
		}
	}
	return strings.FieldsFunc(ref.Resolve(vars), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ============================================================================
// CAR callbacks
// ============================================================================

func (in *Interpreter) selectCar(ctx context.Context, t *turn, carID string) error {
	session := t.session
	title := carID
	if car, err := in.records.GetInventoryItem(ctx, carID); err == nil && car != nil {
		title = car.Title
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load car %s: %w", carID, err)
	}

	name := firstNonEmpty(session.Var("name"), "User "+session.ChatID)
	if _, err := in.records.CreateLead(ctx, &domain.Lead{
		Name:           name,
		Phone:          session.Var("phone"),
		Source:         domain.LeadSourceTelegram,
		TelegramChatID: session.ChatID,
		Goal:           "Selected: " + title,
		Status:         domain.LeadStatusNew,
		Language:       session.Locale,
	}); err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return t.say(ctx, msgCarSelected.Resolve(session.Locale))
}

func (in *Interpreter) addCarToRequest(ctx context.Context, t *turn, carID string) error {
	session := t.session
	locale := session.Locale

	ref := firstNonEmpty(session.Var("requestId"), session.Var("requestPublicId"))
	if ref == "" {
		return t.say(ctx, msgNoActiveRequest.Resolve(locale))
	}
	req, err := in.records.FindRequest(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return t.say(ctx, msgNoActiveRequest.Resolve(locale))
	}
	if err != nil {
		return fmt.Errorf("find request %s: %w", ref, err)
	}

	car, err := in.findCar(ctx, t, carID)
	if err != nil {
		return err
	}
	if car == nil {
		return t.say(ctx, msgCarNotFound)
	}

	if err := in.records.AddVariant(ctx, req.ID, car.AsVariant()); err != nil {
		return fmt.Errorf("add variant: %w", err)
	}
	return t.say(ctx, msgAddedToRequest.Resolve(locale))
}

func (in *Interpreter) addCarToCatalog(ctx context.Context, t *turn, carID string) error {
	locale := t.session.Locale
	existing, err := in.records.GetInventoryItem(ctx, carID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("load car %s: %w", carID, err)
	}
	if existing != nil {
		return t.say(ctx, msgAlreadyInStock.Resolve(locale))
	}

	car, ok := tempResult(t.session, carID)
	if !ok {
		return t.say(ctx, msgCarNotFound)
	}
	car.Status = inventoryInStock
	if err := in.records.SaveInventoryItem(ctx, car); err != nil {
		return fmt.Errorf("save inventory item: %w", err)
	}
	return t.say(ctx, msgAddedToCatalog.Resolve(locale))
}

// findCar looks in the session's search results first, then the inventory
func (in *Interpreter) findCar(ctx context.Context, t *turn, carID string) (*domain.CarCard, error) {
	if car, ok := tempResult(t.session, carID); ok {
		return &car, nil
	}
	car, err := in.records.GetInventoryItem(ctx, carID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load car %s: %w", carID, err)
	}
	return car, nil
}

func tempResult(session *domain.Session, carID string) (domain.CarCard, bool) {
	for _, c := range session.TempResults {
		if c.CanonicalID == carID {
			return c, true
		}
	}
	return domain.CarCard{}, false
}

// ============================================================================
// Mini-app payloads
// ============================================================================

// handleWebApp runs mini-app submissions. It reports false for payloads it does not
// understand so they fall through to normal classification.
func (in *Interpreter) handleWebApp(ctx context.Context, t *turn, data string) (bool, error) {
	payload, err := dto.ParseWebAppPayload(data)
	if err != nil {
		slog.Warn("Failed to parse web app data", "error", err, "chat_id", t.chatID())
		return false, nil
	}

	switch payload.NormalizedType() {
	case dto.WebAppRunScenario:
		if payload.ScenarioID == "" {
			return false, nil
		}
		return true, in.startScenario(ctx, t, payload.ScenarioID)
	case dto.WebAppLead:
		return true, in.submitWebAppLead(ctx, t, payload)
	}
	return false, nil
}

func (in *Interpreter) submitWebAppLead(ctx context.Context, t *turn, p *dto.WebAppPayload) error {
	session := t.session
	if p.Name != "" {
		session.SetVar("name", p.Name)
	}
	if p.Phone != "" {
		session.SetVar("phone", p.Phone)
	}
	if p.Lang != "" {
		session.Locale = domain.Locale(strings.ToUpper(p.Lang))
		session.SetVar("language", string(session.Locale))
	}

	lead := &domain.Lead{
		Name:           firstNonEmpty(p.Name, session.Var("first_name"), "Client"),
		Phone:          p.Phone,
		Source:         domain.LeadSourceTelegram,
		TelegramChatID: session.ChatID,
		Status:         domain.LeadStatusNew,
		Language:       session.Locale,
	}
	if p.CarID != "" {
		lead.Goal = "MiniApp: " + p.CarID
	}
	created, err := in.records.CreateLead(ctx, lead)
	if err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	if created == nil {
		created = lead
	}

	preset := p.Preset()
	title := ""
	if preset.Brand != "" {
		title = strings.TrimSpace(preset.Brand + " " + preset.Model)
	}
	if title == "" && p.CarID != "" {
		car, err := in.records.GetInventoryItem(ctx, p.CarID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load car %s: %w", p.CarID, err)
		}
		if car != nil {
			title = car.Title
		}
	}

	if title != "" {
		yearMin := int(preset.Year)
		if yearMin == 0 {
			yearMin = defaultYearMin
		}
		req, err := in.records.CreateRequest(ctx, &domain.Request{
			Title:        title,
			YearMin:      yearMin,
			BudgetMax:    int(preset.Budget),
			Description:  "Via MiniApp. Lead: " + firstNonEmpty(created.ID, created.Name),
			Status:       domain.RequestStatusDraft,
			Source:       domain.PlatformTelegram,
			ClientChatID: session.ChatID,
		})
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		session.SetVar("requestId", req.Ref())
	}

	lines := []string{"📥 <b>MiniApp Lead</b>"}
	if p.Name != "" {
		lines = append(lines, "👤 "+p.Name)
	}
	if preset.Brand != "" || preset.Model != "" {
		lines = append(lines, "🚗 "+title)
	}
	if preset.Budget > 0 {
		lines = append(lines, fmt.Sprintf("💰 Budget: %d", preset.Budget))
	}
	if preset.Year > 0 {
		lines = append(lines, fmt.Sprintf("🗓 Year: %d+", preset.Year))
	}
	if p.CarID != "" {
		lines = append(lines, "🔎 Car ID: "+p.CarID)
	}
	if err := in.notifyAdmin(ctx, t, "MiniApp Lead", strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("notify admin: %w", err)
	}

	if err := t.say(ctx, msgRequestReceived.Resolve(session.Locale)); err != nil {
		return err
	}
	return in.sendMainMenu(ctx, t, "")
}
