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
	"botflow/internal/core/ports"
)

const (
	// DefaultMaxSteps bounds auto-advancing nodes executed for one inbound update
	DefaultMaxSteps = 64

	startBurstWindow = 2 * time.Second
	galleryLimit     = 5
	galleryPause     = 600 * time.Millisecond
	langTrigger      = "lang"
)

// ErrStepLimit is returned when a turn auto-advances through too many nodes
var ErrStepLimit = errors.New("auto-advance step limit exceeded")

// UpdateHandler consumes one classified inbound update for a private chat
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, bot *domain.Bot, adapter ports.PlatformAdapter, update *dto.TelegramUpdate) error
}

// Ensure Interpreter implements UpdateHandler
var _ UpdateHandler = (*Interpreter)(nil)

// Interpreter drives per-chat dialogue sessions through scenario graphs
type Interpreter struct {
	scenarios ports.ScenarioRepository
	sessions  ports.SessionStore
	records   ports.RecordStore
	activity  ports.ActivityLog

	maxSteps int
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// InterpreterOption customizes an Interpreter
type InterpreterOption func(*Interpreter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) InterpreterOption {
	return func(in *Interpreter) { in.now = now }
}

// WithSleeper replaces the context-aware sleep used by DELAY and GALLERY
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) InterpreterOption {
	return func(in *Interpreter) { in.sleep = sleep }
}

// WithMaxSteps overrides DefaultMaxSteps
func WithMaxSteps(n int) InterpreterOption {
	return func(in *Interpreter) {
		if n > 0 {
			in.maxSteps = n
		}
	}
}

// NewInterpreter creates a new interpreter with dependencies injected
func NewInterpreter(
	scenarios ports.ScenarioRepository,
	sessions ports.SessionStore,
	records ports.RecordStore,
	activity ports.ActivityLog,
	opts ...InterpreterOption,
) *Interpreter {
	in := &Interpreter{
		scenarios: scenarios,
		sessions:  sessions,
		records:   records,
		activity:  activity,
		maxSteps:  DefaultMaxSteps,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// turn is the state of one inbound update being handled
type turn struct {
	bot     *domain.Bot
	adapter ports.PlatformAdapter
	session *domain.Session
	update  *dto.TelegramUpdate
}

func (t *turn) chatID() string        { return t.session.ChatID }
func (t *turn) locale() domain.Locale { return t.session.Locale.OrDefault() }

func (t *turn) say(ctx context.Context, text string) error {
	_, err := t.adapter.SendText(ctx, t.session.ChatID, text)
	return err
}

// HandleUpdate processes one update for a private chat.
// The session is loaded once and written back once, whatever happens in between.
func (in *Interpreter) HandleUpdate(ctx context.Context, bot *domain.Bot, adapter ports.PlatformAdapter, update *dto.TelegramUpdate) (err error) {
	chatID := update.ChatID()
	user := update.Sender()
	if chatID == "" || user == nil {
		return nil
	}

	session, err := in.sessions.Get(ctx, bot.ID, chatID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		session = domain.NewSession(bot.ID, chatID)
	}
	session.EnsureDefaults()
	session.SetVar("first_name", user.FirstName)
	session.SetVar("username", user.Username)

	t := &turn{bot: bot, adapter: adapter, session: session, update: update}

	defer func() {
		session.LastMessageAt = in.now()
		session.MessageCount++
		if saveErr := in.sessions.Put(ctx, session); saveErr != nil {
			slog.Error("Failed to save session",
				"error", saveErr,
				"bot_id", bot.ID,
				"chat_id", chatID,
			)
			if err == nil {
				err = fmt.Errorf("save session: %w", saveErr)
			}
		}
	}()

	if err = in.dispatch(ctx, t); err != nil {
		slog.Error("Session error",
			"error", err,
			"bot_id", bot.ID,
			"chat_id", chatID,
		)
		in.recordActivity(ctx, bot.ID, domain.ActivityBotException, err.Error(), "ERROR")
		in.apologize(ctx, t)
	}
	return err
}

// dispatch classifies the update, first match wins
func (in *Interpreter) dispatch(ctx context.Context, t *turn) error {
	session := t.session
	inputRaw := t.update.InputText()
	input := normalizeInput(inputRaw)
	isStart := input == "/start" || strings.HasPrefix(input, "/start ")

	// ========================================================================
	// Priority 1: Mini-app payload
	// ========================================================================
	if msg := t.update.Message; msg != nil && msg.WebAppData != nil {
		handled, err := in.handleWebApp(ctx, t, msg.WebAppData.Data)
		if handled || err != nil {
			return err
		}
	}

	// ========================================================================
	// Locale enforcement: users without a language go through the locale scenario
	// ========================================================================
	hasLanguage := session.HasLanguage()
	if session.Locale != "" && session.Var("language") == "" {
		session.SetVar("language", string(session.Locale))
	}
	if !hasLanguage && !isStart {
		langScenario, err := in.scenarios.FindByTrigger(ctx, langTrigger)
		if err != nil {
			return fmt.Errorf("find locale scenario: %w", err)
		}
		if langScenario != nil && session.ActiveScenarioID != langScenario.ID {
			return in.startScenario(ctx, t, langScenario.ID)
		}
	}

	// ========================================================================
	// Priority 2: Global commands
	// ========================================================================
	switch {
	case isStart:
		return in.handleStart(ctx, t, hasLanguage)
	case isOneOf(input, menuAliases):
		session.ResetFlow()
		return in.sendMainMenu(ctx, t, "")
	case isOneOf(input, backAliases):
		return in.goBack(ctx, t)
	case isOneOf(input, cancelAliases):
		return in.cancel(ctx, t)
	}

	// ========================================================================
	// Priority 3: Menu button labels (typed or tapped on the reply keyboard)
	// ========================================================================
	if !t.update.IsCallback() {
		if button, ok := matchMenuButton(t.bot.MenuConfig, input); ok {
			session.ResetFlow()
			return in.runMenuButton(ctx, t, button)
		}
	}

	// ========================================================================
	// Priority 4: Inline button callbacks
	// ========================================================================
	if cq := t.update.CallbackQuery; cq != nil {
		if err := t.adapter.AnswerCallback(ctx, cq.ID, ""); err != nil {
			slog.Debug("Failed to answer callback", "error", err, "callback_id", cq.ID)
		}
		return in.handleCallback(ctx, t, cq.Data)
	}

	// ========================================================================
	// Priority 5: Shared contact
	// ========================================================================
	if msg := t.update.Message; msg != nil && msg.Contact != nil {
		session.SetVar("phone", msg.Contact.PhoneNumber)
		handled, err := in.handleInput(ctx, t, contactMarker, false)
		if err != nil || handled {
			return err
		}
		return in.sendMainMenu(ctx, t, msgContactSaved)
	}

	// ========================================================================
	// Priority 6: Free text for the current node, else keyword routing
	// ========================================================================
	if inputRaw == "" {
		return nil
	}
	handled, err := in.handleInput(ctx, t, inputRaw, false)
	if err != nil || handled {
		return err
	}
	if session.ActiveScenarioID != "" {
		if sc, node, ok := in.currentNode(ctx, t); ok {
			if _, isChoice := node.Body.(domain.QuestionChoiceBody); isChoice {
				if err := t.say(ctx, msgUseButtons.Resolve(t.locale())); err != nil {
					return err
				}
				return in.runFrom(ctx, t, sc, node.ID, true)
			}
		}
	}
	return in.matchKeywords(ctx, t, input)
}

func (in *Interpreter) handleStart(ctx context.Context, t *turn, hasLanguage bool) error {
	session := t.session
	if !session.LastMessageAt.IsZero() && in.now().Sub(session.LastMessageAt) < startBurstWindow {
		slog.Info("Ignoring /start burst", "bot_id", t.bot.ID, "chat_id", t.chatID())
		return nil
	}
	session.ResetFlow()

	var greeting string
	if link, ok := command.ParseStart(t.update.InputText()); ok {
		if !link.Known() {
			slog.Info("Unknown deep link", "payload", link.Raw, "bot_id", t.bot.ID, "chat_id", t.chatID())
		}
		greeting = applyDeepLink(session, link)
	}

	name := session.Var("first_name")
	if name == "" {
		name = defaultFriendName
	}

	if hasLanguage {
		if greeting == "" {
			greeting = localizedf(msgWelcomeBack, session.Locale, name)
		}
		return in.sendMainMenu(ctx, t, greeting)
	}

	langScenario, err := in.scenarios.FindByTrigger(ctx, langTrigger)
	if err != nil {
		return fmt.Errorf("find locale scenario: %w", err)
	}
	if langScenario != nil {
		return in.startScenario(ctx, t, langScenario.ID)
	}
	if greeting == "" {
		greeting = msgWelcome
	}
	return in.sendMainMenu(ctx, t, greeting)
}

// applyDeepLink binds deep-link values into the session and returns the greeting to show
func applyDeepLink(session *domain.Session, link command.DeepLink) string {
	session.SetVar("start_payload", link.Raw)
	if !link.Known() {
		return ""
	}

	var greeting string
	switch link.Key {
	case command.LinkDealerInvite:
		session.SetVar("role", "DEALER")
		session.SetVar("dealerId", link.Value)
		session.SetVar("dealer_invite_id", link.Value)
		if link.Extra != "" {
			session.SetVar("requestId", link.Extra)
		}
		greeting = msgDealerInvite.Resolve(session.Locale)
	case command.LinkRequest:
		session.SetVar("role", "DEALER")
		session.SetVar("requestId", link.Value)
		session.SetVar("requestPublicId", link.Value)
		session.SetVar("ref_request_id", link.Value)
		greeting = localizedf(msgViewingRequest, session.Locale, link.Value)
	case command.LinkOffer:
		session.SetVar("role", "DEALER")
		session.SetVar("requestId", link.Value)
		if link.Extra != "" {
			session.SetVar("offerId", link.Extra)
		}
		session.SetVar("ref_offer_id", link.Value)
		greeting = localizedf(msgViewingOffer, session.Locale, link.Value)
	}
	return greeting
}

func (in *Interpreter) handleCallback(ctx context.Context, t *turn, data string) error {
	cb, ok := command.ParseCallback(data)
	if !ok {
		slog.Debug("Ignoring malformed callback", "data", data, "chat_id", t.chatID())
		return nil
	}

	switch {
	case cb.Is(command.NamespaceScenario, command.ActionChoice):
		handled, err := in.handleInput(ctx, t, cb.Arg, true)
		if err != nil || handled {
			return err
		}
		if err := t.say(ctx, msgSessionExpired.Resolve(t.locale())); err != nil {
			return err
		}
		t.session.ResetFlow()
		return in.sendMainMenu(ctx, t, "")
	case cb.Is(command.NamespaceCar, command.ActionSelect):
		return in.selectCar(ctx, t, cb.Arg)
	case cb.Is(command.NamespaceCar, command.ActionAddRequest):
		return in.addCarToRequest(ctx, t, cb.Arg)
	case cb.Is(command.NamespaceCar, command.ActionAddCatalog):
		return in.addCarToCatalog(ctx, t, cb.Arg)
	case cb.Is(command.NamespaceCommand, command.ActionBack):
		return in.goBack(ctx, t)
	case cb.Is(command.NamespaceCommand, command.ActionCancel):
		return in.cancel(ctx, t)
	case cb.Is(command.NamespaceCommand, command.ActionMenu):
		t.session.ResetFlow()
		return in.sendMainMenu(ctx, t, "")
	}

	slog.Debug("Unhandled callback", "data", data, "chat_id", t.chatID())
	return nil
}

func (in *Interpreter) cancel(ctx context.Context, t *turn) error {
	t.session.ResetFlow()
	if err := t.say(ctx, msgCancelled); err != nil {
		return err
	}
	return in.sendMainMenu(ctx, t, "")
}

// goBack pops the history stack and replays the popped node
func (in *Interpreter) goBack(ctx context.Context, t *turn) error {
	session := t.session
	if session.ActiveScenarioID == "" || len(session.History) == 0 {
		if err := t.say(ctx, msgNothingToGoBack.Resolve(t.locale())); err != nil {
			return err
		}
		if session.ActiveScenarioID == "" {
			return in.sendMainMenu(ctx, t, "")
		}
		return nil
	}

	prev, _ := session.PopHistory()
	sc, err := in.scenarios.Get(ctx, session.ActiveScenarioID)
	if err != nil {
		if !errors.Is(err, domain.ErrScenarioNotFound) {
			return fmt.Errorf("load scenario %s: %w", session.ActiveScenarioID, err)
		}
		session.ResetFlow()
		return in.sendMainMenu(ctx, t, "")
	}
	return in.runFrom(ctx, t, sc, prev, true)
}

// handleInput offers input to the current node. It reports false when there is no
// current node or the node rejects the input.
func (in *Interpreter) handleInput(ctx context.Context, t *turn, input string, isCallback bool) (bool, error) {
	sc, node, ok := in.currentNode(ctx, t)
	if !ok {
		return false, nil
	}
	session := t.session

	switch body := node.Body.(type) {
	case domain.QuestionChoiceBody:
		return in.acceptChoice(ctx, t, sc, body.Choices, body.Variable, input, isCallback)
	case domain.MenuReplyBody:
		return in.acceptChoice(ctx, t, sc, body.Choices, body.Variable, input, isCallback)
	case domain.RequestContactBody:
		if input != contactMarker {
			if len([]rune(input)) <= 5 {
				return false, nil
			}
			session.SetVar("phone", input)
		}
		if node.NextNodeID == "" {
			return false, nil
		}
		return true, in.runFrom(ctx, t, sc, node.NextNodeID, false)
	case domain.QuestionTextBody:
		if body.Variable != "" {
			session.SetVar(body.Variable, input)
		}
	}

	if node.NextNodeID != "" {
		return true, in.runFrom(ctx, t, sc, node.NextNodeID, false)
	}
	session.ResetFlow()
	return true, in.sendMainMenu(ctx, t, "")
}

func (in *Interpreter) acceptChoice(ctx context.Context, t *turn, sc *domain.Scenario, choices []domain.Choice, variable, input string, isCallback bool) (bool, error) {
	choice, ok := matchChoice(choices, input, t.session.Locale, isCallback)
	if !ok || choice.NextNodeID == "" {
		return false, nil
	}
	if variable != "" {
		t.session.SetVar(variable, choice.Value)
	}
	return true, in.runFrom(ctx, t, sc, choice.NextNodeID, false)
}

// currentNode resolves the session's active scenario and node
func (in *Interpreter) currentNode(ctx context.Context, t *turn) (*domain.Scenario, *domain.Node, bool) {
	session := t.session
	if session.ActiveScenarioID == "" || session.CurrentNodeID == "" {
		return nil, nil, false
	}
	sc, err := in.scenarios.Get(ctx, session.ActiveScenarioID)
	if err != nil {
		if !errors.Is(err, domain.ErrScenarioNotFound) {
			slog.Warn("Failed to load active scenario",
				"error", err,
				"scenario_id", session.ActiveScenarioID,
			)
		}
		return nil, nil, false
	}
	node, ok := sc.Node(session.CurrentNodeID)
	if !ok {
		return nil, nil, false
	}
	return sc, node, true
}

func (in *Interpreter) matchKeywords(ctx context.Context, t *turn, input string) error {
	if input == "" {
		return nil
	}
	sc, err := in.scenarios.FindByKeyword(ctx, input)
	if err != nil {
		return fmt.Errorf("keyword lookup: %w", err)
	}
	if sc == nil {
		return nil
	}
	return in.startScenario(ctx, t, sc.ID)
}

// startScenario enters a scenario at its entry node
func (in *Interpreter) startScenario(ctx context.Context, t *turn, id string) error {
	sc, err := in.scenarios.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrScenarioNotFound) {
			return fmt.Errorf("load scenario %s: %w", id, err)
		}
		slog.Warn("Scenario not found", "scenario_id", id, "bot_id", t.bot.ID)
		if err := t.say(ctx, msgScenarioNotFound); err != nil {
			return err
		}
		t.session.ResetFlow()
		return in.sendMainMenu(ctx, t, "")
	}

	session := t.session
	session.ResetFlow()
	session.ActiveScenarioID = sc.ID
	return in.runFrom(ctx, t, sc, sc.EntryNodeID, false)
}

func (in *Interpreter) recordActivity(ctx context.Context, botID, action, details, level string) {
	if in.activity == nil {
		return
	}
	entry := &domain.ActivityEntry{
		BotID:     botID,
		Action:    action,
		Details:   details,
		Level:     level,
		CreatedAt: in.now(),
	}
	if err := in.activity.Record(ctx, entry); err != nil {
		slog.Warn("Failed to record activity", "error", err, "action", action)
	}
}
