package services

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockDedupRepository mocks DedupRepository interface
type MockDedupRepository struct {
	mock.Mock
}

func (m *MockDedupRepository) IsDuplicate(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedupRepository) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	args := m.Called(ctx, eventID, ttl)
	return args.Error(0)
}

// MockMessageLog mocks MessageLog interface
type MockMessageLog struct {
	mock.Mock
}

func (m *MockMessageLog) SaveInbound(ctx context.Context, msg *domain.InboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageLog) Purge(ctx context.Context, retention time.Duration, limit int) (int64, error) {
	args := m.Called(ctx, retention, limit)
	return args.Get(0).(int64), args.Error(1)
}

// MockUpdateHandler mocks UpdateHandler interface
type MockUpdateHandler struct {
	mock.Mock
}

func (m *MockUpdateHandler) HandleUpdate(ctx context.Context, bot *domain.Bot, adapter ports.PlatformAdapter, update *dto.TelegramUpdate) error {
	args := m.Called(ctx, bot, adapter, update)
	return args.Error(0)
}

// ============================================================================
// Recording fakes
// ============================================================================

// sent is one outbound call captured by fakeAdapter
type sent struct {
	Kind   string
	ChatID string
	Text   string
	Rows   [][]string
	Inline domain.InlineKeyboard
	Links  []domain.LinkButton
	Photo  string
}

type fakeAdapter struct {
	mu        sync.Mutex
	calls     []sent
	nextMsgID int64
	sendErr   error
	answered  []string
	files     map[string]string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{nextMsgID: 100, files: map[string]string{}}
}

func (a *fakeAdapter) record(s sent) (*domain.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.calls = append(a.calls, s)
	a.nextMsgID++
	return &domain.SendResult{MessageID: a.nextMsgID}, nil
}

func (a *fakeAdapter) Calls() []sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sent(nil), a.calls...)
}

func (a *fakeAdapter) Texts() []string {
	var out []string
	for _, c := range a.Calls() {
		out = append(out, c.Text)
	}
	return out
}

func (a *fakeAdapter) Last() sent {
	calls := a.Calls()
	if len(calls) == 0 {
		return sent{}
	}
	return calls[len(calls)-1]
}

func (a *fakeAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

func (a *fakeAdapter) SendText(_ context.Context, chatID, text string) (*domain.SendResult, error) {
	return a.record(sent{Kind: "text", ChatID: chatID, Text: text})
}

func (a *fakeAdapter) SendPhoto(_ context.Context, chatID, photoURL, caption string) (*domain.SendResult, error) {
	return a.record(sent{Kind: "photo", ChatID: chatID, Text: caption, Photo: photoURL})
}

func (a *fakeAdapter) SendMediaGroup(_ context.Context, chatID string, photoURLs []string, caption string) error {
	_, err := a.record(sent{Kind: "media_group", ChatID: chatID, Text: caption, Photo: photoURLs[0]})
	return err
}

func (a *fakeAdapter) SendChoiceKeyboard(_ context.Context, chatID, text string, kb domain.InlineKeyboard) error {
	_, err := a.record(sent{Kind: "choice", ChatID: chatID, Text: text, Inline: kb})
	return err
}

func (a *fakeAdapter) SendReplyKeyboard(_ context.Context, chatID, text string, rows [][]string) error {
	_, err := a.record(sent{Kind: "reply_keyboard", ChatID: chatID, Text: text, Rows: rows})
	return err
}

func (a *fakeAdapter) RemoveKeyboard(_ context.Context, chatID, text string) error {
	_, err := a.record(sent{Kind: "remove_keyboard", ChatID: chatID, Text: text})
	return err
}

func (a *fakeAdapter) SendContactRequest(_ context.Context, chatID, text string, _ domain.Locale) error {
	_, err := a.record(sent{Kind: "contact_request", ChatID: chatID, Text: text})
	return err
}

func (a *fakeAdapter) SendRecordCard(_ context.Context, chatID string, card domain.RecordCard) error {
	_, err := a.record(sent{Kind: "card", ChatID: chatID, Text: card.Caption, Inline: card.Keyboard, Photo: card.PhotoURL})
	return err
}

func (a *fakeAdapter) SendLinkButtons(_ context.Context, chatID, text string, buttons []domain.LinkButton) (*domain.SendResult, error) {
	return a.record(sent{Kind: "links", ChatID: chatID, Text: text, Links: buttons})
}

func (a *fakeAdapter) AnswerCallback(_ context.Context, callbackID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answered = append(a.answered, callbackID)
	return nil
}

func (a *fakeAdapter) ShowTyping(_ context.Context, _ string) error { return nil }

func (a *fakeAdapter) FetchFile(_ context.Context, fileID string) (string, error) {
	if url, ok := a.files[fileID]; ok {
		return url, nil
	}
	return "https://files.example/" + fileID, nil
}

// fakeGateway serves scripted getUpdates results per bot
type fakeGateway struct {
	mu      sync.Mutex
	adapter *fakeAdapter
	updates map[string][]dto.TelegramUpdate
	errs    map[string]error
	fetches map[string]int
	offsets map[string]int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		adapter: newFakeAdapter(),
		updates: map[string][]dto.TelegramUpdate{},
		errs:    map[string]error{},
		fetches: map[string]int{},
		offsets: map[string]int64{},
	}
}

func (g *fakeGateway) Adapter(*domain.Bot) ports.PlatformAdapter { return g.adapter }

func (g *fakeGateway) FetchUpdates(_ context.Context, bot *domain.Bot, offset int64) ([]dto.TelegramUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches[bot.ID]++
	g.offsets[bot.ID] = offset
	if err := g.errs[bot.ID]; err != nil {
		return nil, err
	}
	var out []dto.TelegramUpdate
	for _, u := range g.updates[bot.ID] {
		if u.UpdateID >= offset {
			out = append(out, u)
		}
	}
	return out, nil
}

func (g *fakeGateway) Fetches(botID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches[botID]
}

// memBots stores copies so callers cannot mutate state without Save
type memBots struct {
	mu    sync.Mutex
	bots  map[string]*domain.Bot
	order []string
	saves map[string]int
}

func newMemBots(bots ...*domain.Bot) *memBots {
	m := &memBots{bots: map[string]*domain.Bot{}, saves: map[string]int{}}
	for _, b := range bots {
		m.bots[b.ID] = cloneBot(b)
		m.order = append(m.order, b.ID)
	}
	return m
}

func cloneBot(b *domain.Bot) *domain.Bot {
	raw, err := json.Marshal(b)
	if err != nil {
		panic(err)
	}
	var out domain.Bot
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (m *memBots) List(context.Context) ([]*domain.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Bot
	for _, id := range m.order {
		out = append(out, cloneBot(m.bots[id]))
	}
	return out, nil
}

func (m *memBots) Get(_ context.Context, id string) (*domain.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBot(b), nil
}

func (m *memBots) Save(_ context.Context, bot *domain.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[bot.ID]; !ok {
		m.order = append(m.order, bot.ID)
	}
	m.bots[bot.ID] = cloneBot(bot)
	m.saves[bot.ID]++
	return nil
}

func (m *memBots) Saves(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[id]
}

func (m *memBots) Peek(id string) *domain.Bot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneBot(m.bots[id])
}

// memScenarios is a ScenarioRepository over a fixed set
type memScenarios struct {
	all domain.Scenarios
}

func (s *memScenarios) Get(_ context.Context, id string) (*domain.Scenario, error) {
	if sc, ok := s.all.ByID(id); ok {
		return sc, nil
	}
	return nil, domain.ErrScenarioNotFound
}

func (s *memScenarios) FindByTrigger(_ context.Context, command string) (*domain.Scenario, error) {
	if sc, ok := s.all.ByTrigger(command); ok {
		return sc, nil
	}
	return nil, nil
}

func (s *memScenarios) FindByKeyword(_ context.Context, input string) (*domain.Scenario, error) {
	if sc, ok := s.all.ByKeyword(input); ok {
		return sc, nil
	}
	return nil, nil
}

// memSessions keeps JSON copies, like the real stores
type memSessions struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemSessions() *memSessions {
	return &memSessions{data: map[string][]byte{}}
}

func (s *memSessions) Get(_ context.Context, botID, chatID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[botID+":"+chatID]
	if !ok {
		return nil, nil
	}
	var out domain.Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	out.EnsureDefaults()
	return &out, nil
}

func (s *memSessions) Put(_ context.Context, session *domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[session.BotID+":"+session.ChatID] = raw
	s.puts++
	return nil
}

func (s *memSessions) Clear(_ context.Context, botID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, botID+":"+chatID)
	return nil
}

// fakeRecords is an in-memory RecordStore
type fakeRecords struct {
	mu            sync.Mutex
	destinations  map[string]*domain.Destination
	tags          map[string][]string
	leads         []*domain.Lead
	requests      []*domain.Request
	variants      map[string][]domain.Variant
	inventory     []domain.CarCard
	external      []domain.CarCard
	saved         []domain.CarCard
	brands        map[string]string
	notifications []*domain.Notification
	drafts        []*domain.Draft
	updatedDrafts []*domain.Draft
	leadErr       error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		destinations: map[string]*domain.Destination{},
		tags:         map[string][]string{},
		variants:     map[string][]domain.Variant{},
		brands:       map[string]string{},
	}
}

func (r *fakeRecords) UpsertDestination(_ context.Context, dest *domain.Destination) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destinations[dest.ID] = dest
	return nil
}

func (r *fakeRecords) TagDestination(_ context.Context, destinationID, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[destinationID] = append(r.tags[destinationID], tag)
	return nil
}

func (r *fakeRecords) CreateLead(_ context.Context, lead *domain.Lead) (*domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leadErr != nil {
		return nil, r.leadErr
	}
	lead.ID = "lead_" + strconv.Itoa(len(r.leads)+1)
	r.leads = append(r.leads, lead)
	return lead, nil
}

func (r *fakeRecords) CreateRequest(_ context.Context, req *domain.Request) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = "req_" + strconv.Itoa(len(r.requests)+1)
	req.PublicID = "R-" + strconv.Itoa(len(r.requests)+1)
	r.requests = append(r.requests, req)
	return req, nil
}

func (r *fakeRecords) FindRequest(_ context.Context, ref string) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.ID == ref || req.PublicID == ref {
			return req, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRecords) AddVariant(_ context.Context, requestID string, variant domain.Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.variants[requestID] = append(r.variants[requestID], variant)
	return nil
}

func (r *fakeRecords) SearchInventory(context.Context, domain.SearchFilter) ([]domain.CarCard, error) {
	return r.inventory, nil
}

func (r *fakeRecords) GetInventoryItem(_ context.Context, canonicalID string) (*domain.CarCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range append(append([]domain.CarCard(nil), r.inventory...), r.saved...) {
		if c.CanonicalID == canonicalID {
			card := c
			return &card, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeRecords) SaveInventoryItem(_ context.Context, card domain.CarCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, card)
	return nil
}

func (r *fakeRecords) SearchExternal(context.Context, domain.SearchFilter) ([]domain.CarCard, error) {
	return r.external, nil
}

func (r *fakeRecords) NormalizeBrand(_ context.Context, raw string) (string, error) {
	return r.brands[raw], nil
}

func (r *fakeRecords) AddNotification(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *fakeRecords) CreateDraft(_ context.Context, draft *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	draft.ID = "draft_" + strconv.Itoa(len(r.drafts)+1)
	r.drafts = append(r.drafts, draft)
	return nil
}

func (r *fakeRecords) ListDueDrafts(_ context.Context, now time.Time) ([]*domain.Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Draft
	for _, d := range r.drafts {
		if d.Status == domain.DraftScheduled && (d.ScheduledAt == nil || !d.ScheduledAt.After(now)) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeRecords) UpdateDraft(_ context.Context, draft *domain.Draft) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updatedDrafts = append(r.updatedDrafts, draft)
	return nil
}

// memActivity collects activity entries
type memActivity struct {
	mu      sync.Mutex
	entries []*domain.ActivityEntry
}

func (a *memActivity) Record(_ context.Context, entry *domain.ActivityEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memActivity) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

// ============================================================================
// Update builders
// ============================================================================

const testChatID = 4242

func textUpdate(id int64, text string) dto.TelegramUpdate {
	return dto.TelegramUpdate{
		UpdateID: id,
		Message: &dto.Message{
			MessageID: id * 10,
			From:      &dto.User{ID: testChatID, FirstName: "Olena", Username: "olena"},
			Chat:      dto.Chat{ID: testChatID, Type: dto.ChatPrivate},
			Text:      text,
		},
	}
}

func callbackUpdate(id int64, data string) dto.TelegramUpdate {
	return dto.TelegramUpdate{
		UpdateID: id,
		CallbackQuery: &dto.CallbackQuery{
			ID:   "cb_" + strconv.FormatInt(id, 10),
			From: &dto.User{ID: testChatID, FirstName: "Olena"},
			Message: &dto.Message{
				MessageID: id * 10,
				Chat:      dto.Chat{ID: testChatID, Type: dto.ChatPrivate},
			},
			Data: data,
		},
	}
}

func contactUpdate(id int64, phone string) dto.TelegramUpdate {
	u := textUpdate(id, "")
	u.Message.Contact = &dto.Contact{PhoneNumber: phone}
	return u
}

func groupUpdate(id int64, text string) dto.TelegramUpdate {
	u := textUpdate(id, text)
	u.Message.Chat = dto.Chat{ID: -100500, Type: dto.ChatGroup}
	return u
}
