package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"botflow/internal/adapters/dto"
	"botflow/internal/core/domain"
	"botflow/internal/core/services"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// ============================================================================
// Test Doubles
// ============================================================================

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, bot *domain.Bot, update *dto.TelegramUpdate) (services.Outcome, error) {
	args := m.Called(ctx, bot, update)
	return args.Get(0).(services.Outcome), args.Error(1)
}

type memBots struct {
	mu    sync.Mutex
	bots  map[string]*domain.Bot
	saves int
}

func (m *memBots) List(context.Context) ([]*domain.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Bot
	for _, b := range m.bots {
		out = append(out, b)
	}
	return out, nil
}

func (m *memBots) Get(_ context.Context, id string) (*domain.Bot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bots[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memBots) Save(_ context.Context, bot *domain.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[bot.ID] = bot
	m.saves++
	return nil
}

func (m *memBots) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type stubCoordinator struct {
	id     string
	leader bool
}

func (s stubCoordinator) InstanceID() string { return s.id }
func (s stubCoordinator) IsLeader() bool     { return s.leader }

type stubLeases struct {
	lease *domain.Lease
	err   error
}

func (s *stubLeases) TryAcquire(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (s *stubLeases) Renew(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (s *stubLeases) Read(context.Context) (*domain.Lease, error) {
	return s.lease, s.err
}

type memSessions struct {
	sessions map[string]*domain.Session
}

func (m *memSessions) Get(_ context.Context, botID, chatID string) (*domain.Session, error) {
	return m.sessions[botID+"/"+chatID], nil
}

func (m *memSessions) Put(_ context.Context, s *domain.Session) error {
	m.sessions[s.BotID+"/"+s.ChatID] = s
	return nil
}

func (m *memSessions) Clear(_ context.Context, botID, chatID string) error {
	delete(m.sessions, botID+"/"+chatID)
	return nil
}

type stubActivity struct {
	entries []*domain.ActivityEntry
	err     error
	limit   int
}

func (s *stubActivity) RecentActivity(_ context.Context, _ string, limit int) ([]*domain.ActivityEntry, error) {
	s.limit = limit
	return s.entries, s.err
}

// ============================================================================
// Test Helpers
// ============================================================================

type apiHarness struct {
	router   *gin.Engine
	webhook  *WebhookHandler
	ingester *MockIngester
	bots     *memBots
	pause    *services.PauseSwitch
	leases   *stubLeases
	sessions *memSessions
	activity *stubActivity
}

func createTestAPI(adminToken, webhookSecret string) *apiHarness {
	h := &apiHarness{
		ingester: new(MockIngester),
		bots: &memBots{bots: map[string]*domain.Bot{
			"bot1": {ID: "bot1", Token: "t1", Active: true},
			"off":  {ID: "off", Token: "t2"},
		}},
		pause:    services.NewPauseSwitch(),
		leases:   &stubLeases{},
		sessions: &memSessions{sessions: map[string]*domain.Session{}},
		activity: &stubActivity{},
	}
	h.webhook = NewWebhookHandler(context.Background(), h.bots, h.ingester, webhookSecret)
	dashboard := NewDashboardHandler(DashboardDeps{
		Coordinator: stubCoordinator{id: "instance-a", leader: true},
		Pause:       h.pause,
		Leases:      h.leases,
		Sessions:    h.sessions,
		Activity:    h.activity,
		LogClients:  func() int { return 2 },
		LeaseTTL:    5 * time.Second,
	})
	h.router = NewRouter(RouterDeps{
		Dashboard:  dashboard,
		Webhook:    h.webhook,
		AdminToken: adminToken,
	})
	return h
}

func (h *apiHarness) do(method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, APIResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var resp APIResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

const webhookBody = `{"update_id":501,"message":{"message_id":9,"chat":{"id":4242,"type":"private"},"text":"hi"}}`

// ============================================================================
// Webhook
// ============================================================================

func TestWebhook_RejectsBadSecret(t *testing.T) {
	h := createTestAPI("", "s3cret")

	w, resp := h.do(http.MethodPost, "/webhook/telegram/bot1", webhookBody,
		map[string]string{secretTokenHeader: "wrong"})
	h.webhook.Wait()

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", resp.Message)
	h.ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_RejectsInvalidJSON(t *testing.T) {
	h := createTestAPI("", "s3cret")

	w, _ := h.do(http.MethodPost, "/webhook/telegram/bot1", "{broken",
		map[string]string{secretTokenHeader: "s3cret"})
	h.webhook.Wait()

	assert.Equal(t, http.StatusBadRequest, w.Code)
	h.ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhook_ProcessesAndSavesBot(t *testing.T) {
	h := createTestAPI("", "s3cret")
	h.ingester.On("Ingest", mock.Anything, mock.MatchedBy(func(b *domain.Bot) bool { return b.ID == "bot1" }),
		mock.MatchedBy(func(u *dto.TelegramUpdate) bool { return u.UpdateID == 501 && u.Message.Text == "hi" })).
		Return(services.OutcomeProcessed, nil)

	w, resp := h.do(http.MethodPost, "/webhook/telegram/bot1", webhookBody,
		map[string]string{secretTokenHeader: "s3cret"})
	h.webhook.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Success", resp.Message)
	h.ingester.AssertExpectations(t)
	assert.Equal(t, 1, h.bots.Saves())
}

func TestWebhook_HandlerErrorStillSaves(t *testing.T) {
	h := createTestAPI("", "")
	h.ingester.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
		Return(services.OutcomeProcessed, errors.New("backend down"))

	w, _ := h.do(http.MethodPost, "/webhook/telegram/bot1", webhookBody, nil)
	h.webhook.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.bots.Saves())
}

func TestWebhook_DuplicateSkipsSave(t *testing.T) {
	h := createTestAPI("", "")
	h.ingester.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
		Return(services.OutcomeDuplicate, nil)

	h.do(http.MethodPost, "/webhook/telegram/bot1", webhookBody, nil)
	h.webhook.Wait()

	h.ingester.AssertNumberOfCalls(t, "Ingest", 1)
	assert.Equal(t, 0, h.bots.Saves())
}

func TestWebhook_UnknownOrInactiveBotIgnored(t *testing.T) {
	h := createTestAPI("", "")

	for _, botID := range []string{"ghost", "off"} {
		w, _ := h.do(http.MethodPost, "/webhook/telegram/"+botID, webhookBody, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	h.webhook.Wait()

	h.ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 0, h.bots.Saves())
}

func TestWebhook_IngesterPanicRecovered(t *testing.T) {
	h := createTestAPI("", "")
	h.ingester.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).
		Return(services.OutcomeProcessed, nil)

	w, _ := h.do(http.MethodPost, "/webhook/telegram/bot1", webhookBody, nil)
	h.webhook.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, h.bots.Saves())
}

// ============================================================================
// Operator API
// ============================================================================

func TestAdminAuth(t *testing.T) {
	h := createTestAPI("op-token", "")

	w, resp := h.do(http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", resp.Message)

	w, _ = h.do(http.MethodGet, "/api/status", "", bearer("nope"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp = h.do(http.MethodGet, "/api/status", "", bearer("op-token"))
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "instance-a", data["instance_id"])
	assert.Equal(t, true, data["leader"])
	assert.Equal(t, float64(2), data["log_clients"])

	// webhook and health stay outside the operator group
	w, _ = h.do(http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuth_EmptyTokenLeavesAPIOpen(t *testing.T) {
	h := createTestAPI("", "")

	w, _ := h.do(http.MethodGet, "/api/coordinator/pause", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPauseAndResume(t *testing.T) {
	h := createTestAPI("", "")

	w, resp := h.do(http.MethodPost, "/api/coordinator/pause", `{"reason":"disk full","operator":"ops"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.pause.IsPaused())
	data := resp.Data.(map[string]any)
	assert.Equal(t, "disk full", data["reason"])
	assert.Equal(t, "ops", data["paused_by"])

	w, _ = h.do(http.MethodPost, "/api/coordinator/resume", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.pause.IsPaused())

	// no body: default reason
	h.do(http.MethodPost, "/api/coordinator/pause", "", nil)
	assert.Equal(t, "manual", h.pause.GetStatus()["reason"])

	w, _ = h.do(http.MethodPost, "/api/coordinator/pause", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLease(t *testing.T) {
	h := createTestAPI("", "")

	w, resp := h.do(http.MethodGet, "/api/lease", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, resp.Data)

	h.leases.lease = &domain.Lease{LeaderInstanceID: "instance-a", LastHeartbeatAt: time.Now()}
	_, resp = h.do(http.MethodGet, "/api/lease", "", nil)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "instance-a", data["leader_instance_id"])
	assert.Equal(t, true, data["self"])
	assert.Equal(t, false, data["expired"])

	h.leases.lease = &domain.Lease{LeaderInstanceID: "instance-b", LastHeartbeatAt: time.Now().Add(-time.Minute)}
	_, resp = h.do(http.MethodGet, "/api/lease", "", nil)
	data = resp.Data.(map[string]any)
	assert.Equal(t, false, data["self"])
	assert.Equal(t, true, data["expired"])

	h.leases.err = errors.New("redis down")
	w, _ = h.do(http.MethodGet, "/api/lease", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSessions(t *testing.T) {
	h := createTestAPI("", "")

	w, _ := h.do(http.MethodGet, "/api/sessions/bot1/4242", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	session := domain.NewSession("bot1", "4242")
	session.CurrentNodeID = "b2"
	h.sessions.sessions["bot1/4242"] = session

	w, resp := h.do(http.MethodGet, "/api/sessions/bot1/4242", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b2", resp.Data.(map[string]any)["currentNodeId"])

	w, _ = h.do(http.MethodDelete, "/api/sessions/bot1/4242", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, h.sessions.sessions)
}

func TestActivity(t *testing.T) {
	h := createTestAPI("", "")
	h.activity.entries = []*domain.ActivityEntry{{BotID: "bot1", Action: domain.ActivityBotDisabled, Level: "ERROR"}}

	w, resp := h.do(http.MethodGet, "/api/bots/bot1/activity?limit=5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, h.activity.limit)
	assert.Len(t, resp.Data, 1)

	w, _ = h.do(http.MethodGet, "/api/bots/bot1/activity?limit=9999", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.activity.entries = nil
	_, resp = h.do(http.MethodGet, "/api/bots/bot1/activity", "", nil)
	assert.Equal(t, 50, h.activity.limit)
	assert.Equal(t, []any{}, resp.Data)
}

func TestActivity_DisabledWithoutStore(t *testing.T) {
	dashboard := NewDashboardHandler(DashboardDeps{
		Coordinator: stubCoordinator{id: "a"},
		Pause:       services.NewPauseSwitch(),
		Leases:      &stubLeases{},
		Sessions:    &memSessions{sessions: map[string]*domain.Session{}},
	})
	router := NewRouter(RouterDeps{Dashboard: dashboard})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/bots/bot1/activity", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNoRouteAndRequestID(t *testing.T) {
	h := createTestAPI("", "")

	w, resp := h.do(http.MethodGet, "/nowhere", "", map[string]string{requestIDHeader: "req-42"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Route not found", resp.Message)
	assert.Equal(t, "req-42", w.Header().Get(requestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ============================================================================
// Helpers
// ============================================================================

func TestDiskWarningLevel(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{50, "safe"},
		{70, "warning"},
		{79.9, "warning"},
		{80, "critical"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, diskWarningLevel(tt.percent, 70), "percent %v", tt.percent)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "1d 2h 0m", formatDuration(26*time.Hour))
}
