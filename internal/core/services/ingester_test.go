package services

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"botflow/internal/adapters/dto"
	"botflow/internal/adapters/repository"
	"botflow/internal/core/domain"
)

// ============================================================================
// Test Helpers
// ============================================================================

// createTestIngester creates an ingester with mocked dependencies
func createTestIngester() (*Ingester, *fakeGateway, *MockMessageLog, *fakeRecords, *MockDedupRepository, *MockUpdateHandler) {
	gateway := newFakeGateway()
	messages := new(MockMessageLog)
	records := newFakeRecords()
	dedup := new(MockDedupRepository)
	handler := new(MockUpdateHandler)

	ingester := NewIngester(gateway, messages, records, dedup, handler)
	return ingester, gateway, messages, records, dedup, handler
}

func createTestBot() *domain.Bot {
	return &domain.Bot{ID: "bot1", Name: "Sales", Token: "123:abc", Active: true}
}

// ============================================================================
// Unit Tests
// ============================================================================

// TestIngest_ValidPrivateMessage tests the full pipeline for a private chat
func TestIngest_ValidPrivateMessage(t *testing.T) {
	ingester, gateway, messages, records, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := textUpdate(11, "hello")

	dedup.On("IsDuplicate", ctx, "tg:bot1:11").Return(false, nil)
	dedup.On("MarkProcessed", ctx, "tg:bot1:11", DefaultDedupTTL).Return(nil)
	messages.On("SaveInbound", ctx, mock.MatchedBy(func(msg *domain.InboundMessage) bool {
		return msg.ID == "msg_11" &&
			msg.BotID == "bot1" &&
			msg.ChatID == "4242" &&
			msg.Text == "hello" &&
			msg.Direction == domain.DirectionIncoming
	})).Return(nil)
	handler.On("HandleUpdate", ctx, bot, gateway.adapter, &update).Return(nil)

	outcome, err := ingester.Ingest(ctx, bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.True(t, bot.Window().Contains(11))
	messages.AssertExpectations(t)
	dedup.AssertExpectations(t)
	handler.AssertExpectations(t)

	dest := records.destinations["dest_4242"]
	if assert.NotNil(t, dest) {
		assert.Equal(t, domain.DestinationUser, dest.Type)
		assert.Equal(t, "Olena", dest.Name)
		assert.Equal(t, []string{"bot-user"}, dest.Tags)
	}
}

// TestIngest_ChannelPostSkipped tests that channel posts never reach a dialogue
func TestIngest_ChannelPostSkipped(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	bot := createTestBot()
	update := dto.TelegramUpdate{
		UpdateID:    12,
		ChannelPost: &dto.Message{Chat: dto.Chat{ID: -1001, Type: dto.ChatChannel}, Text: "post"},
	}

	outcome, err := ingester.Ingest(context.Background(), bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.False(t, bot.Window().Contains(12))
	dedup.AssertNotCalled(t, "IsDuplicate", mock.Anything, mock.Anything)
	messages.AssertNotCalled(t, "SaveInbound", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "HandleUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestIngest_WindowDuplicate tests deduplication through the bot's own window
func TestIngest_WindowDuplicate(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	bot := createTestBot()
	bot.Window().Add(13)
	update := textUpdate(13, "again")

	outcome, err := ingester.Ingest(context.Background(), bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	dedup.AssertNotCalled(t, "IsDuplicate", mock.Anything, mock.Anything)
	messages.AssertNotCalled(t, "SaveInbound", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "HandleUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestIngest_SharedDedupDuplicate tests that an update delivered by another instance is dropped
func TestIngest_SharedDedupDuplicate(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := textUpdate(14, "hello")

	dedup.On("IsDuplicate", ctx, "tg:bot1:14").Return(true, nil)

	outcome, err := ingester.Ingest(ctx, bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.True(t, bot.Window().Contains(14), "duplicate is remembered locally")
	dedup.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
	messages.AssertNotCalled(t, "SaveInbound", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "HandleUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestIngest_DedupError tests that a cache outage does not block processing
func TestIngest_DedupError(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := textUpdate(15, "hello")

	dedup.On("IsDuplicate", ctx, "tg:bot1:15").Return(false, errors.New("redis down"))
	dedup.On("MarkProcessed", ctx, "tg:bot1:15", DefaultDedupTTL).Return(errors.New("redis down"))
	messages.On("SaveInbound", ctx, mock.Anything).Return(nil)
	handler.On("HandleUpdate", ctx, bot, mock.Anything, &update).Return(nil)

	outcome, err := ingester.Ingest(ctx, bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	handler.AssertExpectations(t)
}

// TestIngest_SaveInboundError tests that the audit log never blocks the dialogue
func TestIngest_SaveInboundError(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := textUpdate(16, "hello")

	dedup.On("IsDuplicate", ctx, mock.Anything).Return(false, nil)
	dedup.On("MarkProcessed", ctx, mock.Anything, mock.Anything).Return(nil)
	messages.On("SaveInbound", ctx, mock.Anything).Return(errors.New("disk full"))
	handler.On("HandleUpdate", ctx, bot, mock.Anything, &update).Return(nil)

	outcome, err := ingester.Ingest(ctx, bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	handler.AssertExpectations(t)
}

// TestIngest_GroupChatNotRouted tests that group chats are recorded but not driven
func TestIngest_GroupChatNotRouted(t *testing.T) {
	ingester, _, messages, records, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := groupUpdate(17, "hi all")

	dedup.On("IsDuplicate", ctx, mock.Anything).Return(false, nil)
	dedup.On("MarkProcessed", ctx, mock.Anything, mock.Anything).Return(nil)
	messages.On("SaveInbound", ctx, mock.Anything).Return(nil)

	outcome, err := ingester.Ingest(ctx, bot, &update)

	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	handler.AssertNotCalled(t, "HandleUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	dest := records.destinations["dest_-100500"]
	if assert.NotNil(t, dest) {
		assert.Equal(t, domain.DestinationGroup, dest.Type)
	}
}

// TestIngest_HandlerError tests that handler errors are wrapped and the update stays processed
func TestIngest_HandlerError(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := textUpdate(18, "hello")
	boom := errors.New("session store down")

	dedup.On("IsDuplicate", ctx, mock.Anything).Return(false, nil)
	dedup.On("MarkProcessed", ctx, mock.Anything, mock.Anything).Return(nil)
	messages.On("SaveInbound", ctx, mock.Anything).Return(nil)
	handler.On("HandleUpdate", ctx, bot, mock.Anything, &update).Return(boom)

	outcome, err := ingester.Ingest(ctx, bot, &update)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.True(t, bot.Window().Contains(18))
}

// TestIngest_PanicRecovery tests that a panicking handler is contained
func TestIngest_PanicRecovery(t *testing.T) {
	ingester, _, messages, _, dedup, handler := createTestIngester()
	ctx := context.Background()
	bot := createTestBot()
	update := textUpdate(19, "hello")

	dedup.On("IsDuplicate", ctx, mock.Anything).Return(false, nil)
	dedup.On("MarkProcessed", ctx, mock.Anything, mock.Anything).Return(nil)
	messages.On("SaveInbound", ctx, mock.Anything).Return(nil)
	handler.On("HandleUpdate", ctx, bot, mock.Anything, &update).Run(func(mock.Arguments) {
		panic("nil map")
	}).Return(nil)

	var err error
	assert.NotPanics(t, func() {
		_, err = ingester.Ingest(ctx, bot, &update)
	})
	assert.Error(t, err)
}

// TestIngest_WithoutOptionalStores tests a deployment without MariaDB or Redis
func TestIngest_WithoutOptionalStores(t *testing.T) {
	gateway := newFakeGateway()
	handler := new(MockUpdateHandler)
	ingester := NewIngester(gateway, nil, newFakeRecords(), nil, handler)
	bot := createTestBot()
	update := textUpdate(20, "hello")

	handler.On("HandleUpdate", mock.Anything, bot, mock.Anything, &update).Return(nil)

	outcome, err := ingester.Ingest(context.Background(), bot, &update)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	outcome, err = ingester.Ingest(context.Background(), bot, &update)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	handler.AssertNumberOfCalls(t, "HandleUpdate", 1)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "processed", OutcomeProcessed.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
}

// ============================================================================
// Same update delivered twice, end to end
// ============================================================================

// sameBot returns a fresh copy of the flow bot with its own empty update window
func sameBot(h *flowHarness) *domain.Bot {
	return &domain.Bot{
		ID:         h.bot.ID,
		Username:   h.bot.Username,
		Active:     true,
		MenuConfig: h.bot.MenuConfig,
	}
}

func TestIngest_SameUpdateTwiceHandledOnce(t *testing.T) {
	h := createTestFlow(t)
	h.seedLanguage(t, domain.LocaleEN)
	gateway := newFakeGateway()
	ingester := NewIngester(gateway, nil, newFakeRecords(), nil, h.in)
	ctx := context.Background()
	bot := sameBot(h)

	first := textUpdate(21, "📞 Contacts")
	outcome, err := ingester.Ingest(ctx, bot, &first)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	redelivered := textUpdate(21, "📞 Contacts")
	outcome, err = ingester.Ingest(ctx, bot, &redelivered)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, []string{"Call us: 123"}, gateway.adapter.Texts())
	assert.Equal(t, 2, h.sessions.puts, "seed plus one turn")
}

func TestIngest_WebhookAndPollShareRedisDedup(t *testing.T) {
	h := createTestFlow(t)
	h.seedLanguage(t, domain.LocaleEN)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	dedup := repository.NewRedisDedupRepository(client)

	gateway := newFakeGateway()
	webhook := NewIngester(gateway, nil, newFakeRecords(), dedup, h.in)
	poller := NewIngester(gateway, nil, newFakeRecords(), dedup, h.in)
	ctx := context.Background()

	viaWebhook := textUpdate(22, "📞 Contacts")
	outcome, err := webhook.Ingest(ctx, sameBot(h), &viaWebhook)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)

	viaPoll := textUpdate(22, "📞 Contacts")
	outcome, err = poller.Ingest(ctx, sameBot(h), &viaPoll)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, []string{"Call us: 123"}, gateway.adapter.Texts())
	assert.Equal(t, 2, h.sessions.puts)
	assert.True(t, mr.Exists("dedup:update:tg:bot1:22"))
}
