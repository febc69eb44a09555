package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botflow/internal/core/domain"
)

// ============================================================================
// Test Doubles
// ============================================================================

type memCampaigns struct {
	mu           sync.Mutex
	campaigns    map[string]*domain.Campaign
	contents     map[string]*domain.Content
	destinations []*domain.Destination
	saves        int
}

func (m *memCampaigns) ListCampaigns(_ context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			cp := *c
			cp.Logs = append([]domain.DeliveryLog(nil), c.Logs...)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCampaigns) SaveCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c
	m.saves++
	return nil
}

func (m *memCampaigns) GetContent(_ context.Context, id string) (*domain.Content, error) {
	if c, ok := m.contents[id]; ok {
		return c, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memCampaigns) ListDestinations(context.Context) ([]*domain.Destination, error) {
	return m.destinations, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
	fail map[string]error
}

func (s *recordingSender) SendMessage(_ context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.ChatID]; err != nil {
		return nil, err
	}
	s.sent = append(s.sent, msg)
	return &domain.SendResult{MessageID: int64(len(s.sent))}, nil
}

// ============================================================================
// Test Helpers
// ============================================================================

func createTestCampaignDispatcher(destIDs ...string) (*CampaignDispatcher, *memCampaigns, *recordingSender, *memBots) {
	campaigns := &memCampaigns{
		campaigns: map[string]*domain.Campaign{
			"camp1": {
				ID:             "camp1",
				BotID:          "bot1",
				ContentID:      "content1",
				DestinationIDs: destIDs,
				Status:         domain.CampaignRunning,
			},
		},
		contents: map[string]*domain.Content{
			"content1": {ID: "content1", Body: "Hi {{name}}, {{manager}} here", MediaURLs: []string{"https://img.example/promo.jpg"}},
		},
		destinations: []*domain.Destination{
			{ID: "d1", Name: "Anna", Identifier: "101"},
			{ID: "d2", Identifier: "102"},
			{ID: "d3", Name: "Petro", Identifier: "103"},
		},
	}
	sender := &recordingSender{fail: map[string]error{}}
	bots := newMemBots(activeBot("bot1", "t1"))

	d := NewCampaignDispatcher(campaigns, bots, sender, "Oksana")
	d.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return d, campaigns, sender, bots
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestCampaign_OneDestinationPerTickUntilCompleted(t *testing.T) {
	d, campaigns, sender, _ := createTestCampaignDispatcher("d1", "d2", "d3")
	ctx := context.Background()

	require.NoError(t, d.Tick(ctx))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, domain.OutboundMessage{
		ChatID:   "101",
		Text:     "Hi Anna, Oksana here",
		ImageURL: "https://img.example/promo.jpg",
		BotID:    "bot1",
	}, sender.sent[0])
	assert.Equal(t, domain.CampaignRunning, campaigns.campaigns["camp1"].Status)
	assert.Equal(t, domain.CampaignProgress{Sent: 1, Total: 3}, campaigns.campaigns["camp1"].Progress)

	require.NoError(t, d.Tick(ctx))
	assert.Equal(t, "Hi Friend, Oksana here", sender.sent[1].Text)

	require.NoError(t, d.Tick(ctx))
	camp := campaigns.campaigns["camp1"]
	assert.Equal(t, domain.CampaignCompleted, camp.Status)
	assert.Equal(t, domain.CampaignProgress{Sent: 3, Total: 3}, camp.Progress)
	require.Len(t, camp.Logs, 3)
	assert.Equal(t, int64(3), camp.Logs[2].MessageID)

	// completed campaigns are no longer listed
	require.NoError(t, d.Tick(ctx))
	assert.Len(t, sender.sent, 3)
}

func TestCampaign_UnknownDestinationLoggedFailed(t *testing.T) {
	d, campaigns, sender, _ := createTestCampaignDispatcher("ghost", "d1")

	require.NoError(t, d.Tick(context.Background()))

	camp := campaigns.campaigns["camp1"]
	require.Len(t, camp.Logs, 1)
	assert.Equal(t, domain.DeliveryFailed, camp.Logs[0].Status)
	assert.Equal(t, "destination not found", camp.Logs[0].Error)
	assert.Equal(t, 1, camp.Progress.Failed)
	assert.Empty(t, sender.sent)
}

func TestCampaign_SendErrorLoggedFailed(t *testing.T) {
	d, campaigns, sender, _ := createTestCampaignDispatcher("d1")
	sender.fail["101"] = errors.New("chat not found")

	require.NoError(t, d.Tick(context.Background()))

	camp := campaigns.campaigns["camp1"]
	assert.Equal(t, domain.CampaignCompleted, camp.Status)
	assert.Equal(t, domain.DeliveryFailed, camp.Logs[0].Status)
	assert.Equal(t, "chat not found", camp.Logs[0].Error)
	assert.Equal(t, domain.CampaignProgress{Failed: 1, Total: 1}, camp.Progress)
}

func TestCampaign_InactiveBotSkipped(t *testing.T) {
	d, campaigns, sender, bots := createTestCampaignDispatcher("d1")
	bot := bots.Peek("bot1")
	bot.Active = false
	require.NoError(t, bots.Save(context.Background(), bot))

	require.NoError(t, d.Tick(context.Background()))

	assert.Empty(t, sender.sent)
	assert.Equal(t, 0, campaigns.saves)
}

func TestCampaign_MissingContentSkipped(t *testing.T) {
	d, campaigns, sender, _ := createTestCampaignDispatcher("d1")
	delete(campaigns.contents, "content1")

	require.NoError(t, d.Tick(context.Background()))

	assert.Empty(t, sender.sent)
	assert.Equal(t, 0, campaigns.saves)
}

func TestCampaign_EmptyDestinationsCompletes(t *testing.T) {
	d, campaigns, sender, _ := createTestCampaignDispatcher()

	require.NoError(t, d.Tick(context.Background()))

	assert.Empty(t, sender.sent)
	assert.Equal(t, domain.CampaignCompleted, campaigns.campaigns["camp1"].Status)
}
