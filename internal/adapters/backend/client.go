// Package backend implements the record-store collaborator over its REST API
// Following Hexagonal Architecture: one outbound adapter serves several ports
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

// Ensure Client implements the ports it serves
var (
	_ ports.BotRepository      = (*Client)(nil)
	_ ports.CampaignRepository = (*Client)(nil)
	_ ports.RecordStore        = (*Client)(nil)
	_ ports.Sender             = (*Client)(nil)
	_ ports.ScenarioRepository = (*ScenarioSource)(nil)
	_ ports.SessionStore       = (*SessionSource)(nil)
)

// DefaultScenarioCacheTTL bounds how stale the scenario list may be
const DefaultScenarioCacheTTL = 10 * time.Second

// APIError is a non-2xx answer from the backend
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the backend REST API with a bearer token
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	scenarioTTL time.Duration
	now         func() time.Time

	mu          sync.Mutex
	scenarios   domain.Scenarios
	scenariosAt time.Time
}

// NewClient creates a backend client. timeout applies to every call.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		scenarioTTL: DefaultScenarioCacheTTL,
		now:         time.Now,
	}
}

// do performs one JSON call. 404 maps to domain.ErrNotFound.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	traceID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", traceID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Backend request failed",
			"error", err,
			"method", method,
			"path", path,
			"trace_id", traceID,
		)
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("Backend returned error status",
			"method", method,
			"path", path,
			"status_code", resp.StatusCode,
			"trace_id", traceID,
		)
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// ============================================================================
// BotRepository Implementation
// ============================================================================

// List returns every bot
func (c *Client) List(ctx context.Context) ([]*domain.Bot, error) {
	var bots []*domain.Bot
	if err := c.do(ctx, http.MethodGet, "/bots", nil, nil, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

// Get returns one bot, domain.ErrNotFound when missing
func (c *Client) Get(ctx context.Context, id string) (*domain.Bot, error) {
	var bot domain.Bot
	if err := c.do(ctx, http.MethodGet, "/bots/"+url.PathEscape(id), nil, nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// Save writes the bot runtime record back
func (c *Client) Save(ctx context.Context, bot *domain.Bot) error {
	return c.do(ctx, http.MethodPut, "/bots/"+url.PathEscape(bot.ID), nil, bot, nil)
}

// ============================================================================
// CampaignRepository Implementation
// ============================================================================

// ListCampaigns returns campaigns in a status
func (c *Client) ListCampaigns(ctx context.Context, status domain.CampaignStatus) ([]*domain.Campaign, error) {
	var list []*domain.Campaign
	q := url.Values{"status": {string(status)}}
	if err := c.do(ctx, http.MethodGet, "/campaigns", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SaveCampaign writes status, logs and progress back
func (c *Client) SaveCampaign(ctx context.Context, campaign *domain.Campaign) error {
	return c.do(ctx, http.MethodPut, "/campaigns/"+url.PathEscape(campaign.ID), nil, campaign, nil)
}

// GetContent returns a content template
func (c *Client) GetContent(ctx context.Context, id string) (*domain.Content, error) {
	var content domain.Content
	if err := c.do(ctx, http.MethodGet, "/content/"+url.PathEscape(id), nil, nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// ListDestinations returns every known destination
func (c *Client) ListDestinations(ctx context.Context) ([]*domain.Destination, error) {
	var list []*domain.Destination
	if err := c.do(ctx, http.MethodGet, "/destinations", nil, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// ============================================================================
// RecordStore Implementation
// ============================================================================

// UpsertDestination creates or refreshes a destination
func (c *Client) UpsertDestination(ctx context.Context, dest *domain.Destination) error {
	return c.do(ctx, http.MethodPost, "/destinations", nil, dest, nil)
}

// TagDestination adds one tag to a destination
func (c *Client) TagDestination(ctx context.Context, destinationID, tag string) error {
	path := "/destinations/" + url.PathEscape(destinationID) + "/tags"
	return c.do(ctx, http.MethodPost, path, nil, map[string]string{"tag": tag}, nil)
}

// CreateLead creates a lead and returns the stored record
func (c *Client) CreateLead(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	var created domain.Lead
	if err := c.do(ctx, http.MethodPost, "/leads", nil, lead, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateRequest creates a request and returns the stored record (with publicId)
func (c *Client) CreateRequest(ctx context.Context, req *domain.Request) (*domain.Request, error) {
	var created domain.Request
	if err := c.do(ctx, http.MethodPost, "/requests", nil, req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// FindRequest resolves a request by id or public id
func (c *Client) FindRequest(ctx context.Context, ref string) (*domain.Request, error) {
	var req domain.Request
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(ref), nil, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// AddVariant attaches a car to a request
func (c *Client) AddVariant(ctx context.Context, requestID string, variant domain.Variant) error {
	path := "/requests/" + url.PathEscape(requestID) + "/variants"
	return c.do(ctx, http.MethodPost, path, nil, variant, nil)
}

func filterQuery(f domain.SearchFilter) url.Values {
	q := url.Values{}
	if f.Brand != "" {
		q.Set("brand", f.Brand)
	}
	if f.Model != "" {
		q.Set("model", f.Model)
	}
	if f.PriceMax > 0 {
		q.Set("priceMax", fmt.Sprint(f.PriceMax))
	}
	return q
}

// SearchInventory searches the dealer's own stock
func (c *Client) SearchInventory(ctx context.Context, filter domain.SearchFilter) ([]domain.CarCard, error) {
	var cards []domain.CarCard
	if err := c.do(ctx, http.MethodGet, "/inventory/search", filterQuery(filter), nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// GetInventoryItem returns a stock item by canonical id
func (c *Client) GetInventoryItem(ctx context.Context, canonicalID string) (*domain.CarCard, error) {
	var card domain.CarCard
	if err := c.do(ctx, http.MethodGet, "/inventory/"+url.PathEscape(canonicalID), nil, nil, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// SaveInventoryItem adds a car to the catalog
func (c *Client) SaveInventoryItem(ctx context.Context, card domain.CarCard) error {
	return c.do(ctx, http.MethodPost, "/inventory", nil, card, nil)
}

// SearchExternal searches marketplaces
func (c *Client) SearchExternal(ctx context.Context, filter domain.SearchFilter) ([]domain.CarCard, error) {
	var cards []domain.CarCard
	if err := c.do(ctx, http.MethodGet, "/search/external", filterQuery(filter), nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// NormalizeBrand maps free text to a canonical brand
func (c *Client) NormalizeBrand(ctx context.Context, raw string) (string, error) {
	var out struct {
		Brand string `json:"brand"`
	}
	err := c.do(ctx, http.MethodGet, "/normalize/brand", url.Values{"q": {raw}}, nil, &out)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return out.Brand, nil
}

// AddNotification stores an in-app notification
func (c *Client) AddNotification(ctx context.Context, n *domain.Notification) error {
	return c.do(ctx, http.MethodPost, "/notifications", nil, n, nil)
}

// CreateDraft stores a channel post
func (c *Client) CreateDraft(ctx context.Context, draft *domain.Draft) error {
	return c.do(ctx, http.MethodPost, "/drafts", nil, draft, draft)
}

// ListDueDrafts returns SCHEDULED drafts whose time is at or before now
func (c *Client) ListDueDrafts(ctx context.Context, now time.Time) ([]*domain.Draft, error) {
	q := url.Values{
		"status":    {string(domain.DraftScheduled)},
		"dueBefore": {now.UTC().Format(time.RFC3339)},
	}
	var list []*domain.Draft
	if err := c.do(ctx, http.MethodGet, "/drafts", q, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateDraft writes status changes back
func (c *Client) UpdateDraft(ctx context.Context, draft *domain.Draft) error {
	return c.do(ctx, http.MethodPut, "/drafts/"+url.PathEscape(draft.ID), nil, draft, nil)
}

// ============================================================================
// Sender Implementation
// ============================================================================

type sendResponse struct {
	OK      bool               `json:"ok"`
	Result  *domain.SendResult `json:"result,omitempty"`
	Message string             `json:"message,omitempty"`
}

// SendMessage delivers through the unified send endpoint
func (c *Client) SendMessage(ctx context.Context, msg domain.OutboundMessage) (*domain.SendResult, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/messages/send", nil, msg, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		if resp.Message == "" {
			resp.Message = "send rejected"
		}
		return nil, errors.New(resp.Message)
	}
	if resp.Result == nil {
		return &domain.SendResult{}, nil
	}
	return resp.Result, nil
}
