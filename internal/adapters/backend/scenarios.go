package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"botflow/internal/core/domain"
)

// ScenarioSource serves scenarios from GET /scenarios through a short-lived cache
type ScenarioSource struct {
	c *Client
}

// Scenarios returns the scenario repository view of the client
func (c *Client) Scenarios() *ScenarioSource {
	return &ScenarioSource{c: c}
}

func (s *ScenarioSource) load(ctx context.Context) (domain.Scenarios, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scenarios != nil && c.now().Sub(c.scenariosAt) < c.scenarioTTL {
		return c.scenarios, nil
	}

	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/scenarios", nil, nil, &raw); err != nil {
		if c.scenarios != nil {
			slog.Warn("Scenario refresh failed, serving cached copy", "error", err)
			return c.scenarios, nil
		}
		return nil, err
	}
	list := decodeScenarios(raw)
	c.scenarios = list
	c.scenariosAt = c.now()
	return list, nil
}

// decodeScenarios decodes each scenario on its own; entries that fail are logged and left out
func decodeScenarios(raw []json.RawMessage) domain.Scenarios {
	list := make(domain.Scenarios, 0, len(raw))
	for i, item := range raw {
		sc := new(domain.Scenario)
		if err := json.Unmarshal(item, sc); err != nil {
			var head struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(item, &head)
			slog.Error("Skipping undecodable scenario",
				"error", err,
				"scenario_id", head.ID,
				"index", i,
			)
			continue
		}
		list = append(list, sc)
	}
	return list
}

// Get implements ports.ScenarioRepository
func (s *ScenarioSource) Get(ctx context.Context, id string) (*domain.Scenario, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if sc, ok := all.ByID(id); ok {
		return sc, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
}

// FindByTrigger implements ports.ScenarioRepository
func (s *ScenarioSource) FindByTrigger(ctx context.Context, command string) (*domain.Scenario, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if sc, ok := all.ByTrigger(command); ok {
		return sc, nil
	}
	return nil, nil
}

// FindByKeyword implements ports.ScenarioRepository
func (s *ScenarioSource) FindByKeyword(ctx context.Context, normalizedText string) (*domain.Scenario, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if sc, ok := all.ByKeyword(normalizedText); ok {
		return sc, nil
	}
	return nil, nil
}
