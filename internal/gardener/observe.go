// Package gardener implements the autonomous world steward.
// It observes world state via the API, decides on at most one gentle
// intervention from deterministic rules, and acts via the admin
// intervention endpoint.
package gardener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/engine"
	"github.com/talgya/chronicle/internal/social"
)

// WorldSnapshot holds all data collected during an observation cycle.
type WorldSnapshot struct {
	Status   WorldStatus      `json:"status"`
	Economy  economy.Status   `json:"economy"`
	Factions []social.Faction `json:"factions"`
	History  []engine.Stats   `json:"history"` // oldest first
}

// WorldStatus mirrors GET /api/v1/status.
type WorldStatus struct {
	Name      string       `json:"name"`
	Tick      uint64       `json:"tick"`
	SimTime   string       `json:"sim_time"`
	Season    string       `json:"season"`
	Speed     float64      `json:"speed"`
	Generated bool         `json:"generated"`
	Stats     engine.Stats `json:"stats"`
}

// Observer fetches world state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Observe fetches the four endpoints the steward reasons over.
func (o *Observer) Observe(ctx context.Context) (*WorldSnapshot, error) {
	snap := &WorldSnapshot{}

	if err := o.fetchJSON(ctx, "/api/v1/status", &snap.Status); err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/markets", &snap.Economy); err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/factions", &snap.Factions); err != nil {
		return nil, fmt.Errorf("fetch factions: %w", err)
	}
	if err := o.fetchJSON(ctx, "/api/v1/stats/history?limit=10", &snap.History); err != nil {
		return nil, fmt.Errorf("fetch stats history: %w", err)
	}

	return snap, nil
}

// Ready reports whether the status endpoint answers 200.
func (o *Observer) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/v1/status", nil)
	if err != nil {
		return false
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// fetchJSON GETs a path and decodes the JSON response into target.
func (o *Observer) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
