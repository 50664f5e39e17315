package gardener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/chronicle/internal/economy"
)

var (
	// ErrInvalidIntervention is returned before anything is sent when an
	// intervention falls outside what the steward may do.
	ErrInvalidIntervention = errors.New("invalid intervention")
	// ErrRejected is returned when the world answers without applying the
	// intervention.
	ErrRejected = errors.New("intervention rejected")
)

// Receipt is the world's acknowledgement of an applied intervention.
type Receipt struct {
	Success bool   `json:"success"`
	Details string `json:"details"`
}

// Actor applies interventions through the admin endpoint.
type Actor struct {
	BaseURL    string
	AdminKey   string
	HTTPClient *http.Client
}

// NewActor creates an Actor for the API at baseURL.
func NewActor(baseURL, adminKey string) *Actor {
	return &Actor{
		BaseURL:    baseURL,
		AdminKey:   adminKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Validate checks iv against the steward's own limits: a known action, a
// named target, a real commodity and finite amounts within the caps.
func (iv *Intervention) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%s: %s: %w", iv.Type, fmt.Sprintf(format, args...), ErrInvalidIntervention)
	}
	switch iv.Type {
	case ActionProvision:
		if iv.Settlement == "" {
			return bad("no settlement")
		}
		if _, err := economy.ParseCommodity(iv.Commodity); err != nil {
			return bad("%v", err)
		}
		if !inRange(iv.Quantity, 1, maxProvision) {
			return bad("quantity %g outside [1, %g]", iv.Quantity, maxProvision)
		}
	case ActionFund:
		if iv.Faction == "" {
			return bad("no faction")
		}
		if !inRange(iv.Gold, 1, maxFund) {
			return bad("gold %g outside [1, %g]", iv.Gold, maxFund)
		}
		if iv.Military != 0 {
			return bad("the steward does not raise troops")
		}
	default:
		return fmt.Errorf("action %q: %w", iv.Type, ErrInvalidIntervention)
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// Act validates iv, applies it and returns the world's receipt. A reply
// that does not confirm the change is an error.
func (a *Actor) Act(ctx context.Context, iv *Intervention) (*Receipt, error) {
	if iv == nil {
		return nil, fmt.Errorf("nil: %w", ErrInvalidIntervention)
	}
	if err := iv.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(iv)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", iv.Type, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/v1/intervention", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.AdminKey)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", iv.Type, iv.target(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s %s: %d %s: %w", iv.Type, iv.target(), resp.StatusCode,
			strings.TrimSpace(string(msg)), ErrRejected)
	}

	var r Receipt
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	if !r.Success || !strings.Contains(r.Details, iv.target()) {
		return nil, fmt.Errorf("%s %s: unconfirmed receipt %q: %w", iv.Type, iv.target(), r.Details, ErrRejected)
	}
	return &r, nil
}

// target names what the intervention is aimed at.
func (iv *Intervention) target() string {
	if iv.Type == ActionFund {
		return iv.Faction
	}
	return iv.Settlement
}
