package diplomacy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
)

var (
	// ErrInvalidParties is returned when a treaty or action does not name
	// two distinct existing factions.
	ErrInvalidParties = errors.New("invalid parties")
	// ErrUnknownTreatyType is returned for treaty types with no template.
	ErrUnknownTreatyType = errors.New("unknown treaty type")
)

// TreatyType names a kind of treaty.
type TreatyType string

const (
	TradeAgreement   TreatyType = "trade_agreement"
	MilitaryAlliance TreatyType = "military_alliance"
	NonAggression    TreatyType = "non_aggression"
	Vassalage        TreatyType = "vassalage"
)

// TreatyStatus is the lifecycle stage of a treaty. Transitions only move
// forward: negotiating to signed or failed, signed to active, active to
// expired.
type TreatyStatus string

const (
	TreatyNegotiating TreatyStatus = "negotiating"
	TreatySigned      TreatyStatus = "signed"
	TreatyFailed      TreatyStatus = "failed"
	TreatyActive      TreatyStatus = "active"
	TreatyExpired     TreatyStatus = "expired"
)

// Autonomy is the self-rule a vassal keeps.
type Autonomy string

const (
	AutonomyFull    Autonomy = "full"
	AutonomyPartial Autonomy = "partial"
	AutonomyLimited Autonomy = "limited"
	AutonomyNone    Autonomy = "none"
)

var autonomyLadder = []Autonomy{AutonomyNone, AutonomyLimited, AutonomyPartial, AutonomyFull}

func (a Autonomy) step(delta int) Autonomy {
	for i, v := range autonomyLadder {
		if v == a {
			return autonomyLadder[max(0, min(len(autonomyLadder)-1, i+delta))]
		}
	}
	return a
}

// Terms are the negotiable clauses of a treaty. Fields not used by a
// treaty type stay zero.
type Terms struct {
	TariffReduction      float64  `json:"tariff_reduction,omitempty"`
	MarketAccess         bool     `json:"market_access,omitempty"`
	MutualDefense        bool     `json:"mutual_defense,omitempty"`
	MilitaryContribution float64  `json:"military_contribution,omitempty"`
	Tribute              float64  `json:"tribute,omitempty"`
	Autonomy             Autonomy `json:"autonomy,omitempty"`
	Duration             uint64   `json:"duration"`
}

// unacceptable reports the first clause either party would refuse.
func (t Terms) unacceptable() string {
	switch {
	case t.TariffReduction > 0.5:
		return "tariff reduction above 0.5"
	case t.Tribute > 0.3:
		return "tribute above 0.3"
	case t.Autonomy == AutonomyNone:
		return "no autonomy"
	case t.MilitaryContribution > 0.5:
		return "military contribution above 0.5"
	}
	return ""
}

// Template returns the opening terms for a treaty type.
func Template(tt TreatyType) (Terms, error) {
	switch tt {
	case TradeAgreement:
		return Terms{TariffReduction: 0.1, MarketAccess: true, Duration: 360}, nil
	case MilitaryAlliance:
		return Terms{MutualDefense: true, MilitaryContribution: 0.2, Duration: 720}, nil
	case NonAggression:
		return Terms{Duration: 360}, nil
	case Vassalage:
		return Terms{Tribute: 0.2, Autonomy: AutonomyPartial, Duration: 1080}, nil
	}
	return Terms{}, fmt.Errorf("%q: %w", tt, ErrUnknownTreatyType)
}

// Round is one paired check exchange.
type Round struct {
	Number   int              `json:"number"`
	Proposer resolve.Result   `json:"proposer"`
	Receiver resolve.Result   `json:"receiver"`
	Margin   float64          `json:"margin"`
	Favored  social.FactionID `json:"favored,omitempty"`
	Terms    Terms            `json:"terms"`
}

// Signature records a diplomat's assent.
type Signature struct {
	FactionID  social.FactionID `json:"faction_id"`
	DiplomatID uint64           `json:"diplomat_id"`
	Tick       uint64           `json:"tick"`
}

// Treaty is a negotiated agreement between exactly two factions.
type Treaty struct {
	ID         string              `json:"id"`
	Type       TreatyType          `json:"type"`
	Parties    [2]social.FactionID `json:"parties"` // proposer, receiver
	Rounds     []Round             `json:"rounds"`
	Terms      Terms               `json:"terms"`
	Status     TreatyStatus        `json:"status"`
	Signatures []Signature         `json:"signatures,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	SignedAt   uint64              `json:"signed_at,omitempty"`
	ActiveAt   uint64              `json:"active_at,omitempty"`
	ExpiresAt  uint64              `json:"expires_at,omitempty"`
}

// shift moves the draft toward the side that won the round. A positive
// margin favors the proposer.
func shift(tt TreatyType, t Terms, margin float64) Terms {
	d := margin * 0.01
	switch tt {
	case TradeAgreement:
		t.TariffReduction = clamp(t.TariffReduction+d, 0, 0.5)
	case MilitaryAlliance:
		t.MilitaryContribution = max(0, t.MilitaryContribution+d)
	case NonAggression:
		t.Duration = uint64(max(90, float64(t.Duration)+margin*10))
	case Vassalage:
		t.Tribute = t.Tribute + d
		if margin < 0 {
			t.Tribute = max(0.1, t.Tribute)
		}
		switch {
		case margin >= 10:
			t.Autonomy = t.Autonomy.step(-1)
		case margin <= -10:
			t.Autonomy = t.Autonomy.step(1)
		}
	}
	return t
}

// NegotiateTreaty runs the negotiation protocol between proposer and
// receiver. A treaty that breaks down is returned with status failed and
// no error; errors are reserved for malformed requests.
func (l *Ledger) NegotiateTreaty(proposer, receiver social.FactionID, tt TreatyType) (*Treaty, error) {
	if proposer == receiver {
		return nil, fmt.Errorf("treaty between %d and itself: %w", proposer, ErrInvalidParties)
	}
	terms, err := Template(tt)
	if err != nil {
		return nil, err
	}
	fp, err := l.store.Faction(proposer)
	if err != nil {
		return nil, fmt.Errorf("proposer: %w", err)
	}
	fr, err := l.store.Faction(receiver)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}

	tr := &Treaty{
		ID:      l.store.NextID("treaty"),
		Type:    tt,
		Parties: [2]social.FactionID{proposer, receiver},
		Terms:   terms,
		Status:  TreatyNegotiating,
	}
	dp, modP := l.diplomatFor(fp)
	dr, modR := l.diplomatFor(fr)

	rounds := min(max(l.cfg.NegotiationRounds, 1), MaxRounds)
	for n := 1; n <= rounds; n++ {
		a, b, margin := resolve.Contest(l.rng, modP, modR, negotiationDifficulty)
		round := Round{Number: n, Proposer: a, Receiver: b, Margin: margin}
		switch {
		case margin > 0:
			round.Favored = proposer
		case margin < 0:
			round.Favored = receiver
		}
		tr.Terms = shift(tt, tr.Terms, margin)
		round.Terms = tr.Terms
		tr.Rounds = append(tr.Rounds, round)

		if reason := tr.Terms.unacceptable(); reason != "" {
			tr.Status = TreatyFailed
			tr.Reason = reason
			l.addTreaty(tr)
			return tr, nil
		}
	}

	now := l.store.Tick()
	tr.Status = TreatySigned
	tr.SignedAt = now
	tr.Signatures = []Signature{
		{FactionID: proposer, DiplomatID: dp.ID, Tick: now},
		{FactionID: receiver, DiplomatID: dr.ID, Tick: now},
	}
	l.addTreaty(tr)
	l.pendingSigned = append(l.pendingSigned, tr.ID)
	return tr, nil
}

// Activate puts a signed treaty into force and applies its clauses to the
// relationship.
func (l *Ledger) Activate(id string) error {
	tr, ok := l.treaties[id]
	if !ok || tr.Status != TreatySigned {
		return fmt.Errorf("activate treaty %s: not signed", id)
	}
	rel, err := l.Relationship(tr.Parties[0], tr.Parties[1])
	if err != nil {
		return err
	}
	now := l.store.Tick()
	tr.Status = TreatyActive
	tr.ActiveAt = now
	tr.ExpiresAt = now + tr.Terms.Duration

	switch tr.Type {
	case TradeAgreement:
		rel.TradeAgreement = true
		rel.TariffReduction = tr.Terms.TariffReduction
		rel.Embargo = false
	case MilitaryAlliance:
		rel.Alliance = true
	case NonAggression:
		rel.NonAggression = true
	case Vassalage:
		rel.Overlord = tr.Parties[0]
	}
	rel.Adjust(5, 5)
	return nil
}

// Expire retires an active treaty and clears its clauses unless another
// active treaty of the same type still binds the pair.
func (l *Ledger) Expire(id string) error {
	tr, ok := l.treaties[id]
	if !ok || tr.Status != TreatyActive {
		return fmt.Errorf("expire treaty %s: not active", id)
	}
	tr.Status = TreatyExpired
	if l.hasTreaty(tr.Parties[0], tr.Parties[1], tr.Type, TreatyActive) {
		return nil
	}
	rel, err := l.Relationship(tr.Parties[0], tr.Parties[1])
	if err != nil {
		return err
	}
	switch tr.Type {
	case TradeAgreement:
		rel.TradeAgreement = false
		rel.TariffReduction = 0
	case MilitaryAlliance:
		rel.Alliance = false
	case NonAggression:
		rel.NonAggression = false
	case Vassalage:
		rel.Overlord = 0
	}
	return nil
}

// Treaty returns a treaty by id.
func (l *Ledger) Treaty(id string) (*Treaty, bool) {
	tr, ok := l.treaties[id]
	return tr, ok
}

// Treaties returns treaties in creation order, filtered by status when
// any are given.
func (l *Ledger) Treaties(statuses ...TreatyStatus) []*Treaty {
	var out []*Treaty
	for _, id := range l.treatyOrder {
		tr := l.treaties[id]
		if len(statuses) == 0 || slices.Contains(statuses, tr.Status) {
			out = append(out, tr)
		}
	}
	return out
}

func (l *Ledger) addTreaty(tr *Treaty) {
	l.treaties[tr.ID] = tr
	l.treatyOrder = append(l.treatyOrder, tr.ID)
}

func (l *Ledger) hasTreaty(a, b social.FactionID, tt TreatyType, statuses ...TreatyStatus) bool {
	k := keyOf(a, b)
	for _, tr := range l.treaties {
		if tr.Type == tt && keyOf(tr.Parties[0], tr.Parties[1]) == k && slices.Contains(statuses, tr.Status) {
			return true
		}
	}
	return false
}
