package diplomacy

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

func newTestLedger(t *testing.T) (*Ledger, *state.World) {
	t.Helper()
	w := state.NewWorld(42)
	w.AddFaction(&social.Faction{
		ID: 1, Name: "North",
		Resources:     social.Resources{Gold: 500, Influence: 100, Military: 150},
		Consciousness: social.Consciousness{Frequency: 13, Coherence: 0.5},
		Culture:       social.Culture{Traits: []string{"proud", "martial"}, Beliefs: []string{"ancestors"}, SocialStructure: "feudal"},
	})
	w.AddFaction(&social.Faction{
		ID: 2, Name: "South",
		Resources:     social.Resources{Gold: 500, Influence: 100, Military: 150},
		Consciousness: social.Consciousness{Frequency: 16, Coherence: 0.5},
		Culture:       social.Culture{Traits: []string{"proud", "mercantile"}, Beliefs: []string{"ancestors"}, SocialStructure: "guild"},
	})
	w.AddFaction(&social.Faction{
		ID: 3, Name: "East",
		Resources:     social.Resources{Gold: 50, Influence: 10, Military: 20},
		Consciousness: social.Consciousness{Frequency: 2, Coherence: 0.5},
		Culture:       social.Culture{Traits: []string{"pious"}, Beliefs: []string{"harmony"}, SocialStructure: "communal"},
	})
	return New(w, DefaultConfig()), w
}

func TestRelationshipSymmetric(t *testing.T) {
	l, _ := newTestLedger(t)
	ab, err := l.Relationship(1, 2)
	require.NoError(t, err)
	ba, err := l.Relationship(2, 1)
	require.NoError(t, err)
	assert.Same(t, ab, ba)
	assert.Len(t, l.Relationships(), 1)
	assert.Equal(t, social.FactionID(1), ab.A)
}

func TestRelationshipInvalid(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Relationship(1, 1)
	require.ErrorIs(t, err, ErrInvalidParties)
	_, err = l.Relationship(1, 99)
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		opinion, trust float64
		want           Status
	}{
		{80, 80, StatusAllied},
		{30, 70, StatusWarm},
		{55, 55, StatusFriendly},
		{-60, 10, StatusHostile},
		{-30, 30, StatusCold},
		{-60, 50, StatusNeutral},
		{0, 50, StatusNeutral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.opinion, tt.trust), "opinion=%v trust=%v", tt.opinion, tt.trust)
	}
}

func TestResonanceBands(t *testing.T) {
	assert.Equal(t, Resonant, ResonanceFor(10, 11.5))
	assert.Equal(t, Compatible, ResonanceFor(13, 16))
	assert.Equal(t, Neutral, ResonanceFor(0, 9))
	assert.Equal(t, Dissonant, ResonanceFor(2, 16))
}

func TestAffinity(t *testing.T) {
	same := &social.Faction{
		Consciousness: social.Consciousness{Frequency: 5},
		Culture:       social.Culture{Traits: []string{"a"}, Beliefs: []string{"b"}, SocialStructure: "s"},
	}
	assert.Equal(t, 1.0, Affinity(same, same))

	other := &social.Faction{
		Consciousness: social.Consciousness{Frequency: 30},
		Culture:       social.Culture{Traits: []string{"x"}, Beliefs: []string{"y"}, SocialStructure: "z"},
	}
	assert.Equal(t, 0.0, Affinity(same, other))

	half := &social.Faction{
		Consciousness: social.Consciousness{Frequency: 12},
		Culture:       social.Culture{Traits: []string{"a", "x"}, Beliefs: []string{"b"}, SocialStructure: "z"},
	}
	// traits 1/2, beliefs 1, structure 0 -> 0.5; neutral band adds nothing.
	assert.InDelta(t, 0.5, Affinity(same, half), 1e-9)
}

func TestNegotiationTerminates(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		l, _ := newTestLedger(t)
		l.Reseed(rand.New(rand.NewSource(seed)))
		for _, tt := range []TreatyType{TradeAgreement, MilitaryAlliance, NonAggression, Vassalage} {
			tr, err := l.NegotiateTreaty(1, 3, tt)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(tr.Rounds), MaxRounds)
			assert.Contains(t, []TreatyStatus{TreatySigned, TreatyFailed}, tr.Status)
		}
	}
}

func TestNegotiationFailsOnUnacceptableTribute(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Reseed(resolve.Fixed(20, 1))

	tr, err := l.NegotiateTreaty(1, 3, Vassalage)
	require.NoError(t, err)
	assert.Equal(t, TreatyFailed, tr.Status)
	assert.Len(t, tr.Rounds, 1)
	assert.Equal(t, social.FactionID(1), tr.Rounds[0].Favored)
	assert.Equal(t, AutonomyLimited, tr.Terms.Autonomy)
	assert.NotEmpty(t, tr.Reason)
}

func TestNegotiationSignedAndActivated(t *testing.T) {
	l, w := newTestLedger(t)
	w.SetTick(30)
	l.Reseed(resolve.Fixed(1, 20))

	tr, err := l.NegotiateTreaty(1, 2, TradeAgreement)
	require.NoError(t, err)
	require.Equal(t, TreatySigned, tr.Status)
	assert.Len(t, tr.Rounds, MaxRounds)
	assert.Zero(t, tr.Terms.TariffReduction)
	require.Len(t, tr.Signatures, 2)
	assert.Equal(t, uint64(30), tr.Signatures[0].Tick)

	require.NoError(t, l.Activate(tr.ID))
	assert.Equal(t, TreatyActive, tr.Status)
	assert.Equal(t, uint64(390), tr.ExpiresAt)
	rel, _ := l.Relationship(1, 2)
	assert.True(t, rel.TradeAgreement)
	require.Error(t, l.Activate(tr.ID))

	require.NoError(t, l.Expire(tr.ID))
	assert.Equal(t, TreatyExpired, tr.Status)
	assert.False(t, rel.TradeAgreement)
}

func TestNegotiationInvalid(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.NegotiateTreaty(1, 1, TradeAgreement)
	require.ErrorIs(t, err, ErrInvalidParties)
	_, err = l.NegotiateTreaty(1, 2, TreatyType("marriage"))
	require.ErrorIs(t, err, ErrUnknownTreatyType)
}

func TestAvailableActionsGates(t *testing.T) {
	l, w := newTestLedger(t)
	rel, _ := l.Relationship(1, 2)
	north, _ := w.Faction(1)
	south, _ := w.Faction(2)

	rel.Opinion, rel.Trust = 60, 50
	got := AvailableActions(north, south, rel)
	assert.Contains(t, got, AllianceProposal)
	assert.Contains(t, got, TradeProposal)
	assert.Contains(t, got, CulturalExchange)
	assert.NotContains(t, got, DeclareEmbargo)

	rel.Opinion = -30
	got = AvailableActions(north, south, rel)
	assert.Contains(t, got, DeclareEmbargo)
	assert.Contains(t, got, Denounce)
	assert.NotContains(t, got, TradeProposal)
	assert.NotContains(t, got, AllianceProposal)
}

func TestExecuteActionClamps(t *testing.T) {
	l, w := newTestLedger(t)
	rel, _ := l.Relationship(1, 2)
	rel.Opinion, rel.Trust = 99, 99
	l.Reseed(resolve.Fixed(20))

	out, err := l.ExecuteAction(ImproveRelations, 1, 2)
	require.NoError(t, err)
	assert.True(t, out.Check.CriticalSuccess)
	assert.Equal(t, 100.0, rel.Opinion)
	assert.Equal(t, 100.0, rel.Trust)
	assert.Equal(t, StatusAllied, out.Status)

	north, _ := w.Faction(1)
	assert.Equal(t, 95.0, north.Resources.Influence)
}

func TestExecuteActionCriticalScaling(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Reseed(resolve.Fixed(20, 3, 3))

	out, err := l.ExecuteAction(SendGift, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, out.OpinionDelta, 1e-9)
	assert.InDelta(t, 3.0, out.TrustDelta, 1e-9)
}

func TestExecuteActionRequirements(t *testing.T) {
	l, _ := newTestLedger(t)
	rel, _ := l.Relationship(1, 2)
	rel.Opinion = 0

	_, err := l.ExecuteAction(TradeProposal, 1, 2)
	require.ErrorIs(t, err, ErrRequirementsNotMet)
	_, err = l.ExecuteAction(ActionName("bribe"), 1, 2)
	require.ErrorIs(t, err, ErrUnknownAction)
}

func TestOpinionTrustAlwaysClamped(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Reseed(rand.New(rand.NewSource(3)))
	rel, _ := l.Relationship(1, 2)
	for i := 0; i < 200; i++ {
		for _, name := range []ActionName{ImproveRelations, Denounce, DeclareEmbargo} {
			_, _ = l.ExecuteAction(name, 1, 2)
			assert.GreaterOrEqual(t, rel.Opinion, -100.0)
			assert.LessOrEqual(t, rel.Opinion, 100.0)
			assert.GreaterOrEqual(t, rel.Trust, 0.0)
			assert.LessOrEqual(t, rel.Trust, 100.0)
		}
	}
}

func TestCandidatesAndHandlers(t *testing.T) {
	l, _ := newTestLedger(t)
	l.cfg = Config{IncidentChance: 1, ProposalChance: 1, ActionChance: 0, DriftRate: 0.01, NegotiationRounds: 5}
	l.Reseed(rand.New(rand.NewSource(9)))
	rel, _ := l.Relationship(1, 2)
	rel.Adjust(40-rel.Opinion, 0)

	evs := l.CandidateEvents(1, event.Open{})
	var types []event.Type
	for _, ev := range evs {
		types = append(types, ev.Type)
		assert.Equal(t, "diplomacy", ev.Source)
	}
	assert.Contains(t, types, event.DiplomaticIncident)
	assert.Contains(t, types, event.TreatyProposed)

	for _, ev := range evs {
		require.NoError(t, l.Handle(ev))
	}
	assert.NotEmpty(t, l.Treaties())
}

type blockAll struct{}

func (blockAll) CanTrigger(event.Type, string) bool { return false }

func TestCandidatesRespectGate(t *testing.T) {
	l, _ := newTestLedger(t)
	l.cfg.IncidentChance, l.cfg.ProposalChance, l.cfg.ActionChance = 1, 1, 1
	assert.Empty(t, l.CandidateEvents(1, blockAll{}))
}

func TestUpdateDriftAndExpiry(t *testing.T) {
	l, w := newTestLedger(t)
	l.cfg.DriftRate = 0.5
	rel, _ := l.Relationship(1, 2)
	base := rel.baseline()
	rel.Adjust(50, 0)

	l.Reseed(resolve.Fixed(10))
	tr, err := l.NegotiateTreaty(1, 2, NonAggression)
	require.NoError(t, err)
	require.Equal(t, TreatySigned, tr.Status)
	require.NoError(t, l.Activate(tr.ID))

	w.SetTick(tr.ExpiresAt)
	require.NoError(t, l.Update(context.Background(), tr.ExpiresAt))
	assert.Less(t, rel.Opinion-base, 50.0)

	evs := l.CandidateEvents(tr.ExpiresAt, event.Open{})
	var expired *event.Event
	for _, ev := range evs {
		if ev.Type == event.TreatyExpired {
			expired = ev
		}
	}
	require.NotNil(t, expired)
	require.NoError(t, l.Handle(expired))
	assert.False(t, rel.NonAggression)
}

func TestExportImport(t *testing.T) {
	l, w := newTestLedger(t)
	l.Reseed(resolve.Fixed(1, 20))
	_, err := l.NegotiateTreaty(1, 2, TradeAgreement)
	require.NoError(t, err)

	snap := l.Export()
	other := New(w, DefaultConfig())
	other.Import(snap)
	assert.Equal(t, l.Relationships(), other.Relationships())
	assert.Len(t, other.Treaties(TreatySigned), 1)
	assert.Equal(t, snap, other.Export())
}
