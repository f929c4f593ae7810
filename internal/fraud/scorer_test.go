package fraud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// cleanSignals - контекст, на котором не срабатывает ни один сигнал.
func cleanSignals() SignalSet {
	return SignalSet{
		RequestsLastHour: 1,
		AccountAge:       90 * 24 * time.Hour,
		EmailVerified:    true,
		LocalTime:        time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestDecide_Boundaries(t *testing.T) {
	tests := []struct {
		score    int
		expected models.FraudDecision
	}{
		{0, models.FraudDecisionAllow},
		{39, models.FraudDecisionAllow},
		{40, models.FraudDecisionChallenge},
		{69, models.FraudDecisionChallenge},
		{70, models.FraudDecisionBlock},
		{100, models.FraudDecisionBlock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, Decide(tt.score), "score=%d", tt.score)
	}
}

func TestAssess_CleanContextAllows(t *testing.T) {
	a, err := NewScorer(DefaultWeights()).Assess(cleanSignals())
	require.NoError(t, err)
	assert.Equal(t, 0, a.TotalScore)
	assert.Equal(t, models.FraudDecisionAllow, a.Decision)
	assert.Empty(t, a.Signals)
}

func TestAssess_SignalSumsAtBoundaries(t *testing.T) {
	// 25 (ip) + 15 (new account) = 40
	exactly40 := cleanSignals()
	exactly40.CountryChanged = true
	exactly40.SinceCountryChange = 30 * time.Minute
	exactly40.AccountAge = time.Hour

	// 20 (device) + 25 (vpn) + 25 (ip) = 70
	exactly70 := cleanSignals()
	exactly70.DeviceMismatch = true
	exactly70.VPNOrProxy = true
	exactly70.CountryChanged = true
	exactly70.SinceCountryChange = time.Hour

	scorer := NewScorer(DefaultWeights())

	a, err := scorer.Assess(exactly40)
	require.NoError(t, err)
	assert.Equal(t, 40, a.TotalScore)
	assert.Equal(t, models.FraudDecisionChallenge, a.Decision)
	assert.Equal(t, models.SignalScores{SignalIPAnomaly: 25, SignalNewAccount: 15}, a.Signals)

	a, err = scorer.Assess(exactly70)
	require.NoError(t, err)
	assert.Equal(t, 70, a.TotalScore)
	assert.Equal(t, models.FraudDecisionBlock, a.Decision)
}

func TestAssess_CustomWeightsBoundaries(t *testing.T) {
	w := Weights{DeviceMismatch: 39, VPNProxy: 30, UnverifiedEmail: 1}
	scorer := NewScorer(w)

	s := cleanSignals()
	s.DeviceMismatch = true
	a, err := scorer.Assess(s)
	require.NoError(t, err)
	assert.Equal(t, 39, a.TotalScore)
	assert.Equal(t, models.FraudDecisionAllow, a.Decision)

	s.VPNOrProxy = true
	a, err = scorer.Assess(s)
	require.NoError(t, err)
	assert.Equal(t, 69, a.TotalScore)
	assert.Equal(t, models.FraudDecisionChallenge, a.Decision)
}

func TestAssess_ClampedToMax(t *testing.T) {
	s := SignalSet{
		RequestsLastHour:   50,
		CountryChanged:     true,
		SinceCountryChange: time.Minute,
		DeviceMismatch:     true,
		AccountAge:         time.Minute,
		EmailVerified:      false,
		LocalTime:          time.Date(2024, 3, 10, 3, 15, 0, 0, time.UTC),
		VPNOrProxy:         true,
	}
	a, err := NewScorer(DefaultWeights()).Assess(s)
	require.NoError(t, err)
	assert.Equal(t, MaxScore, a.TotalScore)
	assert.Equal(t, models.FraudDecisionBlock, a.Decision)
	assert.Len(t, a.Signals, 7)
}

func TestAssess_SignalThresholds(t *testing.T) {
	scorer := NewScorer(DefaultWeights())

	s := cleanSignals()
	s.RequestsLastHour = 5
	a, _ := scorer.Assess(s)
	assert.NotContains(t, a.Signals, SignalRapidRequests)

	s.RequestsLastHour = 6
	a, _ = scorer.Assess(s)
	assert.Contains(t, a.Signals, SignalRapidRequests)

	s = cleanSignals()
	s.CountryChanged = true
	s.SinceCountryChange = 2 * time.Hour
	a, _ = scorer.Assess(s)
	assert.NotContains(t, a.Signals, SignalIPAnomaly)

	s = cleanSignals()
	s.LocalTime = time.Date(2024, 3, 10, 4, 0, 0, 0, time.UTC)
	a, _ = scorer.Assess(s)
	assert.NotContains(t, a.Signals, SignalNightActivity)

	s.LocalTime = time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	a, _ = scorer.Assess(s)
	assert.Contains(t, a.Signals, SignalNightActivity)
}

func TestAssess_RejectsNegativeSignals(t *testing.T) {
	s := cleanSignals()
	s.RequestsLastHour = -1
	_, err := NewScorer(DefaultWeights()).Assess(s)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}
