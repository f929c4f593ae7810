package fraud

import (
	"time"

	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// Названия сигналов в журнале оценок
const (
	SignalRapidRequests   = "rapid_requests"
	SignalIPAnomaly       = "ip_anomaly"
	SignalDeviceMismatch  = "device_mismatch"
	SignalNewAccount      = "new_account"
	SignalUnverifiedEmail = "unverified_email"
	SignalNightActivity   = "night_activity"
	SignalVPNProxy        = "vpn_proxy"
)

// Пороги решений. Граница относится к более строгому решению.
const (
	ChallengeThreshold = 40
	BlockThreshold     = 70
	MaxScore           = 100
)

const (
	rapidRequestsPerHour = 5
	countryChangeWindow  = 2 * time.Hour
	newAccountAge        = 24 * time.Hour
	nightWindowStart     = 2
	nightWindowEnd       = 4
)

// SignalSet - заранее собранный вызывающей стороной контекст попытки.
// Скорер не делает никаких внешних запросов.
type SignalSet struct {
	RequestsLastHour   int
	CountryChanged     bool
	SinceCountryChange time.Duration
	DeviceMismatch     bool
	AccountAge         time.Duration
	EmailVerified      bool
	LocalTime          time.Time
	VPNOrProxy         bool
}

func (s SignalSet) validate() error {
	if s.RequestsLastHour < 0 || s.SinceCountryChange < 0 || s.AccountAge < 0 {
		return apperror.New(apperror.ErrCodeInvalidInput, "сигналы антифрода не могут быть отрицательными")
	}
	return nil
}

// Weights - баллы, которые добавляет каждый сигнал.
type Weights struct {
	RapidRequests   int
	IPAnomaly       int
	DeviceMismatch  int
	NewAccount      int
	UnverifiedEmail int
	NightActivity   int
	VPNProxy        int
}

func DefaultWeights() Weights {
	return Weights{
		RapidRequests:   20,
		IPAnomaly:       25,
		DeviceMismatch:  20,
		NewAccount:      15,
		UnverifiedEmail: 10,
		NightActivity:   10,
		VPNProxy:        25,
	}
}

// Scorer - чистая функция оценки риска, безопасна для конкурентного использования.
type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Assess складывает баллы сработавших сигналов и принимает решение.
// Идентификатор и время оценки проставляет вызывающая сторона при записи в журнал.
func (s *Scorer) Assess(signals SignalSet) (models.FraudAssessment, error) {
	if err := signals.validate(); err != nil {
		return models.FraudAssessment{}, err
	}

	scores := models.SignalScores{}
	add := func(name string, fired bool, points int) {
		if fired && points > 0 {
			scores[name] = points
		}
	}

	hour := signals.LocalTime.Hour()
	add(SignalRapidRequests, signals.RequestsLastHour > rapidRequestsPerHour, s.weights.RapidRequests)
	add(SignalIPAnomaly, signals.CountryChanged && signals.SinceCountryChange < countryChangeWindow, s.weights.IPAnomaly)
	add(SignalDeviceMismatch, signals.DeviceMismatch, s.weights.DeviceMismatch)
	add(SignalNewAccount, signals.AccountAge < newAccountAge, s.weights.NewAccount)
	add(SignalUnverifiedEmail, !signals.EmailVerified, s.weights.UnverifiedEmail)
	add(SignalNightActivity, !signals.LocalTime.IsZero() && hour >= nightWindowStart && hour < nightWindowEnd, s.weights.NightActivity)
	add(SignalVPNProxy, signals.VPNOrProxy, s.weights.VPNProxy)

	total := 0
	for _, points := range scores {
		total += points
	}
	if total > MaxScore {
		total = MaxScore
	}

	return models.FraudAssessment{
		Signals:    scores,
		TotalScore: total,
		Decision:   Decide(total),
	}, nil
}

// Decide переводит балл в решение: <40 allow, 40-69 challenge, от 70 block.
func Decide(score int) models.FraudDecision {
	switch {
	case score >= BlockThreshold:
		return models.FraudDecisionBlock
	case score >= ChallengeThreshold:
		return models.FraudDecisionChallenge
	default:
		return models.FraudDecisionAllow
	}
}
