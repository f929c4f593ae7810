package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// Причины наценки в порядке применения правил
const (
	SurgeReasonManual            = "manual_override"
	SurgeReasonHighDemand        = "high_demand"
	SurgeReasonElevatedDemand    = "elevated_demand"
	SurgeReasonPeakHours         = "peak_hours"
	SurgeReasonSevereWeather     = "severe_weather"
	SurgeReasonEmergencyDispatch = "emergency_dispatch"
)

var (
	one      = decimal.NewFromInt(1)
	maxSurge = decimal.NewFromInt(2)

	highDemandRatio     = 2.0
	elevatedDemandRatio = 1.5

	highDemandStep     = decimal.RequireFromString("0.25")
	elevatedDemandStep = decimal.RequireFromString("0.15")
	peakHoursStep      = decimal.RequireFromString("0.10")
	severeWeatherStep  = decimal.RequireFromString("0.20")
	emergencyStep      = decimal.RequireFromString("0.50")
)

// SurgeContext - сигналы спроса, по которым определяется наценка.
// Если Multiplier задан (не ноль), он используется как есть, остальные поля игнорируются.
type SurgeContext struct {
	Multiplier    decimal.Decimal
	DemandRatio   float64
	LocalTime     time.Time
	SevereWeather bool
	Emergency     bool
}

// NoSurge - контекст без наценки.
func NoSurge() SurgeContext {
	return SurgeContext{Multiplier: one}
}

// WithMultiplier - контекст с явно заданным коэффициентом.
func WithMultiplier(m decimal.Decimal) SurgeContext {
	return SurgeContext{Multiplier: m}
}

// DetectSurge вычисляет коэффициент наценки и упорядоченный список причин.
func DetectSurge(sc SurgeContext) (decimal.Decimal, []string, error) {
	if !sc.Multiplier.IsZero() {
		if sc.Multiplier.LessThan(one) {
			return decimal.Zero, nil, apperror.New(apperror.ErrCodeInvalidInput, "коэффициент наценки не может быть меньше 1")
		}
		if sc.Multiplier.Equal(one) {
			return one, []string{}, nil
		}
		return sc.Multiplier, []string{SurgeReasonManual}, nil
	}
	if sc.DemandRatio < 0 {
		return decimal.Zero, nil, apperror.New(apperror.ErrCodeInvalidInput, "отношение спроса не может быть отрицательным")
	}

	multiplier := one
	reasons := make([]string, 0, 4)

	switch {
	case sc.DemandRatio >= highDemandRatio:
		multiplier = multiplier.Add(highDemandStep)
		reasons = append(reasons, SurgeReasonHighDemand)
	case sc.DemandRatio >= elevatedDemandRatio:
		multiplier = multiplier.Add(elevatedDemandStep)
		reasons = append(reasons, SurgeReasonElevatedDemand)
	}

	if !sc.LocalTime.IsZero() && isPeakHour(sc.LocalTime.Hour()) {
		multiplier = multiplier.Add(peakHoursStep)
		reasons = append(reasons, SurgeReasonPeakHours)
	}
	if sc.SevereWeather {
		multiplier = multiplier.Add(severeWeatherStep)
		reasons = append(reasons, SurgeReasonSevereWeather)
	}
	if sc.Emergency {
		multiplier = multiplier.Add(emergencyStep)
		reasons = append(reasons, SurgeReasonEmergencyDispatch)
	}

	if multiplier.GreaterThan(maxSurge) {
		multiplier = maxSurge
	}
	return multiplier, reasons, nil
}

// Утренний и вечерний час пик: 07:00-09:00 и 17:00-19:00.
func isPeakHour(h int) bool {
	return (h >= 7 && h < 9) || (h >= 17 && h < 19)
}
