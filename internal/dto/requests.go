package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/fraud"
	"github.com/ignatzorin/booking-core/internal/pricing"
	"github.com/ignatzorin/booking-core/internal/service"
)

// SurgeInput - сигналы спроса от диспетчерской. Если multiplier задан, остальные поля игнорируются.
type SurgeInput struct {
	Multiplier    *decimal.Decimal `json:"multiplier"`
	DemandRatio   float64          `json:"demand_ratio"`
	LocalTime     *time.Time       `json:"local_time"`
	SevereWeather bool             `json:"severe_weather"`
	Emergency     bool             `json:"emergency"`
}

func (s *SurgeInput) ToContext() pricing.SurgeContext {
	if s == nil {
		return pricing.NoSurge()
	}
	sc := pricing.SurgeContext{
		DemandRatio:   s.DemandRatio,
		SevereWeather: s.SevereWeather,
		Emergency:     s.Emergency,
	}
	if s.Multiplier != nil {
		sc.Multiplier = *s.Multiplier
	}
	if s.LocalTime != nil {
		sc.LocalTime = *s.LocalTime
	}
	return sc
}

// RiskSignalsInput собирает пограничный сервис (BFF) до вызова ядра.
type RiskSignalsInput struct {
	RequestsLastHour          int        `json:"requests_last_hour"`
	CountryChanged            bool       `json:"country_changed"`
	SinceCountryChangeMinutes int        `json:"since_country_change_minutes"`
	DeviceMismatch            bool       `json:"device_mismatch"`
	AccountAgeHours           int        `json:"account_age_hours"`
	EmailVerified             bool       `json:"email_verified"`
	LocalTime                 *time.Time `json:"local_time"`
	VPNOrProxy                bool       `json:"vpn_or_proxy"`
}

func (r RiskSignalsInput) ToSignalSet() fraud.SignalSet {
	s := fraud.SignalSet{
		RequestsLastHour:   r.RequestsLastHour,
		CountryChanged:     r.CountryChanged,
		SinceCountryChange: time.Duration(r.SinceCountryChangeMinutes) * time.Minute,
		DeviceMismatch:     r.DeviceMismatch,
		AccountAge:         time.Duration(r.AccountAgeHours) * time.Hour,
		EmailVerified:      r.EmailVerified,
		VPNOrProxy:         r.VPNOrProxy,
	}
	if r.LocalTime != nil {
		s.LocalTime = *r.LocalTime
	}
	return s
}

// CreateBookingRequest - тело POST /bookings и POST /bookings/request.
type CreateBookingRequest struct {
	ProviderID      uuid.UUID        `json:"provider_id" binding:"required"`
	Category        string           `json:"category" binding:"required"`
	PolicyTier      string           `json:"policy_tier" binding:"required"`
	ServiceStart    time.Time        `json:"service_start" binding:"required"`
	ServiceEnd      time.Time        `json:"service_end" binding:"required"`
	BaseAmount      int64            `json:"base_amount" binding:"required,gt=0"`
	PaymentToken    string           `json:"payment_token" binding:"required"`
	Surge           *SurgeInput      `json:"surge"`
	RiskSignals     RiskSignalsInput `json:"risk_signals"`
	ChallengePassed bool             `json:"challenge_passed"`
}

func (r CreateBookingRequest) ToBookingRequest(customerID uuid.UUID) service.BookingRequest {
	return service.BookingRequest{
		CustomerID:   customerID,
		ProviderID:   r.ProviderID,
		Category:     r.Category,
		PolicyTier:   r.PolicyTier,
		ServiceStart: r.ServiceStart,
		ServiceEnd:   r.ServiceEnd,
		BaseAmount:   r.BaseAmount,
		Instrument:   r.PaymentToken,
	}
}

func (r CreateBookingRequest) ToPlaceRequest(customerID uuid.UUID) service.PlaceBookingRequest {
	return service.PlaceBookingRequest{
		BookingRequest:  r.ToBookingRequest(customerID),
		Signals:         r.RiskSignals.ToSignalSet(),
		ChallengePassed: r.ChallengePassed,
		Surge:           r.Surge.ToContext(),
	}
}

type AuthorizeRequest struct {
	Surge *SurgeInput `json:"surge"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type QuotePreviewRequest struct {
	Category   string      `json:"category" binding:"required"`
	BaseAmount int64       `json:"base_amount" binding:"required,gt=0"`
	Surge      *SurgeInput `json:"surge"`
}

type OpenDisputeRequest struct {
	Type           string   `json:"type" binding:"required"`
	DisputedAmount int64    `json:"disputed_amount" binding:"required,gt=0"`
	Evidence       []string `json:"evidence" binding:"max=20,dive,max=2048"`
}

type ResolveDisputeRequest struct {
	Outcome      string `json:"outcome" binding:"required"`
	RefundAmount int64  `json:"refund_amount" binding:"gte=0"`
	Resolution   string `json:"resolution" binding:"required,max=2000"`
}
