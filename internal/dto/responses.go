package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/models"
)

// ErrorResponse - единый формат ошибки API.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// QuoteDisplay - суммы в основных единицах валюты для интерфейса.
type QuoteDisplay struct {
	Base       string `json:"base"`
	Commission string `json:"commission"`
	VAT        string `json:"vat"`
	Total      string `json:"total"`
	Payout     string `json:"provider_payout"`
}

// QuoteView - расчёт стоимости с разбивкой. Точные значения в минорных единицах,
// Charge - сумма, которая реально авторизуется.
type QuoteView struct {
	models.PricingQuote
	Charge  int64        `json:"charge"`
	Display QuoteDisplay `json:"display"`
}

func NewQuoteView(q models.PricingQuote) *QuoteView {
	return &QuoteView{
		PricingQuote: q,
		Charge:       q.ChargeMinor(),
		Display: QuoteDisplay{
			Base:       valueobject.MinorToDisplay(q.AdjustedBase),
			Commission: valueobject.MinorToDisplay(q.CommissionAmount),
			VAT:        valueobject.MinorToDisplay(q.VATAmount),
			Total:      valueobject.MinorToDisplay(q.TotalCharge),
			Payout:     valueobject.MinorToDisplay(decimal.NewFromInt(q.ProviderPayout)),
		},
	}
}

// BookingResponse - бронирование вместе с разбивкой стоимости.
type BookingResponse struct {
	*models.Booking
	Quote             *QuoteView `json:"quote,omitempty"`
	AmountHeldDisplay string     `json:"amount_held_display"`
}

func NewBookingResponse(b *models.Booking) *BookingResponse {
	resp := &BookingResponse{
		Booking:           b,
		AmountHeldDisplay: valueobject.MinorToDisplay(decimal.NewFromInt(b.AmountHeld)),
	}
	if b.Quote != nil {
		resp.Quote = NewQuoteView(*b.Quote)
	}
	return resp
}

func NewBookingList(bookings []models.Booking) []*BookingResponse {
	out := make([]*BookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, NewBookingResponse(&bookings[i]))
	}
	return out
}

// PlaceBookingResponse возвращает оценку антифрода даже при отказе.
type PlaceBookingResponse struct {
	Booking *BookingResponse        `json:"booking,omitempty"`
	Fraud   *models.FraudAssessment `json:"fraud_assessment,omitempty"`
}

// DisputeResponse - спор с обратным отсчётом до дедлайна.
type DisputeResponse struct {
	*models.Dispute
	SLASecondsLeft int64 `json:"sla_seconds_left"`
}

func NewDisputeResponse(d *models.Dispute, now time.Time) *DisputeResponse {
	left := int64(d.TimeLeft(now).Seconds())
	if d.Status.IsResolved() || left < 0 {
		left = 0
	}
	return &DisputeResponse{Dispute: d, SLASecondsLeft: left}
}

func NewDisputeList(disputes []models.Dispute, now time.Time) []*DisputeResponse {
	out := make([]*DisputeResponse, 0, len(disputes))
	for i := range disputes {
		out = append(out, NewDisputeResponse(&disputes[i], now))
	}
	return out
}

type LedgerResponse struct {
	BookingID string               `json:"booking_id"`
	Entries   []models.LedgerEntry `json:"entries"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
