package valueobject

import "github.com/ignatzorin/booking-core/internal/pkg/apperror"

type BookingStatus string

const (
	BookingStatusRequested         BookingStatus = "REQUESTED"
	BookingStatusHoldPlaced        BookingStatus = "HOLD_PLACED"
	BookingStatusPaymentAuthorized BookingStatus = "PAYMENT_AUTHORIZED"
	BookingStatusEscrowHeld        BookingStatus = "ESCROW_HELD"
	BookingStatusServiceInProgress BookingStatus = "SERVICE_IN_PROGRESS"
	BookingStatusCompleted         BookingStatus = "COMPLETED"
	BookingStatusReleased          BookingStatus = "RELEASED"
	BookingStatusCancelled         BookingStatus = "CANCELLED"
	BookingStatusDisputed          BookingStatus = "DISPUTED"
	BookingStatusRefunded          BookingStatus = "REFUNDED"

	// BookingStatusRefundPending - решение о возврате записано, деньги у шлюза ещё не подтверждены.
	BookingStatusRefundPending BookingStatus = "REFUND_PENDING"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusRequested:         {BookingStatusHoldPlaced},
	BookingStatusHoldPlaced:        {BookingStatusPaymentAuthorized, BookingStatusCancelled},
	BookingStatusPaymentAuthorized: {BookingStatusEscrowHeld, BookingStatusCancelled},
	BookingStatusEscrowHeld: {
		BookingStatusServiceInProgress, BookingStatusCancelled, BookingStatusDisputed, BookingStatusRefundPending,
	},
	BookingStatusServiceInProgress: {BookingStatusCompleted, BookingStatusDisputed},
	BookingStatusCompleted:         {BookingStatusReleased, BookingStatusDisputed},
	BookingStatusDisputed:          {BookingStatusReleased, BookingStatusRefundPending},
	BookingStatusRefundPending:     {BookingStatusCancelled, BookingStatusReleased, BookingStatusRefunded},
	BookingStatusReleased:          {},
	BookingStatusCancelled:         {},
	BookingStatusRefunded:          {},
}

func (s BookingStatus) IsValid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

func (s BookingStatus) CanTransitionTo(newStatus BookingStatus) bool {
	return contains(bookingTransitions[s], newStatus)
}

// IsTerminal - из статуса нет переходов.
func (s BookingStatus) IsTerminal() bool {
	allowed, ok := bookingTransitions[s]
	return ok && len(allowed) == 0
}

// IsLive - бронирование ещё занимает слот провайдера.
func (s BookingStatus) IsLive() bool {
	switch s {
	case BookingStatusHoldPlaced, BookingStatusPaymentAuthorized, BookingStatusEscrowHeld,
		BookingStatusServiceInProgress, BookingStatusCompleted, BookingStatusDisputed, BookingStatusRefundPending:
		return true
	}
	return false
}

func NewBookingStatus(status string) (BookingStatus, error) {
	s := BookingStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeInvalidInput, "некорректный статус бронирования")
	}
	return s, nil
}

type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "active"
	HoldStatusConsumed HoldStatus = "consumed"
	HoldStatusReleased HoldStatus = "released"
	HoldStatusExpired  HoldStatus = "expired"
)

var holdTransitions = map[HoldStatus][]HoldStatus{
	HoldStatusActive:   {HoldStatusConsumed, HoldStatusReleased, HoldStatusExpired},
	HoldStatusConsumed: {},
	HoldStatusReleased: {},
	HoldStatusExpired:  {},
}

func (s HoldStatus) IsValid() bool {
	_, ok := holdTransitions[s]
	return ok
}

func (s HoldStatus) CanTransitionTo(newStatus HoldStatus) bool {
	return contains(holdTransitions[s], newStatus)
}

type DisputeStatus string

const (
	DisputeStatusOpen             DisputeStatus = "open"
	DisputeStatusInvestigating    DisputeStatus = "investigating"
	DisputeStatusEscalated        DisputeStatus = "escalated"
	DisputeStatusResolvedCustomer DisputeStatus = "resolved_customer"
	DisputeStatusResolvedProvider DisputeStatus = "resolved_provider"
	DisputeStatusClosed           DisputeStatus = "closed"

	// DisputeStatusResolving - решение закреплено за одним администратором, деньги ещё распределяются.
	DisputeStatusResolving DisputeStatus = "resolving"
)

var disputeTransitions = map[DisputeStatus][]DisputeStatus{
	DisputeStatusOpen:          {DisputeStatusInvestigating, DisputeStatusEscalated},
	DisputeStatusInvestigating: {DisputeStatusResolving, DisputeStatusEscalated},
	DisputeStatusEscalated:     {DisputeStatusResolving},
	DisputeStatusResolving: {
		DisputeStatusResolvedCustomer, DisputeStatusResolvedProvider, DisputeStatusClosed,
	},
	DisputeStatusResolvedCustomer: {},
	DisputeStatusResolvedProvider: {},
	DisputeStatusClosed:           {},
}

func (s DisputeStatus) IsValid() bool {
	_, ok := disputeTransitions[s]
	return ok
}

func (s DisputeStatus) CanTransitionTo(newStatus DisputeStatus) bool {
	return contains(disputeTransitions[s], newStatus)
}

// IsResolved - спор закрыт одним из финальных решений.
func (s DisputeStatus) IsResolved() bool {
	switch s {
	case DisputeStatusResolvedCustomer, DisputeStatusResolvedProvider, DisputeStatusClosed:
		return true
	}
	return false
}

func NewDisputeStatus(status string) (DisputeStatus, error) {
	s := DisputeStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeInvalidInput, "некорректный статус спора")
	}
	return s, nil
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
