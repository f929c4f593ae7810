package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// Категории услуг маркетплейса
const (
	CategoryCarWash    = "car_wash"
	CategoryPetSitting = "pet_sitting"
	CategoryDogWalking = "dog_walking"
	CategoryTransport  = "transport"
)

// Тарифы политики отмены
const (
	PolicyFlexible = "flexible"
	PolicyModerate = "moderate"
	PolicyStrict   = "strict"
)

// ValidPolicyTiers список допустимых тарифов отмены
var ValidPolicyTiers = map[string]struct{}{
	PolicyFlexible: {},
	PolicyModerate: {},
	PolicyStrict:   {},
}

// Booking - бронирование вместе с escrow-транзакцией по нему.
type Booking struct {
	ID           uuid.UUID                 `db:"id" json:"id"`
	SlotKey      string                    `db:"slot_key" json:"slot_key"`
	HoldID       uuid.UUID                 `db:"hold_id" json:"hold_id"`
	CustomerID   uuid.UUID                 `db:"customer_id" json:"customer_id"`
	ProviderID   uuid.UUID                 `db:"provider_id" json:"provider_id"`
	Category     string                    `db:"category" json:"category"`
	PolicyTier   string                    `db:"policy_tier" json:"policy_tier"`
	ServiceStart time.Time                 `db:"service_start" json:"service_start"`
	ServiceEnd   time.Time                 `db:"service_end" json:"service_end"`
	BaseAmount   int64                     `db:"base_amount" json:"base_amount"`
	Currency     string                    `db:"currency" json:"currency"`
	Instrument   string                    `db:"payment_instrument" json:"-"`
	Quote        *PricingQuote             `db:"quote" json:"quote,omitempty"`
	Status       valueobject.BookingStatus `db:"status" json:"status"`
	Version      int64                     `db:"version" json:"version"`

	AuthorizationID  *string    `db:"authorization_id" json:"authorization_id,omitempty"`
	TransactionID    *string    `db:"transaction_id" json:"transaction_id,omitempty"`
	AmountHeld       int64      `db:"amount_held" json:"amount_held"`
	RefundedAmount   int64      `db:"refunded_amount" json:"refunded_amount"`
	EscrowOpenedAt   *time.Time `db:"escrow_opened_at" json:"escrow_opened_at,omitempty"`
	ReleaseDeadline  *time.Time `db:"release_deadline" json:"release_deadline,omitempty"`
	ReleaseAttempts  int        `db:"release_attempts" json:"release_attempts"`
	LastReleaseError *string    `db:"last_release_error" json:"-"`
	CancelReason     *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`

	// Заполняются при входе в REFUND_PENDING: сколько вернуть и куда перейти после подтверждения шлюза.
	PendingRefund int64                      `db:"pending_refund" json:"pending_refund,omitempty"`
	SettleTo      *valueobject.BookingStatus `db:"settle_to" json:"settle_to,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TransitionTo переводит бронирование в новый статус, если переход разрешён таблицей.
func (b *Booking) TransitionTo(to valueobject.BookingStatus, now time.Time) error {
	if !b.Status.CanTransitionTo(to) {
		return apperror.Newf(apperror.ErrCodeInvalidTransition, "переход бронирования %s -> %s запрещён", b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// IsParticipant - пользователь является заказчиком или исполнителем.
func (b *Booking) IsParticipant(userID uuid.UUID) bool {
	return b.CustomerID == userID || b.ProviderID == userID
}

// ReleaseDueAt - наступил срок автоматической выплаты провайдеру.
func (b *Booking) ReleaseDueAt(now time.Time) bool {
	return b.Status == valueobject.BookingStatusCompleted &&
		b.ReleaseDeadline != nil &&
		!now.Before(*b.ReleaseDeadline)
}
