package models

import (
	"time"

	"github.com/google/uuid"
)

// Типы проводок. На одно бронирование допускается не более одной проводки каждого типа.
const (
	LedgerEscrowHold      = "escrow_hold"
	LedgerProviderPayout  = "provider_payout"
	LedgerPlatformRevenue = "platform_revenue"
	LedgerCustomerRefund  = "customer_refund"
	LedgerCancellationFee = "cancellation_fee"
)

// LedgerEntry - неизменяемая денежная проводка по бронированию.
type LedgerEntry struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	BookingID   uuid.UUID  `db:"booking_id" json:"booking_id"`
	EntryType   string     `db:"entry_type" json:"entry_type"`
	AccountID   *uuid.UUID `db:"account_id" json:"account_id,omitempty"`
	Amount      int64      `db:"amount" json:"amount"`
	Currency    string     `db:"currency" json:"currency"`
	ExternalRef *string    `db:"external_ref" json:"external_ref,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// ProviderBalance - накопленные выплаты провайдеру.
type ProviderBalance struct {
	ProviderID uuid.UUID `db:"provider_id" json:"provider_id"`
	Available  int64     `db:"available" json:"available"`
	Currency   string    `db:"currency" json:"currency"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
