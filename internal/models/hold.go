package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// DefaultHoldTTL - сколько живёт резерв слота без подтверждения оплаты.
const DefaultHoldTTL = 15 * time.Minute

// NewSlotKey строит ключ слота из провайдера и окна обслуживания.
// Окно нормализуется в UTC, поэтому один и тот же интервал всегда даёт один ключ.
func NewSlotKey(providerID uuid.UUID, start, end time.Time) (string, error) {
	if providerID == uuid.Nil {
		return "", apperror.New(apperror.ErrCodeInvalidInput, "не указан провайдер")
	}
	if !end.After(start) {
		return "", apperror.New(apperror.ErrCodeInvalidInput, "окно обслуживания должно заканчиваться позже начала")
	}
	return fmt.Sprintf("%s:%s/%s",
		providerID,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	), nil
}

// SlotHold - эксклюзивный резерв окна провайдера с ограниченным сроком жизни.
type SlotHold struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	SlotKey         string                 `db:"slot_key" json:"slot_key"`
	HolderID        uuid.UUID              `db:"holder_id" json:"holder_id"`
	Status          valueobject.HoldStatus `db:"status" json:"status"`
	EstimatedAmount int64                  `db:"estimated_amount" json:"estimated_amount"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time              `db:"expires_at" json:"expires_at"`
	ResolvedAt      *time.Time             `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IsExpiredAt - срок резерва истёк к моменту now.
func (h *SlotHold) IsExpiredAt(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// EffectiveStatus учитывает ленивое истечение: активный, но просроченный резерв считается expired.
func (h *SlotHold) EffectiveStatus(now time.Time) valueobject.HoldStatus {
	if h.Status == valueobject.HoldStatusActive && h.IsExpiredAt(now) {
		return valueobject.HoldStatusExpired
	}
	return h.Status
}
