package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
)

// DefaultDisputeSLA - срок, за который спор должен быть решён.
const DefaultDisputeSLA = 48 * time.Hour

type DisputeType string

const (
	DisputeTypeCancellation DisputeType = "cancellation"
	DisputeTypeQuality      DisputeType = "quality"
	DisputeTypeDamage       DisputeType = "damage"
	DisputeTypeNoShow       DisputeType = "no_show"
	DisputeTypeLateArrival  DisputeType = "late_arrival"
)

func (t DisputeType) IsValid() bool {
	switch t {
	case DisputeTypeCancellation, DisputeTypeQuality, DisputeTypeDamage, DisputeTypeNoShow, DisputeTypeLateArrival:
		return true
	}
	return false
}

type Dispute struct {
	ID                   uuid.UUID                  `db:"id" json:"id"`
	BookingID            uuid.UUID                  `db:"booking_id" json:"booking_id"`
	OpenedBy             uuid.UUID                  `db:"opened_by" json:"opened_by"`
	Type                 DisputeType                `db:"type" json:"type"`
	DisputedAmount       int64                      `db:"disputed_amount" json:"disputed_amount"`
	Evidence             pq.StringArray             `db:"evidence" json:"evidence"`
	Status               valueobject.DisputeStatus  `db:"status" json:"status"`
	RefundAmount         *int64                     `db:"refund_amount" json:"refund_amount,omitempty"`
	Resolution           *string                    `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy           *uuid.UUID                 `db:"resolved_by" json:"resolved_by,omitempty"`
	Outcome              *valueobject.DisputeStatus `db:"outcome" json:"outcome,omitempty"`
	TargetResolutionDate time.Time                  `db:"target_resolution_date" json:"target_resolution_date"`
	BreachAlertedAt      *time.Time                 `db:"breach_alerted_at" json:"-"`
	CreatedAt            time.Time                  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time                  `db:"updated_at" json:"updated_at"`
	ResolvedAt           *time.Time                 `db:"resolved_at" json:"resolved_at,omitempty"`

	// Вычисляется при каждом чтении, в базе не хранится.
	SLABreached bool `db:"-" json:"sla_breached"`
}

// IsSLABreachedAt - срок решения прошёл, а спор всё ещё не закрыт.
func (d *Dispute) IsSLABreachedAt(now time.Time) bool {
	return now.After(d.TargetResolutionDate) && !d.Status.IsResolved()
}

// Refresh пересчитывает производные поля на момент now.
func (d *Dispute) Refresh(now time.Time) {
	d.SLABreached = d.IsSLABreachedAt(now)
}

// TimeLeft - сколько осталось до дедлайна; отрицательное значение означает просрочку.
func (d *Dispute) TimeLeft(now time.Time) time.Duration {
	return d.TargetResolutionDate.Sub(now)
}
