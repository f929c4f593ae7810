package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/repository/common"
)

var (
	ErrSlotTaken    = errors.New("slot already has an active hold")
	ErrHoldNotFound = errors.New("hold not found")
)

const activeHoldIndex = "slot_holds_one_active_per_slot"

// HoldRepository хранит резервы в PostgreSQL. Эксклюзивность держится
// на частичном уникальном индексе по slot_key среди активных резервов.
type HoldRepository struct {
	db *sqlx.DB
}

func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// Acquire атомарно создаёт активный резерв. Просроченный активный резерв на том же слоте
// в той же транзакции помечается expired, поэтому повторный захват после TTL проходит.
func (r *HoldRepository) Acquire(ctx context.Context, hold *models.SlotHold) error {
	return common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE slot_holds SET status = 'expired', resolved_at = $2
			WHERE slot_key = $1 AND status = 'active' AND expires_at <= $2
		`, hold.SlotKey, hold.CreatedAt)
		if err != nil {
			return fmt.Errorf("hold repository: expire stale on acquire: %w", err)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO slot_holds (id, slot_key, holder_id, status, estimated_amount, created_at, expires_at)
			VALUES (:id, :slot_key, :holder_id, :status, :estimated_amount, :created_at, :expires_at)
		`, hold)
		if err != nil {
			if common.IsUniqueViolation(err, activeHoldIndex) {
				return ErrSlotTaken
			}
			return fmt.Errorf("hold repository: insert: %w", err)
		}
		return nil
	})
}

func (r *HoldRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SlotHold, error) {
	return common.GetByID[models.SlotHold](ctx, r.db, "slot_holds", id, ErrHoldNotFound)
}

// Consume переводит резерв в consumed, только если он активен и ещё не истёк.
func (r *HoldRepository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE slot_holds SET status = 'consumed', resolved_at = $2
		WHERE id = $1 AND status = 'active' AND expires_at > $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("hold repository: consume: %w", err)
	}
	return affected(res)
}

// SetStatusIfActive переводит активный резерв в released или expired.
func (r *HoldRepository) SetStatusIfActive(ctx context.Context, id uuid.UUID, to valueobject.HoldStatus, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE slot_holds SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = 'active'
	`, id, to, now)
	if err != nil {
		return false, fmt.Errorf("hold repository: set status %s: %w", to, err)
	}
	return affected(res)
}

// ExpireStale помечает expired все активные резервы с истёкшим сроком.
func (r *HoldRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE slot_holds SET status = 'expired', resolved_at = $1
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("hold repository: expire stale: %w", err)
	}
	return res.RowsAffected()
}
