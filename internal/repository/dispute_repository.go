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
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrDisputeChanged  = errors.New("dispute status changed concurrently")
)

type DisputeRepository struct {
	db *sqlx.DB
}

func NewDisputeRepository(db *sqlx.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return common.GetByID[models.Dispute](ctx, r.db, "disputes", id, ErrDisputeNotFound)
}

func (r *DisputeRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	return common.GetByField[models.Dispute](ctx, r.db, "disputes", "booking_id", bookingID, ErrDisputeNotFound)
}

// UpdateStatus сохраняет решение по спору, если статус в базе всё ещё равен from.
func (r *DisputeRepository) UpdateStatus(ctx context.Context, d *models.Dispute, from valueobject.DisputeStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $3, refund_amount = $4, resolution = $5, resolved_by = $6, outcome = $7,
		    resolved_at = $8, updated_at = $9
		WHERE id = $1 AND status = $2
	`, d.ID, from, d.Status, d.RefundAmount, d.Resolution, d.ResolvedBy, d.Outcome, d.ResolvedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("dispute repository: update status: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("dispute repository: update status: %w", err)
	}
	if !ok {
		return ErrDisputeChanged
	}
	return nil
}

// ListByUser - споры по бронированиям, где пользователь участник.
func (r *DisputeRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT d.* FROM disputes d
		JOIN bookings b ON d.booking_id = b.id
		WHERE b.customer_id = $1 OR b.provider_id = $1
		ORDER BY d.created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by user: %w", err)
	}
	return disputes, nil
}

// ListBreachedUnalerted - нерешённые споры с прошедшим дедлайном, по которым ещё не было алерта.
func (r *DisputeRepository) ListBreachedUnalerted(ctx context.Context, now time.Time, limit int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes
		WHERE status IN ('open', 'investigating', 'escalated', 'resolving')
		  AND target_resolution_date < $1
		  AND breach_alerted_at IS NULL
		ORDER BY target_resolution_date
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list breached: %w", err)
	}
	return disputes, nil
}

// ListByStatus - споры в статусе status, дольше всего не менявшиеся первыми.
func (r *DisputeRepository) ListByStatus(ctx context.Context, status valueobject.DisputeStatus, limit int) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.SelectContext(ctx, &disputes, `
		SELECT * FROM disputes WHERE status = $1 ORDER BY updated_at LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("dispute repository: list by status: %w", err)
	}
	return disputes, nil
}

// MarkBreachAlerted фиксирует, что по просрочке уже отправлен алерт. Статус не меняется.
func (r *DisputeRepository) MarkBreachAlerted(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE disputes SET breach_alerted_at = $2 WHERE id = $1 AND breach_alerted_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("dispute repository: mark breach alerted: %w", err)
	}
	return nil
}
