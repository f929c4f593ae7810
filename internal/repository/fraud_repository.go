package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/booking-core/internal/models"
)

// FraudRepository - журнал оценок антифрода. Записи только добавляются.
type FraudRepository struct {
	db *sqlx.DB
}

func NewFraudRepository(db *sqlx.DB) *FraudRepository {
	return &FraudRepository{db: db}
}

func (r *FraudRepository) Append(ctx context.Context, a *models.FraudAssessment) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO fraud_assessments (id, customer_id, slot_key, signals, total_score, decision, created_at)
		VALUES (:id, :customer_id, :slot_key, :signals, :total_score, :decision, :created_at)
	`, a)
	if err != nil {
		return fmt.Errorf("fraud repository: append: %w", err)
	}
	return nil
}

func (r *FraudRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.FraudAssessment, error) {
	var items []models.FraudAssessment
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM fraud_assessments
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fraud repository: list by customer: %w", err)
	}
	return items, nil
}
