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
	ErrBookingNotFound        = errors.New("booking not found")
	ErrLiveBookingExists      = errors.New("slot already has a live booking")
	ErrLedgerEntryExists      = errors.New("ledger entry already recorded")
	ErrDisputeExists          = errors.New("booking already has a dispute")
	ErrBookingVersionConflict = common.ErrStaleVersion
)

const (
	liveBookingIndex  = "bookings_one_live_per_slot"
	ledgerUniqueIndex = "ledger_entries_booking_id_entry_type_key"
	disputeBookingKey = "disputes_booking_id_key"
)

// Статусы, в которых бронирование ещё не дошло до escrow.
var pendingStatuses = []string{"HOLD_PLACED", "PAYMENT_AUTHORIZED"}

type BookingRepository struct {
	db *sqlx.DB
}

func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create сохраняет новое бронирование с version = 1.
func (r *BookingRepository) Create(ctx context.Context, b *models.Booking) error {
	b.Version = 1
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO bookings (
			id, slot_key, hold_id, customer_id, provider_id, category, policy_tier,
			service_start, service_end, base_amount, currency, payment_instrument, quote,
			status, version, created_at, updated_at
		) VALUES (
			:id, :slot_key, :hold_id, :customer_id, :provider_id, :category, :policy_tier,
			:service_start, :service_end, :base_amount, :currency, :payment_instrument, :quote,
			:status, :version, :created_at, :updated_at
		)
	`, b)
	if err != nil {
		if common.IsUniqueViolation(err, liveBookingIndex) {
			return ErrLiveBookingExists
		}
		return fmt.Errorf("booking repository: create: %w", err)
	}
	return nil
}

func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return common.GetByID[models.Booking](ctx, r.db, "bookings", id, ErrBookingNotFound)
}

// GetLiveBySlot возвращает бронирование, которое сейчас занимает слот.
func (r *BookingRepository) GetLiveBySlot(ctx context.Context, slotKey string) (*models.Booking, error) {
	var b models.Booking
	err := r.db.GetContext(ctx, &b, `
		SELECT * FROM bookings
		WHERE slot_key = $1
		  AND status IN ('HOLD_PLACED', 'PAYMENT_AUTHORIZED', 'ESCROW_HELD', 'SERVICE_IN_PROGRESS', 'COMPLETED',
		                 'DISPUTED', 'REFUND_PENDING')
	`, slotKey)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("booking repository: get live by slot: %w", err)
	}
	return &b, nil
}

// Update записывает переход. b.Version - версия, с которой бронирование было прочитано;
// если строка успела измениться, возвращается ErrStaleVersion.
func (r *BookingRepository) Update(ctx context.Context, b *models.Booking) error {
	return r.commit(ctx, b, func(tx *sqlx.Tx) error { return nil })
}

// commit обновляет бронирование и выполняет extra в той же транзакции.
// Версия в памяти растёт только после успешного коммита.
func (r *BookingRepository) commit(ctx context.Context, b *models.Booking, extra func(tx *sqlx.Tx) error) error {
	err := common.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := r.updateTx(ctx, tx, b); err != nil {
			return err
		}
		return extra(tx)
	})
	if err != nil {
		return err
	}
	b.Version++
	return nil
}

// UpdateWithLedger записывает переход вместе с проводками в одной транзакции.
// Повторная проводка того же типа по бронированию даёт ErrLedgerEntryExists и откатывает всё.
func (r *BookingRepository) UpdateWithLedger(ctx context.Context, b *models.Booking, entries []models.LedgerEntry) error {
	return r.commit(ctx, b, func(tx *sqlx.Tx) error {
		if len(entries) == 0 {
			return nil
		}

		inserter := common.NewBatchInserter(tx, `
			INSERT INTO ledger_entries (id, booking_id, entry_type, account_id, amount, currency, external_ref, created_at)
		`, 8, len(entries))
		for _, e := range entries {
			if err := inserter.Add(ctx, e.ID, e.BookingID, e.EntryType, e.AccountID, e.Amount, e.Currency, e.ExternalRef, e.CreatedAt); err != nil {
				return r.ledgerError(err)
			}
		}
		if err := inserter.Flush(ctx); err != nil {
			return r.ledgerError(err)
		}

		// Выплата провайдеру зачисляется на его баланс
		for _, e := range entries {
			if e.EntryType != models.LedgerProviderPayout || e.AccountID == nil || e.Amount == 0 {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO provider_balances (provider_id, available, currency, updated_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (provider_id) DO UPDATE
				SET available = provider_balances.available + $2, updated_at = $4
			`, *e.AccountID, e.Amount, e.Currency, e.CreatedAt)
			if err != nil {
				return fmt.Errorf("booking repository: credit provider balance: %w", err)
			}
		}
		return nil
	})
}

// UpdateWithDispute переводит бронирование в DISPUTED и создаёт спор одной транзакцией.
func (r *BookingRepository) UpdateWithDispute(ctx context.Context, b *models.Booking, d *models.Dispute) error {
	return r.commit(ctx, b, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO disputes (
				id, booking_id, opened_by, type, disputed_amount, evidence, status,
				target_resolution_date, created_at, updated_at
			) VALUES (
				:id, :booking_id, :opened_by, :type, :disputed_amount, :evidence, :status,
				:target_resolution_date, :created_at, :updated_at
			)
		`, d)
		if err != nil {
			if common.IsUniqueViolation(err, disputeBookingKey) {
				return ErrDisputeExists
			}
			return fmt.Errorf("booking repository: create dispute: %w", err)
		}
		return nil
	})
}

func (r *BookingRepository) updateTx(ctx context.Context, tx *sqlx.Tx, b *models.Booking) error {
	query, args, err := tx.BindNamed(`
		UPDATE bookings SET
			status = :status,
			quote = :quote,
			authorization_id = :authorization_id,
			transaction_id = :transaction_id,
			amount_held = :amount_held,
			refunded_amount = :refunded_amount,
			escrow_opened_at = :escrow_opened_at,
			release_deadline = :release_deadline,
			release_attempts = :release_attempts,
			last_release_error = :last_release_error,
			cancel_reason = :cancel_reason,
			pending_refund = :pending_refund,
			settle_to = :settle_to,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :version
	`, b)
	if err != nil {
		return fmt.Errorf("booking repository: bind update: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("booking repository: update: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("booking repository: update: %w", err)
	}
	if !ok {
		return ErrBookingVersionConflict
	}
	return nil
}

func (r *BookingRepository) ledgerError(err error) error {
	if common.IsUniqueViolation(err, ledgerUniqueIndex) {
		return ErrLedgerEntryExists
	}
	return fmt.Errorf("booking repository: insert ledger: %w", err)
}

// RecordReleaseFailure учитывает неудачную попытку выплаты. Статус и версия не меняются.
func (r *BookingRepository) RecordReleaseFailure(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bookings
		SET release_attempts = release_attempts + 1, last_release_error = $2, updated_at = $3
		WHERE id = $1
	`, id, reason, now)
	if err != nil {
		return fmt.Errorf("booking repository: record release failure: %w", err)
	}
	return nil
}

// ListDueForRelease - завершённые бронирования, у которых истёк срок удержания.
func (r *BookingRepository) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	var items []models.Booking
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM bookings
		WHERE status = 'COMPLETED' AND release_deadline <= $1
		ORDER BY release_deadline
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list due for release: %w", err)
	}
	return items, nil
}

// ListPendingCreatedBefore - бронирования до escrow, созданные раньше cutoff.
// Их резервы к этому моменту гарантированно истекли или израсходованы.
func (r *BookingRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	query, args, err := sqlx.In(`
		SELECT * FROM bookings
		WHERE status IN (?) AND created_at < ?
		ORDER BY created_at
		LIMIT ?
	`, pendingStatuses, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("booking repository: build pending query: %w", err)
	}

	var items []models.Booking
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("booking repository: list pending: %w", err)
	}
	return items, nil
}

// ListByStatus - бронирования в статусе status, дольше всего не менявшиеся первыми.
func (r *BookingRepository) ListByStatus(ctx context.Context, status valueobject.BookingStatus, limit int) ([]models.Booking, error) {
	var items []models.Booking
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM bookings
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list by status: %w", err)
	}
	return items, nil
}

// ListByParticipant возвращает бронирования, где пользователь заказчик или исполнитель.
func (r *BookingRepository) ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	var items []models.Booking
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM bookings
		WHERE customer_id = $1 OR provider_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list by participant: %w", err)
	}
	return items, nil
}

func (r *BookingRepository) ListLedger(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEntry, error) {
	var items []models.LedgerEntry
	err := r.db.SelectContext(ctx, &items, `
		SELECT * FROM ledger_entries WHERE booking_id = $1 ORDER BY created_at, entry_type
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking repository: list ledger: %w", err)
	}
	return items, nil
}

// GetProviderBalance возвращает накопленные выплаты, нулевой баланс если выплат не было.
func (r *BookingRepository) GetProviderBalance(ctx context.Context, providerID uuid.UUID, currency string) (*models.ProviderBalance, error) {
	var balance models.ProviderBalance
	err := r.db.GetContext(ctx, &balance, `
		SELECT provider_id, available, currency, updated_at FROM provider_balances WHERE provider_id = $1
	`, providerID)
	if err != nil {
		if isNoRows(err) {
			return &models.ProviderBalance{ProviderID: providerID, Currency: currency}, nil
		}
		return nil, fmt.Errorf("booking repository: get provider balance: %w", err)
	}
	return &balance, nil
}
