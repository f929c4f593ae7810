package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/alert"
	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/metrics"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
	"github.com/ignatzorin/booking-core/internal/repository"
)

type DisputeRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error)
	UpdateStatus(ctx context.Context, d *models.Dispute, from valueobject.DisputeStatus) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error)
	ListBreachedUnalerted(ctx context.Context, now time.Time, limit int) ([]models.Dispute, error)
	ListByStatus(ctx context.Context, status valueobject.DisputeStatus, limit int) ([]models.Dispute, error)
	MarkBreachAlerted(ctx context.Context, id uuid.UUID, now time.Time) error
}

// DisputeService ведёт споры и следит за сроками их решения.
// Деньги по спору двигает только EscrowService.
type DisputeService struct {
	repo    DisputeRepository
	escrow  *EscrowService
	alerter alert.Alerter
	clock   clock.Clock
	sla     time.Duration
}

func NewDisputeService(repo DisputeRepository, escrow *EscrowService, alerter alert.Alerter, clk clock.Clock, sla time.Duration) *DisputeService {
	if sla <= 0 {
		sla = models.DefaultDisputeSLA
	}
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	return &DisputeService{repo: repo, escrow: escrow, alerter: alerter, clock: clk, sla: sla}
}

type OpenDisputeRequest struct {
	BookingID      uuid.UUID
	ActorID        uuid.UUID
	Type           models.DisputeType
	DisputedAmount int64
	Evidence       []string
}

// OpenDispute открывает спор и замораживает выплату по бронированию.
func (s *DisputeService) OpenDispute(ctx context.Context, req OpenDisputeRequest) (*models.Dispute, error) {
	if !req.Type.IsValid() {
		return nil, apperror.Newf(apperror.ErrCodeInvalidInput, "неизвестный тип спора: %s", req.Type)
	}
	b, err := s.escrow.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(req.ActorID) {
		return nil, apperror.ErrForbidden
	}
	if req.DisputedAmount <= 0 || req.DisputedAmount > b.AmountHeld {
		return nil, apperror.Newf(apperror.ErrCodeInvalidInput, "оспариваемая сумма должна быть от 1 до %d", b.AmountHeld)
	}

	now := s.clock.Now()
	evidence := req.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	d := &models.Dispute{
		ID:                   uuid.New(),
		BookingID:            b.ID,
		OpenedBy:             req.ActorID,
		Type:                 req.Type,
		DisputedAmount:       req.DisputedAmount,
		Evidence:             pq.StringArray(evidence),
		Status:               valueobject.DisputeStatusOpen,
		TargetResolutionDate: now.Add(s.sla),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if _, err := s.escrow.MarkDisputed(ctx, b.ID, d); err != nil {
		return nil, err
	}
	d.Refresh(now)

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"booking_id": b.ID,
		"type":       d.Type,
		"target":     d.TargetResolutionDate,
	}).Info("dispute service: спор открыт")
	return d, nil
}

func (s *DisputeService) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapDisputeErr(err)
	}
	d.Refresh(s.clock.Now())
	return d, nil
}

func (s *DisputeService) GetByBooking(ctx context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	d, err := s.repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		return nil, mapDisputeErr(err)
	}
	d.Refresh(s.clock.Now())
	return d, nil
}

func (s *DisputeService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Dispute, error) {
	disputes, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range disputes {
		disputes[i].Refresh(now)
	}
	return disputes, nil
}

func (s *DisputeService) StartInvestigation(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.move(ctx, id, valueobject.DisputeStatusInvestigating)
}

func (s *DisputeService) Escalate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.move(ctx, id, valueobject.DisputeStatusEscalated)
}

func (s *DisputeService) move(ctx context.Context, id uuid.UUID, to valueobject.DisputeStatus) (*models.Dispute, error) {
	d, err := s.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == to {
		return d, nil
	}
	if !d.Status.CanTransitionTo(to) {
		return d, apperror.Newf(apperror.ErrCodeInvalidTransition, "переход спора %s -> %s запрещён", d.Status, to)
	}
	from := d.Status
	d.Status = to
	d.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, d, from); err != nil {
		return nil, mapDisputeErr(err)
	}
	d.Refresh(d.UpdatedAt)
	return d, nil
}

type ResolveRequest struct {
	DisputeID    uuid.UUID
	Outcome      valueobject.DisputeStatus
	RefundAmount int64
	Resolution   string
	ResolvedBy   uuid.UUID
}

// Resolve закрывает спор и распределяет удержанные средства. Решение сначала
// закрепляется переходом в resolving, и только потом двигаются деньги.
// resolved_customer требует ненулевого возврата, остальные исходы возврата не допускают.
func (s *DisputeService) Resolve(ctx context.Context, req ResolveRequest) (*models.Dispute, error) {
	if !req.Outcome.IsResolved() {
		return nil, apperror.Newf(apperror.ErrCodeInvalidInput, "%s не является итогом спора", req.Outcome)
	}
	d, err := s.GetDispute(ctx, req.DisputeID)
	if err != nil {
		return nil, err
	}

	switch {
	case d.Status.IsResolved():
		if d.Status == req.Outcome && sameRefund(d, req.RefundAmount) {
			return d, nil
		}
		return d, apperror.New(apperror.ErrCodeConflict, "спор уже решён")
	case d.Status == valueobject.DisputeStatusResolving:
		// Повтор того же решения после сбоя шлюза доводит его до конца
		if d.Outcome == nil || *d.Outcome != req.Outcome || !sameRefund(d, req.RefundAmount) {
			return d, apperror.New(apperror.ErrCodeConflict, "по спору уже принимается другое решение")
		}
		return s.complete(ctx, d)
	}

	if !d.Status.CanTransitionTo(valueobject.DisputeStatusResolving) {
		return d, apperror.Newf(apperror.ErrCodeInvalidTransition, "переход спора %s -> %s запрещён", d.Status, req.Outcome)
	}
	if err := validateRefund(req, d.DisputedAmount); err != nil {
		return d, err
	}

	from := d.Status
	outcome := req.Outcome
	refund := req.RefundAmount
	resolution := req.Resolution
	resolvedBy := req.ResolvedBy
	d.Status = valueobject.DisputeStatusResolving
	d.Outcome = &outcome
	d.RefundAmount = &refund
	d.Resolution = &resolution
	d.ResolvedBy = &resolvedBy
	d.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateStatus(ctx, d, from); err != nil {
		if errors.Is(err, repository.ErrDisputeChanged) {
			return d, apperror.New(apperror.ErrCodeConflict, "спор уже решается другим администратором")
		}
		return d, mapDisputeErr(err)
	}
	return s.complete(ctx, d)
}

// complete распределяет деньги по закреплённому решению и переводит спор в итоговый статус.
// Escrow принимает повтор только с той же суммой возврата.
func (s *DisputeService) complete(ctx context.Context, d *models.Dispute) (*models.Dispute, error) {
	if d.Outcome == nil || d.RefundAmount == nil {
		return d, fmt.Errorf("dispute service: dispute %s is resolving without an outcome", d.ID)
	}
	if _, err := s.escrow.SettleDispute(ctx, d.BookingID, *d.RefundAmount); err != nil {
		return d, err
	}

	now := s.clock.Now()
	resolved := *d
	resolved.Status = *d.Outcome
	resolved.ResolvedAt = &now
	resolved.UpdatedAt = now
	if err := s.repo.UpdateStatus(ctx, &resolved, valueobject.DisputeStatusResolving); err != nil {
		if !errors.Is(err, repository.ErrDisputeChanged) {
			return d, mapDisputeErr(err)
		}
		// Параллельный повтор успел закрыть спор
		fresh, getErr := s.GetDispute(ctx, d.ID)
		if getErr != nil || fresh.Status != *d.Outcome {
			return d, mapDisputeErr(err)
		}
		return fresh, nil
	}
	resolved.Refresh(now)

	logger.Log.WithFields(logrus.Fields{
		"dispute_id": resolved.ID,
		"outcome":    resolved.Status,
		"refund":     *resolved.RefundAmount,
	}).Info("dispute service: спор решён")
	return &resolved, nil
}

// ResumeResolving завершает споры, решение по которым записано, а деньги не распределены.
func (s *DisputeService) ResumeResolving(ctx context.Context) (finished, failed int, err error) {
	pending, err := s.repo.ListByStatus(ctx, valueobject.DisputeStatusResolving, sweepBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("dispute service: list resolving: %w", err)
	}
	for i := range pending {
		if _, err := s.complete(ctx, &pending[i]); err != nil {
			logger.Log.WithField("dispute_id", pending[i].ID).Warnf("dispute service: решение не завершено: %v", err)
			failed++
			continue
		}
		finished++
	}
	return finished, failed, nil
}

func sameRefund(d *models.Dispute, refund int64) bool {
	return d.RefundAmount != nil && *d.RefundAmount == refund
}

func validateRefund(req ResolveRequest, disputed int64) error {
	switch {
	case req.RefundAmount < 0 || req.RefundAmount > disputed:
		return apperror.Newf(apperror.ErrCodeInvalidInput, "возврат должен быть от 0 до %d", disputed)
	case req.Outcome == valueobject.DisputeStatusResolvedCustomer && req.RefundAmount == 0:
		return apperror.New(apperror.ErrCodeInvalidInput, "решение в пользу заказчика требует возврата")
	case req.Outcome != valueobject.DisputeStatusResolvedCustomer && req.RefundAmount != 0:
		return apperror.New(apperror.ErrCodeInvalidInput, "возврат возможен только при решении в пользу заказчика")
	}
	return nil
}

// AlertBreaches шлёт по одному алерту на каждый просроченный спор.
// Статус спора при этом не меняется.
func (s *DisputeService) AlertBreaches(ctx context.Context) (int, error) {
	now := s.clock.Now()
	breached, err := s.repo.ListBreachedUnalerted(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("dispute service: list breached: %w", err)
	}

	alerted := 0
	for i := range breached {
		d := &breached[i]
		err := s.alerter.Alert(ctx, alert.Alert{
			Kind:      alert.KindSLABreach,
			BookingID: &d.BookingID,
			DisputeID: &d.ID,
			Message:   "спор не решён в срок",
			Details: map[string]any{
				"status":  string(d.Status),
				"target":  d.TargetResolutionDate.Format(time.RFC3339),
				"overdue": now.Sub(d.TargetResolutionDate).Round(time.Minute).String(),
			},
			At: now,
		})
		if err != nil {
			logger.Log.WithField("dispute_id", d.ID).Errorf("dispute service: алерт не доставлен: %v", err)
			continue
		}
		if err := s.repo.MarkBreachAlerted(ctx, d.ID, now); err != nil {
			return alerted, fmt.Errorf("dispute service: mark alerted: %w", err)
		}
		metrics.SLABreaches.Inc()
		alerted++
	}
	return alerted, nil
}

func mapDisputeErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrDisputeNotFound):
		return apperror.ErrDisputeNotFound
	case errors.Is(err, repository.ErrDisputeChanged):
		return apperror.ErrStaleState
	}
	return fmt.Errorf("dispute service: %w", err)
}
