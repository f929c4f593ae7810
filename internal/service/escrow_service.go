package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/alert"
	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/fraud"
	"github.com/ignatzorin/booking-core/internal/gateway"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/metrics"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
	"github.com/ignatzorin/booking-core/internal/pricing"
	"github.com/ignatzorin/booking-core/internal/repository"
)

// DefaultReleaseHold - сколько средства остаются в escrow после завершения услуги.
const DefaultReleaseHold = 72 * time.Hour

const sweepBatch = 100

// Причины отмены
const (
	CancelReasonHoldExpired        = "hold_expired"
	CancelReasonPaymentDeclined    = "payment_declined"
	CancelReasonGatewayUnavailable = "gateway_unavailable"
	CancelReasonCaptureDeclined    = "capture_declined"
)

type BookingRepository interface {
	Create(ctx context.Context, b *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetLiveBySlot(ctx context.Context, slotKey string) (*models.Booking, error)
	Update(ctx context.Context, b *models.Booking) error
	UpdateWithLedger(ctx context.Context, b *models.Booking, entries []models.LedgerEntry) error
	UpdateWithDispute(ctx context.Context, b *models.Booking, d *models.Dispute) error
	RecordReleaseFailure(ctx context.Context, id uuid.UUID, reason string, now time.Time) error
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	ListByStatus(ctx context.Context, status valueobject.BookingStatus, limit int) ([]models.Booking, error)
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error)
	ListLedger(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEntry, error)
	GetProviderBalance(ctx context.Context, providerID uuid.UUID, currency string) (*models.ProviderBalance, error)
}

type FraudLog interface {
	Append(ctx context.Context, a *models.FraudAssessment) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.FraudAssessment, error)
}

// EscrowDeps - зависимости контроллера escrow.
type EscrowDeps struct {
	Bookings BookingRepository
	Holds    *HoldService
	Pricing  *pricing.Engine
	Scorer   *fraud.Scorer
	FraudLog FraudLog
	Gateway  gateway.Gateway
	Policy   CancellationPolicy
	Alerter  alert.Alerter
	Clock    clock.Clock
}

// EscrowService - единственный владелец статусов бронирования.
type EscrowService struct {
	bookings    BookingRepository
	holds       *HoldService
	pricing     *pricing.Engine
	scorer      *fraud.Scorer
	fraudLog    FraudLog
	gateway     gateway.Gateway
	policy      CancellationPolicy
	alerter     alert.Alerter
	clock       clock.Clock
	releaseHold time.Duration
}

func NewEscrowService(deps EscrowDeps, releaseHold time.Duration) *EscrowService {
	if releaseHold <= 0 {
		releaseHold = DefaultReleaseHold
	}
	if deps.Alerter == nil {
		deps.Alerter = alert.LogAlerter{}
	}
	return &EscrowService{
		bookings:    deps.Bookings,
		holds:       deps.Holds,
		pricing:     deps.Pricing,
		scorer:      deps.Scorer,
		fraudLog:    deps.FraudLog,
		gateway:     deps.Gateway,
		policy:      deps.Policy,
		alerter:     deps.Alerter,
		clock:       deps.Clock,
		releaseHold: releaseHold,
	}
}

// BookingRequest - намерение забронировать окно провайдера.
type BookingRequest struct {
	CustomerID   uuid.UUID
	ProviderID   uuid.UUID
	Category     string
	PolicyTier   string
	ServiceStart time.Time
	ServiceEnd   time.Time
	BaseAmount   int64
	Instrument   string
}

func (r BookingRequest) validate(engine *pricing.Engine) error {
	switch {
	case r.CustomerID == uuid.Nil || r.ProviderID == uuid.Nil:
		return apperror.New(apperror.ErrCodeInvalidInput, "не указан заказчик или провайдер")
	case r.CustomerID == r.ProviderID:
		return apperror.New(apperror.ErrCodeInvalidInput, "нельзя забронировать услугу у самого себя")
	case r.BaseAmount <= 0:
		return apperror.New(apperror.ErrCodeInvalidInput, "базовая сумма должна быть положительной")
	case r.Instrument == "":
		return apperror.New(apperror.ErrCodeInvalidInput, "не указан платёжный инструмент")
	case !engine.SupportsCategory(r.Category):
		return apperror.Newf(apperror.ErrCodeInvalidInput, "неизвестная категория услуги: %s", r.Category)
	}
	if _, ok := models.ValidPolicyTiers[r.PolicyTier]; !ok {
		return apperror.Newf(apperror.ErrCodeInvalidInput, "неизвестный тариф отмены: %s", r.PolicyTier)
	}
	return nil
}

// PlaceBookingRequest - полный сценарий: антифрод, резерв, авторизация, escrow.
type PlaceBookingRequest struct {
	BookingRequest
	Signals         fraud.SignalSet
	ChallengePassed bool
	Surge           pricing.SurgeContext
}

// PlaceBooking проводит бронирование через всю цепочку до ESCROW_HELD.
// Оценка антифрода возвращается всегда, даже при отказе.
func (s *EscrowService) PlaceBooking(ctx context.Context, req PlaceBookingRequest) (*models.Booking, *models.FraudAssessment, error) {
	if err := req.validate(s.pricing); err != nil {
		return nil, nil, err
	}
	slotKey, err := models.NewSlotKey(req.ProviderID, req.ServiceStart, req.ServiceEnd)
	if err != nil {
		return nil, nil, err
	}

	assessment, err := s.AssessFraud(ctx, req.CustomerID, slotKey, req.Signals)
	if err != nil {
		return nil, nil, err
	}
	switch assessment.Decision {
	case models.FraudDecisionBlock:
		return nil, assessment, apperror.ErrFraudBlocked
	case models.FraudDecisionChallenge:
		if !req.ChallengePassed {
			return nil, assessment, apperror.ErrChallengeRequired
		}
	}

	b, err := s.RequestBooking(ctx, req.BookingRequest)
	if err != nil {
		return nil, assessment, err
	}
	if b, err = s.AuthorizePayment(ctx, b.ID, req.Surge); err != nil {
		return b, assessment, err
	}
	b, err = s.HoldFunds(ctx, b.ID)
	return b, assessment, err
}

// AssessFraud оценивает попытку и записывает оценку в журнал до того, как по ней будет принято решение.
func (s *EscrowService) AssessFraud(ctx context.Context, customerID uuid.UUID, slotKey string, signals fraud.SignalSet) (*models.FraudAssessment, error) {
	a, err := s.scorer.Assess(signals)
	if err != nil {
		return nil, err
	}
	a.ID = uuid.New()
	a.CustomerID = customerID
	a.SlotKey = slotKey
	a.CreatedAt = s.clock.Now()

	if err := s.fraudLog.Append(ctx, &a); err != nil {
		return nil, fmt.Errorf("escrow service: append fraud assessment: %w", err)
	}

	metrics.FraudDecisions.WithLabelValues(string(a.Decision)).Inc()
	logger.Log.WithFields(logrus.Fields{
		"customer_id": customerID,
		"slot_key":    slotKey,
		"score":       a.TotalScore,
		"decision":    a.Decision,
	}).Info("escrow service: оценка антифрода")
	return &a, nil
}

// RequestBooking резервирует слот и создаёт бронирование в HOLD_PLACED.
func (s *EscrowService) RequestBooking(ctx context.Context, req BookingRequest) (*models.Booking, error) {
	if err := req.validate(s.pricing); err != nil {
		return nil, err
	}
	slotKey, err := models.NewSlotKey(req.ProviderID, req.ServiceStart, req.ServiceEnd)
	if err != nil {
		return nil, err
	}
	estimate, err := s.pricing.Quote(req.Category, req.BaseAmount, pricing.NoSurge())
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	b := &models.Booking{
		ID:           uuid.New(),
		SlotKey:      slotKey,
		CustomerID:   req.CustomerID,
		ProviderID:   req.ProviderID,
		Category:     req.Category,
		PolicyTier:   req.PolicyTier,
		ServiceStart: req.ServiceStart.UTC(),
		ServiceEnd:   req.ServiceEnd.UTC(),
		BaseAmount:   req.BaseAmount,
		Currency:     s.pricing.Currency(),
		Instrument:   req.Instrument,
		Status:       valueobject.BookingStatusRequested,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	hold, err := s.holds.Acquire(ctx, slotKey, req.CustomerID, estimate.ChargeMinor(), 0)
	if err != nil {
		return nil, err
	}
	b.HoldID = hold.ID
	if err := s.transition(b, valueobject.BookingStatusHoldPlaced, now); err != nil {
		return nil, err
	}

	err = s.bookings.Create(ctx, b)
	if errors.Is(err, repository.ErrLiveBookingExists) && s.reclaimStaleSlot(ctx, slotKey) {
		err = s.bookings.Create(ctx, b)
	}
	if err != nil {
		s.releaseQuietly(ctx, hold.ID)
		if errors.Is(err, repository.ErrLiveBookingExists) {
			return nil, apperror.ErrSlotUnavailable
		}
		return nil, fmt.Errorf("escrow service: create booking: %w", err)
	}
	return b, nil
}

// reclaimStaleSlot отменяет бронирование, которое держит слот, хотя его резерв уже истёк.
// Возвращает true, если слот освобождён.
func (s *EscrowService) reclaimStaleSlot(ctx context.Context, slotKey string) bool {
	live, err := s.bookings.GetLiveBySlot(ctx, slotKey)
	if err != nil {
		return errors.Is(err, repository.ErrBookingNotFound)
	}
	stale, err := s.pendingWithDeadHold(ctx, live)
	if err != nil || !stale {
		return false
	}
	return s.abortPending(ctx, live, CancelReasonHoldExpired) == nil
}

// pendingWithDeadHold - бронирование ещё не в escrow, а его резерв истёк или освобождён.
func (s *EscrowService) pendingWithDeadHold(ctx context.Context, b *models.Booking) (bool, error) {
	if b.Status != valueobject.BookingStatusHoldPlaced && b.Status != valueobject.BookingStatusPaymentAuthorized {
		return false, nil
	}
	hold, err := s.holds.Get(ctx, b.HoldID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return hold.Status == valueobject.HoldStatusExpired || hold.Status == valueobject.HoldStatusReleased, nil
}

// AuthorizePayment замораживает расчёт стоимости и авторизует сумму у шлюза без списания.
func (s *EscrowService) AuthorizePayment(ctx context.Context, bookingID uuid.UUID, surge pricing.SurgeContext) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == valueobject.BookingStatusPaymentAuthorized {
		return b, nil
	}
	if !b.Status.CanTransitionTo(valueobject.BookingStatusPaymentAuthorized) {
		return b, invalidTransition(b.Status, valueobject.BookingStatusPaymentAuthorized)
	}

	hold, err := s.holds.Get(ctx, b.HoldID)
	if err != nil && !apperror.IsNotFound(err) {
		return b, err
	}
	if hold == nil || hold.Status != valueobject.HoldStatusActive {
		s.abortPendingLogged(ctx, b, CancelReasonHoldExpired)
		return b, apperror.ErrHoldExpired
	}

	// Стоимость считается один раз и дальше не пересчитывается
	quote, err := s.pricing.Quote(b.Category, b.BaseAmount, surge)
	if err != nil {
		return b, err
	}
	quote.ComputedAt = s.clock.Now()

	authID, err := s.gateway.Authorize(ctx, gateway.AuthorizeRequest{
		Amount:         quote.ChargeMinor(),
		Currency:       b.Currency,
		Instrument:     b.Instrument,
		IdempotencyKey: "authorize:" + b.ID.String(),
	})
	if err != nil {
		return s.failAuthorization(ctx, b, err)
	}

	b.Quote = &quote
	b.AuthorizationID = &authID
	if err := s.transition(b, valueobject.BookingStatusPaymentAuthorized, s.clock.Now()); err != nil {
		return b, err
	}
	if err := s.save(ctx, b); err != nil {
		// Неиспользованная авторизация истечёт у провайдера сама
		logger.Log.WithField("booking_id", b.ID).Warnf("escrow service: авторизация %s не сохранена: %v", authID, err)
		return b, err
	}
	return b, nil
}

func (s *EscrowService) failAuthorization(ctx context.Context, b *models.Booking, err error) (*models.Booking, error) {
	switch {
	case errors.Is(err, gateway.ErrDeclined):
		s.abortPendingLogged(ctx, b, CancelReasonPaymentDeclined)
		return b, apperror.Wrap(err, apperror.ErrCodePaymentDeclined, apperror.ErrPaymentDeclined.Message)
	case gateway.IsTransient(err):
		s.abortPendingLogged(ctx, b, CancelReasonGatewayUnavailable)
		s.raise(ctx, alert.Alert{
			Kind:      alert.KindGatewayOutage,
			BookingID: &b.ID,
			Message:   "платёжный шлюз не ответил на авторизацию после всех повторов",
			Details:   map[string]any{"error": err.Error()},
		})
		return b, apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, apperror.ErrGatewayDown.Message)
	default:
		return b, fmt.Errorf("escrow service: authorize: %w", err)
	}
}

// HoldFunds расходует резерв и списывает авторизованную сумму в escrow.
func (s *EscrowService) HoldFunds(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == valueobject.BookingStatusEscrowHeld {
		return b, nil
	}
	if b.Status != valueobject.BookingStatusPaymentAuthorized {
		return b, invalidTransition(b.Status, valueobject.BookingStatusEscrowHeld)
	}

	if _, err := s.holds.Consume(ctx, b.HoldID); err != nil {
		if errors.Is(err, apperror.ErrHoldExpired) {
			s.abortPendingLogged(ctx, b, CancelReasonHoldExpired)
		}
		return b, err
	}

	txID, err := s.gateway.Capture(ctx, *b.AuthorizationID, "capture:"+b.ID.String())
	if err != nil {
		if errors.Is(err, gateway.ErrDeclined) {
			s.abortPendingLogged(ctx, b, CancelReasonCaptureDeclined)
			return b, apperror.Wrap(err, apperror.ErrCodePaymentDeclined, apperror.ErrPaymentDeclined.Message)
		}
		// Исход списания неизвестен: бронирование остаётся в PAYMENT_AUTHORIZED,
		// свипер повторит capture с тем же ключом идемпотентности
		s.raise(ctx, alert.Alert{
			Kind:      alert.KindGatewayOutage,
			BookingID: &b.ID,
			Message:   "шлюз не подтвердил списание, резерв уже израсходован",
			Details:   map[string]any{"amount": b.Quote.ChargeMinor(), "error": err.Error()},
		})
		return b, apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "платёжный шлюз недоступен, повторите позже")
	}

	now := s.clock.Now()
	amount := b.Quote.ChargeMinor()
	b.TransactionID = &txID
	b.AmountHeld = amount
	b.EscrowOpenedAt = &now
	if err := s.transition(b, valueobject.BookingStatusEscrowHeld, now); err != nil {
		return b, err
	}

	entries := []models.LedgerEntry{
		s.entry(b, models.LedgerEscrowHold, &b.CustomerID, amount, &txID, now),
	}
	if err := s.saveWithLedger(ctx, b, entries); err != nil {
		return s.resolveLedgerConflict(ctx, b, err)
	}
	return b, nil
}

// StartService - провайдер приступил к работе.
func (s *EscrowService) StartService(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error) {
	return s.providerStep(ctx, bookingID, actorID, valueobject.BookingStatusServiceInProgress, nil)
}

// CompleteService - провайдер закончил работу, запускается таймер выплаты.
func (s *EscrowService) CompleteService(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error) {
	return s.providerStep(ctx, bookingID, actorID, valueobject.BookingStatusCompleted, func(b *models.Booking, now time.Time) {
		deadline := now.Add(s.releaseHold)
		b.ReleaseDeadline = &deadline
	})
}

func (s *EscrowService) providerStep(ctx context.Context, bookingID, actorID uuid.UUID, to valueobject.BookingStatus, mutate func(*models.Booking, time.Time)) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ProviderID != actorID {
		return nil, apperror.ErrForbidden
	}
	now := s.clock.Now()
	if err := s.transition(b, to, now); err != nil {
		return b, err
	}
	if mutate != nil {
		mutate(b, now)
	}
	if err := s.save(ctx, b); err != nil {
		return b, err
	}
	return b, nil
}

// ReleaseFunds выплачивает провайдеру после истечения срока удержания.
// Идемпотентна: повторный вызов не создаёт новых проводок.
func (s *EscrowService) ReleaseFunds(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == valueobject.BookingStatusReleased {
		return b, nil
	}
	if b.Status != valueobject.BookingStatusCompleted {
		return b, invalidTransition(b.Status, valueobject.BookingStatusReleased)
	}
	now := s.clock.Now()
	if !b.ReleaseDueAt(now) {
		return b, apperror.Newf(apperror.ErrCodeConflict, "срок удержания средств истекает %s", b.ReleaseDeadline.Format(time.RFC3339))
	}

	payout, platform := split(b, b.AmountHeld)
	entries := []models.LedgerEntry{s.entry(b, models.LedgerProviderPayout, &b.ProviderID, payout, nil, now)}
	if platform > 0 {
		entries = append(entries, s.entry(b, models.LedgerPlatformRevenue, nil, platform, nil, now))
	}
	if err := s.transition(b, valueobject.BookingStatusReleased, now); err != nil {
		return b, err
	}

	err = s.saveWithLedger(ctx, b, entries)
	if err == nil {
		logger.Log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"payout":     payout,
			"platform":   platform,
		}).Info("escrow service: средства выплачены провайдеру")
		return b, nil
	}
	if errors.Is(err, repository.ErrLedgerEntryExists) || apperror.CodeOf(err) == apperror.ErrCodeStaleState {
		return s.resolveLedgerConflict(ctx, b, err)
	}
	return b, s.releaseFailed(ctx, b, err)
}

func (s *EscrowService) releaseFailed(ctx context.Context, b *models.Booking, cause error) error {
	metrics.ReleaseFailures.Inc()
	now := s.clock.Now()
	if err := s.bookings.RecordReleaseFailure(ctx, b.ID, cause.Error(), now); err != nil {
		logger.Log.WithField("booking_id", b.ID).Errorf("escrow service: не удалось записать неудачную выплату: %v", err)
	}
	s.raise(ctx, alert.Alert{
		Kind:      alert.KindReleaseFailure,
		BookingID: &b.ID,
		Message:   "выплата из escrow не прошла, будет повторена",
		Details: map[string]any{
			"attempt": b.ReleaseAttempts + 1,
			"amount":  b.AmountHeld,
			"error":   cause.Error(),
		},
	})
	return apperror.Wrap(cause, apperror.ErrCodeReleaseFailure, apperror.ErrReleaseFailure.Message)
}

// ReleaseDue выплачивает все бронирования с истёкшим сроком удержания.
// Ошибки по отдельным бронированиям не прерывают проход, они уйдут на следующий круг.
func (s *EscrowService) ReleaseDue(ctx context.Context) (released, failed int, err error) {
	due, err := s.bookings.ListDueForRelease(ctx, s.clock.Now(), sweepBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("escrow service: list due: %w", err)
	}
	for i := range due {
		if _, err := s.ReleaseFunds(ctx, due[i].ID); err != nil {
			failed++
			continue
		}
		released++
	}
	return released, failed, nil
}

// CancelBooking отменяет бронирование. До escrow просто освобождается резерв,
// из escrow деньги возвращаются по политике отмены; отмена провайдером возвращает всё.
func (s *EscrowService) CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParticipant(actorID) {
		return nil, apperror.ErrForbidden
	}

	switch b.Status {
	case valueobject.BookingStatusHoldPlaced, valueobject.BookingStatusPaymentAuthorized:
		hold, err := s.holds.Get(ctx, b.HoldID)
		if err != nil && !apperror.IsNotFound(err) {
			return b, err
		}
		if hold != nil && hold.Status == valueobject.HoldStatusConsumed {
			return b, apperror.New(apperror.ErrCodeConflict, "идёт списание средств, повторите позже")
		}
		if err := s.abortPending(ctx, b, reason); err != nil {
			return b, err
		}
		return b, nil

	case valueobject.BookingStatusEscrowHeld:
		refund := b.AmountHeld
		if actorID == b.CustomerID {
			hours := b.ServiceStart.Sub(s.clock.Now()).Hours()
			terms, err := s.policy.Terms(b.PolicyTier, hours)
			if err != nil {
				return b, err
			}
			refund = terms.RefundAmount(b.AmountHeld)
		}
		b.CancelReason = &reason
		return s.settle(ctx, b, refund, valueobject.BookingStatusCancelled)

	case valueobject.BookingStatusRefundPending:
		// Отмена уже записана, шлюз ещё не подтвердил возврат
		if b.SettleTo == nil || *b.SettleTo != valueobject.BookingStatusCancelled {
			return b, invalidTransition(b.Status, valueobject.BookingStatusCancelled)
		}
		return s.finishRefund(ctx, b)

	default:
		return b, invalidTransition(b.Status, valueobject.BookingStatusCancelled)
	}
}

// MarkDisputed переводит бронирование в DISPUTED и сохраняет спор в той же транзакции.
// Таймер выплаты при этом останавливается.
func (s *EscrowService) MarkDisputed(ctx context.Context, bookingID uuid.UUID, d *models.Dispute) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(b, valueobject.BookingStatusDisputed, s.clock.Now()); err != nil {
		return b, err
	}
	b.ReleaseDeadline = nil

	if err := s.bookings.UpdateWithDispute(ctx, b, d); err != nil {
		switch {
		case errors.Is(err, repository.ErrDisputeExists):
			return b, apperror.New(apperror.ErrCodeConflict, "по бронированию уже открыт спор")
		case errors.Is(err, repository.ErrBookingVersionConflict):
			return b, apperror.ErrStaleState
		}
		return b, fmt.Errorf("escrow service: mark disputed: %w", err)
	}
	return b, nil
}

// SettleDispute распределяет удержанные средства по решению спора:
// refund возвращается заказчику, остаток уходит провайдеру и платформе.
// Повтор с той же суммой безопасен, другая сумма по уже распределённому бронированию отклоняется.
func (s *EscrowService) SettleDispute(ctx context.Context, bookingID uuid.UUID, refund int64) (*models.Booking, error) {
	b, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch b.Status {
	case valueobject.BookingStatusReleased, valueobject.BookingStatusRefunded:
		if b.RefundedAmount != refund {
			return b, settledDifferently(b.RefundedAmount, refund)
		}
		return b, nil
	case valueobject.BookingStatusRefundPending:
		if b.PendingRefund != refund {
			return b, settledDifferently(b.PendingRefund, refund)
		}
		return s.finishRefund(ctx, b)
	case valueobject.BookingStatusDisputed:
	default:
		return b, invalidTransition(b.Status, valueobject.BookingStatusReleased)
	}

	if refund < 0 || refund > b.AmountHeld {
		return b, apperror.New(apperror.ErrCodeInvalidInput, "сумма возврата превышает удержанные средства")
	}
	to := valueobject.BookingStatusReleased
	if refund == b.AmountHeld {
		to = valueobject.BookingStatusRefunded
	}
	return s.settle(ctx, b, refund, to)
}

// settle закрывает бронирование из escrow. Ненулевой возврат сначала фиксируется
// как REFUND_PENDING с проверкой версии и только после этого уходит в шлюз.
func (s *EscrowService) settle(ctx context.Context, b *models.Booking, refund int64, to valueobject.BookingStatus) (*models.Booking, error) {
	if refund == 0 {
		return s.closeSettlement(ctx, b, 0, to, nil)
	}

	if !b.Status.CanTransitionTo(valueobject.BookingStatusRefundPending) {
		return b, invalidTransition(b.Status, to)
	}
	b.PendingRefund = refund
	b.SettleTo = &to
	if err := s.transition(b, valueobject.BookingStatusRefundPending, s.clock.Now()); err != nil {
		return b, err
	}
	if err := s.save(ctx, b); err != nil {
		return b, err
	}
	return s.finishRefund(ctx, b)
}

// finishRefund отправляет в шлюз возврат, записанный в REFUND_PENDING, и проводит остаток.
// Ключ идемпотентности один на бронирование, поэтому повтор после сбоя деньги дважды не вернёт.
func (s *EscrowService) finishRefund(ctx context.Context, b *models.Booking) (*models.Booking, error) {
	if b.SettleTo == nil || b.TransactionID == nil {
		return b, fmt.Errorf("escrow service: booking %s in %s has no settlement target", b.ID, b.Status)
	}

	refundID, err := s.gateway.Refund(ctx, *b.TransactionID, b.PendingRefund, "refund:"+b.ID.String())
	if err != nil {
		s.raise(ctx, alert.Alert{
			Kind:      alert.KindRefundFailure,
			BookingID: &b.ID,
			Message:   "возврат заказчику не подтверждён шлюзом, будет повторён",
			Details:   map[string]any{"amount": b.PendingRefund, "error": err.Error()},
		})
		if gateway.IsTransient(err) {
			return b, apperror.Wrap(err, apperror.ErrCodeGatewayUnavailable, "платёжный шлюз недоступен, возврат будет повторён")
		}
		return b, fmt.Errorf("escrow service: refund: %w", err)
	}
	return s.closeSettlement(ctx, b, b.PendingRefund, *b.SettleTo, &refundID)
}

// closeSettlement пишет проводки и финальный статус одной транзакцией.
func (s *EscrowService) closeSettlement(ctx context.Context, b *models.Booking, refund int64, to valueobject.BookingStatus, refundRef *string) (*models.Booking, error) {
	platformEntry := models.LedgerPlatformRevenue
	if to == valueobject.BookingStatusCancelled {
		platformEntry = models.LedgerCancellationFee
	}

	now := s.clock.Now()
	payout, platform := split(b, b.AmountHeld-refund)
	var entries []models.LedgerEntry
	if refund > 0 {
		entries = append(entries, s.entry(b, models.LedgerCustomerRefund, &b.CustomerID, refund, refundRef, now))
	}
	if payout > 0 {
		entries = append(entries, s.entry(b, models.LedgerProviderPayout, &b.ProviderID, payout, nil, now))
	}
	if platform > 0 {
		entries = append(entries, s.entry(b, platformEntry, nil, platform, nil, now))
	}

	b.RefundedAmount = refund
	if err := s.transition(b, to, now); err != nil {
		return b, err
	}
	if err := s.saveWithLedger(ctx, b, entries); err != nil {
		return s.resolveLedgerConflict(ctx, b, err)
	}
	return b, nil
}

// ResumeRefunds добивает возвраты, оставшиеся в REFUND_PENDING после сбоя шлюза или процесса.
func (s *EscrowService) ResumeRefunds(ctx context.Context) (finished, failed int, err error) {
	pending, err := s.bookings.ListByStatus(ctx, valueobject.BookingStatusRefundPending, sweepBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("escrow service: list refund pending: %w", err)
	}
	for i := range pending {
		if _, err := s.finishRefund(ctx, &pending[i]); err != nil {
			logger.Log.WithField("booking_id", pending[i].ID).Warnf("escrow service: возврат не завершён: %v", err)
			failed++
			continue
		}
		finished++
	}
	return finished, failed, nil
}

// RetryCaptures повторяет списание для бронирований, у которых резерв израсходован,
// а ответа шлюза на capture так и не было. Ключ идемпотентности прежний.
func (s *EscrowService) RetryCaptures(ctx context.Context) (captured, failed int, err error) {
	cutoff := s.clock.Now().Add(-s.holds.TTL())
	pending, err := s.bookings.ListPendingCreatedBefore(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, 0, fmt.Errorf("escrow service: list pending: %w", err)
	}
	for i := range pending {
		b := &pending[i]
		if !s.captureUnconfirmed(ctx, b) {
			continue
		}
		if _, err := s.HoldFunds(ctx, b.ID); err != nil {
			logger.Log.WithField("booking_id", b.ID).Warnf("escrow service: повтор списания не прошёл: %v", err)
			failed++
			continue
		}
		captured++
	}
	return captured, failed, nil
}

// captureUnconfirmed - резерв уже превращён в обязательство, а бронирование так и не дошло до escrow.
func (s *EscrowService) captureUnconfirmed(ctx context.Context, b *models.Booking) bool {
	if b.Status != valueobject.BookingStatusPaymentAuthorized {
		return false
	}
	hold, err := s.holds.Get(ctx, b.HoldID)
	return err == nil && hold.Status == valueobject.HoldStatusConsumed
}

// CleanupPending отменяет бронирования до escrow, чьи резервы истекли.
func (s *EscrowService) CleanupPending(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.holds.TTL())
	pending, err := s.bookings.ListPendingCreatedBefore(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("escrow service: list pending: %w", err)
	}

	cancelled := 0
	for i := range pending {
		b := &pending[i]
		stale, err := s.pendingWithDeadHold(ctx, b)
		if err != nil || !stale {
			continue
		}
		if err := s.abortPending(ctx, b, CancelReasonHoldExpired); err == nil {
			cancelled++
		}
	}
	return cancelled, nil
}

// GetBooking - чтение без кеширования, источник правды всегда хранилище.
func (s *EscrowService) GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, apperror.ErrBookingNotFound
		}
		return nil, fmt.Errorf("escrow service: get booking: %w", err)
	}
	return b, nil
}

func (s *EscrowService) ListBookings(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Booking, error) {
	return s.bookings.ListByParticipant(ctx, userID, limit, offset)
}

func (s *EscrowService) Ledger(ctx context.Context, bookingID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.bookings.ListLedger(ctx, bookingID)
}

// ProviderBalance - сумма выплат провайдеру по всем закрытым бронированиям.
func (s *EscrowService) ProviderBalance(ctx context.Context, providerID uuid.UUID) (*models.ProviderBalance, error) {
	return s.bookings.GetProviderBalance(ctx, providerID, s.pricing.Currency())
}

func (s *EscrowService) FraudHistory(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.FraudAssessment, error) {
	return s.fraudLog.ListByCustomer(ctx, customerID, limit, offset)
}

// PreviewQuote считает стоимость без сохранения.
func (s *EscrowService) PreviewQuote(category string, baseAmount int64, surge pricing.SurgeContext) (models.PricingQuote, error) {
	q, err := s.pricing.Quote(category, baseAmount, surge)
	if err != nil {
		return q, err
	}
	q.ComputedAt = s.clock.Now()
	return q, nil
}

// abortPending отменяет бронирование до escrow и освобождает резерв.
func (s *EscrowService) abortPending(ctx context.Context, b *models.Booking, reason string) error {
	if err := s.transition(b, valueobject.BookingStatusCancelled, s.clock.Now()); err != nil {
		return err
	}
	b.CancelReason = &reason
	if err := s.save(ctx, b); err != nil {
		return err
	}
	s.releaseQuietly(ctx, b.HoldID)
	return nil
}

func (s *EscrowService) abortPendingLogged(ctx context.Context, b *models.Booking, reason string) {
	if err := s.abortPending(ctx, b, reason); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"reason":     reason,
		}).Warnf("escrow service: не удалось отменить бронирование: %v", err)
	}
}

func (s *EscrowService) releaseQuietly(ctx context.Context, holdID uuid.UUID) {
	if err := s.holds.Release(ctx, holdID); err != nil {
		logger.Log.WithField("hold_id", holdID).Warnf("escrow service: резерв не освобождён: %v", err)
	}
}

// transition проверяет переход по таблице и логирует его.
func (s *EscrowService) transition(b *models.Booking, to valueobject.BookingStatus, now time.Time) error {
	from := b.Status
	if err := b.TransitionTo(to, now); err != nil {
		return err
	}
	metrics.BookingTransitions.WithLabelValues(string(from), string(to)).Inc()
	logger.Log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"from":       from,
		"to":         to,
	}).Info("escrow service: переход бронирования")
	return nil
}

func (s *EscrowService) save(ctx context.Context, b *models.Booking) error {
	if err := s.bookings.Update(ctx, b); err != nil {
		if errors.Is(err, repository.ErrBookingVersionConflict) {
			return apperror.ErrStaleState
		}
		return fmt.Errorf("escrow service: update booking: %w", err)
	}
	return nil
}

func (s *EscrowService) saveWithLedger(ctx context.Context, b *models.Booking, entries []models.LedgerEntry) error {
	if err := s.bookings.UpdateWithLedger(ctx, b, entries); err != nil {
		if errors.Is(err, repository.ErrBookingVersionConflict) {
			return apperror.ErrStaleState
		}
		if errors.Is(err, repository.ErrLedgerEntryExists) {
			return err
		}
		return fmt.Errorf("escrow service: update booking with ledger: %w", err)
	}
	return nil
}

// resolveLedgerConflict перечитывает бронирование после конфликта записи. Успех только если
// другой вызов довёл его ровно до того же исхода: тот же статус и та же сумма возврата.
func (s *EscrowService) resolveLedgerConflict(ctx context.Context, intended *models.Booking, cause error) (*models.Booking, error) {
	if !errors.Is(cause, repository.ErrLedgerEntryExists) && apperror.CodeOf(cause) != apperror.ErrCodeStaleState {
		return nil, cause
	}
	fresh, err := s.GetBooking(ctx, intended.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status == intended.Status && fresh.RefundedAmount == intended.RefundedAmount {
		return fresh, nil
	}
	return fresh, apperror.ErrStaleState
}

func (s *EscrowService) entry(b *models.Booking, entryType string, account *uuid.UUID, amount int64, ref *string, now time.Time) models.LedgerEntry {
	return models.LedgerEntry{
		ID:          uuid.New(),
		BookingID:   b.ID,
		EntryType:   entryType,
		AccountID:   account,
		Amount:      amount,
		Currency:    b.Currency,
		ExternalRef: ref,
		CreatedAt:   now,
	}
}

func (s *EscrowService) raise(ctx context.Context, a alert.Alert) {
	a.At = s.clock.Now()
	if err := s.alerter.Alert(ctx, a); err != nil {
		logger.Log.WithField("alert", a.Kind).Errorf("escrow service: алерт не доставлен: %v", err)
	}
}

// split делит удержанный остаток: провайдеру не больше его выплаты по расчёту, остальное платформе.
func split(b *models.Booking, retained int64) (payout, platform int64) {
	payout = b.BaseAmount
	if b.Quote != nil {
		payout = b.Quote.ProviderPayout
	}
	if payout > retained {
		payout = retained
	}
	return payout, retained - payout
}

func settledDifferently(settled, requested int64) error {
	return apperror.Newf(apperror.ErrCodeConflict, "средства уже распределены с возвратом %d, запрошено %d", settled, requested)
}

func invalidTransition(from, to valueobject.BookingStatus) error {
	return apperror.Newf(apperror.ErrCodeInvalidTransition, "переход бронирования %s -> %s запрещён", from, to)
}
