package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/metrics"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
	"github.com/ignatzorin/booking-core/internal/repository"
)

// HoldRepository - хранилище резервов. Acquire обязан быть атомарным
// относительно других Acquire на тот же слот, в том числе из других процессов.
type HoldRepository interface {
	Acquire(ctx context.Context, hold *models.SlotHold) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SlotHold, error)
	Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	SetStatusIfActive(ctx context.Context, id uuid.UUID, to valueobject.HoldStatus, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type HoldService struct {
	repo  HoldRepository
	clock clock.Clock
	ttl   time.Duration
}

type HoldOption func(*HoldService)

// WithHoldTTL задаёт срок жизни резерва по умолчанию.
func WithHoldTTL(ttl time.Duration) HoldOption {
	return func(s *HoldService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewHoldService(repo HoldRepository, clk clock.Clock, opts ...HoldOption) *HoldService {
	s := &HoldService{repo: repo, clock: clk, ttl: models.DefaultHoldTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HoldService) TTL() time.Duration {
	return s.ttl
}

// Acquire захватывает слот. Проигравший гонку получает ErrSlotUnavailable и должен
// выбрать другое время или повторить запрос, внутренних повторов нет.
func (s *HoldService) Acquire(ctx context.Context, slotKey string, holderID uuid.UUID, estimatedAmount int64, ttl time.Duration) (*models.SlotHold, error) {
	if slotKey == "" || holderID == uuid.Nil || estimatedAmount < 0 {
		return nil, apperror.New(apperror.ErrCodeInvalidInput, "некорректные параметры резерва")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	now := s.clock.Now()
	hold := &models.SlotHold{
		ID:              uuid.New(),
		SlotKey:         slotKey,
		HolderID:        holderID,
		Status:          valueobject.HoldStatusActive,
		EstimatedAmount: estimatedAmount,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}

	if err := s.repo.Acquire(ctx, hold); err != nil {
		if errors.Is(err, repository.ErrSlotTaken) {
			metrics.HoldAcquisitions.WithLabelValues("taken").Inc()
			return nil, apperror.ErrSlotUnavailable
		}
		metrics.HoldAcquisitions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hold service: acquire: %w", err)
	}

	metrics.HoldAcquisitions.WithLabelValues("acquired").Inc()
	logger.Log.WithFields(logrus.Fields{
		"hold_id":    hold.ID,
		"slot_key":   slotKey,
		"expires_at": hold.ExpiresAt,
	}).Debug("hold service: слот зарезервирован")
	return hold, nil
}

// Get возвращает резерв, применяя ленивое истечение.
func (s *HoldService) Get(ctx context.Context, id uuid.UUID) (*models.SlotHold, error) {
	h, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expireIfStale(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Release освобождает активный резерв. Повторное освобождение и освобождение
// истёкшего резерва ничего не делают.
func (s *HoldService) Release(ctx context.Context, id uuid.UUID) error {
	h, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	switch h.Status {
	case valueobject.HoldStatusReleased, valueobject.HoldStatusExpired:
		return nil
	case valueobject.HoldStatusConsumed:
		return apperror.New(apperror.ErrCodeInvalidTransition, "резерв уже израсходован на оплату")
	}

	ok, err := s.repo.SetStatusIfActive(ctx, id, valueobject.HoldStatusReleased, s.clock.Now())
	if err != nil {
		return fmt.Errorf("hold service: release: %w", err)
	}
	if ok {
		return nil
	}
	// Статус поменялся между чтением и записью
	h, err = s.Get(ctx, id)
	if err != nil {
		return err
	}
	if h.Status == valueobject.HoldStatusConsumed {
		return apperror.New(apperror.ErrCodeInvalidTransition, "резерв уже израсходован на оплату")
	}
	return nil
}

// Consume превращает резерв в обязательство. Вызывается только контроллером escrow.
// Повторный вызов на уже израсходованном резерве возвращает его без ошибки.
func (s *HoldService) Consume(ctx context.Context, id uuid.UUID) (*models.SlotHold, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := consumable(h); err != nil {
		return h, err
	}
	if h.Status == valueobject.HoldStatusConsumed {
		return h, nil
	}

	now := s.clock.Now()
	ok, err := s.repo.Consume(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("hold service: consume: %w", err)
	}
	if ok {
		h.Status = valueobject.HoldStatusConsumed
		h.ResolvedAt = &now
		return h, nil
	}

	h, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := consumable(h); err != nil {
		return h, err
	}
	if h.Status == valueobject.HoldStatusConsumed {
		return h, nil
	}
	// Активен, но запись не прошла: срок истёк ровно между чтением и записью
	return h, apperror.ErrHoldExpired
}

func consumable(h *models.SlotHold) error {
	switch h.Status {
	case valueobject.HoldStatusExpired:
		return apperror.ErrHoldExpired
	case valueobject.HoldStatusReleased:
		return apperror.New(apperror.ErrCodeInvalidTransition, "резерв уже освобождён")
	}
	return nil
}

// Sweep переводит в expired все просроченные активные резервы.
func (s *HoldService) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("hold service: sweep: %w", err)
	}
	if n > 0 {
		metrics.HoldsExpired.Add(float64(n))
		logger.Log.WithField("expired", n).Info("hold service: просроченные резервы закрыты")
	}
	return n, nil
}

func (s *HoldService) load(ctx context.Context, id uuid.UUID) (*models.SlotHold, error) {
	h, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrHoldNotFound) {
			return nil, apperror.ErrHoldNotFound
		}
		return nil, fmt.Errorf("hold service: get: %w", err)
	}
	return h, nil
}

func (s *HoldService) expireIfStale(ctx context.Context, h *models.SlotHold) error {
	now := s.clock.Now()
	if h.EffectiveStatus(now) != valueobject.HoldStatusExpired || h.Status == valueobject.HoldStatusExpired {
		return nil
	}
	ok, err := s.repo.SetStatusIfActive(ctx, h.ID, valueobject.HoldStatusExpired, now)
	if err != nil {
		return fmt.Errorf("hold service: lazy expire: %w", err)
	}
	if ok {
		h.Status = valueobject.HoldStatusExpired
		h.ResolvedAt = &now
		return nil
	}
	fresh, err := s.load(ctx, h.ID)
	if err != nil {
		return err
	}
	*h = *fresh
	return nil
}
