package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/goroutine"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/metrics"
)

const DefaultSweepInterval = time.Minute

// SweepReport - итог одного прохода фоновых проверок.
type SweepReport struct {
	HoldsExpired      int64
	BookingsCancelled int
	CapturesRetried   int
	RefundsFinished   int
	DisputesFinished  int
	SettlementsFailed int
	Released          int
	ReleaseFailed     int
	BreachesAlerted   int
}

// Sweeper периодически закрывает просроченные резервы, добивает неподтверждённые
// списания и возвраты, выплачивает escrow по истечении срока удержания
// и поднимает алерты по просроченным спорам.
type Sweeper struct {
	holds    *HoldService
	escrow   *EscrowService
	disputes *DisputeService
	interval time.Duration
}

func NewSweeper(holds *HoldService, escrow *EscrowService, disputes *DisputeService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{holds: holds, escrow: escrow, disputes: disputes, interval: interval}
}

// RunOnce выполняет все проверки. Ошибка одного шага не отменяет остальные.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	var rep SweepReport
	var err error
	log := logger.Log.WithField("component", "sweeper")

	if rep.HoldsExpired, err = s.holds.Sweep(ctx); err != nil {
		log.Errorf("закрытие резервов: %v", err)
	}
	if rep.BookingsCancelled, err = s.escrow.CleanupPending(ctx); err != nil {
		log.Errorf("отмена зависших бронирований: %v", err)
	}

	var failed int
	if rep.CapturesRetried, failed, err = s.escrow.RetryCaptures(ctx); err != nil {
		log.Errorf("повтор списаний: %v", err)
	}
	rep.SettlementsFailed += failed
	if rep.RefundsFinished, failed, err = s.escrow.ResumeRefunds(ctx); err != nil {
		log.Errorf("повтор возвратов: %v", err)
	}
	rep.SettlementsFailed += failed
	if rep.DisputesFinished, failed, err = s.disputes.ResumeResolving(ctx); err != nil {
		log.Errorf("завершение решений по спорам: %v", err)
	}
	rep.SettlementsFailed += failed

	if rep.Released, rep.ReleaseFailed, err = s.escrow.ReleaseDue(ctx); err != nil {
		log.Errorf("выплата escrow: %v", err)
	}
	if rep.BreachesAlerted, err = s.disputes.AlertBreaches(ctx); err != nil {
		log.Errorf("проверка SLA споров: %v", err)
	}

	if rep != (SweepReport{}) {
		log.WithFields(logrus.Fields{
			"holds_expired":      rep.HoldsExpired,
			"bookings_cancelled": rep.BookingsCancelled,
			"captures_retried":   rep.CapturesRetried,
			"refunds_finished":   rep.RefundsFinished,
			"disputes_finished":  rep.DisputesFinished,
			"settlements_failed": rep.SettlementsFailed,
			"released":           rep.Released,
			"release_failed":     rep.ReleaseFailed,
			"breaches_alerted":   rep.BreachesAlerted,
		}).Info("проход завершён")
	}
	return rep
}

// Run крутит RunOnce до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Start запускает Run в фоне с защитой от panic.
func (s *Sweeper) Start(ctx context.Context) {
	goroutine.SafeGoWithContext(ctx, "sweeper", s.Run)
}
