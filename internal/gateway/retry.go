package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/metrics"
)

// RetryConfig - параметры повторов вызовов шлюза.
type RetryConfig struct {
	MaxRetries  int
	Backoff     time.Duration
	CallTimeout time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		Backoff:     500 * time.Millisecond,
		CallTimeout: 10 * time.Second,
	}
}

// Retrying оборачивает шлюз: у каждого вызова свой таймаут, временные ошибки
// повторяются с экспоненциальной паузой, отказы возвращаются сразу.
type Retrying struct {
	next  Gateway
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Gateway, cfg RetryConfig) *Retrying {
	return &Retrying{next: next, cfg: cfg, sleep: sleepContext}
}

func (r *Retrying) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	var id string
	err := r.do(ctx, "authorize", req.IdempotencyKey, func(callCtx context.Context) error {
		var err error
		id, err = r.next.Authorize(callCtx, req)
		return err
	})
	return id, err
}

func (r *Retrying) Capture(ctx context.Context, authorizationID, idempotencyKey string) (string, error) {
	var id string
	err := r.do(ctx, "capture", idempotencyKey, func(callCtx context.Context) error {
		var err error
		id, err = r.next.Capture(callCtx, authorizationID, idempotencyKey)
		return err
	})
	return id, err
}

func (r *Retrying) Refund(ctx context.Context, transactionID string, amount int64, idempotencyKey string) (string, error) {
	var id string
	err := r.do(ctx, "refund", idempotencyKey, func(callCtx context.Context) error {
		var err error
		id, err = r.next.Refund(callCtx, transactionID, amount, idempotencyKey)
		return err
	})
	return id, err
}

func (r *Retrying) do(ctx context.Context, op, key string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := r.cfg.Backoff << (attempt - 1)
			logger.Log.WithFields(logrus.Fields{
				"op":      op,
				"key":     key,
				"attempt": attempt,
				"wait":    wait,
			}).Warnf("gateway: повтор после ошибки: %v", lastErr)
			if err := r.sleep(ctx, wait); err != nil {
				return fmt.Errorf("gateway %s: %w: %v", op, ErrTimeout, lastErr)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			metrics.GatewayCalls.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !IsTransient(err) {
			metrics.GatewayCalls.WithLabelValues(op, "failed").Inc()
			return err
		}
		metrics.GatewayCalls.WithLabelValues(op, "transient").Inc()
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("gateway %s: retries exhausted: %w", op, asTimeout(lastErr))
}

// Истёкший контекст вызова приводится к ErrTimeout, чтобы вызывающая сторона проверяла одну ошибку.
func asTimeout(err error) error {
	if err == nil {
		return ErrTimeout
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTimeout, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
