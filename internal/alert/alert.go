package alert

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/booking-core/internal/logger"
)

// Виды алертов для операторов
const (
	KindReleaseFailure = "release_failure"
	KindSLABreach      = "sla_breach"
	KindGatewayOutage  = "gateway_outage"
	KindRefundFailure  = "refund_failure"
)

type Alert struct {
	Kind      string         `json:"kind"`
	BookingID *uuid.UUID     `json:"booking_id,omitempty"`
	DisputeID *uuid.UUID     `json:"dispute_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

// Alerter доставляет алерты операторам.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter пишет алерты в лог с уровнем error.
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, a Alert) error {
	fields := logrus.Fields{"alert": a.Kind}
	if a.BookingID != nil {
		fields["booking_id"] = a.BookingID.String()
	}
	if a.DisputeID != nil {
		fields["dispute_id"] = a.DisputeID.String()
	}
	for k, v := range a.Details {
		fields[k] = v
	}
	logger.Log.WithFields(fields).Error(a.Message)
	return nil
}

// Multi отправляет алерт во все каналы и возвращает объединённую ошибку.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
