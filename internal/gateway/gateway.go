package gateway

import (
	"context"
	"errors"
)

var (
	// ErrDeclined - платёжный провайдер отказал. Повторять запрос бессмысленно.
	ErrDeclined = errors.New("payment declined")
	// ErrTimeout - провайдер не ответил вовремя. Запрос можно повторить с тем же ключом идемпотентности.
	ErrTimeout = errors.New("payment gateway timeout")
	// ErrUnavailable - временная ошибка провайдера (5xx, сеть).
	ErrUnavailable = errors.New("payment gateway unavailable")
)

// AuthorizeRequest - авторизация суммы без списания.
type AuthorizeRequest struct {
	Amount         int64
	Currency       string
	Instrument     string
	IdempotencyKey string
}

// Gateway - внешний платёжный провайдер. Все вызовы идемпотентны по ключу.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (authorizationID string, err error)
	Capture(ctx context.Context, authorizationID, idempotencyKey string) (transactionID string, err error)
	Refund(ctx context.Context, transactionID string, amount int64, idempotencyKey string) (refundID string, err error)
}

// IsTransient - ошибку имеет смысл повторить.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
