package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Инструменты, на которые песочница отвечает особым образом
const (
	SandboxInstrumentDecline = "tok_decline"
	SandboxInstrumentTimeout = "tok_timeout"
)

// Sandbox - шлюз в памяти для разработки и тестов. Повтор с тем же ключом
// идемпотентности возвращает тот же результат и не двигает деньги повторно.
type Sandbox struct {
	mu             sync.Mutex
	results        map[string]string
	authorizations map[string]int64
	captured       map[string]int64
	refunded       map[string]int64

	Captures int
	Refunds  int
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		results:        make(map[string]string),
		authorizations: make(map[string]int64),
		captured:       make(map[string]int64),
		refunded:       make(map[string]int64),
	}
}

func (s *Sandbox) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	switch req.Instrument {
	case SandboxInstrumentDecline:
		return "", fmt.Errorf("%w: card declined", ErrDeclined)
	case SandboxInstrumentTimeout:
		return "", ErrTimeout
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("%w: invalid amount", ErrDeclined)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.results["auth:"+req.IdempotencyKey]; ok {
		return id, nil
	}
	id := "auth_" + uuid.NewString()
	s.authorizations[id] = req.Amount
	s.results["auth:"+req.IdempotencyKey] = id
	return id, nil
}

func (s *Sandbox) Capture(ctx context.Context, authorizationID, idempotencyKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.results["capture:"+idempotencyKey]; ok {
		return id, nil
	}
	amount, ok := s.authorizations[authorizationID]
	if !ok {
		return "", fmt.Errorf("%w: unknown authorization %s", ErrDeclined, authorizationID)
	}
	delete(s.authorizations, authorizationID)

	id := "txn_" + uuid.NewString()
	s.captured[id] = amount
	s.results["capture:"+idempotencyKey] = id
	s.Captures++
	return id, nil
}

func (s *Sandbox) Refund(ctx context.Context, transactionID string, amount int64, idempotencyKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.results["refund:"+idempotencyKey]; ok {
		return id, nil
	}
	captured, ok := s.captured[transactionID]
	if !ok {
		return "", fmt.Errorf("%w: unknown transaction %s", ErrDeclined, transactionID)
	}
	if amount <= 0 || s.refunded[transactionID]+amount > captured {
		return "", fmt.Errorf("%w: refund exceeds captured amount", ErrDeclined)
	}

	id := "re_" + uuid.NewString()
	s.refunded[transactionID] += amount
	s.results["refund:"+idempotencyKey] = id
	s.Refunds++
	return id, nil
}

// RefundedTotal - сколько всего возвращено по транзакции.
func (s *Sandbox) RefundedTotal(transactionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunded[transactionID]
}

// CaptureCount - число реальных списаний, без учёта идемпотентных повторов.
func (s *Sandbox) CaptureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Captures
}

// RefundCount - число реальных возвратов.
func (s *Sandbox) RefundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Refunds
}
