package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/booking-core/internal/alert"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/gateway"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/repository"
)

// memHoldRepo повторяет гарантии HoldRepository на мьютексе: один активный резерв на слот.
type memHoldRepo struct {
	mu     sync.Mutex
	holds  map[uuid.UUID]models.SlotHold
	active map[string]uuid.UUID
}

func newMemHoldRepo() *memHoldRepo {
	return &memHoldRepo{holds: map[uuid.UUID]models.SlotHold{}, active: map[string]uuid.UUID{}}
}

func (r *memHoldRepo) Acquire(_ context.Context, h *models.SlotHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[h.SlotKey]; ok {
		cur := r.holds[id]
		if !cur.IsExpiredAt(h.CreatedAt) {
			return repository.ErrSlotTaken
		}
		cur.Status = valueobject.HoldStatusExpired
		cur.ResolvedAt = &h.CreatedAt
		r.holds[id] = cur
	}
	r.holds[h.ID] = *h
	r.active[h.SlotKey] = h.ID
	return nil
}

func (r *memHoldRepo) GetByID(_ context.Context, id uuid.UUID) (*models.SlotHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok {
		return nil, repository.ErrHoldNotFound
	}
	return &h, nil
}

func (r *memHoldRepo) Consume(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok || h.Status != valueobject.HoldStatusActive || !now.Before(h.ExpiresAt) {
		return false, nil
	}
	r.resolve(h, valueobject.HoldStatusConsumed, now)
	return true, nil
}

func (r *memHoldRepo) SetStatusIfActive(_ context.Context, id uuid.UUID, to valueobject.HoldStatus, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[id]
	if !ok || h.Status != valueobject.HoldStatusActive {
		return false, nil
	}
	r.resolve(h, to, now)
	return true, nil
}

func (r *memHoldRepo) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, h := range r.holds {
		if h.Status == valueobject.HoldStatusActive && h.IsExpiredAt(now) {
			r.resolve(h, valueobject.HoldStatusExpired, now)
			n++
		}
	}
	return n, nil
}

func (r *memHoldRepo) resolve(h models.SlotHold, to valueobject.HoldStatus, now time.Time) {
	h.Status = to
	h.ResolvedAt = &now
	r.holds[h.ID] = h
	if r.active[h.SlotKey] == h.ID {
		delete(r.active, h.SlotKey)
	}
}

type ledgerKey struct {
	bookingID uuid.UUID
	entryType string
}

// memStore - бронирования, проводки и споры в памяти с версионной проверкой
// и уникальностью проводки по (booking_id, entry_type).
type memStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]models.Booking
	ledger   []models.LedgerEntry
	keys     map[ledgerKey]struct{}
	disputes map[uuid.UUID]models.Dispute
	balances map[uuid.UUID]int64

	// ledgerErr, если задана, возвращается из UpdateWithLedger вместо записи
	ledgerErr error
}

func newMemStore() *memStore {
	return &memStore{
		bookings: map[uuid.UUID]models.Booking{},
		keys:     map[ledgerKey]struct{}{},
		disputes: map[uuid.UUID]models.Dispute{},
		balances: map[uuid.UUID]int64{},
	}
}

func (s *memStore) Create(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.bookings {
		if other.SlotKey == b.SlotKey && other.Status.IsLive() {
			return repository.ErrLiveBookingExists
		}
	}
	b.Version = 1
	s.bookings[b.ID] = *b
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return &b, nil
}

func (s *memStore) GetLiveBySlot(_ context.Context, slotKey string) (*models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.SlotKey == slotKey && b.Status.IsLive() {
			return &b, nil
		}
	}
	return nil, repository.ErrBookingNotFound
}

func (s *memStore) Update(_ context.Context, b *models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(b)
}

func (s *memStore) updateLocked(b *models.Booking) error {
	cur, ok := s.bookings[b.ID]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if cur.Version != b.Version {
		return repository.ErrBookingVersionConflict
	}
	b.Version++
	s.bookings[b.ID] = *b
	return nil
}

func (s *memStore) UpdateWithLedger(_ context.Context, b *models.Booking, entries []models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledgerErr != nil {
		return s.ledgerErr
	}
	for _, e := range entries {
		if _, dup := s.keys[ledgerKey{e.BookingID, e.EntryType}]; dup {
			return repository.ErrLedgerEntryExists
		}
	}
	if err := s.updateLocked(b); err != nil {
		return err
	}
	for _, e := range entries {
		s.keys[ledgerKey{e.BookingID, e.EntryType}] = struct{}{}
		s.ledger = append(s.ledger, e)
		if e.EntryType == models.LedgerProviderPayout && e.AccountID != nil {
			s.balances[*e.AccountID] += e.Amount
		}
	}
	return nil
}

func (s *memStore) GetProviderBalance(_ context.Context, providerID uuid.UUID, currency string) (*models.ProviderBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.ProviderBalance{ProviderID: providerID, Available: s.balances[providerID], Currency: currency}, nil
}

func (s *memStore) UpdateWithDispute(_ context.Context, b *models.Booking, d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.disputes {
		if other.BookingID == d.BookingID {
			return repository.ErrDisputeExists
		}
	}
	if err := s.updateLocked(b); err != nil {
		return err
	}
	s.disputes[d.ID] = *d
	return nil
}

func (s *memStore) RecordReleaseFailure(_ context.Context, id uuid.UUID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bookings[id]
	b.ReleaseAttempts++
	b.LastReleaseError = &reason
	b.UpdatedAt = now
	s.bookings[id] = b
	return nil
}

func (s *memStore) ListDueForRelease(_ context.Context, now time.Time, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b models.Booking) bool { return b.ReleaseDueAt(now) }), nil
}

func (s *memStore) ListPendingCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b models.Booking) bool {
		pending := b.Status == valueobject.BookingStatusHoldPlaced || b.Status == valueobject.BookingStatusPaymentAuthorized
		return pending && b.CreatedAt.Before(cutoff)
	}), nil
}

func (s *memStore) ListByStatus(_ context.Context, status valueobject.BookingStatus, limit int) ([]models.Booking, error) {
	return s.filter(limit, func(b models.Booking) bool { return b.Status == status }), nil
}

func (s *memStore) ListByParticipant(_ context.Context, userID uuid.UUID, limit, _ int) ([]models.Booking, error) {
	return s.filter(limit, func(b models.Booking) bool { return b.IsParticipant(userID) }), nil
}

func (s *memStore) ListLedger(_ context.Context, bookingID uuid.UUID) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range s.ledger {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) filter(limit int, keep func(models.Booking) bool) []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.bookings {
		if keep(b) && len(out) < limit {
			out = append(out, b)
		}
	}
	return out
}

func (s *memStore) entries(bookingID uuid.UUID, entryType string) []models.LedgerEntry {
	all, _ := s.ListLedger(context.Background(), bookingID)
	var out []models.LedgerEntry
	for _, e := range all {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

// memDisputes работает поверх того же memStore, что и бронирования.
type memDisputes struct {
	store *memStore
}

func (r memDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	d, ok := r.store.disputes[id]
	if !ok {
		return nil, repository.ErrDisputeNotFound
	}
	return &d, nil
}

func (r memDisputes) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.Dispute, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, d := range r.store.disputes {
		if d.BookingID == bookingID {
			return &d, nil
		}
	}
	return nil, repository.ErrDisputeNotFound
}

func (r memDisputes) UpdateStatus(_ context.Context, d *models.Dispute, from valueobject.DisputeStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cur, ok := r.store.disputes[d.ID]
	if !ok {
		return repository.ErrDisputeNotFound
	}
	if cur.Status != from {
		return repository.ErrDisputeChanged
	}
	r.store.disputes[d.ID] = *d
	return nil
}

func (r memDisputes) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Dispute, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Dispute
	for _, d := range r.store.disputes {
		if b := r.store.bookings[d.BookingID]; b.IsParticipant(userID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r memDisputes) ListBreachedUnalerted(_ context.Context, now time.Time, _ int) ([]models.Dispute, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Dispute
	for _, d := range r.store.disputes {
		if d.BreachAlertedAt == nil && d.IsSLABreachedAt(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r memDisputes) ListByStatus(_ context.Context, status valueobject.DisputeStatus, _ int) ([]models.Dispute, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []models.Dispute
	for _, d := range r.store.disputes {
		if d.Status == status {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r memDisputes) MarkBreachAlerted(_ context.Context, id uuid.UUID, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	d := r.store.disputes[id]
	d.BreachAlertedAt = &now
	r.store.disputes[id] = d
	return nil
}

type memFraudLog struct {
	mu      sync.Mutex
	entries []models.FraudAssessment
	err     error
}

func (l *memFraudLog) Append(_ context.Context, a *models.FraudAssessment) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, *a)
	return nil
}

func (l *memFraudLog) ListByCustomer(_ context.Context, customerID uuid.UUID, _, _ int) ([]models.FraudAssessment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.FraudAssessment
	for _, a := range l.entries {
		if a.CustomerID == customerID {
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) byKind(kind string) []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alert.Alert
	for _, a := range r.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// hookGateway - песочница, которой можно вмешаться в списание и возврат.
type hookGateway struct {
	*gateway.Sandbox

	// onRefund вызывается один раз перед возвратом, пока деньги ещё не ушли
	onRefund func()
	// failRefunds первых возвратов падают с ErrUnavailable, не доходя до песочницы
	failRefunds int
	// loseCaptures первых списаний проходят, но ответ теряется по таймауту
	loseCaptures int
}

func (g *hookGateway) Capture(ctx context.Context, authorizationID, idempotencyKey string) (string, error) {
	id, err := g.Sandbox.Capture(ctx, authorizationID, idempotencyKey)
	if err != nil {
		return "", err
	}
	if g.loseCaptures > 0 {
		g.loseCaptures--
		return "", gateway.ErrTimeout
	}
	return id, nil
}

func (g *hookGateway) Refund(ctx context.Context, transactionID string, amount int64, idempotencyKey string) (string, error) {
	if hook := g.onRefund; hook != nil {
		g.onRefund = nil
		hook()
	}
	if g.failRefunds > 0 {
		g.failRefunds--
		return "", gateway.ErrUnavailable
	}
	return g.Sandbox.Refund(ctx, transactionID, amount, idempotencyKey)
}
