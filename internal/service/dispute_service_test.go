package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/booking-core/internal/alert"
	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

func (f *fixture) openDispute(t *testing.T, b *models.Booking, amount int64) *models.Dispute {
	t.Helper()
	d, err := f.disputes.OpenDispute(context.Background(), OpenDisputeRequest{
		BookingID:      b.ID,
		ActorID:        f.customer,
		Type:           models.DisputeTypeQuality,
		DisputedAmount: amount,
		Evidence:       []string{"https://cdn.example.com/photo-1.jpg"},
	})
	require.NoError(t, err)
	return d
}

func TestDisputeService_OpenFreezesRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.completed(t)

	d := f.openDispute(t, b, 5000)
	assert.Equal(t, valueobject.DisputeStatusOpen, d.Status)
	assert.Equal(t, testNow.Add(models.DefaultDisputeSLA), d.TargetResolutionDate)
	assert.False(t, d.SLABreached)

	got, err := f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusDisputed, got.Status)
	assert.Nil(t, got.ReleaseDeadline)

	f.clock.Advance(DefaultReleaseHold)
	released, _, err := f.escrow.ReleaseDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, released, "спорное бронирование не выплачивается автоматически")

	_, err = f.disputes.OpenDispute(ctx, OpenDisputeRequest{
		BookingID:      b.ID,
		ActorID:        f.provider,
		Type:           models.DisputeTypeNoShow,
		DisputedAmount: 100,
	})
	assert.Error(t, err)
}

func TestDisputeService_OpenValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.held(t)

	base := OpenDisputeRequest{BookingID: b.ID, ActorID: f.customer, Type: models.DisputeTypeDamage, DisputedAmount: 1000}

	req := base
	req.Type = "rudeness"
	_, err := f.disputes.OpenDispute(ctx, req)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	req = base
	req.DisputedAmount = testCharge + 1
	_, err = f.disputes.OpenDispute(ctx, req)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	req = base
	req.ActorID = uuid.New()
	_, err = f.disputes.OpenDispute(ctx, req)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	pending, err := f.escrow.RequestBooking(ctx, func() BookingRequest {
		r := f.request()
		r.ServiceStart = r.ServiceStart.Add(24 * time.Hour)
		r.ServiceEnd = r.ServiceEnd.Add(24 * time.Hour)
		return r
	}())
	require.NoError(t, err)
	req = base
	req.BookingID = pending.ID
	req.DisputedAmount = 0
	_, err = f.disputes.OpenDispute(ctx, req)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput, "до escrow оспаривать нечего")
}

func TestDisputeService_SLABreachDoesNotChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.held(t)
	d := f.openDispute(t, b, 3000)

	f.clock.Advance(49 * time.Hour)

	got, err := f.disputes.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.SLABreached)
	assert.Equal(t, valueobject.DisputeStatusOpen, got.Status)

	n, err := f.disputes.AlertBreaches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.disputes.AlertBreaches(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "алерт по спору отправляется один раз")

	alerts := f.alerts.byKind(alert.KindSLABreach)
	require.Len(t, alerts, 1)
	assert.Equal(t, d.ID, *alerts[0].DisputeID)

	got, err = f.disputes.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusOpen, got.Status)
}

func TestDisputeService_ResolveForCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.completed(t)
	d := f.openDispute(t, b, 5000)

	_, err := f.disputes.StartInvestigation(ctx, d.ID)
	require.NoError(t, err)

	resolved, err := f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 3000,
		Resolution:   "частичный возврат за некачественную мойку",
		ResolvedBy:   uuid.New(),
	})
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedCustomer, resolved.Status)
	require.NotNil(t, resolved.RefundAmount)
	assert.Equal(t, int64(3000), *resolved.RefundAmount)
	assert.NotNil(t, resolved.ResolvedAt)

	booking, err := f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusReleased, booking.Status)
	assert.Equal(t, int64(3000), f.gw.RefundedTotal(*booking.TransactionID))

	payouts := f.store.entries(b.ID, models.LedgerProviderPayout)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(testCharge-3000), payouts[0].Amount)
	assertLedgerBalanced(t, f, booking)

	// Повтор с тем же исходом ничего не двигает
	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 3000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.RefundCount())
}

func TestDisputeService_FullRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.held(t)
	d := f.openDispute(t, b, testCharge)

	_, err := f.disputes.Escalate(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: testCharge,
	})
	require.NoError(t, err)

	booking, err := f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusRefunded, booking.Status)
	assert.Empty(t, f.store.entries(b.ID, models.LedgerProviderPayout))
	assertLedgerBalanced(t, f, booking)
}

func TestDisputeService_ResolveForProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.completed(t)
	d := f.openDispute(t, b, 5000)
	_, err := f.disputes.StartInvestigation(ctx, d.ID)
	require.NoError(t, err)

	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedProvider,
		RefundAmount: 100,
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID: d.ID,
		Outcome:   valueobject.DisputeStatusResolvedProvider,
	})
	require.NoError(t, err)

	booking, err := f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusReleased, booking.Status)
	assert.Zero(t, f.gw.RefundCount())
	payouts := f.store.entries(b.ID, models.LedgerProviderPayout)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(10000), payouts[0].Amount)
}

func TestDisputeService_ResolveRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.held(t)
	d := f.openDispute(t, b, 5000)

	_, err := f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 1000,
	})
	assert.Equal(t, apperror.ErrCodeInvalidTransition, apperror.CodeOf(err), "открытый спор сначала расследуется")

	_, err = f.disputes.StartInvestigation(ctx, d.ID)
	require.NoError(t, err)

	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 6000,
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput, "возврат не больше оспариваемой суммы")

	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID: d.ID,
		Outcome:   valueobject.DisputeStatusResolvedCustomer,
	})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.disputes.Resolve(ctx, ResolveRequest{DisputeID: d.ID, Outcome: valueobject.DisputeStatusEscalated})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)

	_, err = f.disputes.GetDispute(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrDisputeNotFound)
}

func TestDisputeService_ListForUser(t *testing.T) {
	f := newFixture(t)
	b := f.held(t)
	f.openDispute(t, b, 1000)

	forCustomer, err := f.disputes.ListForUser(context.Background(), f.customer, 20, 0)
	require.NoError(t, err)
	assert.Len(t, forCustomer, 1)

	forStranger, err := f.disputes.ListForUser(context.Background(), uuid.New(), 20, 0)
	require.NoError(t, err)
	assert.Empty(t, forStranger)
}

func TestDisputeService_ConcurrentResolvePaysOnce(t *testing.T) {
	f := newFixture(t)
	hg := f.hooked()
	ctx := context.Background()
	b := f.completed(t)
	d := f.openDispute(t, b, 5000)
	_, err := f.disputes.StartInvestigation(ctx, d.ID)
	require.NoError(t, err)

	// Второй администратор решает в пользу провайдера, пока возврат первого у шлюза
	var rivalErr error
	hg.onRefund = func() {
		_, rivalErr = f.disputes.Resolve(ctx, ResolveRequest{
			DisputeID: d.ID,
			Outcome:   valueobject.DisputeStatusResolvedProvider,
		})
	}

	resolved, err := f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 3000,
	})
	require.NoError(t, err)
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(rivalErr))
	assert.Equal(t, valueobject.DisputeStatusResolvedCustomer, resolved.Status)

	booking, err := f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusReleased, booking.Status)
	assert.Equal(t, int64(3000), booking.RefundedAmount)
	assert.Equal(t, int64(3000), f.gw.RefundedTotal(*booking.TransactionID))

	refunds := f.store.entries(b.ID, models.LedgerCustomerRefund)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(3000), refunds[0].Amount)
	payouts := f.store.entries(b.ID, models.LedgerProviderPayout)
	require.Len(t, payouts, 1)
	assert.Equal(t, int64(testCharge-3000), payouts[0].Amount)

	balance, err := f.escrow.ProviderBalance(ctx, f.provider)
	require.NoError(t, err)
	assert.Equal(t, int64(testCharge-3000), balance.Available)
	assertLedgerBalanced(t, f, booking)

	got, err := f.disputes.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedCustomer, got.Status)
}

func TestEscrowService_SettleDisputeRejectsDifferentRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.completed(t)
	d := f.openDispute(t, b, 5000)
	_, err := f.disputes.StartInvestigation(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 3000,
	})
	require.NoError(t, err)

	_, err = f.escrow.SettleDispute(ctx, b.ID, 0)
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
	_, err = f.escrow.SettleDispute(ctx, b.ID, 3000)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.gw.RefundCount())

	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 4000,
	})
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err), "решённый спор не пересматривается другой суммой")
}

func TestDisputeService_ResolvingIsFinishedBySweeper(t *testing.T) {
	f := newFixture(t)
	hg := f.hooked()
	ctx := context.Background()
	b := f.completed(t)
	d := f.openDispute(t, b, 5000)
	_, err := f.disputes.Escalate(ctx, d.ID)
	require.NoError(t, err)

	hg.failRefunds = 1
	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 2000,
		Resolution:   "провайдер опоздал",
	})
	assert.Equal(t, apperror.ErrCodeGatewayUnavailable, apperror.CodeOf(err))

	got, err := f.disputes.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolving, got.Status)
	assert.False(t, got.Status.IsResolved())
	booking, err := f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusRefundPending, booking.Status)

	// Закреплённое решение нельзя подменить другим
	_, err = f.disputes.Resolve(ctx, ResolveRequest{DisputeID: d.ID, Outcome: valueobject.DisputeStatusClosed})
	assert.Equal(t, apperror.ErrCodeConflict, apperror.CodeOf(err))
	_, err = f.disputes.Escalate(ctx, d.ID)
	assert.Equal(t, apperror.ErrCodeInvalidTransition, apperror.CodeOf(err))

	rep := NewSweeper(f.holds, f.escrow, f.disputes, time.Minute).RunOnce(ctx)
	assert.Equal(t, 1, rep.RefundsFinished)
	assert.Equal(t, 1, rep.DisputesFinished)
	assert.Zero(t, rep.SettlementsFailed)

	got, err = f.disputes.GetDispute(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.DisputeStatusResolvedCustomer, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "провайдер опоздал", *got.Resolution)
	assert.NotNil(t, got.ResolvedAt)

	booking, err = f.escrow.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.BookingStatusReleased, booking.Status)
	assert.Equal(t, 1, f.gw.RefundCount())
	assertLedgerBalanced(t, f, booking)

	// Повтор того же решения после завершения ничего не двигает
	_, err = f.disputes.Resolve(ctx, ResolveRequest{
		DisputeID:    d.ID,
		Outcome:      valueobject.DisputeStatusResolvedCustomer,
		RefundAmount: 2000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.RefundCount())
}
