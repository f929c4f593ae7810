package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/fraud"
	"github.com/ignatzorin/booking-core/internal/gateway"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pricing"
)

func TestMain(m *testing.M) {
	logger.Silence()
	os.Exit(m.Run())
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

const testCancellationFee = 500

type fixture struct {
	engine   *pricing.Engine
	clock    *clock.Manual
	holdRepo *memHoldRepo
	store    *memStore
	fraudLog *memFraudLog
	gw       *gateway.Sandbox
	alerts   *recordingAlerter
	holds    *HoldService
	escrow   *EscrowService
	disputes *DisputeService

	customer uuid.UUID
	provider uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	engine, err := pricing.NewEngine(map[string]decimal.Decimal{
		models.CategoryCarWash:    decimal.RequireFromString("0.15"),
		models.CategoryDogWalking: decimal.RequireFromString("0.12"),
	}, decimal.RequireFromString("0.18"), "ILS")
	require.NoError(t, err)

	f := &fixture{
		engine:   engine,
		clock:    clock.NewManual(testNow),
		holdRepo: newMemHoldRepo(),
		store:    newMemStore(),
		fraudLog: &memFraudLog{},
		gw:       gateway.NewSandbox(),
		alerts:   &recordingAlerter{},
		customer: uuid.New(),
		provider: uuid.New(),
	}
	f.holds = NewHoldService(f.holdRepo, f.clock)
	f.wire(f.gw)
	return f
}

// wire собирает escrow и споры поверх общего хранилища с заданным шлюзом.
func (f *fixture) wire(gw gateway.Gateway) {
	f.escrow = NewEscrowService(EscrowDeps{
		Bookings: f.store,
		Holds:    f.holds,
		Pricing:  f.engine,
		Scorer:   fraud.NewScorer(fraud.DefaultWeights()),
		FraudLog: f.fraudLog,
		Gateway:  gw,
		Policy:   NewTieredPolicy(testCancellationFee),
		Alerter:  f.alerts,
		Clock:    f.clock,
	}, DefaultReleaseHold)
	f.disputes = NewDisputeService(memDisputes{store: f.store}, f.escrow, f.alerts, f.clock, models.DefaultDisputeSLA)
}

// hooked подменяет шлюз на песочницу с перехватчиками.
func (f *fixture) hooked() *hookGateway {
	hg := &hookGateway{Sandbox: f.gw}
	f.wire(hg)
	return hg
}

// request - мойка машины на 10000 агорот через двое суток, тариф moderate.
func (f *fixture) request() BookingRequest {
	start := f.clock.Now().Add(48 * time.Hour)
	return BookingRequest{
		CustomerID:   f.customer,
		ProviderID:   f.provider,
		Category:     models.CategoryCarWash,
		PolicyTier:   models.PolicyModerate,
		ServiceStart: start,
		ServiceEnd:   start.Add(time.Hour),
		BaseAmount:   10000,
		Instrument:   "tok_visa",
	}
}

// held проводит бронирование до ESCROW_HELD без надбавок.
func (f *fixture) held(t *testing.T) *models.Booking {
	t.Helper()
	b, _, err := f.escrow.PlaceBooking(context.Background(), PlaceBookingRequest{
		BookingRequest: f.request(),
		Surge:          pricing.NoSurge(),
	})
	require.NoError(t, err)
	return b
}

// completed доводит бронирование до COMPLETED.
func (f *fixture) completed(t *testing.T) *models.Booking {
	t.Helper()
	b := f.held(t)
	_, err := f.escrow.StartService(context.Background(), b.ID, f.provider)
	require.NoError(t, err)
	b, err = f.escrow.CompleteService(context.Background(), b.ID, f.provider)
	require.NoError(t, err)
	return b
}
