package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/booking-core/internal/http/middleware"
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pricing"
)

type engineQuotes struct {
	*pricing.Engine
}

func (e engineQuotes) PreviewQuote(category string, baseAmount int64, surge pricing.SurgeContext) (models.PricingQuote, error) {
	return e.Quote(category, baseAmount, surge)
}

func newPricingHandlerForTest(t *testing.T) *PricingHandler {
	t.Helper()
	engine, err := pricing.NewEngine(map[string]decimal.Decimal{
		models.CategoryCarWash: decimal.RequireFromString("0.15"),
	}, decimal.RequireFromString("0.18"), "ILS")
	require.NoError(t, err)
	return NewPricingHandler(engineQuotes{engine})
}

func TestPricingHandler_Quote(t *testing.T) {
	r := newTestEngine(uuid.Nil, "")
	r.POST("/pricing/quote", newPricingHandlerForTest(t).Quote)

	w := perform(r, http.MethodPost, "/pricing/quote", `{"category": "car_wash", "base_amount": 10000}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Charge         int64 `json:"charge"`
		ProviderPayout int64 `json:"provider_payout"`
		Display        struct {
			Total string `json:"total"`
		} `json:"display"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(11770), resp.Charge)
	assert.Equal(t, int64(10000), resp.ProviderPayout)
	assert.Equal(t, "117.70", resp.Display.Total)
}

func TestPricingHandler_Quote_SurgeKeepsPayout(t *testing.T) {
	r := newTestEngine(uuid.Nil, "")
	r.POST("/pricing/quote", newPricingHandlerForTest(t).Quote)

	w := perform(r, http.MethodPost, "/pricing/quote", `{"category": "car_wash", "base_amount": 10000, "surge": {"multiplier": "1.5"}}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Charge         int64 `json:"charge"`
		ProviderPayout int64 `json:"provider_payout"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(17655), resp.Charge)
	assert.Equal(t, int64(10000), resp.ProviderPayout)
}

func TestPricingHandler_Quote_UnknownCategory(t *testing.T) {
	r := newTestEngine(uuid.Nil, "")
	r.POST("/pricing/quote", newPricingHandlerForTest(t).Quote)

	w := perform(r, http.MethodPost, "/pricing/quote", `{"category": "plumbing", "base_amount": 10000}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_INPUT")
}

type mockFraudAuditor struct {
	mock.Mock
}

func (m *mockFraudAuditor) FraudHistory(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]models.FraudAssessment, error) {
	args := m.Called(ctx, customerID, limit, offset)
	list, _ := args.Get(0).([]models.FraudAssessment)
	return list, args.Error(1)
}

func TestFraudHandler_History(t *testing.T) {
	customerID := uuid.New()
	audit := &mockFraudAuditor{}
	audit.On("FraudHistory", mock.Anything, customerID, 20, 0).Return([]models.FraudAssessment{
		{ID: uuid.New(), CustomerID: customerID, TotalScore: 75, Decision: models.FraudDecisionBlock,
			Signals: models.SignalScores{"vpn_proxy": 25}},
	}, nil)

	r := newTestEngine(uuid.New(), middleware.RoleAdmin)
	r.GET("/admin/customers/:id/fraud-assessments", NewFraudHandler(audit).History)

	w := perform(r, http.MethodGet, "/admin/customers/"+customerID.String()+"/fraud-assessments", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"decision":"block"`)
	assert.Contains(t, w.Body.String(), `"vpn_proxy":25`)
}

func TestFraudHandler_History_EmptyIsArray(t *testing.T) {
	customerID := uuid.New()
	audit := &mockFraudAuditor{}
	audit.On("FraudHistory", mock.Anything, customerID, 20, 0).Return(nil, nil)

	r := newTestEngine(uuid.New(), middleware.RoleAdmin)
	r.GET("/admin/customers/:id/fraud-assessments", NewFraudHandler(audit).History)

	w := perform(r, http.MethodGet, "/admin/customers/"+customerID.String()+"/fraud-assessments", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
}

func TestHealthHandler(t *testing.T) {
	h := &HealthHandler{checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	}}
	r := newTestEngine(uuid.Nil, "")
	r.GET("/health", h.Health)

	w := perform(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	h.checks["redis"] = func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			return errors.New("connection refused")
		}
	}
	w = perform(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Checks["database"])
	assert.Contains(t, resp.Checks["redis"], "connection refused")
}
