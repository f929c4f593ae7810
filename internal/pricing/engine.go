package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// Engine применяет ставки комиссии по категориям услуг и единую ставку НДС.
// Ставки задаются при создании и дальше не меняются.
type Engine struct {
	commission map[string]decimal.Decimal
	vatRate    decimal.Decimal
	currency   string
}

func NewEngine(commission map[string]decimal.Decimal, vatRate decimal.Decimal, currency string) (*Engine, error) {
	if len(commission) == 0 {
		return nil, fmt.Errorf("pricing: no commission rates configured")
	}
	rates := make(map[string]decimal.Decimal, len(commission))
	for category, rate := range commission {
		if !inUnitRange(rate) {
			return nil, fmt.Errorf("pricing: commission rate for %s out of range: %s", category, rate)
		}
		rates[category] = rate
	}
	if !inUnitRange(vatRate) {
		return nil, fmt.Errorf("pricing: vat rate out of range: %s", vatRate)
	}
	if currency == "" {
		currency = "ILS"
	}
	return &Engine{commission: rates, vatRate: vatRate, currency: currency}, nil
}

// CommissionRate возвращает ставку комиссии для категории.
func (e *Engine) CommissionRate(category string) (decimal.Decimal, error) {
	rate, ok := e.commission[category]
	if !ok {
		return decimal.Zero, apperror.Newf(apperror.ErrCodeInvalidInput, "неизвестная категория услуги: %s", category)
	}
	return rate, nil
}

// Quote считает стоимость услуги категории category.
func (e *Engine) Quote(category string, baseAmount int64, surge SurgeContext) (models.PricingQuote, error) {
	rate, err := e.CommissionRate(category)
	if err != nil {
		return models.PricingQuote{}, err
	}
	q, err := ComputeQuote(baseAmount, rate, e.vatRate, surge)
	if err != nil {
		return models.PricingQuote{}, err
	}
	q.Currency = e.currency
	return q, nil
}

func (e *Engine) Currency() string {
	return e.currency
}

// SupportsCategory - для категории настроена ставка комиссии.
func (e *Engine) SupportsCategory(category string) bool {
	_, ok := e.commission[category]
	return ok
}
