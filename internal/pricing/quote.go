package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// ComputeQuote считает стоимость в фиксированном порядке:
// наценка на базу, комиссия с наценённой базы, НДС только с комиссии.
// Выплата провайдеру всегда равна исходной базе.
func ComputeQuote(baseAmount int64, commissionRate, vatRate decimal.Decimal, surge SurgeContext) (models.PricingQuote, error) {
	if baseAmount <= 0 {
		return models.PricingQuote{}, apperror.New(apperror.ErrCodeInvalidInput, "базовая сумма должна быть положительной")
	}
	if !inUnitRange(commissionRate) {
		return models.PricingQuote{}, apperror.New(apperror.ErrCodeInvalidInput, "ставка комиссии должна быть в диапазоне [0,1]")
	}
	if !inUnitRange(vatRate) {
		return models.PricingQuote{}, apperror.New(apperror.ErrCodeInvalidInput, "ставка НДС должна быть в диапазоне [0,1]")
	}

	multiplier, reasons, err := DetectSurge(surge)
	if err != nil {
		return models.PricingQuote{}, err
	}

	base := decimal.NewFromInt(baseAmount)
	adjustedBase := base.Mul(multiplier)
	commission := adjustedBase.Mul(commissionRate)
	vat := commission.Mul(vatRate)
	total := adjustedBase.Add(commission).Add(vat)

	return models.PricingQuote{
		BaseAmount:       baseAmount,
		SurgeMultiplier:  multiplier,
		SurgeReasons:     reasons,
		AdjustedBase:     adjustedBase,
		CommissionRate:   commissionRate,
		CommissionAmount: commission,
		VATRate:          vatRate,
		VATAmount:        vat,
		TotalCharge:      total,
		ProviderPayout:   baseAmount,
	}, nil
}

func inUnitRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(one)
}
