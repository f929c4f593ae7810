package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/domain/valueobject"
)

// PricingQuote - замороженный расчёт стоимости. Суммы в минорных единицах,
// промежуточные значения хранятся точно, без округления.
type PricingQuote struct {
	BaseAmount       int64           `json:"base_amount"`
	Currency         string          `json:"currency"`
	SurgeMultiplier  decimal.Decimal `json:"surge_multiplier"`
	SurgeReasons     []string        `json:"surge_reasons"`
	AdjustedBase     decimal.Decimal `json:"adjusted_base"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	VATRate          decimal.Decimal `json:"vat_rate"`
	VATAmount        decimal.Decimal `json:"vat_amount"`
	TotalCharge      decimal.Decimal `json:"total_charge"`
	ProviderPayout   int64           `json:"provider_payout"`
	ComputedAt       time.Time       `json:"computed_at"`
}

// ChargeMinor - сумма к авторизации, округлённая до целых минорных единиц.
func (q PricingQuote) ChargeMinor() int64 {
	return valueobject.RoundMinor(q.TotalCharge)
}

// PlatformRetained - всё, что остаётся платформе после выплаты провайдеру.
func (q PricingQuote) PlatformRetained() int64 {
	return q.ChargeMinor() - q.ProviderPayout
}

func (q PricingQuote) Value() (driver.Value, error) {
	return json.Marshal(q)
}

func (q *PricingQuote) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, q)
	case string:
		return json.Unmarshal([]byte(v), q)
	default:
		return errors.New("pricing quote: unsupported scan type")
	}
}
