package valueobject

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// Внутри ядра все суммы хранятся в минорных единицах (агоротах, центах).
const minorUnitsExp = 2

type Money struct {
	Minor    int64
	Currency string
}

func NewMoney(minor int64, currency string) (Money, error) {
	if minor < 0 {
		return Money{}, apperror.New(apperror.ErrCodeInvalidInput, "сумма не может быть отрицательной")
	}
	if currency == "" {
		currency = "ILS"
	}
	return Money{Minor: minor, Currency: currency}, nil
}

// Decimal переводит сумму в основные единицы валюты для отображения.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -minorUnitsExp)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(minorUnitsExp), m.Currency)
}

// RoundMinor округляет точную сумму в минорных единицах до целого (half-up).
func RoundMinor(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// MinorToDisplay форматирует минорные единицы как строку в основных единицах.
func MinorToDisplay(d decimal.Decimal) string {
	return d.Shift(-minorUnitsExp).String()
}
