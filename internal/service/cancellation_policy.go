package service

import (
	"github.com/ignatzorin/booking-core/internal/models"
	"github.com/ignatzorin/booking-core/internal/pkg/apperror"
)

// CancellationTerms - условия отмены: доля возврата в процентах и фиксированный сбор в минорных единицах.
type CancellationTerms struct {
	RefundPercent int64
	Fee           int64
}

// CancellationPolicy определяет условия отмены по тарифу и времени до начала услуги.
type CancellationPolicy interface {
	Terms(tier string, hoursBeforeService float64) (CancellationTerms, error)
}

type policyStep struct {
	minHours      float64
	refundPercent int64
	withFee       bool
}

// Ступени упорядочены по убыванию minHours; последняя ступень срабатывает всегда.
var policyTable = map[string][]policyStep{
	models.PolicyFlexible: {
		{minHours: 12, refundPercent: 100},
		{minHours: 2, refundPercent: 50, withFee: true},
		{minHours: 0, refundPercent: 0, withFee: true},
	},
	models.PolicyModerate: {
		{minHours: 24, refundPercent: 100},
		{minHours: 12, refundPercent: 50, withFee: true},
		{minHours: 0, refundPercent: 0, withFee: true},
	},
	models.PolicyStrict: {
		{minHours: 72, refundPercent: 100},
		{minHours: 24, refundPercent: 50, withFee: true},
		{minHours: 0, refundPercent: 0, withFee: true},
	},
}

// TieredPolicy - табличная политика flexible/moderate/strict с единым сбором.
type TieredPolicy struct {
	fee int64
}

func NewTieredPolicy(fee int64) *TieredPolicy {
	return &TieredPolicy{fee: fee}
}

func (p *TieredPolicy) Terms(tier string, hoursBeforeService float64) (CancellationTerms, error) {
	steps, ok := policyTable[tier]
	if !ok {
		return CancellationTerms{}, apperror.Newf(apperror.ErrCodeInvalidInput, "неизвестный тариф отмены: %s", tier)
	}
	for _, step := range steps {
		if hoursBeforeService >= step.minHours {
			return p.terms(step), nil
		}
	}
	// Услуга уже началась
	return p.terms(steps[len(steps)-1]), nil
}

func (p *TieredPolicy) terms(step policyStep) CancellationTerms {
	t := CancellationTerms{RefundPercent: step.refundPercent}
	if step.withFee {
		t.Fee = p.fee
	}
	return t
}

// RefundAmount - сумма возврата из удержанных средств по условиям отмены.
func (t CancellationTerms) RefundAmount(held int64) int64 {
	refund := held*t.RefundPercent/100 - t.Fee
	if refund < 0 {
		return 0
	}
	if refund > held {
		return held
	}
	return refund
}
