package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType — тип скидки промокода.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// PromoCode — промокод магазина.
type PromoCode struct {
	ID            uint64
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinPurchase   decimal.Decimal
	MaxDiscount   *decimal.Decimal
	UsageLimit    *int
	UsedCount     int
	ValidFrom     time.Time
	ValidUntil    time.Time
	IsActive      bool
}

// Discount проверяет применимость и считает скидку от subtotal.
func (p *PromoCode) Discount(subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !p.IsActive || now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return decimal.Zero, ErrInvalidPromoCode
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return decimal.Zero, ErrInvalidPromoCode
	}
	if subtotal.LessThan(p.MinPurchase) {
		return decimal.Zero, ErrInvalidPromoCode
	}

	var discount decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		discount = subtotal.Mul(p.DiscountValue).Div(decimal.NewFromInt(100))
		if p.MaxDiscount != nil && discount.GreaterThan(*p.MaxDiscount) {
			discount = *p.MaxDiscount
		}
	case DiscountFixed:
		discount = p.DiscountValue
	default:
		return decimal.Zero, ErrInvalidPromoCode
	}

	return discount.Round(2), nil
}
