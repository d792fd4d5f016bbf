package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Pricing — параметры расчёта суммы заказа.
type Pricing struct {
	Currency    string
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal
}

// Totals — суммы заказа.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// LineTotal — quantity × unit_price с округлением до копеек.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Subtotal суммирует line_total позиций.
func Subtotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal)
	}
	return sum
}

// Compute считает налог, доставку и итог.
// total = subtotal + tax + shipping − discount, скидка не больше суммы без неё.
func (p Pricing) Compute(subtotal, discount decimal.Decimal) Totals {
	tax := subtotal.Mul(p.TaxRate).Round(2)
	gross := subtotal.Add(tax).Add(p.ShippingFee)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}
	discount = discount.Round(2)

	return Totals{
		Subtotal: subtotal.Round(2),
		Tax:      tax,
		Shipping: p.ShippingFee.Round(2),
		Discount: discount,
		Total:    gross.Sub(discount).Round(2),
	}
}

// CurrencyExponent — число знаков после запятой в валюте.
func CurrencyExponent(currency string) int32 {
	switch strings.ToUpper(currency) {
	case "KWD", "BHD", "OMR", "JOD":
		return 3
	default:
		return 2
	}
}

// ToMinorUnits переводит сумму в минимальные единицы валюты.
// Сумма с большей точностью, чем допускает валюта, — ошибка.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	exp := CurrencyExponent(currency)
	minor := amount.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: сумма %s точнее, чем допускает %s", ErrValidation, amount, currency)
	}
	return minor.IntPart(), nil
}

// FromMinorUnits переводит минимальные единицы в сумму.
func FromMinorUnits(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -CurrencyExponent(currency))
}
