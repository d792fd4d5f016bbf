package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoCode_Discount(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := func() *PromoCode {
		return &PromoCode{
			Code:          "SAVE20",
			DiscountType:  DiscountPercentage,
			DiscountValue: decimal.NewFromInt(20),
			ValidFrom:     now.Add(-time.Hour),
			ValidUntil:    now.Add(time.Hour),
			IsActive:      true,
		}
	}

	t.Run("процент", func(t *testing.T) {
		d, err := base().Discount(decimal.NewFromInt(200), now)
		require.NoError(t, err)
		assert.Equal(t, "40", d.String())
	})

	t.Run("процент с потолком", func(t *testing.T) {
		p := base()
		limit := decimal.NewFromInt(25)
		p.MaxDiscount = &limit

		d, err := p.Discount(decimal.NewFromInt(200), now)
		require.NoError(t, err)
		assert.Equal(t, "25", d.String())
	})

	t.Run("фиксированная", func(t *testing.T) {
		p := base()
		p.DiscountType = DiscountFixed
		p.DiscountValue = decimal.NewFromInt(50)

		d, err := p.Discount(decimal.NewFromInt(200), now)
		require.NoError(t, err)
		assert.Equal(t, "50", d.String())
	})

	invalid := map[string]func(p *PromoCode){
		"неактивен":        func(p *PromoCode) { p.IsActive = false },
		"истёк":            func(p *PromoCode) { p.ValidUntil = now.Add(-time.Minute) },
		"ещё не действует": func(p *PromoCode) { p.ValidFrom = now.Add(time.Minute) },
		"исчерпан": func(p *PromoCode) {
			limit := 3
			p.UsageLimit, p.UsedCount = &limit, 3
		},
		"минимальная сумма": func(p *PromoCode) { p.MinPurchase = decimal.NewFromInt(500) },
	}
	for name, mutate := range invalid {
		t.Run(name, func(t *testing.T) {
			p := base()
			mutate(p)

			_, err := p.Discount(decimal.NewFromInt(200), now)
			assert.ErrorIs(t, err, ErrInvalidPromoCode)
		})
	}
}
