package coupon

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/money"
)

// Discount returns the candidate discount of the coupon for an order total.
//
// Percentage coupons take floor(total*value/100), capped by MaxDiscount when
// set. Flat coupons take their value as is. The result is not clamped to the
// total; Quote does that.
func (c *Coupon) Discount(total money.Amount) money.Amount {
	switch c.DiscountType {
	case DiscountPercentage:
		d := total.NonNegative().Percent(c.Value)
		if c.MaxDiscount > 0 && d > c.MaxDiscount {
			d = c.MaxDiscount
		}
		return d.NonNegative()
	case DiscountFlat:
		return money.FromDecimal(c.Value).NonNegative()
	default:
		return 0
	}
}

// Quote prices the coupon against an order total. The discount is clamped to
// [0, total] so the final price is never negative and never above total.
func (c *Coupon) Quote(total money.Amount) Quote {
	total = total.NonNegative()
	discount := c.Discount(total).Clamp(0, total)

	return Quote{
		Code:               c.Code,
		DiscountType:       c.DiscountType,
		DiscountValue:      c.Value,
		OriginalAmount:     total,
		DiscountAmount:     discount,
		DiscountPercentage: effectivePercentage(discount, total),
		FinalPrice:         total - discount,
	}
}

// effectivePercentage returns discount/total as a percentage rounded to two
// places, or zero for an empty order.
func effectivePercentage(discount, total money.Amount) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(discount)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
}
