package coupon

import "github.com/xenking/course-checkout/internal/money"

// FilterEligible returns the coupons usable for total, preserving order.
// Malformed definitions are dropped.
func FilterEligible(coupons []Coupon, total money.Amount) []Coupon {
	out := make([]Coupon, 0, len(coupons))
	for i := range coupons {
		c := &coupons[i]
		if c.Validate() != nil || !c.Eligible(total) {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// SelectBest picks the coupon with the strictly greatest discount for total.
// Ties keep the first occurrence in the input. It returns false when no
// coupon yields a positive discount.
func SelectBest(coupons []Coupon, total money.Amount) (Coupon, bool) {
	var (
		best     Coupon
		bestDisc money.Amount
		found    bool
	)
	for i := range coupons {
		c := &coupons[i]
		if c.Validate() != nil {
			continue
		}
		d := c.Discount(total)
		if d <= 0 {
			continue
		}
		if !found || d > bestDisc {
			best, bestDisc, found = *c, d, true
		}
	}
	return best, found
}
