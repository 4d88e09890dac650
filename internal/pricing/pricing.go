// Package pricing derives the payable amount of a checkout from its
// original total, applied coupon and wallet toggle.
//
// Every function here is pure. Callers recompute State on each event
// instead of mutating derived fields.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

// AppliedCoupon is a coupon the storefront has validated and priced against
// the session's original total.
type AppliedCoupon struct {
	Code                    string
	DiscountType            coupon.DiscountType
	DiscountValue           decimal.Decimal
	DiscountAmount          money.Amount
	DiscountPercentage      decimal.Decimal
	FinalPriceAfterDiscount money.Amount
}

// FromQuote converts a priced coupon into an AppliedCoupon.
func FromQuote(q coupon.Quote) AppliedCoupon {
	return AppliedCoupon{
		Code:                    q.Code,
		DiscountType:            q.DiscountType,
		DiscountValue:           q.DiscountValue,
		DiscountAmount:          q.DiscountAmount,
		DiscountPercentage:      q.DiscountPercentage,
		FinalPriceAfterDiscount: q.FinalPrice,
	}
}

func (c *AppliedCoupon) equal(o *AppliedCoupon) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.Code == o.Code &&
		c.DiscountType == o.DiscountType &&
		c.DiscountValue.Equal(o.DiscountValue) &&
		c.DiscountAmount == o.DiscountAmount &&
		c.DiscountPercentage.Equal(o.DiscountPercentage) &&
		c.FinalPriceAfterDiscount == o.FinalPriceAfterDiscount
}

// State is the derived pricing record of a checkout session.
//
// Invariant: 0 <= FinalAmount <= OriginalTotal.
type State struct {
	OriginalTotal money.Amount
	AppliedCoupon *AppliedCoupon
	WalletApplied bool
	WalletBalance money.Amount

	// Derived by Aggregate.
	WalletAmount money.Amount
	FinalAmount  money.Amount
	TotalSavings money.Amount
}

// Equal reports whether two states carry the same values. AppliedCoupon is
// compared by value.
func (s State) Equal(o State) bool {
	return s.OriginalTotal == o.OriginalTotal &&
		s.AppliedCoupon.equal(o.AppliedCoupon) &&
		s.WalletApplied == o.WalletApplied &&
		s.WalletBalance == o.WalletBalance &&
		s.WalletAmount == o.WalletAmount &&
		s.FinalAmount == o.FinalAmount &&
		s.TotalSavings == o.TotalSavings
}

// CouponDiscount returns the discount contributed by the applied coupon, or
// zero when none is applied.
func (s State) CouponDiscount() money.Amount {
	if s.AppliedCoupon == nil {
		return 0
	}
	return s.OriginalTotal - s.afterCoupon()
}

func (s State) afterCoupon() money.Amount {
	if s.AppliedCoupon == nil {
		return s.OriginalTotal
	}
	return s.AppliedCoupon.FinalPriceAfterDiscount.Clamp(0, s.OriginalTotal)
}

// WalletResult is the outcome of applying a wallet to an amount.
type WalletResult struct {
	WalletAmount money.Amount
	Remaining    money.Amount
}

// ApplyWallet deducts up to balance from amount when applied is set.
// The deduction never exceeds balance and never drives the remainder
// negative. Negative inputs are treated as zero.
func ApplyWallet(amount, balance money.Amount, applied bool) WalletResult {
	amount = amount.NonNegative()

	var used money.Amount
	if applied && balance > 0 {
		used = money.Min(balance, amount)
	}
	return WalletResult{
		WalletAmount: used,
		Remaining:    (amount - used).NonNegative(),
	}
}

// Aggregate derives the full pricing state. The coupon discount is applied
// first and the wallet reduces what is left.
func Aggregate(originalTotal money.Amount, applied *AppliedCoupon, walletApplied bool, walletBalance money.Amount) State {
	s := State{
		OriginalTotal: originalTotal.NonNegative(),
		WalletApplied: walletApplied,
		WalletBalance: walletBalance.NonNegative(),
	}
	if applied != nil {
		c := *applied
		s.AppliedCoupon = &c
	}

	w := ApplyWallet(s.afterCoupon(), s.WalletBalance, walletApplied)
	s.WalletAmount = w.WalletAmount
	s.FinalAmount = w.Remaining
	s.TotalSavings = s.OriginalTotal - s.FinalAmount
	return s
}

// Recompute re-derives s from its inputs.
func (s State) Recompute() State {
	return Aggregate(s.OriginalTotal, s.AppliedCoupon, s.WalletApplied, s.WalletBalance)
}

// WithCoupon returns s with c applied (or removed when nil).
func (s State) WithCoupon(c *AppliedCoupon) State {
	return Aggregate(s.OriginalTotal, c, s.WalletApplied, s.WalletBalance)
}

// WithWallet returns s with the wallet toggle set.
func (s State) WithWallet(applied bool) State {
	return Aggregate(s.OriginalTotal, s.AppliedCoupon, applied, s.WalletBalance)
}

// WithWalletBalance returns s with a refreshed wallet balance.
func (s State) WithWalletBalance(balance money.Amount) State {
	return Aggregate(s.OriginalTotal, s.AppliedCoupon, s.WalletApplied, balance)
}
