package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/money"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount, optionally
	// capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFlat takes a fixed currency amount off the order.
	DiscountFlat DiscountType = "flat"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFlat
}

const (
	// MinCodeLength and MaxCodeLength bound a coupon code.
	MinCodeLength = 3
	MaxCodeLength = 20
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or the
	// definition is malformed.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinOrderNotMet is returned when the order total is below the
	// coupon's minimum order amount.
	ErrMinOrderNotMet = errors.New("order amount below coupon minimum")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a named discount rule with eligibility and validity constraints.
type Coupon struct {
	Code         string
	DiscountType DiscountType
	// Value is a percentage (0-100) for DiscountPercentage and an amount in
	// major units for DiscountFlat.
	Value          decimal.Decimal
	MinOrderAmount money.Amount
	// MaxDiscount caps percentage discounts. Zero means uncapped.
	MaxDiscount money.Amount
	ValidFrom   *time.Time
	ValidTill   *time.Time
	MaxUses     int
	Uses        int
	Description string
}

// Quote is the priced outcome of applying a coupon to an order amount.
type Quote struct {
	Code               string
	DiscountType       DiscountType
	DiscountValue      decimal.Decimal
	OriginalAmount     money.Amount
	DiscountAmount     money.Amount
	DiscountPercentage decimal.Decimal
	FinalPrice         money.Amount
}

// Repository provides lookup and mutation of coupons on the storefront side.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	ListActive(ctx context.Context) ([]Coupon, error)
}

// NormalizeCode trims typed input and upper-cases it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is 3-20 uppercase ASCII letters or digits.
func ValidCode(code string) bool {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return false
	}
	for i := range len(code) {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Validate checks that the coupon definition is well formed.
func (c *Coupon) Validate() error {
	if !ValidCode(c.Code) {
		return errors.Wrapf(ErrInvalidCoupon, "code %q", c.Code)
	}
	if !c.DiscountType.Valid() {
		return errors.Wrapf(ErrInvalidCoupon, "discount type %q", c.DiscountType)
	}
	if c.Value.IsNegative() {
		return errors.Wrap(ErrInvalidCoupon, "negative discount value")
	}
	if c.DiscountType == DiscountFlat && !money.InRange(c.Value) {
		return errors.Wrap(ErrInvalidCoupon, "flat discount value out of range")
	}
	if c.DiscountType == DiscountPercentage && c.Value.GreaterThan(hundred) {
		return errors.Wrap(ErrInvalidCoupon, "percentage above 100")
	}
	if c.MinOrderAmount.IsNegative() || c.MaxDiscount.IsNegative() {
		return errors.Wrap(ErrInvalidCoupon, "negative amount bound")
	}
	if c.ValidFrom != nil && c.ValidTill != nil && c.ValidTill.Before(*c.ValidFrom) {
		return errors.Wrap(ErrInvalidCoupon, "validity window ends before it starts")
	}
	return nil
}

// Eligible reports whether the coupon may be offered for an order total.
// Only the minimum order amount is checked; the validity window is enforced
// by the storefront.
func (c *Coupon) Eligible(total money.Amount) bool {
	return total >= c.MinOrderAmount
}

// ActiveAt reports whether now falls within the inclusive validity window.
func (c *Coupon) ActiveAt(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidTill != nil && now.After(*c.ValidTill) {
		return false
	}
	return true
}

// Exhausted reports whether the coupon has used up its allowed uses.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses > 0 && c.Uses >= c.MaxUses
}
