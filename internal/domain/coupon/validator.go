package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/money"
)

// Quoter prices a coupon code against an order amount, enforcing every
// storefront-side rule.
type Quoter interface {
	QuoteCode(ctx context.Context, code string, orderAmount money.Amount) (*Quote, error)
}

// RepoValidator implements Quoter by looking up coupons from a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// QuoteCode looks up the coupon, checks its validity window, usage limit and
// minimum order amount, and prices it. It does not consume a use; that
// happens when an order is created.
func (v *RepoValidator) QuoteCode(ctx context.Context, code string, orderAmount money.Amount) (*Quote, error) {
	c, err := v.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.ActiveAt(v.now()) {
		return nil, ErrCouponExpired
	}
	if c.Exhausted() {
		return nil, ErrCouponUsageLimitReached
	}
	if !c.Eligible(orderAmount) {
		return nil, ErrMinOrderNotMet
	}

	q := c.Quote(orderAmount)
	return &q, nil
}

// Available returns the coupons a user may currently be offered: active,
// within their validity window and not exhausted.
func (v *RepoValidator) Available(ctx context.Context) ([]Coupon, error) {
	all, err := v.repo.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	now := v.now()
	out := make([]Coupon, 0, len(all))
	for i := range all {
		c := &all[i]
		if c.Validate() != nil || !c.ActiveAt(now) || c.Exhausted() {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}
