package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/wallet"
	"github.com/xenking/course-checkout/internal/money"
	"github.com/xenking/course-checkout/internal/pricing"
)

// Sentinel errors for order validation.
var (
	ErrNoCourses        = errors.New("course required")
	ErrNegativeAmount   = errors.New("amounts must not be negative")
	ErrOriginalRequired = errors.New("originalAmount required with coupon")
	ErrAmountMismatch   = errors.New("order amount does not match pricing")
	ErrMultipleCourses  = errors.New("single course order lists more than one course")
)

// AmountMismatchError reports the server-side pricing that disagreed with
// the client's request.
type AmountMismatchError struct {
	Field    string
	Expected money.Amount
	Got      money.Amount
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("%s mismatch: expected %s, got %s", e.Field, e.Expected, e.Got)
}

// Is makes errors.Is(err, ErrAmountMismatch) hold.
func (e *AmountMismatchError) Is(target error) bool {
	return target == ErrAmountMismatch
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID       string
	Courses      []string
	IsCart       bool
	Amount       money.Amount
	WalletAmount money.Amount
	CouponCode   string
	// OriginalAmount is the pre-discount total. When zero and no coupon is
	// used it is derived as Amount + WalletAmount.
	OriginalAmount money.Amount
}

// Service re-prices and persists orders.
type Service struct {
	coupons coupon.Quoter
	wallets wallet.Repository
	orders  Repository
	now     func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(coupons coupon.Quoter, wallets wallet.Repository, orders Repository) *Service {
	return &Service{
		coupons: coupons,
		wallets: wallets,
		orders:  orders,
		now:     time.Now,
	}
}

// Create validates the request, re-derives the payable amount from the
// stored coupon and wallet balance, rejects any mismatch with the client's
// figures and persists the order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if len(req.Courses) == 0 {
		return nil, ErrNoCourses
	}
	if !req.IsCart && len(req.Courses) > 1 {
		return nil, ErrMultipleCourses
	}
	if req.Amount.IsNegative() || req.WalletAmount.IsNegative() || req.OriginalAmount.IsNegative() {
		return nil, ErrNegativeAmount
	}

	code := coupon.NormalizeCode(req.CouponCode)
	original := req.OriginalAmount
	if original == 0 {
		if code != "" {
			return nil, ErrOriginalRequired
		}
		original = req.Amount + req.WalletAmount
	}

	var applied *pricing.AppliedCoupon
	if code != "" {
		q, err := s.coupons.QuoteCode(ctx, code, original)
		if err != nil {
			return nil, err
		}
		ac := pricing.FromQuote(*q)
		applied = &ac
	}

	var balance money.Amount
	if req.WalletAmount > 0 {
		w, err := s.wallets.Get(ctx, req.UserID)
		switch {
		case errors.Is(err, wallet.ErrNotFound):
		case err != nil:
			return nil, errors.Wrap(err, "get wallet")
		default:
			balance = w.Balance
		}
	}

	state := pricing.Aggregate(original, applied, req.WalletAmount > 0, balance)
	if state.WalletAmount != req.WalletAmount {
		return nil, &AmountMismatchError{Field: "walletAmount", Expected: state.WalletAmount, Got: req.WalletAmount}
	}
	if state.FinalAmount != req.Amount {
		return nil, &AmountMismatchError{Field: "amount", Expected: state.FinalAmount, Got: req.Amount}
	}

	o := &Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		Courses:        req.Courses,
		IsCart:         req.IsCart,
		OriginalAmount: original,
		DiscountAmount: state.CouponDiscount(),
		WalletAmount:   state.WalletAmount,
		Amount:         state.FinalAmount,
		Currency:       DefaultCurrency,
		Status:         StatusCreated,
		CreatedAt:      s.now().UTC(),
	}
	if applied != nil {
		o.CouponCode = applied.Code
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}
