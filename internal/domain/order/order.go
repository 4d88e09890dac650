package order

import (
	"context"
	"time"

	"github.com/xenking/course-checkout/internal/money"
)

// Status of an order handed to the payment gateway.
type Status string

const (
	StatusCreated Status = "created"
	StatusPaid    Status = "paid"
)

// DefaultCurrency is used for every order; the marketplace sells in one
// currency.
const DefaultCurrency = "INR"

// Order is a priced course purchase awaiting payment.
type Order struct {
	ID             string
	UserID         string
	Courses        []string
	IsCart         bool
	OriginalAmount money.Amount
	CouponCode     string
	DiscountAmount money.Amount
	WalletAmount   money.Amount
	Amount         money.Amount
	Currency       string
	Status         Status
	CreatedAt      time.Time
}

// Repository persists orders.
//
// Create must debit o.WalletAmount from the user's wallet, consume one use of
// o.CouponCode (when set) and insert the order atomically. It returns
// wallet.ErrInsufficientBalance or coupon.ErrCouponUsageLimitReached when a
// guard fails.
type Repository interface {
	Create(ctx context.Context, o *Order) error
}
