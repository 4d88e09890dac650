package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/wallet"
)

const (
	debitWalletSQL = `UPDATE wallets SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1`

	consumeCouponUseSQL = `UPDATE coupons SET uses = uses + 1, updated_at = now()
		WHERE code = $1 AND active = TRUE AND (max_uses = 0 OR uses < max_uses)`

	createOrderSQL = `INSERT INTO orders (id, user_id, courses, is_cart, original_amount,
		coupon_code, discount_amount, wallet_amount, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create debits the wallet, consumes a coupon use and inserts the order in a
// single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin order %q: %w", o.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.WalletAmount.IsPositive() {
		tag, err := tx.Exec(ctx, debitWalletSQL, o.UserID, o.WalletAmount.Decimal())
		switch {
		case isCheckViolation(err):
			return wallet.ErrInsufficientBalance
		case err != nil:
			return fmt.Errorf("debiting wallet of %q: %w", o.UserID, err)
		case tag.RowsAffected() == 0:
			return wallet.ErrInsufficientBalance
		}
	}

	if o.CouponCode != "" {
		tag, err := tx.Exec(ctx, consumeCouponUseSQL, o.CouponCode)
		if err != nil {
			return fmt.Errorf("consuming coupon %q: %w", o.CouponCode, err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrCouponUsageLimitReached
		}
	}

	_, err = tx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Courses, o.IsCart, o.OriginalAmount.Decimal(),
		o.CouponCode, o.DiscountAmount.Decimal(), o.WalletAmount.Decimal(), o.Amount.Decimal(),
		o.Currency, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit order %q: %w", o.ID, err)
	}
	return nil
}
