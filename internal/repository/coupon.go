package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

const (
	couponColumns = `code, discount_type, value, min_order_amount, max_discount,
		valid_from, valid_till, max_uses, uses, description`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code = $1 AND active = TRUE`

	listActiveCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE active = TRUE ORDER BY code`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_till = EXCLUDED.valid_till,
			max_uses = EXCLUDED.max_uses,
			description = EXCLUDED.description,
			active = TRUE,
			updated_at = now()`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its normalized code.
// Returns coupon.ErrInvalidCoupon when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// ListActive returns every active coupon ordered by code.
func (r *CouponRepository) ListActive(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listActiveCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// UpsertBatch inserts or replaces coupon definitions in one transaction.
// Usage counters of existing coupons are kept.
func (r *CouponRepository) UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for i := range coupons {
		c := &coupons[i]
		batch.Queue(upsertCouponSQL,
			c.Code, string(c.DiscountType), c.Value,
			c.MinOrderAmount.Decimal(), c.MaxDiscount.Decimal(),
			c.ValidFrom, c.ValidTill, int32(c.MaxUses), c.Description,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin coupon upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit coupon upsert: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		minOrder     decimal.Decimal
		maxDiscount  decimal.Decimal
		validFrom    *time.Time
		validTill    *time.Time
		maxUses      int32
		uses         int32
	)
	err := row.Scan(
		&c.Code, &discountType, &c.Value, &minOrder, &maxDiscount,
		&validFrom, &validTill, &maxUses, &uses, &c.Description,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.MinOrderAmount = money.FromDecimal(minOrder)
	c.MaxDiscount = money.FromDecimal(maxDiscount)
	c.ValidFrom = validFrom
	c.ValidTill = validTill
	c.MaxUses = int(maxUses)
	c.Uses = int(uses)
	return c, err
}
