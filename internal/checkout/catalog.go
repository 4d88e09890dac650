package checkout

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

// CouponSource fetches a user's candidate coupons.
type CouponSource interface {
	FetchCoupons(ctx context.Context, userID string) ([]coupon.Coupon, error)
}

type catalogEntry struct {
	coupons   []coupon.Coupon
	fetchedAt time.Time
}

// defaultFetchTimeout bounds a shared backend fetch, which outlives the
// request that started it.
const defaultFetchTimeout = 15 * time.Second

// Catalog fetches eligible coupons and memoizes them per user and order
// total, so the backend is asked once per distinct total. Concurrent
// identical fetches are collapsed.
type Catalog struct {
	src          CouponSource
	ttl          time.Duration
	fetchTimeout time.Duration
	maxEntries   int
	lg           *zap.Logger
	now          func() time.Time

	group singleflight.Group

	mu   sync.Mutex
	memo map[string]catalogEntry
}

// NewCatalog creates a Catalog. Entries older than ttl are refetched.
func NewCatalog(src CouponSource, ttl time.Duration, lg *zap.Logger) *Catalog {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Catalog{
		src:          src,
		ttl:          ttl,
		fetchTimeout: defaultFetchTimeout,
		maxEntries:   10_000,
		lg:           lg,
		now:          time.Now,
		memo:         make(map[string]catalogEntry),
	}
}

func catalogKey(userID string, total money.Amount) string {
	return userID + "|" + strconv.FormatInt(int64(total), 10)
}

// FetchEligible returns the coupons usable for total. Malformed coupons and
// coupons whose minimum order exceeds total are dropped. Failures match
// ErrCatalogUnavailable.
func (c *Catalog) FetchEligible(ctx context.Context, userID string, total money.Amount) ([]coupon.Coupon, error) {
	key := catalogKey(userID, total)

	if cached, ok := c.lookup(key); ok {
		return cached, nil
	}

	// The fetch is shared, so it must not die with the first caller.
	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		all, err := c.src.FetchCoupons(fetchCtx, userID)
		if err != nil {
			return nil, err
		}
		eligible := coupon.FilterEligible(all, total)
		c.store(key, eligible)
		return eligible, nil
	})

	select {
	case <-ctx.Done():
		return nil, &CatalogError{UserID: userID, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &CatalogError{UserID: userID, Err: res.Err}
		}
		if res.Shared {
			c.lg.Debug("Coupon catalog fetch shared", zap.String("user_id", userID))
		}
		return clone(res.Val.([]coupon.Coupon)), nil
	}
}

// Invalidate drops every memoized entry of userID.
func (c *Catalog) Invalidate(userID string) {
	prefix := userID + "|"

	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.memo {
		if strings.HasPrefix(k, prefix) {
			delete(c.memo, k)
		}
	}
}

func (c *Catalog) lookup(key string) ([]coupon.Coupon, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.memo[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.fetchedAt) > c.ttl {
		delete(c.memo, key)
		return nil, false
	}
	return clone(e.coupons), true
}

func (c *Catalog) store(key string, coupons []coupon.Coupon) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.memo) >= c.maxEntries {
		for k, e := range c.memo {
			if c.ttl <= 0 || now.Sub(e.fetchedAt) > c.ttl {
				delete(c.memo, k)
			}
		}
		if len(c.memo) >= c.maxEntries {
			c.memo = make(map[string]catalogEntry)
		}
	}
	c.memo[key] = catalogEntry{coupons: coupons, fetchedAt: now}
}

func clone(in []coupon.Coupon) []coupon.Coupon {
	out := make([]coupon.Coupon, len(in))
	copy(out, in)
	return out
}
