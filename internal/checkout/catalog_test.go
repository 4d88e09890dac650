package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

func couponCodes(cs []coupon.Coupon) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Code)
	}
	return out
}

func TestCatalog_FetchEligible(t *testing.T) {
	broken := save10()
	broken.Code = "x"
	b := newMockBackend(save10(), flat50Min1500(), flat20(), broken)
	c := NewCatalog(b, time.Minute, nil)
	ctx := context.Background()

	got, err := c.FetchEligible(ctx, "u1", money.MustParse("1000"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SAVE10", "FLAT20"}, couponCodes(got))

	got, err = c.FetchEligible(ctx, "u1", money.MustParse("1500"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SAVE10", "FLAT50", "FLAT20"}, couponCodes(got))
	assert.Equal(t, 2, b.fetchCalls)
}

func TestCatalog_Memoized(t *testing.T) {
	b := newMockBackend(save10())
	c := NewCatalog(b, time.Minute, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	total := money.MustParse("1000")

	first, err := c.FetchEligible(ctx, "u1", total)
	require.NoError(t, err)
	first[0].Code = "MUTATED"

	second, err := c.FetchEligible(ctx, "u1", total)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", second[0].Code, "callers must get their own copy")
	assert.Equal(t, 1, b.fetchCalls)

	_, err = c.FetchEligible(ctx, "u2", total)
	require.NoError(t, err)
	assert.Equal(t, 2, b.fetchCalls, "memo is per user")

	now = now.Add(2 * time.Minute)
	_, err = c.FetchEligible(ctx, "u1", total)
	require.NoError(t, err)
	assert.Equal(t, 3, b.fetchCalls, "expired entry is refetched")
}

func TestCatalog_Invalidate(t *testing.T) {
	b := newMockBackend(save10())
	c := NewCatalog(b, time.Minute, nil)
	ctx := context.Background()

	_, err := c.FetchEligible(ctx, "u1", money.MustParse("1000"))
	require.NoError(t, err)
	_, err = c.FetchEligible(ctx, "u10", money.MustParse("1000"))
	require.NoError(t, err)

	c.Invalidate("u1")

	_, err = c.FetchEligible(ctx, "u1", money.MustParse("1000"))
	require.NoError(t, err)
	_, err = c.FetchEligible(ctx, "u10", money.MustParse("1000"))
	require.NoError(t, err)
	assert.Equal(t, 3, b.fetchCalls, "only u1 is refetched")
}

func TestCatalog_Error(t *testing.T) {
	b := newMockBackend()
	b.couponsErr = errors.New("connection refused")
	c := NewCatalog(b, time.Minute, nil)

	got, err := c.FetchEligible(context.Background(), "u1", money.MustParse("1000"))
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)

	catErr, ok := errors.Into[*CatalogError](err)
	require.True(t, ok)
	assert.Equal(t, "u1", catErr.UserID)
	assert.EqualError(t, catErr.Err, "connection refused")

	b.couponsErr = nil
	_, err = c.FetchEligible(context.Background(), "u1", money.MustParse("1000"))
	require.NoError(t, err, "failures are not memoized")
}

type blockingSource struct {
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *blockingSource) FetchCoupons(ctx context.Context, _ string) ([]coupon.Coupon, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	select {
	case <-s.release:
		return []coupon.Coupon{save10()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *blockingSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCatalog_ConcurrentFetchesCollapse(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	c := NewCatalog(src, time.Minute, nil)
	total := money.MustParse("1000")

	var wg sync.WaitGroup
	results := make([][]coupon.Coupon, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.FetchEligible(context.Background(), "u1", total)
			assert.NoError(t, err)
			results[i] = got
		}()
	}

	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, 1, src.calls)
	for _, r := range results {
		assert.Equal(t, []string{"SAVE10"}, couponCodes(r))
	}
}

func TestCatalog_SharedFetchSurvivesCanceledCaller(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	c := NewCatalog(src, time.Minute, nil)
	total := money.MustParse("1000")

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.FetchEligible(firstCtx, "u1", total)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, time.Millisecond)

	type result struct {
		coupons []coupon.Coupon
		err     error
	}
	second := make(chan result, 1)
	go func() {
		got, err := c.FetchEligible(context.Background(), "u1", total)
		second <- result{got, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, ErrCatalogUnavailable)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(src.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, []string{"SAVE10"}, couponCodes(r.coupons))
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, 1, src.callCount())

	got, err := c.FetchEligible(context.Background(), "u1", total)
	require.NoError(t, err)
	assert.Equal(t, []string{"SAVE10"}, couponCodes(got))
	assert.Equal(t, 1, src.callCount(), "shared result is memoized")
}
