package checkout

import (
	"context"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/money"
	"github.com/xenking/course-checkout/internal/pricing"
)

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{name: "cart", params: cartParams("1000")},
		{name: "single course", params: Params{UserID: "u1", Total: 500, Courses: []string{"c1"}}},
		{name: "free order", params: Params{UserID: "u1", Courses: []string{"c1"}}},
		{name: "missing user", params: Params{Total: 500, Courses: []string{"c1"}}, wantErr: true},
		{name: "negative total", params: Params{UserID: "u1", Total: -1, Courses: []string{"c1"}}, wantErr: true},
		{name: "no courses", params: Params{UserID: "u1", Total: 500}, wantErr: true},
		{name: "single with many courses", params: Params{UserID: "u1", Total: 500, Courses: []string{"c1", "c2"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParams)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOpen_AutoAppliesBestCoupon(t *testing.T) {
	b := newMockBackend(flat20(), save10(), flat50Min1500())
	b.balance = money.MustParse("200")

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)

	snap := s.Snapshot()
	assert.Equal(t, SessionOpen, snap.Status)
	assert.Equal(t, AutoApplyAttempted, snap.AutoApply)
	assert.Equal(t, "SAVE10", snap.AutoAppliedCode)
	assert.Equal(t, []string{"FLAT20", "SAVE10"}, couponCodes(snap.Eligible))
	assert.False(t, snap.CatalogUnavailable)

	p := snap.Pricing
	require.NotNil(t, p.AppliedCoupon)
	assert.Equal(t, "SAVE10", p.AppliedCoupon.Code)
	assert.Equal(t, money.MustParse("900"), p.FinalAmount)
	assert.Equal(t, money.MustParse("100"), p.TotalSavings)
	assert.Equal(t, money.MustParse("200"), p.WalletBalance)
	assert.False(t, p.WalletApplied)

	require.NotEmpty(t, snap.Notifications)
	last := snap.Notifications[len(snap.Notifications)-1]
	assert.Equal(t, LevelSuccess, last.Level)
	assert.Equal(t, "SAVE10", last.Code)
}

func TestOpen_NoEligibleCoupon(t *testing.T) {
	b := newMockBackend(flat50Min1500())

	s := openSession(t, b, "1000")

	snap := s.Snapshot()
	assert.Equal(t, AutoApplyAttempted, snap.AutoApply)
	assert.Empty(t, snap.AutoAppliedCode)
	assert.Equal(t, StatusIdle, snap.Coupon.Status)
	assert.Empty(t, b.calls())
	assert.Equal(t, money.MustParse("1000"), snap.Pricing.FinalAmount)
}

func TestOpen_CatalogUnavailable(t *testing.T) {
	b := newMockBackend()
	b.couponsErr = errors.New("connection refused")
	b.balance = money.MustParse("300")

	s := openSession(t, b, "1000")

	snap := s.Snapshot()
	assert.True(t, snap.CatalogUnavailable)
	assert.Empty(t, snap.Eligible)
	assert.Equal(t, AutoApplyAttempted, snap.AutoApply)
	assert.Equal(t, money.MustParse("300"), snap.Pricing.WalletBalance)
	require.Len(t, snap.Notifications, 1)
	assert.Equal(t, LevelWarning, snap.Notifications[0].Level)

	require.NoError(t, s.SelectCoupon("SAVE10"))
	st := waitStatus(t, s, StatusInvalid)
	assert.Equal(t, "SAVE10", st.Code, "typed coupons still work without a catalog")
}

func TestOpen_WalletUnavailable(t *testing.T) {
	b := newMockBackend(save10())
	b.walletErr = errors.New("timeout")

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)

	snap := s.Snapshot()
	assert.Zero(t, snap.Pricing.WalletBalance)
	require.NotEmpty(t, snap.Notifications)
	assert.Equal(t, LevelWarning, snap.Notifications[0].Level)

	require.NoError(t, s.SetWalletApplied(true))
	p := s.Pricing()
	assert.Zero(t, p.WalletAmount)
	assert.Equal(t, money.MustParse("900"), p.FinalAmount)
}

func TestOpen_InvalidParams(t *testing.T) {
	b := newMockBackend()
	_, err := Open(context.Background(), "s1", testDeps(b), Params{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Zero(t, b.walletCalls)
}

func TestSession_WalletAndCoupon(t *testing.T) {
	b := newMockBackend(save10())
	b.balance = money.MustParse("200")

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)

	require.NoError(t, s.SetWalletApplied(true))
	p := s.Pricing()
	assert.Equal(t, money.MustParse("200"), p.WalletAmount)
	assert.Equal(t, money.MustParse("700"), p.FinalAmount)
	assert.Equal(t, money.MustParse("300"), p.TotalSavings)

	require.NoError(t, s.ClearCoupon())
	p = s.Pricing()
	assert.Nil(t, p.AppliedCoupon)
	assert.Equal(t, money.MustParse("800"), p.FinalAmount)

	require.NoError(t, s.SetWalletApplied(false))
	assert.True(t, s.Pricing().Equal(pricing.Aggregate(money.MustParse("1000"), nil, false, money.MustParse("200"))))
}

func TestSession_InvalidCouponRemovesApplied(t *testing.T) {
	b := newMockBackend(save10())

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)

	require.NoError(t, s.SelectCoupon("BOGUS1"))
	st := waitStatus(t, s, StatusInvalid)
	assert.Equal(t, "BOGUS1", st.Code)

	p := s.Pricing()
	assert.Nil(t, p.AppliedCoupon)
	assert.Equal(t, money.MustParse("1000"), p.FinalAmount)

	notes := s.Snapshot().Notifications
	assert.Equal(t, LevelError, notes[len(notes)-1].Level)
}

func TestSession_InvalidDiscountBound(t *testing.T) {
	b := newMockBackend()
	b.validateFn = func(code string, _ money.Amount) (*backend.ValidateResponse, error) {
		return &backend.ValidateResponse{Success: true, Code: code, FinalPrice: money.MustParse("1200")}, nil
	}

	s := openSession(t, b, "1000")
	require.NoError(t, s.SelectCoupon("WEIRD1"))
	st := waitStatus(t, s, StatusInvalid)
	assert.ErrorIs(t, st.Error, ErrInvalidDiscountBound)

	p := s.Pricing()
	assert.Nil(t, p.AppliedCoupon)
	assert.Equal(t, money.MustParse("1000"), p.FinalAmount)
}

func TestSession_UpdateTotal(t *testing.T) {
	b := newMockBackend(save10(), flat50Min1500())

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)
	require.Equal(t, 1, b.fetchCalls)

	require.NoError(t, s.UpdateTotal(context.Background(), money.MustParse("2000")))

	snap := s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Coupon.Status)
	assert.Nil(t, snap.Pricing.AppliedCoupon)
	assert.Equal(t, money.MustParse("2000"), snap.Pricing.FinalAmount)
	assert.Equal(t, []string{"SAVE10", "FLAT50"}, couponCodes(snap.Eligible))
	assert.Equal(t, 2, b.fetchCalls)
	assert.Len(t, b.calls(), 1, "auto-apply runs once per session")

	assert.ErrorIs(t, s.UpdateTotal(context.Background(), -1), ErrInvalidParams)
}

func TestSession_UpdateTotalDropsInflightResult(t *testing.T) {
	b := newMockBackend(save10())
	release := b.hold("SAVE10", true)

	s := openSession(t, b, "1000")
	require.True(t, s.validator.Pending())

	require.NoError(t, s.UpdateTotal(context.Background(), money.MustParse("500")))
	close(release)
	s.validator.Wait()

	p := s.Pricing()
	assert.Nil(t, p.AppliedCoupon, "answer priced for the old total is dropped")
	assert.Equal(t, money.MustParse("500"), p.FinalAmount)
}

func TestSession_PlaceOrder(t *testing.T) {
	b := newMockBackend(save10())
	b.balance = money.MustParse("200")

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)
	require.NoError(t, s.SetWalletApplied(true))

	order, err := s.PlaceOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, money.MustParse("700"), order.Amount)

	require.Len(t, b.orders, 1)
	req := b.orders[0]
	assert.Equal(t, money.MustParse("700"), req.Amount)
	assert.Equal(t, money.MustParse("200"), req.WalletAmount)
	assert.Equal(t, money.MustParse("1000"), req.OriginalAmount)
	assert.Equal(t, "SAVE10", req.CouponCode)
	assert.True(t, req.IsCart)
	assert.Equal(t, []string{"c1", "c2"}, req.Courses)

	snap := s.Snapshot()
	assert.Equal(t, SessionCompleted, snap.Status)
	require.NotNil(t, snap.Order)
	assert.Equal(t, "order-1", snap.Order.ID)

	select {
	case <-s.Done():
	default:
		t.Fatal("session must end after the order is placed")
	}

	_, err = s.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.SelectCoupon("SAVE10"), ErrSessionClosed)
	assert.ErrorIs(t, s.SetWalletApplied(false), ErrSessionClosed)
}

func TestSession_PlaceOrderPending(t *testing.T) {
	b := newMockBackend(save10())
	release := b.hold("SAVE10", false)

	s := openSession(t, b, "1000")

	_, err := s.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, ErrValidationPending)
	assert.Empty(t, b.orders)

	close(release)
	waitStatus(t, s, StatusValid)

	_, err = s.PlaceOrder(context.Background())
	require.NoError(t, err)
}

func TestSession_PlaceOrderWalletChanged(t *testing.T) {
	b := newMockBackend()
	b.balance = money.MustParse("200")

	s := openSession(t, b, "1000")
	require.NoError(t, s.SetWalletApplied(true))
	require.Equal(t, money.MustParse("800"), s.Pricing().FinalAmount)

	b.setBalance(money.MustParse("50"))
	_, err := s.PlaceOrder(context.Background())
	require.ErrorIs(t, err, ErrPricingChanged)
	assert.Empty(t, b.orders)

	p := s.Pricing()
	assert.Equal(t, money.MustParse("50"), p.WalletAmount)
	assert.Equal(t, money.MustParse("950"), p.FinalAmount)

	notes := s.Snapshot().Notifications
	assert.Equal(t, LevelWarning, notes[len(notes)-1].Level)

	order, err := s.PlaceOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("950"), order.Amount)
}

func TestSession_PlaceOrderBalanceChangeWithoutWallet(t *testing.T) {
	b := newMockBackend()
	b.balance = money.MustParse("200")

	s := openSession(t, b, "1000")
	b.setBalance(money.MustParse("50"))

	order, err := s.PlaceOrder(context.Background())
	require.NoError(t, err, "a balance change does not matter when the wallet is off")
	assert.Equal(t, money.MustParse("1000"), order.Amount)
}

func TestSession_PlaceOrderCouponWithdrawn(t *testing.T) {
	b := newMockBackend(save10())

	s := openSession(t, b, "1000")
	waitStatus(t, s, StatusValid)

	b.setCoupons()
	_, err := s.PlaceOrder(context.Background())
	require.ErrorIs(t, err, ErrPricingChanged)

	snap := s.Snapshot()
	assert.Equal(t, StatusInvalid, snap.Coupon.Status)
	assert.Nil(t, snap.Pricing.AppliedCoupon)
	assert.Equal(t, money.MustParse("1000"), snap.Pricing.FinalAmount)

	order, err := s.PlaceOrder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("1000"), order.Amount)
	assert.Empty(t, b.orders[0].CouponCode)
}

func TestSession_PlaceOrderBackendError(t *testing.T) {
	b := newMockBackend()
	b.orderErr = &backend.RejectedError{Op: "create order", Message: "Insufficient wallet balance"}

	s := openSession(t, b, "1000")
	_, err := s.PlaceOrder(context.Background())
	require.ErrorIs(t, err, backend.ErrRejected)

	snap := s.Snapshot()
	assert.Equal(t, SessionOpen, snap.Status)
	notes := snap.Notifications
	require.NotEmpty(t, notes)
	assert.Equal(t, "Insufficient wallet balance", notes[len(notes)-1].Message)
}

func TestSession_Notifier(t *testing.T) {
	b := newMockBackend(save10())
	var (
		mu  sync.Mutex
		got []Notification
	)
	deps := testDeps(b)
	deps.Notifier = NotifierFunc(func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
	})

	s, err := Open(context.Background(), "s1", deps, cartParams("1000"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	waitStatus(t, s, StatusValid)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, LevelSuccess, got[0].Level)
}

func TestSession_Close(t *testing.T) {
	b := newMockBackend()
	s := openSession(t, b, "1000")

	s.Close()
	s.Close()

	assert.Equal(t, SessionClosed, s.Snapshot().Status)
	assert.ErrorIs(t, s.TypeCoupon("SAVE10"), ErrSessionClosed)
	assert.ErrorIs(t, s.UpdateTotal(context.Background(), 10), ErrSessionClosed)
	_, err := s.PlaceOrder(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSamePayable(t *testing.T) {
	total := money.MustParse("1000")
	c := &pricing.AppliedCoupon{Code: "SAVE10", DiscountAmount: money.MustParse("100"), FinalPriceAfterDiscount: money.MustParse("900")}
	other := &pricing.AppliedCoupon{Code: "OTHER10", DiscountAmount: money.MustParse("100"), FinalPriceAfterDiscount: money.MustParse("900")}

	base := pricing.Aggregate(total, c, true, money.MustParse("200"))

	assert.True(t, samePayable(base, base))
	assert.True(t, samePayable(
		pricing.Aggregate(total, c, false, money.MustParse("200")),
		pricing.Aggregate(total, c, false, money.MustParse("50")),
	), "balance alone does not change what is charged")
	assert.False(t, samePayable(base, pricing.Aggregate(total, c, true, money.MustParse("100"))))
	assert.False(t, samePayable(base, pricing.Aggregate(total, nil, true, money.MustParse("200"))))
	assert.False(t, samePayable(base, pricing.Aggregate(total, other, true, money.MustParse("200"))))
}
