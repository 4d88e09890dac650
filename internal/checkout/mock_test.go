package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

// gate holds validation answers for a code until released.
type gate struct {
	release      chan struct{}
	ignoreCancel bool
}

type mockBackend struct {
	mu sync.Mutex

	coupons    []coupon.Coupon
	couponsErr error
	fetchCalls int

	balance     money.Amount
	walletErr   error
	walletCalls int

	validateFn    func(code string, amount money.Amount) (*backend.ValidateResponse, error)
	validateCalls []string
	gates         map[string]*gate

	orders   []backend.OrderRequest
	orderErr error
}

func newMockBackend(coupons ...coupon.Coupon) *mockBackend {
	return &mockBackend{coupons: coupons, gates: make(map[string]*gate)}
}

func (m *mockBackend) FetchCoupons(_ context.Context, _ string) ([]coupon.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.couponsErr != nil {
		return nil, m.couponsErr
	}
	return clone(m.coupons), nil
}

func (m *mockBackend) ValidateCoupon(ctx context.Context, _ string, code string, amount money.Amount) (*backend.ValidateResponse, error) {
	m.mu.Lock()
	m.validateCalls = append(m.validateCalls, code)
	g := m.gates[code]
	fn := m.validateFn
	m.mu.Unlock()

	if g != nil {
		if g.ignoreCancel {
			<-g.release
		} else {
			select {
			case <-g.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if fn != nil {
		return fn(code, amount)
	}
	return m.quote(code, amount), nil
}

// quote prices code like the storefront does.
func (m *mockBackend) quote(code string, amount money.Amount) *backend.ValidateResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.coupons {
		c := &m.coupons[i]
		if c.Code != code {
			continue
		}
		if !c.Eligible(amount) {
			return &backend.ValidateResponse{Message: "Minimum order amount not met"}
		}
		q := c.Quote(amount)
		resp := backend.ValidateResponseFromQuote(&q, "Coupon applied")
		return &resp
	}
	return &backend.ValidateResponse{Message: "Invalid coupon code"}
}

func (m *mockBackend) GetWallet(_ context.Context, _ string) (money.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walletCalls++
	return m.balance, m.walletErr
}

func (m *mockBackend) CreateOrder(_ context.Context, _ string, req backend.OrderRequest) (*backend.OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	m.orders = append(m.orders, req)
	return &backend.OrderResponse{
		Success: true,
		Order:   backend.OrderInfo{ID: "order-1", Amount: req.Amount, Currency: "INR", Status: "created"},
	}, nil
}

func (m *mockBackend) hold(code string, ignoreCancel bool) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.gates[code] = &gate{release: ch, ignoreCancel: ignoreCancel}
	return ch
}

func (m *mockBackend) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.validateCalls...)
}

func (m *mockBackend) setBalance(b money.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance = b
}

func (m *mockBackend) setCoupons(cs ...coupon.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons = cs
}

// --- Helpers ---

func save10() coupon.Coupon {
	return coupon.Coupon{Code: "SAVE10", DiscountType: coupon.DiscountPercentage, Value: decimal.NewFromInt(10)}
}

func flat50Min1500() coupon.Coupon {
	return coupon.Coupon{
		Code:           "FLAT50",
		DiscountType:   coupon.DiscountFlat,
		Value:          decimal.NewFromInt(50),
		MinOrderAmount: money.MustParse("1500"),
	}
}

func flat20() coupon.Coupon {
	return coupon.Coupon{Code: "FLAT20", DiscountType: coupon.DiscountFlat, Value: decimal.NewFromInt(20)}
}

func testDeps(b *mockBackend) Deps {
	return Deps{
		Backend: b,
		Catalog: NewCatalog(b, time.Minute, nil),
		Validator: ValidatorConfig{
			Debounce:       20 * time.Millisecond,
			Timeout:        time.Second,
			MinInputLength: 4,
		},
	}
}

func cartParams(total string) Params {
	return Params{UserID: "u1", Total: money.MustParse(total), IsCart: true, Courses: []string{"c1", "c2"}}
}

func openSession(t *testing.T, b *mockBackend, total string) *Session {
	t.Helper()
	s, err := Open(context.Background(), "s1", testDeps(b), cartParams(total))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		s.validator.Wait()
	})
	return s
}

func waitStatus(t *testing.T, s *Session, want Status) ValidatorState {
	t.Helper()
	require.Eventually(t, func() bool {
		st := s.validator.State()
		return st.Status == want && !st.Pending
	}, 2*time.Second, 5*time.Millisecond, "validator never reached %s", want)
	return s.validator.State()
}
