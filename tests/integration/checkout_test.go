//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"
)

func createSession(t *testing.T, userID string, total float64) sessionResponse {
	t.Helper()

	resp := do(t, http.MethodPost, checkoutURL+"/api/checkout/sessions", map[string]any{
		"userId":  userID,
		"total":   total,
		"isCart":  false,
		"courses": []string{"course-1"},
	}, nil)
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusCreated)
	s := decodeJSON[sessionResponse](t, resp)
	t.Cleanup(func() {
		resp := do(t, http.MethodDelete, checkoutURL+"/api/checkout/sessions/"+s.ID, nil, nil)
		resp.Body.Close()
	})
	return s
}

// waitSettled polls the session until no coupon validation is pending.
func waitSettled(t *testing.T, id string) sessionResponse {
	t.Helper()

	deadline := time.Now().Add(15 * time.Second)
	for {
		resp := doGet(t, checkoutURL+"/api/checkout/sessions/"+id)
		expectStatus(t, resp, http.StatusOK)
		s := decodeJSON[sessionResponse](t, resp)
		resp.Body.Close()

		if !s.Coupon.Pending && s.Coupon.Status != "validating" {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still validating: %+v", id, s.Coupon)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestCheckout_PlaceOrder(t *testing.T) {
	s := createSession(t, "user-2", 1000)
	s = waitSettled(t, s.ID)

	if s.AutoAppliedCode != "LAUNCH" {
		t.Fatalf("autoAppliedCode: got %q, want LAUNCH", s.AutoAppliedCode)
	}
	if s.Pricing.CouponDiscount != 500 {
		t.Errorf("couponDiscount: got %v, want 500", s.Pricing.CouponDiscount)
	}
	if s.Pricing.WalletBalance != 250.5 {
		t.Errorf("walletBalance: got %v, want 250.5", s.Pricing.WalletBalance)
	}

	resp := do(t, http.MethodPut, checkoutURL+"/api/checkout/sessions/"+s.ID+"/wallet", map[string]any{"applied": true}, nil)
	expectStatus(t, resp, http.StatusOK)
	s = decodeJSON[sessionResponse](t, resp)
	resp.Body.Close()
	if s.Pricing.WalletAmount != 250.5 || s.Pricing.FinalAmount != 249.5 {
		t.Fatalf("pricing: got %+v, want walletAmount 250.5 finalAmount 249.5", s.Pricing)
	}

	resp = do(t, http.MethodPost, checkoutURL+"/api/checkout/sessions/"+s.ID+"/order", nil, nil)
	expectStatus(t, resp, http.StatusCreated)
	order := decodeJSON[orderResponse](t, resp)
	resp.Body.Close()
	if order.OrderID == "" || order.Amount != 249.5 {
		t.Errorf("order: got %+v, want amount 249.5", order)
	}

	resp = do(t, http.MethodGet, storefrontURL+"/wallet", nil, asUser("user-2"))
	expectStatus(t, resp, http.StatusOK)
	wallet := decodeJSON[walletResponse](t, resp)
	resp.Body.Close()
	if wallet.Wallet.Balance != 0 {
		t.Errorf("wallet after order: got %v, want 0", wallet.Wallet.Balance)
	}

	resp = do(t, http.MethodPost, checkoutURL+"/api/checkout/sessions/"+s.ID+"/order", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusCreated {
		t.Error("second order on a completed session must fail")
	}
}

func TestCheckout_TypedCoupon(t *testing.T) {
	s := createSession(t, "user-1", 400)
	waitSettled(t, s.ID)

	resp := do(t, http.MethodPut, checkoutURL+"/api/checkout/sessions/"+s.ID+"/coupon/input", map[string]any{"code": "nope99"}, nil)
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	s = waitSettled(t, s.ID)
	if s.Coupon.Status != "invalid" || s.Coupon.Error == nil {
		t.Fatalf("coupon: got %+v, want invalid with error", s.Coupon)
	}
	if s.Coupon.Error.Message != "Invalid coupon code" {
		t.Errorf("error message: got %q", s.Coupon.Error.Message)
	}

	resp = do(t, http.MethodPost, checkoutURL+"/api/checkout/sessions/"+s.ID+"/coupon", map[string]any{"code": "FLAT50"}, nil)
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	s = waitSettled(t, s.ID)
	if s.Coupon.Status != "valid" || s.Pricing.AppliedCoupon == nil || s.Pricing.AppliedCoupon.Code != "FLAT50" {
		t.Fatalf("coupon: got %+v, pricing %+v", s.Coupon, s.Pricing)
	}
	if s.Pricing.FinalAmount != 350 {
		t.Errorf("finalAmount: got %v, want 350", s.Pricing.FinalAmount)
	}

	resp = do(t, http.MethodDelete, checkoutURL+"/api/checkout/sessions/"+s.ID+"/coupon", nil, nil)
	expectStatus(t, resp, http.StatusOK)
	s = decodeJSON[sessionResponse](t, resp)
	resp.Body.Close()
	if s.Pricing.AppliedCoupon != nil || s.Pricing.FinalAmount != 400 {
		t.Errorf("pricing after clear: got %+v", s.Pricing)
	}
}

func TestCheckout_BadRequest(t *testing.T) {
	resp := do(t, http.MethodPost, checkoutURL+"/api/checkout/sessions", map[string]any{"total": 100}, nil)
	defer resp.Body.Close()

	expectStatus(t, resp, http.StatusBadRequest)
}
