package storefront

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/wallet"
)

// GetWallet handles GET /wallet.
func (s *Server) GetWallet(w http.ResponseWriter, r *http.Request) {
	wl, err := s.wallets.Get(r.Context(), userFrom(r.Context()))
	if err != nil {
		internalError(w, r, "Get wallet failed", err)
		return
	}
	writeJSON(w, http.StatusOK, backend.WalletResponse{Success: true, Balance: wl.Balance})
}

// CreateOrder handles POST /payment/order. The order is re-priced from the
// stored coupon and wallet; figures that disagree are rejected with 409.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req backend.OrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := userFrom(r.Context())
	o, err := s.orders.Create(r.Context(), order.CreateRequest{
		UserID:         userID,
		Courses:        req.Courses,
		IsCart:         req.IsCart,
		Amount:         req.Amount,
		WalletAmount:   req.WalletAmount,
		CouponCode:     req.CouponCode,
		OriginalAmount: req.OriginalAmount,
	})
	if err != nil {
		status, msg, ok := orderErrorStatus(err)
		if !ok {
			internalError(w, r, "Create order failed", err)
			return
		}
		zctx.From(r.Context()).Info("Order rejected",
			zap.String("user_id", userID),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusCreated, backend.OrderResponse{
		Success: true,
		Message: "Order created",
		Order: backend.OrderInfo{
			ID:       o.ID,
			Amount:   o.Amount,
			Currency: o.Currency,
			Status:   string(o.Status),
		},
	})
}

func orderErrorStatus(err error) (int, string, bool) {
	if mismatch, ok := errors.Into[*order.AmountMismatchError](err); ok {
		return http.StatusConflict, "Order " + mismatch.Field + " does not match current pricing", true
	}
	switch {
	case errors.Is(err, order.ErrNoCourses),
		errors.Is(err, order.ErrMultipleCourses),
		errors.Is(err, order.ErrNegativeAmount),
		errors.Is(err, order.ErrOriginalRequired):
		return http.StatusBadRequest, capitalize(err.Error()), true
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "Insufficient wallet balance", true
	}
	return couponErrorStatus(err)
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
