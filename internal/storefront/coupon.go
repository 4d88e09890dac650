package storefront

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
)

// ListCoupons handles GET /users/{userId}/coupon.
func (s *Server) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := s.coupons.Available(r.Context())
	if err != nil {
		internalError(w, r, "List coupons failed", err)
		return
	}
	writeJSON(w, http.StatusOK, backend.CouponList{Success: true, Coupons: coupons})
}

// ValidateCoupon handles POST /users/{userId}/coupon. It prices the code
// without consuming a use.
func (s *Server) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req backend.ValidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.OrderAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "Order amount must not be negative")
		return
	}

	q, err := s.coupons.QuoteCode(r.Context(), req.Code, req.OrderAmount)
	if err != nil {
		if status, msg, ok := couponErrorStatus(err); ok {
			writeError(w, status, msg)
			return
		}
		internalError(w, r, "Validate coupon failed", errors.Wrapf(err, "user %s", chi.URLParam(r, "userId")))
		return
	}
	writeJSON(w, http.StatusOK, backend.ValidateResponseFromQuote(q, "Coupon applied successfully"))
}

// couponErrorStatus maps coupon rule violations to a status and a message
// shown to the shopper.
func couponErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, coupon.ErrInvalidCoupon):
		return http.StatusNotFound, "Invalid coupon code", true
	case errors.Is(err, coupon.ErrCouponExpired):
		return http.StatusBadRequest, "Coupon has expired", true
	case errors.Is(err, coupon.ErrCouponUsageLimitReached):
		return http.StatusBadRequest, "Coupon usage limit reached", true
	case errors.Is(err, coupon.ErrMinOrderNotMet):
		return http.StatusBadRequest, "Minimum order amount not met", true
	default:
		return 0, "", false
	}
}
