package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/checkout"
)

// PlaceOrder handles POST /api/checkout/sessions/{id}/order. The session
// re-validates its coupon and wallet first; when that is still running or
// changed the payable amount, the current snapshot is returned with 409 for
// the shopper to review.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	o, err := s.PlaceOrder(r.Context())
	if err != nil {
		mapOrderError(w, r, s, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderBody{order: *o})
}

// mapOrderError converts order placement errors to responses.
func mapOrderError(w http.ResponseWriter, r *http.Request, s *checkout.Session, err error) {
	conflict := func(code, msg string) {
		writeJSON(w, http.StatusConflict, snapshotBody{
			snap: s.Snapshot(),
			err:  &apiError{Code: code, Message: msg},
		})
	}

	switch {
	case errors.Is(err, checkout.ErrValidationPending):
		conflict(codeValidationPending, "Coupon validation is still in progress")
	case errors.Is(err, checkout.ErrPricingChanged):
		conflict(codePricingChanged, "Your order total changed, please review it before paying")
	case errors.Is(err, checkout.ErrOrderInProgress):
		writeError(w, http.StatusConflict, codeOrderInProgress, "Order placement already in progress")
	case errors.Is(err, checkout.ErrSessionClosed):
		writeError(w, http.StatusGone, codeSessionClosed, "Checkout session is closed")
	default:
		zctx.From(r.Context()).Warn("Order placement failed",
			zap.String("session_id", s.ID()),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, codeOrderFailed,
			backend.Message(err, "Unable to create the order, please try again"))
	}
}
