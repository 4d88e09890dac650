package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/checkout"
)

// CreateSession handles POST /api/checkout/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}

	s, err := h.sessions.Create(r.Context(), checkout.Params{
		UserID:  req.UserID,
		Total:   req.Total,
		IsCart:  req.IsCart,
		Courses: req.Courses,
	})
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusCreated, s)
}

// GetSession handles GET /api/checkout/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeSnapshot(w, http.StatusOK, s)
}

// DeleteSession handles DELETE /api/checkout/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Delete(s.ID()); err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateTotal handles PUT /api/checkout/sessions/{id}/total.
func (h *Handler) UpdateTotal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req totalRequest
	if err := decodeBody(r, &req); err != nil || !req.set {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if err := s.UpdateTotal(r.Context(), req.Total); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, s)
}

// SetWallet handles PUT /api/checkout/sessions/{id}/wallet.
func (h *Handler) SetWallet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req walletRequest
	if err := decodeBody(r, &req); err != nil || !req.set {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if err := s.SetWalletApplied(req.Applied); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, s)
}

// TypeCoupon handles PUT /api/checkout/sessions/{id}/coupon/input. The
// typed text is validated after the debounce period.
func (h *Handler) TypeCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}
	if err := s.TypeCoupon(req.Code); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusAccepted, s)
}

// SelectCoupon handles POST /api/checkout/sessions/{id}/coupon.
func (h *Handler) SelectCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Coupon code required")
		return
	}
	if err := s.SelectCoupon(req.Code); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusAccepted, s)
}

// RetryCoupon handles POST /api/checkout/sessions/{id}/coupon/retry.
func (h *Handler) RetryCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RetryCoupon(); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusAccepted, s)
}

// ClearCoupon handles DELETE /api/checkout/sessions/{id}/coupon.
func (h *Handler) ClearCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.ClearCoupon(); err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeSnapshot(w, http.StatusOK, s)
}

// writeSessionError maps session errors to statuses. Unknown errors are
// logged and reported as 500.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, codeSessionNotFound, "Checkout session not found")
	case errors.Is(err, checkout.ErrSessionClosed):
		writeError(w, http.StatusGone, codeSessionClosed, "Checkout session is closed")
	case errors.Is(err, checkout.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, codeInvalidParams, err.Error())
	case errors.Is(err, checkout.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, codeTooManySessions, "Too many open checkout sessions")
	default:
		zctx.From(r.Context()).Error("Checkout request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "Internal server error")
	}
}
