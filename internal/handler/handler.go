// Package handler implements the checkout-api HTTP surface over checkout
// sessions.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/course-checkout/internal/checkout"
)

// Compile-time check ensuring Registry satisfies Sessions.
var _ Sessions = (*checkout.Registry)(nil)

// Sessions owns the open checkout sessions.
type Sessions interface {
	Create(ctx context.Context, p checkout.Params) (*checkout.Session, error)
	Get(id string) (*checkout.Session, error)
	Delete(id string) error
}

// Handler serves the checkout session API.
type Handler struct {
	sessions Sessions
}

// NewHandler constructs a Handler over the given session store.
func NewHandler(sessions Sessions) *Handler {
	return &Handler{sessions: sessions}
}

// Register mounts the session routes under /api/checkout.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/checkout/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Put("/total", h.UpdateTotal)
			r.Put("/wallet", h.SetWallet)
			r.Put("/coupon/input", h.TypeCoupon)
			r.Post("/coupon", h.SelectCoupon)
			r.Post("/coupon/retry", h.RetryCoupon)
			r.Delete("/coupon", h.ClearCoupon)
			r.Post("/order", h.PlaceOrder)
		})
	})
}

// Routes returns a router serving only the session API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllowed, "Method not allowed")
	})
	h.Register(r)
	return r
}

// session resolves the {id} path parameter, writing a 404 when unknown.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, codeSessionNotFound, "Checkout session not found")
		return nil, false
	}
	return s, true
}
