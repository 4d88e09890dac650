// Package storefront is the reference implementation of the storefront REST
// API consumed by checkout sessions: coupon catalog and validation, wallet
// balance and payment order creation.
package storefront

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/wallet"
)

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

// CouponService prices codes and lists the currently offered coupons.
type CouponService interface {
	coupon.Quoter
	Available(ctx context.Context) ([]coupon.Coupon, error)
}

// WalletService returns wallet balances.
type WalletService interface {
	Get(ctx context.Context, userID string) (*wallet.Wallet, error)
}

// OrderService re-prices and persists orders.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
}

// Server serves the storefront API.
type Server struct {
	coupons CouponService
	wallets WalletService
	orders  OrderService
}

// NewServer creates a Server.
func NewServer(coupons CouponService, wallets WalletService, orders OrderService) *Server {
	return &Server{coupons: coupons, wallets: wallets, orders: orders}
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Route("/users/{userId}/coupon", func(r chi.Router) {
		r.Get("/", s.ListCoupons)
		r.Post("/", s.ValidateCoupon)
	})
	r.With(requireUser).Get("/wallet", s.GetWallet)
	r.With(requireUser).Post("/payment/order", s.CreateOrder)
}

// Handler returns a router serving only the API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	s.Register(r)
	return r
}

type userKey struct{}

// requireUser reads the acting user from the X-User-ID header. Sessions are
// established upstream.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(backend.UserHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "User not identified")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}

// decodeBody reads a size-limited JSON body into dst.
func decodeBody(r *http.Request, dst interface{ Decode(*jx.Decoder) error }) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(body) > maxBodySize {
		return errors.New("body too large")
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return dst.Decode(jx.DecodeBytes(body))
}

func writeJSON(w http.ResponseWriter, status int, v backend.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(backend.Marshal(v))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, backend.ErrorResponse{Message: msg})
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	zctx.From(r.Context()).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
