// Package checkout runs checkout sessions: coupon catalog, one-shot
// auto-apply of the best coupon, debounced coupon validation, wallet toggle
// and payment-time re-validation.
package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
	"github.com/xenking/course-checkout/internal/pricing"
)

// Backend is the storefront API a session talks to.
type Backend interface {
	CouponSource
	ValidateCoupon(ctx context.Context, userID, code string, orderAmount money.Amount) (*backend.ValidateResponse, error)
	GetWallet(ctx context.Context, userID string) (money.Amount, error)
	CreateOrder(ctx context.Context, userID string, req backend.OrderRequest) (*backend.OrderResponse, error)
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Backend   Backend
	Catalog   *Catalog
	Validator ValidatorConfig
	Metrics   *Metrics
	Tracer    trace.Tracer
	Logger    *zap.Logger
	// Notifier, when set, receives every notification in addition to the
	// session's own log. It is called with the session lock held.
	Notifier         Notifier
	MaxNotifications int
	Now              func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Catalog == nil {
		d.Catalog = NewCatalog(d.Backend, time.Minute, d.Logger)
	}
	if d.Metrics == nil {
		d.Metrics = NopMetrics()
	}
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("checkout")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	def := DefaultValidatorConfig()
	if d.Validator.Debounce <= 0 {
		d.Validator.Debounce = def.Debounce
	}
	if d.Validator.Timeout <= 0 {
		d.Validator.Timeout = def.Timeout
	}
	if d.Validator.MinInputLength <= 0 {
		d.Validator.MinInputLength = def.MinInputLength
	}
	return d
}

// Params describe what is being checked out.
type Params struct {
	UserID  string
	Total   money.Amount
	IsCart  bool
	Courses []string
}

func (p Params) validate() error {
	switch {
	case p.UserID == "":
		return errors.Wrap(ErrInvalidParams, "userId required")
	case p.Total.IsNegative():
		return errors.Wrap(ErrInvalidParams, "total must not be negative")
	case len(p.Courses) == 0:
		return errors.Wrap(ErrInvalidParams, "courses required")
	case !p.IsCart && len(p.Courses) > 1:
		return errors.Wrap(ErrInvalidParams, "single course checkout lists more than one course")
	}
	return nil
}

// AutoApplyState tracks the one-shot auto-apply of the best coupon.
type AutoApplyState string

const (
	AutoApplyPending   AutoApplyState = "pending"
	AutoApplyAttempted AutoApplyState = "attempted"
)

// SessionStatus is the lifecycle of a session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionCompleted SessionStatus = "completed"
	SessionClosed    SessionStatus = "closed"
)

// Snapshot is a consistent view of a session.
type Snapshot struct {
	ID                 string
	UserID             string
	IsCart             bool
	Courses            []string
	Status             SessionStatus
	Pricing            pricing.State
	Coupon             ValidatorState
	Eligible           []coupon.Coupon
	CatalogUnavailable bool
	AutoApply          AutoApplyState
	AutoAppliedCode    string
	Notifications      []Notification
	Order              *backend.OrderInfo
}

// Session is one checkout surface: a cart sheet or a single-course preview.
//
// Lock order is validator then session: validator results are delivered
// with the validator lock held and take the session lock.
type Session struct {
	id        string
	params    Params
	deps      Deps
	validator *Validator
	notes     *notificationLog
	lg        *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	lastSeen atomic.Int64

	mu                 sync.Mutex
	state              pricing.State
	eligible           []coupon.Coupon
	catalogUnavailable bool
	autoApply          AutoApplyState
	autoAppliedCode    string
	status             SessionStatus
	placing            bool
	order              *backend.OrderInfo
}

// Open starts a session: it snapshots the wallet, loads the eligible coupon
// catalog and runs the one-shot auto-apply. Wallet and catalog failures are
// not fatal; they leave a warning notification.
func Open(ctx context.Context, id string, deps Deps, p Params) (*Session, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:        id,
		params:    p,
		deps:      deps,
		notes:     newNotificationLog(deps.MaxNotifications),
		lg:        deps.Logger.With(zap.String("session_id", id), zap.String("user_id", p.UserID)),
		ctx:       sessCtx,
		cancel:    cancel,
		state:     pricing.Aggregate(p.Total, nil, false, 0),
		autoApply: AutoApplyPending,
		status:    SessionOpen,
	}
	s.touch()

	validate := func(ctx context.Context, code string, amount money.Amount) (*backend.ValidateResponse, error) {
		return deps.Backend.ValidateCoupon(ctx, p.UserID, code, amount)
	}
	s.validator = NewValidator(sessCtx, deps.Validator, validate, s.originalTotal, sink{s}, deps.Metrics, s.lg)

	balance, err := deps.Backend.GetWallet(ctx, p.UserID)
	if err != nil {
		s.lg.Warn("Wallet unavailable, continuing without wallet", zap.Error(err))
		balance = 0
	}

	eligible, catErr := deps.Catalog.FetchEligible(ctx, p.UserID, p.Total)
	if catErr != nil {
		s.lg.Warn("Coupon catalog unavailable", zap.Error(catErr))
	}

	s.mu.Lock()
	s.state = s.state.WithWalletBalance(balance)
	if err != nil {
		s.notifyLocked(LevelWarning, "Wallet balance is unavailable right now", "")
	}
	s.eligible = eligible
	if catErr != nil {
		s.catalogUnavailable = true
		s.notifyLocked(LevelWarning, "Coupons are unavailable right now", "")
	}
	s.mu.Unlock()

	deps.Metrics.sessions.Add(ctx, 1)
	if err := s.runAutoApply(); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the acting user.
func (s *Session) UserID() string { return s.params.UserID }

// runAutoApply applies the best eligible coupon at most once per session.
func (s *Session) runAutoApply() error {
	s.mu.Lock()
	if s.autoApply != AutoApplyPending {
		s.mu.Unlock()
		return nil
	}
	s.autoApply = AutoApplyAttempted
	best, ok := coupon.SelectBest(s.eligible, s.state.OriginalTotal)
	if ok {
		s.autoAppliedCode = best.Code
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	s.lg.Debug("Auto-applying best coupon", zap.String("code", best.Code))
	return s.validator.Apply(best.Code, SourceAuto)
}

// Pricing returns the current pricing state.
func (s *Session) Pricing() pricing.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.validator.view(func(vs ValidatorState) {
		s.mu.Lock()
		defer s.mu.Unlock()
		snap = Snapshot{
			ID:                 s.id,
			UserID:             s.params.UserID,
			IsCart:             s.params.IsCart,
			Courses:            append([]string(nil), s.params.Courses...),
			Status:             s.status,
			Pricing:            s.state,
			Coupon:             vs,
			Eligible:           clone(s.eligible),
			CatalogUnavailable: s.catalogUnavailable,
			AutoApply:          s.autoApply,
			AutoAppliedCode:    s.autoAppliedCode,
			Notifications:      s.notes.List(),
		}
		if s.order != nil {
			o := *s.order
			snap.Order = &o
		}
	})
	return snap
}

// TypeCoupon records typed coupon text; validation is debounced.
func (s *Session) TypeCoupon(text string) error {
	s.touch()
	return s.validator.Input(text)
}

// SelectCoupon validates code immediately.
func (s *Session) SelectCoupon(code string) error {
	s.touch()
	return s.validator.Apply(code, SourceSelect)
}

// RetryCoupon re-validates a code that failed.
func (s *Session) RetryCoupon() error {
	s.touch()
	return s.validator.Retry()
}

// ClearCoupon synchronously removes the coupon.
func (s *Session) ClearCoupon() error {
	s.touch()
	return s.validator.Clear()
}

// SetWalletApplied toggles the wallet deduction synchronously.
func (s *Session) SetWalletApplied(applied bool) error {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != SessionOpen {
		return ErrSessionClosed
	}
	s.state = s.state.WithWallet(applied)
	return nil
}

// UpdateTotal reprices the session for a changed cart. The applied coupon is
// removed since it was priced against the old total, and the catalog is
// refetched for the new one. Auto-apply is not run again.
func (s *Session) UpdateTotal(ctx context.Context, total money.Amount) error {
	if total.IsNegative() {
		return errors.Wrap(ErrInvalidParams, "total must not be negative")
	}
	s.touch()

	s.mu.Lock()
	open := s.status == SessionOpen
	s.mu.Unlock()
	if !open {
		return ErrSessionClosed
	}

	err := s.validator.Reset(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.state = pricing.Aggregate(total, nil, s.state.WalletApplied, s.state.WalletBalance)
		s.eligible = nil
		s.catalogUnavailable = false
	})
	if err != nil {
		return err
	}

	eligible, catErr := s.deps.Catalog.FetchEligible(ctx, s.params.UserID, total)
	if catErr != nil {
		s.lg.Warn("Coupon catalog unavailable", zap.Error(catErr))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.OriginalTotal != total {
		return nil
	}
	s.eligible = eligible
	if catErr != nil {
		s.catalogUnavailable = true
		s.notifyLocked(LevelWarning, "Coupons are unavailable right now", "")
	}
	return nil
}

// PlaceOrder re-validates the applied coupon and refreshes the wallet
// balance, then creates the payment order.
//
// It fails with ErrValidationPending while a coupon validation is
// outstanding and with ErrPricingChanged when re-validation changed the
// payable amount; the session already shows the new pricing in that case.
func (s *Session) PlaceOrder(ctx context.Context) (*backend.OrderInfo, error) {
	ctx, span := s.deps.Tracer.Start(ctx, "checkout.PlaceOrder",
		trace.WithAttributes(attribute.String("checkout.session_id", s.id)),
	)
	defer span.End()
	s.touch()

	s.mu.Lock()
	switch {
	case s.status != SessionOpen:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	case s.placing:
		s.mu.Unlock()
		return nil, ErrOrderInProgress
	}
	s.placing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.placing = false
		s.mu.Unlock()
	}()

	if s.validator.Pending() {
		return nil, ErrValidationPending
	}

	before := s.Pricing()
	if err := s.revalidate(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "revalidate")
		return nil, err
	}
	if s.validator.Pending() {
		return nil, ErrValidationPending
	}

	after := s.Pricing()
	if !samePayable(before, after) {
		s.lg.Info("Pricing changed at payment time",
			zap.Stringer("before", before.FinalAmount),
			zap.Stringer("after", after.FinalAmount),
		)
		s.notify(LevelWarning, "Your order total changed, please review it before paying", "")
		return nil, ErrPricingChanged
	}

	req := backend.OrderRequest{
		Amount:         after.FinalAmount,
		IsCart:         s.params.IsCart,
		Courses:        s.params.Courses,
		WalletAmount:   after.WalletAmount,
		OriginalAmount: after.OriginalTotal,
	}
	if after.AppliedCoupon != nil {
		req.CouponCode = after.AppliedCoupon.Code
	}
	span.SetAttributes(
		attribute.String("checkout.amount", after.FinalAmount.String()),
		attribute.String("checkout.coupon", req.CouponCode),
	)

	resp, err := s.deps.Backend.CreateOrder(ctx, s.params.UserID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		s.notify(LevelError, backend.Message(err, "Unable to create the order, please try again"), "")
		return nil, errors.Wrap(err, "create order")
	}

	order := resp.Order
	s.mu.Lock()
	s.status = SessionCompleted
	s.order = &order
	s.mu.Unlock()

	s.shutdown()
	s.deps.Catalog.Invalidate(s.params.UserID)
	s.deps.Metrics.orders.Add(ctx, 1)
	s.lg.Info("Order placed", zap.String("order_id", order.ID), zap.Stringer("amount", order.Amount))
	return &order, nil
}

// revalidate re-prices the applied coupon and refreshes the wallet balance.
func (s *Session) revalidate(ctx context.Context) error {
	ctx, span := s.deps.Tracer.Start(ctx, "checkout.Revalidate")
	defer span.End()

	if err := s.validator.Revalidate(ctx); err != nil {
		return err
	}

	balance, err := s.deps.Backend.GetWallet(ctx, s.params.UserID)
	if err != nil {
		if s.Pricing().WalletApplied {
			return errors.Wrap(err, "refresh wallet")
		}
		s.lg.Warn("Wallet refresh failed", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.state = s.state.WithWalletBalance(balance)
	s.mu.Unlock()
	return nil
}

// Close ends the session. Pending timers and requests are canceled.
func (s *Session) Close() {
	s.mu.Lock()
	if s.status == SessionOpen {
		s.status = SessionClosed
	}
	s.mu.Unlock()
	s.shutdown()
}

func (s *Session) shutdown() {
	s.validator.Close()
	s.closeOnce.Do(func() {
		s.cancel()
		s.deps.Metrics.sessions.Add(context.Background(), -1)
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) touch() {
	s.lastSeen.Store(s.deps.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) originalTotal() money.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.OriginalTotal
}

func (s *Session) notify(level Level, msg, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked(level, msg, code)
}

func (s *Session) notifyLocked(level Level, msg, code string) {
	n := Notification{Level: level, Message: msg, Code: code, At: s.deps.Now()}
	s.notes.Notify(n)
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(n)
	}
}

// samePayable reports whether two states charge the user the same way.
func samePayable(a, b pricing.State) bool {
	if a.FinalAmount != b.FinalAmount || a.WalletAmount != b.WalletAmount {
		return false
	}
	if (a.AppliedCoupon == nil) != (b.AppliedCoupon == nil) {
		return false
	}
	return a.AppliedCoupon == nil || a.AppliedCoupon.Code == b.AppliedCoupon.Code
}

// sink feeds validator results into the session's pricing state.
type sink struct {
	s *Session
}

func (k sink) ApplyResult(r Result) {
	s := k.s
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Status {
	case StatusValid:
		s.state = s.state.WithCoupon(r.Coupon)
		if r.Source == SourceRevalidate {
			return
		}
		msg := r.Message
		if msg == "" {
			msg = "Coupon " + r.Coupon.Code + " applied"
		}
		s.notifyLocked(LevelSuccess, msg, r.Coupon.Code)
	case StatusInvalid:
		s.state = s.state.WithCoupon(nil)
		s.notifyLocked(LevelError, r.Message, r.Code)
	}
}

func (k sink) ClearCoupon() {
	s := k.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.WithCoupon(nil)
}
