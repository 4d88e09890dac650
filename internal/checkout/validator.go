package checkout

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
	"github.com/xenking/course-checkout/internal/pricing"
)

// Status is the state of the coupon validator.
type Status int

const (
	StatusIdle Status = iota
	StatusValidating
	StatusValid
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusValidating:
		return "validating"
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Source records what triggered a validation.
type Source int

const (
	SourceAuto Source = iota + 1
	SourceSelect
	SourceTyped
	SourceRetry
	SourceRevalidate
)

func (s Source) String() string {
	switch s {
	case SourceAuto:
		return "auto"
	case SourceSelect:
		return "select"
	case SourceTyped:
		return "typed"
	case SourceRetry:
		return "retry"
	case SourceRevalidate:
		return "revalidate"
	default:
		return "unknown"
	}
}

// ValidateFunc prices code against orderAmount on the storefront.
type ValidateFunc func(ctx context.Context, code string, orderAmount money.Amount) (*backend.ValidateResponse, error)

// Result is an accepted validation outcome.
type Result struct {
	Token       uint64
	Code        string
	Source      Source
	OrderAmount money.Amount
	Status      Status
	Coupon      *pricing.AppliedCoupon
	Message     string
	Err         *ValidationError
}

// Sink receives accepted results. Methods are called with the validator
// lock held, in the order the transitions happened.
type Sink interface {
	ApplyResult(r Result)
	ClearCoupon()
}

// ValidatorConfig tunes the validator.
type ValidatorConfig struct {
	// Debounce is the quiet period after the last keystroke.
	Debounce time.Duration
	// Timeout bounds a single validation request.
	Timeout time.Duration
	// MinInputLength is the typed length below which no request is issued.
	MinInputLength int
}

// DefaultValidatorConfig returns the defaults used by checkout-api.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Debounce:       500 * time.Millisecond,
		Timeout:        10 * time.Second,
		MinInputLength: 4,
	}
}

// ValidatorState is a point-in-time view of the validator.
type ValidatorState struct {
	Status  Status
	Code    string
	Input   string
	Pending bool
	Error   *ValidationError
}

type request struct {
	token  uint64
	code   string
	source Source
	cancel context.CancelFunc
}

// Validator is the coupon validation state machine of one checkout session.
//
// Every issued request gets a monotonically increasing token and its own
// cancelable context. Only a response carrying the latest token may change
// state; anything else is dropped. At most one request per code is in
// flight.
type Validator struct {
	cfg      ValidatorConfig
	validate ValidateFunc
	amount   func() money.Amount
	sink     Sink
	metrics  *Metrics
	lg       *zap.Logger

	wg sync.WaitGroup

	mu        sync.Mutex
	parent    context.Context
	status    Status
	code      string
	lastErr   *ValidationError
	latest    uint64
	nextToken uint64
	inflight  map[string]*request
	input     string
	inputSeq  uint64
	timer     *time.Timer
	closed    bool
}

// NewValidator creates a Validator. amount returns the order amount to
// validate against; it is called with the validator lock held.
func NewValidator(
	ctx context.Context,
	cfg ValidatorConfig,
	validate ValidateFunc,
	amount func() money.Amount,
	sink Sink,
	metrics *Metrics,
	lg *zap.Logger,
) *Validator {
	if metrics == nil {
		metrics = NopMetrics()
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	if cfg.MinInputLength <= 0 {
		cfg.MinInputLength = DefaultValidatorConfig().MinInputLength
	}
	return &Validator{
		cfg:      cfg,
		validate: validate,
		amount:   amount,
		sink:     sink,
		metrics:  metrics,
		lg:       lg,
		parent:   ctx,
		inflight: make(map[string]*request),
	}
}

// Apply validates code immediately. Auto-apply and explicit selection use it.
// An empty code clears the coupon.
func (v *Validator) Apply(code string, source Source) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrSessionClosed
	}

	code = coupon.NormalizeCode(code)
	v.stopTimerLocked()
	v.input = code
	if code == "" {
		v.clearLocked()
		return nil
	}
	if v.status == StatusValid && v.code == code {
		return nil
	}
	v.issueLocked(code, source)
	return nil
}

// Input records typed text. Validation starts once the input has been
// stable for the debounce period. Empty input clears synchronously.
func (v *Validator) Input(text string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrSessionClosed
	}

	code := coupon.NormalizeCode(text)
	v.stopTimerLocked()
	v.input = code
	if code == "" {
		v.clearLocked()
		return nil
	}

	seq := v.inputSeq
	v.timer = time.AfterFunc(v.cfg.Debounce, func() { v.fire(seq) })
	return nil
}

// fire runs when the debounce timer for input sequence seq expires.
func (v *Validator) fire(seq uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq != v.inputSeq {
		return
	}
	v.timer = nil

	code := v.input
	switch {
	case len(code) < v.cfg.MinInputLength:
		v.clearLocked()
	case v.status == StatusValid && v.code == code:
	case !coupon.ValidCode(code):
		v.rejectLocked(code, SourceTyped, "Invalid coupon code")
	default:
		v.issueLocked(code, SourceTyped)
	}
}

// Retry re-validates the current code after a failure. It is a no-op unless
// the validator is invalid with a well-formed code.
func (v *Validator) Retry() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrSessionClosed
	}
	if v.status != StatusInvalid || !coupon.ValidCode(v.code) {
		return nil
	}
	v.stopTimerLocked()
	v.issueLocked(v.code, SourceRetry)
	return nil
}

// Clear returns to idle, removes the applied coupon and drops every pending
// or in-flight validation.
func (v *Validator) Clear() error {
	return v.Reset(nil)
}

// Reset clears like Clear and then runs update while the validator lock is
// still held, so no validation result can land between the two.
func (v *Validator) Reset(update func()) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrSessionClosed
	}
	v.stopTimerLocked()
	v.input = ""
	v.clearLocked()
	if update != nil {
		update()
	}
	return nil
}

// Revalidate synchronously re-prices the applied coupon against the current
// order amount. The answer goes through the same token check as any other
// result. It is a no-op unless a coupon is applied.
func (v *Validator) Revalidate(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrSessionClosed
	}
	if v.status != StatusValid || v.code == "" {
		v.mu.Unlock()
		return nil
	}
	req, reqCtx, amount := v.startLocked(v.code, SourceRevalidate)
	v.mu.Unlock()

	ctx, cancel := mergeCancel(ctx, reqCtx)
	defer cancel()

	resp, err := v.validate(ctx, req.code, amount)
	v.deliver(req, amount, resp, err)
	return nil
}

// Pending reports whether a debounce timer or a validation is outstanding.
func (v *Validator) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.timer != nil || v.status == StatusValidating
}

// State returns a snapshot of the validator.
func (v *Validator) State() ValidatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

// view runs fn with the validator state while holding the validator lock.
func (v *Validator) view(fn func(ValidatorState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.stateLocked())
}

func (v *Validator) stateLocked() ValidatorState {
	return ValidatorState{
		Status:  v.status,
		Code:    v.code,
		Input:   v.input,
		Pending: v.timer != nil || v.status == StatusValidating,
		Error:   v.lastErr,
	}
}

// Close stops timers and cancels in-flight requests. Later calls fail with
// ErrSessionClosed.
func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.stopTimerLocked()
	v.cancelInflightLocked()
	v.latest = 0
}

// Wait blocks until every validation goroutine has returned.
func (v *Validator) Wait() {
	v.wg.Wait()
}

func (v *Validator) stopTimerLocked() {
	v.inputSeq++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *Validator) cancelInflightLocked() {
	for code, req := range v.inflight {
		req.cancel()
		delete(v.inflight, code)
	}
}

func (v *Validator) clearLocked() {
	v.cancelInflightLocked()
	v.latest = 0
	v.status = StatusIdle
	v.code = ""
	v.lastErr = nil
	v.sink.ClearCoupon()
}

// rejectLocked fails code without a network call.
func (v *Validator) rejectLocked(code string, source Source, msg string) {
	v.cancelInflightLocked()
	v.nextToken++
	v.latest = v.nextToken

	verr := &ValidationError{Kind: KindValidationFailed, Code: code, Message: msg}
	v.status = StatusInvalid
	v.code = code
	v.lastErr = verr
	v.sink.ApplyResult(Result{
		Token:       v.latest,
		Code:        code,
		Source:      source,
		OrderAmount: v.amount(),
		Status:      StatusInvalid,
		Message:     msg,
		Err:         verr,
	})
}

// issueLocked makes code the latest validation and starts it in the
// background unless a request for code is already in flight.
func (v *Validator) issueLocked(code string, source Source) {
	if req, ok := v.inflight[code]; ok {
		for other, r := range v.inflight {
			if other != code {
				r.cancel()
				delete(v.inflight, other)
			}
		}
		v.latest = req.token
		v.status = StatusValidating
		v.code = code
		v.lastErr = nil
		return
	}

	req, ctx, amount := v.startLocked(code, source)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		resp, err := v.validate(ctx, code, amount)
		v.deliver(req, amount, resp, err)
	}()
}

// startLocked supersedes every in-flight request and registers a new one.
func (v *Validator) startLocked(code string, source Source) (*request, context.Context, money.Amount) {
	v.cancelInflightLocked()

	v.nextToken++
	ctx, cancel := context.WithTimeout(v.parent, v.cfg.Timeout)
	req := &request{token: v.nextToken, code: code, source: source, cancel: cancel}
	v.inflight[code] = req
	v.latest = req.token
	v.status = StatusValidating
	v.code = code
	v.lastErr = nil

	v.metrics.issued.Add(v.parent, 1, metric.WithAttributes(attribute.String("source", source.String())))
	v.lg.Debug("Coupon validation issued",
		zap.String("code", code),
		zap.Uint64("token", req.token),
		zap.Stringer("source", source),
	)
	return req, ctx, v.amount()
}

// deliver applies a response if it still belongs to the latest request.
func (v *Validator) deliver(req *request, amount money.Amount, resp *backend.ValidateResponse, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	req.cancel()
	if cur, ok := v.inflight[req.code]; ok && cur == req {
		delete(v.inflight, req.code)
	}
	if v.closed || req.token != v.latest {
		v.metrics.stale.Add(v.parent, 1)
		v.lg.Debug("Coupon validation dropped",
			zap.String("code", req.code),
			zap.Uint64("token", req.token),
			zap.Uint64("latest", v.latest),
		)
		return
	}

	r := evaluate(req.code, amount, resp, err)
	r.Token = req.token
	r.Source = req.source

	v.status = r.Status
	v.code = req.code
	v.lastErr = r.Err
	if r.Err != nil {
		v.metrics.failed.Add(v.parent, 1, metric.WithAttributes(attribute.String("kind", r.Err.Kind.String())))
		v.lg.Debug("Coupon validation failed", zap.String("code", req.code), zap.Error(r.Err))
	}
	v.sink.ApplyResult(r)
}

// evaluate turns a storefront answer into a result. A final price above the
// order amount or below zero is rejected whatever the success flag says.
func evaluate(code string, amount money.Amount, resp *backend.ValidateResponse, err error) Result {
	r := Result{Code: code, OrderAmount: amount}
	fail := func(kind ErrorKind, msg string, cause error) Result {
		r.Status = StatusInvalid
		r.Message = msg
		r.Err = &ValidationError{Kind: kind, Code: code, Message: msg, Err: cause}
		return r
	}

	switch {
	case err != nil:
		return fail(KindValidationFailed, backend.Message(err, "Unable to validate coupon, please retry"), err)
	case resp == nil:
		return fail(KindValidationFailed, "Unable to validate coupon, please retry", nil)
	case resp.FinalPrice > amount || resp.FinalPrice.IsNegative():
		return fail(KindInvalidDiscountBound, invalidDiscountMessage, nil)
	case !resp.Success:
		msg := resp.Message
		if msg == "" {
			msg = "Invalid coupon code"
		}
		return fail(KindValidationFailed, msg, nil)
	}

	appliedCode := coupon.NormalizeCode(resp.Code)
	if appliedCode == "" {
		appliedCode = code
	}
	r.Status = StatusValid
	r.Message = resp.Message
	r.Coupon = &pricing.AppliedCoupon{
		Code:                    appliedCode,
		DiscountType:            resp.DiscountType,
		DiscountValue:           resp.DiscountValue,
		DiscountAmount:          amount - resp.FinalPrice,
		DiscountPercentage:      resp.DiscountPercentage,
		FinalPriceAfterDiscount: resp.FinalPrice,
	}
	return r
}

// mergeCancel returns a context carrying ctx's values that is canceled when
// either ctx or other is done.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
