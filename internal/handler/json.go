package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/checkout"
	"github.com/xenking/course-checkout/internal/money"
	"github.com/xenking/course-checkout/internal/pricing"
)

const maxBodySize = 64 << 10

// Error codes returned in {code, message} bodies.
const (
	codeBadRequest        = "bad_request"
	codeInvalidParams     = "invalid_params"
	codeNotFound          = "not_found"
	codeMethodNotAllowed  = "method_not_allowed"
	codeSessionNotFound   = "session_not_found"
	codeSessionClosed     = "session_closed"
	codeTooManySessions   = "too_many_sessions"
	codeValidationPending = "validation_pending"
	codePricingChanged    = "pricing_changed"
	codeOrderInProgress   = "order_in_progress"
	codeOrderFailed       = "order_failed"
	codeInternal          = "internal"
)

type createSessionRequest struct {
	UserID  string
	Total   money.Amount
	IsCart  bool
	Courses []string
}

func (r *createSessionRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "userId":
			r.UserID, err = d.Str()
		case "total":
			r.Total, err = backend.DecodeAmount(d)
		case "isCart":
			r.IsCart, err = d.Bool()
		case "courses":
			err = d.Arr(func(d *jx.Decoder) error {
				c, err := d.Str()
				r.Courses = append(r.Courses, c)
				return err
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

type totalRequest struct {
	Total money.Amount
	set   bool
}

func (r *totalRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "total" {
			return d.Skip()
		}
		v, err := backend.DecodeAmount(d)
		r.Total, r.set = v, true
		if err != nil {
			return errors.Wrap(err, "decode total")
		}
		return nil
	})
}

type codeRequest struct {
	Code string
}

func (r *codeRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		r.Code = v
		if err != nil {
			return errors.Wrap(err, "decode code")
		}
		return nil
	})
}

type walletRequest struct {
	Applied bool
	set     bool
}

func (r *walletRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		if key != "applied" {
			return d.Skip()
		}
		v, err := d.Bool()
		r.Applied, r.set = v, true
		if err != nil {
			return errors.Wrap(err, "decode applied")
		}
		return nil
	})
}

// decodeBody reads a size-limited JSON object into dst.
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

// apiError is the {code, message} error body.
type apiError struct {
	Code    string
	Message string
}

func (a apiError) Encode(e *jx.Encoder) {
	e.ObjStart()
	a.fields(e)
	e.ObjEnd()
}

func (a apiError) fields(e *jx.Encoder) {
	e.FieldStart("code")
	e.Str(a.Code)
	e.FieldStart("message")
	e.Str(a.Message)
}

// snapshotBody is a session snapshot, optionally carrying the error that
// caused it to be returned.
type snapshotBody struct {
	snap checkout.Snapshot
	err  *apiError
}

func (b snapshotBody) Encode(e *jx.Encoder) {
	s := b.snap
	e.ObjStart()
	if b.err != nil {
		b.err.fields(e)
	}
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("userId")
	e.Str(s.UserID)
	e.FieldStart("isCart")
	e.Bool(s.IsCart)
	e.FieldStart("courses")
	e.ArrStart()
	for _, c := range s.Courses {
		e.Str(c)
	}
	e.ArrEnd()
	e.FieldStart("status")
	e.Str(string(s.Status))

	e.FieldStart("pricing")
	encodePricing(e, s.Pricing)

	e.FieldStart("coupon")
	encodeValidator(e, s.Coupon)

	e.FieldStart("eligibleCoupons")
	e.ArrStart()
	for i := range s.Eligible {
		backend.EncodeCoupon(e, &s.Eligible[i])
	}
	e.ArrEnd()
	e.FieldStart("catalogUnavailable")
	e.Bool(s.CatalogUnavailable)
	e.FieldStart("autoApply")
	e.Str(string(s.AutoApply))
	if s.AutoAppliedCode != "" {
		e.FieldStart("autoAppliedCode")
		e.Str(s.AutoAppliedCode)
	}

	e.FieldStart("notifications")
	e.ArrStart()
	for _, n := range s.Notifications {
		e.ObjStart()
		e.FieldStart("level")
		e.Str(string(n.Level))
		e.FieldStart("message")
		e.Str(n.Message)
		if n.Code != "" {
			e.FieldStart("code")
			e.Str(n.Code)
		}
		e.FieldStart("at")
		e.Str(n.At.UTC().Format(time.RFC3339Nano))
		e.ObjEnd()
	}
	e.ArrEnd()

	if s.Order != nil {
		e.FieldStart("order")
		orderBody{order: *s.Order}.Encode(e)
	}
	e.ObjEnd()
}

func encodePricing(e *jx.Encoder, p pricing.State) {
	e.ObjStart()
	e.FieldStart("originalTotal")
	backend.EncodeAmount(e, p.OriginalTotal)
	e.FieldStart("appliedCoupon")
	if c := p.AppliedCoupon; c != nil {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(c.Code)
		e.FieldStart("discountType")
		e.Str(string(c.DiscountType))
		e.FieldStart("discountValue")
		e.Raw([]byte(c.DiscountValue.String()))
		e.FieldStart("discountAmount")
		backend.EncodeAmount(e, c.DiscountAmount)
		e.FieldStart("discountPercentage")
		e.Raw([]byte(c.DiscountPercentage.String()))
		e.FieldStart("finalPriceAfterDiscount")
		backend.EncodeAmount(e, c.FinalPriceAfterDiscount)
		e.ObjEnd()
	} else {
		e.Null()
	}
	e.FieldStart("couponDiscount")
	backend.EncodeAmount(e, p.CouponDiscount())
	e.FieldStart("walletApplied")
	e.Bool(p.WalletApplied)
	e.FieldStart("walletBalance")
	backend.EncodeAmount(e, p.WalletBalance)
	e.FieldStart("walletAmount")
	backend.EncodeAmount(e, p.WalletAmount)
	e.FieldStart("finalAmount")
	backend.EncodeAmount(e, p.FinalAmount)
	e.FieldStart("totalSavings")
	backend.EncodeAmount(e, p.TotalSavings)
	e.ObjEnd()
}

func encodeValidator(e *jx.Encoder, v checkout.ValidatorState) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(v.Status.String())
	e.FieldStart("code")
	e.Str(v.Code)
	e.FieldStart("input")
	e.Str(v.Input)
	e.FieldStart("pending")
	e.Bool(v.Pending)
	if v.Error != nil {
		e.FieldStart("error")
		e.ObjStart()
		e.FieldStart("kind")
		e.Str(v.Error.Kind.String())
		e.FieldStart("message")
		e.Str(v.Error.Message)
		e.ObjEnd()
	}
	e.ObjEnd()
}

type orderBody struct {
	order backend.OrderInfo
}

func (b orderBody) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(b.order.ID)
	e.FieldStart("amount")
	backend.EncodeAmount(e, b.order.Amount)
	e.FieldStart("currency")
	e.Str(b.order.Currency)
	e.FieldStart("status")
	e.Str(b.order.Status)
	e.ObjEnd()
}

func writeJSON(w http.ResponseWriter, status int, v backend.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(backend.Marshal(v))
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, apiError{Code: code, Message: msg})
}

func writeSnapshot(w http.ResponseWriter, status int, s *checkout.Session) {
	writeJSON(w, status, snapshotBody{snap: s.Snapshot()})
}
