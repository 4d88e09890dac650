package backend

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

// Encoder is implemented by every wire payload.
type Encoder interface {
	Encode(e *jx.Encoder)
}

// Marshal encodes v into a fresh byte slice.
func Marshal(v Encoder) []byte {
	var e jx.Encoder
	v.Encode(&e)
	return e.Bytes()
}

// CouponList is the body of GET /users/{userId}/coupon.
type CouponList struct {
	Success bool
	Coupons []coupon.Coupon
}

func (l CouponList) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(l.Success)
	e.FieldStart("coupons")
	e.ArrStart()
	for i := range l.Coupons {
		EncodeCoupon(e, &l.Coupons[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

func (l *CouponList) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := d.Bool()
			l.Success = v
			return err
		case "coupons":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				c, err := DecodeCoupon(d)
				if err != nil {
					return err
				}
				l.Coupons = append(l.Coupons, c)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// EncodeCoupon writes a coupon object.
func EncodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	encodeDecimal(e, c.Value)
	e.FieldStart("minOrderAmount")
	EncodeAmount(e, c.MinOrderAmount)
	if c.MaxDiscount > 0 {
		e.FieldStart("maxDiscount")
		EncodeAmount(e, c.MaxDiscount)
	}
	if c.ValidFrom != nil {
		e.FieldStart("validFrom")
		e.Str(c.ValidFrom.UTC().Format(time.RFC3339))
	}
	if c.ValidTill != nil {
		e.FieldStart("validTill")
		e.Str(c.ValidTill.UTC().Format(time.RFC3339))
	}
	if c.Description != "" {
		e.FieldStart("description")
		e.Str(c.Description)
	}
	e.ObjEnd()
}

// DecodeCoupon reads a coupon object. Unknown fields are skipped. maxUses
// never appears on the wire but is accepted for coupon definition files.
func DecodeCoupon(d *jx.Decoder) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = decodeOptStr(d)
		case "discountType":
			var v string
			v, err = decodeOptStr(d)
			c.DiscountType = coupon.DiscountType(v)
		case "discountValue":
			c.Value, err = decodeDecimal(d)
		case "minOrderAmount":
			c.MinOrderAmount, err = DecodeAmount(d)
		case "maxDiscount":
			c.MaxDiscount, err = DecodeAmount(d)
		case "validFrom":
			c.ValidFrom, err = decodeOptTime(d)
		case "validTill":
			c.ValidTill, err = decodeOptTime(d)
		case "description":
			c.Description, err = decodeOptStr(d)
		case "maxUses":
			c.MaxUses, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
	return c, err
}

// ValidateRequest is the body of POST /users/{userId}/coupon.
type ValidateRequest struct {
	Code        string
	OrderAmount money.Amount
}

func (r ValidateRequest) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("orderAmount")
	EncodeAmount(e, r.OrderAmount)
	e.ObjEnd()
}

func (r *ValidateRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			r.Code, err = decodeOptStr(d)
		case "orderAmount":
			r.OrderAmount, err = DecodeAmount(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// ValidateResponse is the storefront's pricing of a coupon code.
type ValidateResponse struct {
	Success            bool
	Message            string
	Code               string
	OriginalAmount     money.Amount
	DiscountType       coupon.DiscountType
	DiscountValue      decimal.Decimal
	DiscountAmount     money.Amount
	DiscountPercentage decimal.Decimal
	FinalPrice         money.Amount
}

// ValidateResponseFromQuote builds a successful response from a quote.
func ValidateResponseFromQuote(q *coupon.Quote, message string) ValidateResponse {
	return ValidateResponse{
		Success:            true,
		Message:            message,
		Code:               q.Code,
		OriginalAmount:     q.OriginalAmount,
		DiscountType:       q.DiscountType,
		DiscountValue:      q.DiscountValue,
		DiscountAmount:     q.DiscountAmount,
		DiscountPercentage: q.DiscountPercentage,
		FinalPrice:         q.FinalPrice,
	}
}

func (r ValidateResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(r.Success)
	e.FieldStart("message")
	e.Str(r.Message)
	if r.Success {
		e.FieldStart("code")
		e.Str(r.Code)
		e.FieldStart("originalAmount")
		EncodeAmount(e, r.OriginalAmount)
		e.FieldStart("discountType")
		e.Str(string(r.DiscountType))
		e.FieldStart("discountValue")
		encodeDecimal(e, r.DiscountValue)
		e.FieldStart("discountAmount")
		EncodeAmount(e, r.DiscountAmount)
		e.FieldStart("discountPercentage")
		encodeDecimal(e, r.DiscountPercentage)
		e.FieldStart("finalPrice")
		EncodeAmount(e, r.FinalPrice)
	}
	e.ObjEnd()
}

func (r *ValidateResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "success":
			r.Success, err = d.Bool()
		case "message":
			r.Message, err = decodeOptStr(d)
		case "code":
			r.Code, err = decodeOptStr(d)
		case "originalAmount":
			r.OriginalAmount, err = DecodeAmount(d)
		case "discountType":
			var v string
			v, err = decodeOptStr(d)
			r.DiscountType = coupon.DiscountType(v)
		case "discountValue":
			r.DiscountValue, err = decodeDecimal(d)
		case "discountAmount":
			r.DiscountAmount, err = DecodeAmount(d)
		case "discountPercentage":
			r.DiscountPercentage, err = decodeDecimal(d)
		case "finalPrice":
			r.FinalPrice, err = DecodeAmount(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// WalletResponse is the body of GET /wallet.
type WalletResponse struct {
	Success bool
	Balance money.Amount
}

func (r WalletResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(r.Success)
	e.FieldStart("wallet")
	e.ObjStart()
	e.FieldStart("balance")
	EncodeAmount(e, r.Balance)
	e.ObjEnd()
	e.ObjEnd()
}

func (r *WalletResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := d.Bool()
			r.Success = v
			return err
		case "wallet":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "balance" {
					return d.Skip()
				}
				v, err := DecodeAmount(d)
				r.Balance = v
				if err != nil {
					return errors.Wrap(err, "decode balance")
				}
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// OrderRequest is the body of POST /payment/order.
//
// "course" is a single course id for single-course checkout and an array of
// ids for cart checkout.
type OrderRequest struct {
	Amount         money.Amount
	IsCart         bool
	Courses        []string
	WalletAmount   money.Amount
	CouponCode     string
	OriginalAmount money.Amount
}

func (r OrderRequest) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("amount")
	EncodeAmount(e, r.Amount)
	e.FieldStart("isCart")
	e.Bool(r.IsCart)
	e.FieldStart("course")
	if !r.IsCart && len(r.Courses) == 1 {
		e.Str(r.Courses[0])
	} else {
		e.ArrStart()
		for _, c := range r.Courses {
			e.Str(c)
		}
		e.ArrEnd()
	}
	if r.WalletAmount > 0 {
		e.FieldStart("walletAmount")
		EncodeAmount(e, r.WalletAmount)
	}
	if r.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(r.CouponCode)
	}
	if r.OriginalAmount > 0 {
		e.FieldStart("originalAmount")
		EncodeAmount(e, r.OriginalAmount)
	}
	e.ObjEnd()
}

func (r *OrderRequest) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "amount":
			r.Amount, err = DecodeAmount(d)
		case "isCart":
			r.IsCart, err = d.Bool()
		case "course":
			r.Courses, err = decodeCourses(d)
		case "walletAmount":
			r.WalletAmount, err = DecodeAmount(d)
		case "couponCode":
			r.CouponCode, err = decodeOptStr(d)
		case "originalAmount":
			r.OriginalAmount, err = DecodeAmount(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode %q", key)
		}
		return nil
	})
}

// OrderInfo is the opaque order handle returned to the payment gateway.
type OrderInfo struct {
	ID       string
	Amount   money.Amount
	Currency string
	Status   string
}

// OrderResponse is the body returned by POST /payment/order.
type OrderResponse struct {
	Success bool
	Message string
	Order   OrderInfo
}

func (r OrderResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(r.Success)
	e.FieldStart("message")
	e.Str(r.Message)
	if r.Success {
		e.FieldStart("order")
		e.ObjStart()
		e.FieldStart("id")
		e.Str(r.Order.ID)
		e.FieldStart("amount")
		EncodeAmount(e, r.Order.Amount)
		e.FieldStart("currency")
		e.Str(r.Order.Currency)
		e.FieldStart("status")
		e.Str(r.Order.Status)
		e.ObjEnd()
	}
	e.ObjEnd()
}

func (r *OrderResponse) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "success":
			v, err := d.Bool()
			r.Success = v
			return err
		case "message":
			v, err := decodeOptStr(d)
			r.Message = v
			return err
		case "order":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "id", "_id":
					r.Order.ID, err = decodeOptStr(d)
				case "amount":
					r.Order.Amount, err = DecodeAmount(d)
				case "currency":
					r.Order.Currency, err = decodeOptStr(d)
				case "status":
					r.Order.Status, err = decodeOptStr(d)
				default:
					err = d.Skip()
				}
				if err != nil {
					return errors.Wrapf(err, "decode order %q", key)
				}
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

// ErrorResponse is the body of a failed storefront call.
type ErrorResponse struct {
	Message string
}

func (r ErrorResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("message")
	e.Str(r.Message)
	e.ObjEnd()
}

// errorMessage extracts "message" from an error body, or "" when the body
// is not a JSON object.
func errorMessage(body []byte) string {
	var msg string
	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return ""
	}
	_ = d.Obj(func(d *jx.Decoder, key string) error {
		if key != "message" {
			return d.Skip()
		}
		v, err := decodeOptStr(d)
		msg = v
		return err
	})
	return msg
}

// EncodeAmount writes a as a JSON number in major units.
func EncodeAmount(e *jx.Encoder, a money.Amount) {
	e.Raw([]byte(a.Decimal().String()))
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.String()))
}

// decodeDecimal accepts a JSON number, a numeric string or null.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch tt := d.Next(); tt {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Null:
		return decimal.Zero, d.Null()
	default:
		return decimal.Zero, errors.Errorf("unexpected %s, want number", tt)
	}
}

// DecodeAmount reads a number, numeric string or null in major units.
func DecodeAmount(d *jx.Decoder) (money.Amount, error) {
	v, err := decodeDecimal(d)
	if err != nil {
		return 0, err
	}
	if !money.InRange(v) {
		return 0, errors.Wrapf(money.ErrOutOfRange, "amount %s", v)
	}
	return money.FromDecimal(v), nil
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeOptTime(d *jx.Decoder) (*time.Time, error) {
	s, err := decodeOptStr(d)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeCourses(d *jx.Decoder) ([]string, error) {
	switch tt := d.Next(); tt {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	case jx.Array:
		var out []string
		err := d.Arr(func(d *jx.Decoder) error {
			s, err := d.Str()
			out = append(out, s)
			return err
		})
		return out, err
	case jx.Null:
		return nil, d.Null()
	default:
		return nil, errors.Errorf("unexpected %s, want string or array", tt)
	}
}
