package checkout

import (
	"github.com/go-faster/errors"
)

var (
	// ErrCatalogUnavailable is matched by errors from a failed coupon catalog
	// fetch. Callers proceed with an empty catalog.
	ErrCatalogUnavailable = errors.New("coupon catalog unavailable")
	// ErrValidationFailed is matched by a ValidationError of KindValidationFailed.
	ErrValidationFailed = errors.New("coupon validation failed")
	// ErrInvalidDiscountBound is matched by a ValidationError of
	// KindInvalidDiscountBound.
	ErrInvalidDiscountBound = errors.New("invalid discount amount")

	ErrValidationPending = errors.New("coupon validation pending")
	ErrOrderInProgress   = errors.New("order placement in progress")
	ErrPricingChanged    = errors.New("pricing changed since last review")
	ErrSessionClosed     = errors.New("checkout session closed")
	ErrSessionNotFound   = errors.New("checkout session not found")
	ErrTooManySessions   = errors.New("too many open checkout sessions")
	ErrInvalidParams     = errors.New("invalid checkout parameters")
)

// CatalogError wraps the transport failure behind ErrCatalogUnavailable.
type CatalogError struct {
	UserID string
	Err    error
}

func (e *CatalogError) Error() string {
	return "coupon catalog unavailable for " + e.UserID + ": " + e.Err.Error()
}

func (e *CatalogError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCatalogUnavailable) hold.
func (e *CatalogError) Is(target error) bool {
	return target == ErrCatalogUnavailable
}

// ErrorKind classifies a ValidationError.
type ErrorKind int

const (
	// KindValidationFailed covers server rejections and transport failures.
	KindValidationFailed ErrorKind = iota + 1
	// KindInvalidDiscountBound is a server answer whose final price exceeds
	// the order amount or is negative.
	KindInvalidDiscountBound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidationFailed:
		return "validation_failed"
	case KindInvalidDiscountBound:
		return "invalid_discount_bound"
	default:
		return "unknown"
	}
}

// invalidDiscountMessage is shown for out-of-bound server answers. The
// server's own message is not trusted in that case.
const invalidDiscountMessage = "Invalid discount amount"

// ValidationError describes why a coupon code ended up invalid.
type ValidationError struct {
	Kind    ErrorKind
	Code    string
	Message string
	// Err is the underlying transport error, if any.
	Err error
}

func (e *ValidationError) Error() string {
	return "coupon " + e.Code + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidationFailed:
		return e.Kind == KindValidationFailed
	case ErrInvalidDiscountBound:
		return e.Kind == KindInvalidDiscountBound
	default:
		return false
	}
}
