package checkout

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the checkout counters.
type Metrics struct {
	issued   metric.Int64Counter
	stale    metric.Int64Counter
	failed   metric.Int64Counter
	sessions metric.Int64UpDownCounter
	orders   metric.Int64Counter
}

// NewMetrics registers the checkout instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.issued, err = meter.Int64Counter("checkout.validation.issued",
		metric.WithDescription("Coupon validation requests issued"),
	); err != nil {
		return nil, errors.Wrap(err, "issued counter")
	}
	if m.stale, err = meter.Int64Counter("checkout.validation.stale",
		metric.WithDescription("Coupon validation responses dropped as superseded"),
	); err != nil {
		return nil, errors.Wrap(err, "stale counter")
	}
	if m.failed, err = meter.Int64Counter("checkout.validation.failed",
		metric.WithDescription("Coupon validations that ended invalid"),
	); err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	if m.sessions, err = meter.Int64UpDownCounter("checkout.sessions.open",
		metric.WithDescription("Open checkout sessions"),
	); err != nil {
		return nil, errors.Wrap(err, "sessions counter")
	}
	if m.orders, err = meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders placed through checkout sessions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	return &m, nil
}

// NopMetrics returns metrics backed by a no-op meter.
func NopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter("checkout"))
	if err != nil {
		panic(err)
	}
	return m
}
