// Package backend is the storefront REST client used by checkout sessions,
// together with the JSON wire types both sides share.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

// UserHeader carries the acting user for endpoints without a user path
// segment.
const UserHeader = "X-User-ID"

// ErrRejected is matched by every RejectedError.
var ErrRejected = errors.New("request rejected by storefront")

// RejectedError is returned when the storefront answers with success=false.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return e.Op + ": rejected"
	}
	return e.Op + ": " + e.Message
}

// Is makes errors.Is(err, ErrRejected) hold.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
	// Message is the "message" field of a JSON error body, if any.
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Message returns the user-facing message carried by err, or fallback when
// err carries none.
func Message(err error, fallback string) string {
	if rej, ok := errors.Into[*RejectedError](err); ok && rej.Message != "" {
		return rej.Message
	}
	if httpErr, ok := errors.Into[*HTTPError](err); ok && httpErr.Message != "" {
		return httpErr.Message
	}
	return fallback
}

// RetryConfig configures retries of idempotent requests.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the retry settings used when none are given.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client talks to the storefront backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	retry      RetryConfig
	lg         *zap.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is used
// as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetry sets the retry configuration. MaxRetries of zero disables retries.
func WithRetry(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(c *Client) {
		c.lg = lg
	}
}

// WithTelemetry sets the providers used by the instrumented transport.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
		c.meterProvider = mp
	}
}

// NewClient creates a storefront client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      DefaultRetryConfig(),
		lg:         zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient.Transport == nil {
		var otelOpts []otelhttp.Option
		if c.tracerProvider != nil {
			otelOpts = append(otelOpts, otelhttp.WithTracerProvider(c.tracerProvider))
		}
		if c.meterProvider != nil {
			otelOpts = append(otelOpts, otelhttp.WithMeterProvider(c.meterProvider))
		}
		c.httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport, otelOpts...)
	}
	return c, nil
}

// FetchCoupons returns the user's candidate coupon catalog.
func (c *Client) FetchCoupons(ctx context.Context, userID string) ([]coupon.Coupon, error) {
	body, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/coupon", "", nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch coupons")
	}

	var list CouponList
	if err := list.Decode(jx.DecodeBytes(body)); err != nil {
		return nil, errors.Wrap(err, "decode coupons")
	}
	if !list.Success {
		return nil, &RejectedError{Op: "fetch coupons"}
	}
	return list.Coupons, nil
}

// ValidateCoupon asks the storefront to price code against orderAmount.
//
// A rejection is a normal outcome: 4xx answers carrying a JSON body are
// returned as a response with Success=false rather than as an error.
func (c *Client) ValidateCoupon(ctx context.Context, userID, code string, orderAmount money.Amount) (*ValidateResponse, error) {
	req := Marshal(ValidateRequest{Code: code, OrderAmount: orderAmount})
	body, err := c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/coupon", "", req)
	if err != nil {
		httpErr, ok := errors.Into[*HTTPError](err)
		if !ok || httpErr.StatusCode >= 500 || httpErr.Message == "" {
			return nil, errors.Wrap(err, "validate coupon")
		}
		return &ValidateResponse{Success: false, Message: httpErr.Message, Code: code}, nil
	}

	var resp ValidateResponse
	if err := resp.Decode(jx.DecodeBytes(body)); err != nil {
		return nil, errors.Wrap(err, "decode validation")
	}
	return &resp, nil
}

// GetWallet returns the user's spendable balance.
func (c *Client) GetWallet(ctx context.Context, userID string) (money.Amount, error) {
	body, err := c.do(ctx, http.MethodGet, "/wallet", userID, nil)
	if err != nil {
		return 0, errors.Wrap(err, "get wallet")
	}

	var resp WalletResponse
	if err := resp.Decode(jx.DecodeBytes(body)); err != nil {
		return 0, errors.Wrap(err, "decode wallet")
	}
	if !resp.Success {
		return 0, &RejectedError{Op: "get wallet"}
	}
	return resp.Balance.NonNegative(), nil
}

// CreateOrder creates the payment order. It is never retried.
func (c *Client) CreateOrder(ctx context.Context, userID string, req OrderRequest) (*OrderResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/payment/order", userID, Marshal(req))
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	var resp OrderResponse
	if err := resp.Decode(jx.DecodeBytes(body)); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	if !resp.Success {
		return nil, &RejectedError{Op: "create order", Message: resp.Message}
	}
	return &resp, nil
}

// do performs a request and returns the body of a 2xx response. GETs are
// retried on transport errors and retryable statuses.
func (c *Client) do(ctx context.Context, method, path, userID string, payload []byte) ([]byte, error) {
	target := c.baseURL.String() + path
	lg := c.lg.With(zap.String("method", method), zap.String("url", target))

	attempt := func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "build request"))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if userID != "" {
			req.Header.Set(UserHeader, userID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "read body")
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target,
			Body:       string(body),
			Message:    errorMessage(body),
		}
		if retryableStatus[resp.StatusCode] {
			return nil, httpErr
		}
		return nil, backoff.Permanent(httpErr)
	}

	if method != http.MethodGet || c.retry.MaxRetries <= 0 {
		body, err := attempt()
		if perm, ok := errors.Into[*backoff.PermanentError](err); ok {
			err = perm.Err
		}
		if err != nil {
			lg.Warn("Storefront request failed", zap.Error(err))
		}
		return body, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	b.Multiplier = c.retry.Multiplier

	var body []byte
	op := func() error {
		var err error
		body, err = attempt()
		return err
	}
	notify := func(err error, next time.Duration) {
		lg.Debug("Retrying storefront request", zap.Error(err), zap.Duration("backoff", next))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retry.MaxRetries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		lg.Warn("Storefront request failed", zap.Error(err))
		return nil, err
	}
	return body, nil
}
