package health

import (
	"context"
	"io"
	"net/http"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the process runs more than threshold
// goroutines.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// HTTPCheck fails when GET url errors or answers with a 5xx status.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return errors.Wrap(err, "create request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return errors.Wrap(err, "do request")
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

		if resp.StatusCode >= http.StatusInternalServerError {
			return errors.Errorf("upstream answered %d", resp.StatusCode)
		}
		return nil
	}
}

// CountCheck fails when count() exceeds limit. checkout-api uses it for
// the number of open sessions.
func CountCheck(what string, limit int, count func() int) CheckFunc {
	return func(context.Context) error {
		if n := count(); n > limit {
			return errors.Errorf("%s %d exceeds limit %d", what, n, limit)
		}
		return nil
	}
}
