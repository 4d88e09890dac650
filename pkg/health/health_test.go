package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func serveLive(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	return w
}

func serveReady(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		runs       int
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthy until first run",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "below failure threshold",
			runs:       2,
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "at failure threshold",
			runs:       3,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unhealthy","checks":{"db":"connection refused"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("ok", time.Second, passingCheck())
			h.AddLivenessCheck("db", time.Second, failingCheck("connection refused"))
			runN(h.checks[1], tt.runs)

			w := serveLive(h)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestLiveEndpoint_IgnoresReadinessChecks(t *testing.T) {
	h := New()
	h.AddReadinessCheck("storefront", time.Second, failingCheck("down"))
	runN(h.checks[0], 3)

	assert.Equal(t, http.StatusOK, serveLive(h).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serveReady(h).Code)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, passingCheck())

	w := serveReady(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	w = serveReady(h)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serveReady(h).Code)
}

func TestReadyEndpoint_MultipleFailuresSorted(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Add(Check{Name: "b", Kind: Readiness, Func: failingCheck("b down"), FailureThreshold: 1})
	h.Add(Check{Name: "a", Kind: Readiness, Func: failingCheck("a down"), FailureThreshold: 1})
	runN(h.checks[0], 1)
	runN(h.checks[1], 1)

	w := serveReady(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, `{"status":"unhealthy","checks":{"a":"a down","b":"b down"}}`, w.Body.String())
}

func TestCheckRecovery(t *testing.T) {
	fail := true
	h := New()
	h.Add(Check{
		Name: "flaky",
		Kind: Readiness,
		Func: func(context.Context) error {
			if fail {
				return errors.New("flaky")
			}
			return nil
		},
		SuccessThreshold: 2,
	})
	h.SetReady(true)
	c := h.checks[0]

	runN(c, 3)
	require.False(t, h.IsReady())

	fail = false
	runN(c, 1)
	assert.False(t, h.IsReady(), "one success is below the threshold")
	runN(c, 1)
	assert.True(t, h.IsReady())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Add(Check{
		Name:             "slow",
		Kind:             Liveness,
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		Func: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	runN(h.checks[0], 1)

	w := serveLive(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := calls
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, calls)
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(mockPinger{})(context.Background()))

	err := PingCheck(mockPinger{err: errors.New("refused")})(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestHTTPCheck(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	check := HTTPCheck(srv.Client(), srv.URL+"/readyz")
	assert.NoError(t, check(context.Background()))

	status.Store(http.StatusNotFound)
	assert.NoError(t, check(context.Background()))

	status.Store(http.StatusBadGateway)
	assert.EqualError(t, check(context.Background()), "upstream answered 502")

	srv.Close()
	assert.Error(t, check(context.Background()))
}

func TestCountCheck(t *testing.T) {
	n := 5
	check := CountCheck("sessions", 10, func() int { return n })
	assert.NoError(t, check(context.Background()))

	n = 11
	assert.EqualError(t, check(context.Background()), "sessions 11 exceeds limit 10")
}
