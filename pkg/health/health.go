// Package health serves liveness and readiness probes.
//
// Each registered check runs in its own goroutine at a fixed interval. A
// check flips to unhealthy after FailureThreshold consecutive failures and
// back after SuccessThreshold consecutive successes, so a single slow
// upstream answer does not take the service out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind tells which probe a check contributes to.
type Kind int

const (
	Liveness Kind = iota
	Readiness
)

// Check describes a registered check.
type Check struct {
	Name    string
	Kind    Kind
	Timeout time.Duration
	Func    CheckFunc
	// FailureThreshold defaults to 3.
	FailureThreshold int
	// SuccessThreshold defaults to 1.
	SuccessThreshold int
}

// check is the runtime state of a Check. run is only called from the check's
// own goroutine; healthy and lastErr are read by HTTP handlers.
type check struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	fails int
	oks   int
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.Func(ctx); err != nil {
		msg := err.Error()
		c.lastErr.Store(&msg)
		c.oks = 0
		c.fails++
		if c.fails >= c.FailureThreshold {
			c.healthy.Store(false)
		}
		return
	}
	c.lastErr.Store(nil)
	c.fails = 0
	c.oks++
	if c.oks >= c.SuccessThreshold {
		c.healthy.Store(true)
	}
}

func (c *check) failure() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return "check is unhealthy"
}

// Health aggregates liveness and readiness checks.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Add registers a check. Checks start healthy.
func (h *Health) Add(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	rc := &check{Check: c}
	rc.healthy.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, rc)
}

// AddLivenessCheck registers a liveness check with default thresholds.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Check{Name: name, Kind: Liveness, Timeout: timeout, Func: fn})
}

// AddReadinessCheck registers a readiness check with default thresholds.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.Add(Check{Name: name, Kind: Readiness, Timeout: timeout, Func: fn})
}

// Start runs every registered check immediately and then every interval
// until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	checks := slices.Clone(h.checks)
	h.mu.Unlock()

	for _, c := range checks {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service ready or draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(h.failures(Readiness)) == 0
}

// failures returns the messages of unhealthy checks of kind, by name.
func (h *Health) failures(kind Kind) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]string)
	for _, c := range h.checks {
		if c.Kind == kind && !c.healthy.Load() {
			out[c.Name] = c.failure()
		}
	}
	return out
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} or 503 listing failing
// liveness checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.failures(Liveness))
}

// ReadyEndpoint serves /readyz. Besides readiness checks it fails while the
// service is not marked ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failures := h.failures(Readiness)
	if !h.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failures) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
