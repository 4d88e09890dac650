// Package app wires the checkout-api and storefront-api binaries.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/pkg/health"
	"github.com/xenking/course-checkout/pkg/httpmiddleware"
)

// server is an HTTP server with health probes and graceful shutdown.
type server struct {
	name      string
	addr      string
	health    *health.Health
	rateLimit RateLimitConfig
	rateKey   func(*http.Request) string
	cors      CORSConfig
	graceful  GracefulConfig
	// onShutdown runs after the HTTP server stopped accepting requests.
	onShutdown func()
}

// router serves the probes next to api.
func (s *server) router(api http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/livez", s.health.LiveEndpoint)
	r.Get("/readyz", s.health.ReadyEndpoint)
	r.Mount("/", api)
	return r
}

func isProbe(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}

// run serves h until ctx is cancelled, then drains and shuts down.
func (s *server) run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, h http.Handler) error {
	instrumented := otelhttp.NewHandler(h, s.name,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
		otelhttp.WithFilter(func(r *http.Request) bool { return !isProbe(r) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routePattern(r)
		}),
	)

	srv := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              s.addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     s.cors.Origins,
				AllowHeaders:     []string{"Content-Type", "X-User-ID", httpmiddleware.RequestIDHeader},
				AllowCredentials: s.cors.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Rate:    s.rateLimit.Rate,
				Burst:   s.rateLimit.Burst,
				KeyFunc: s.rateKey,
				Skip:    isProbe,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", s.graceful.ReadinessDelay))
		time.Sleep(s.graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", s.graceful.ShutdownTimeout))
		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if s.onShutdown != nil {
			s.onShutdown()
		}
		s.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", s.addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// routePattern returns the matched chi route, or the raw path before routing.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return strings.TrimSuffix(p, "/*")
		}
	}
	return r.URL.Path
}
