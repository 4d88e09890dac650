package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/checkout"
	"github.com/xenking/course-checkout/internal/handler"
	"github.com/xenking/course-checkout/pkg/health"
)

// RunCheckout creates all dependencies of checkout-api, starts the HTTP
// server, and handles graceful shutdown.
func RunCheckout(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *CheckoutConfig) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storefront", cfg.StorefrontURL),
	)

	retry := backend.DefaultRetryConfig()
	retry.MaxRetries = cfg.Backend.MaxRetries
	retry.InitialInterval = cfg.Backend.RetryWait
	client, err := backend.NewClient(cfg.StorefrontURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithRetry(retry),
		backend.WithLogger(lg.Named("backend")),
		backend.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create backend client")
	}

	metrics, err := checkout.NewMetrics(m.MeterProvider().Meter("checkout"))
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	notifyLg := lg.Named("notify")
	registry := checkout.NewRegistry(checkout.Deps{
		Backend: client,
		Catalog: checkout.NewCatalog(client, cfg.Catalog.TTL, lg.Named("catalog")),
		Validator: checkout.ValidatorConfig{
			Debounce:       cfg.Validator.Debounce,
			Timeout:        cfg.Validator.Timeout,
			MinInputLength: cfg.Validator.MinInputLength,
		},
		Metrics: metrics,
		Tracer:  m.TracerProvider().Tracer("checkout"),
		Logger:  lg.Named("checkout"),
		Notifier: checkout.NotifierFunc(func(n checkout.Notification) {
			notifyLg.Debug("Notification",
				zap.String("level", string(n.Level)),
				zap.String("code", n.Code),
				zap.String("message", n.Message),
			)
		}),
	}, checkout.RegistryConfig{
		IdleTTL:      cfg.Sessions.IdleTTL,
		MaxSessions:  cfg.Sessions.MaxSessions,
		CompletedTTL: cfg.Sessions.CompletedTTL,
	})
	registry.StartEviction(ctx, cfg.Sessions.EvictInterval)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddReadinessCheck("sessions", time.Second,
		health.CountCheck("sessions", cfg.Sessions.MaxSessions, registry.Len))
	healthSvc.Add(health.Check{
		Name:             "storefront",
		Kind:             health.Readiness,
		Timeout:          5 * time.Second,
		Func:             health.HTTPCheck(nil, cfg.StorefrontURL+"/readyz"),
		FailureThreshold: 5,
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	srv := &server{
		name:      "checkout-api",
		addr:      cfg.Addr,
		health:    healthSvc,
		rateLimit: cfg.RateLimit,
		cors:      cfg.CORS,
		graceful:  cfg.Graceful,
		onShutdown: func() {
			lg.Info("Closing sessions", zap.Int("open", registry.Len()))
			registry.CloseAll()
		},
	}
	return srv.run(ctx, lg, m, srv.router(handler.NewHandler(registry).Routes()))
}
