package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/domain/order"
	"github.com/xenking/course-checkout/internal/domain/wallet"
	"github.com/xenking/course-checkout/internal/repository"
	"github.com/xenking/course-checkout/internal/storefront"
	"github.com/xenking/course-checkout/pkg/health"
	"github.com/xenking/course-checkout/pkg/httpmiddleware"
)

// RunStorefront creates all dependencies of storefront-api, starts the HTTP
// server, and handles graceful shutdown.
func RunStorefront(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *StorefrontConfig) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	couponRepo := repository.NewCouponRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)

	couponValidator := coupon.NewRepoValidator(couponRepo)
	walletService := wallet.NewService(walletRepo)
	orderService := order.NewService(couponValidator, walletRepo, orderRepo)

	srv := &server{
		name:      "storefront-api",
		addr:      cfg.Addr,
		health:    healthSvc,
		rateLimit: cfg.RateLimit,
		rateKey:   httpmiddleware.HeaderKeyFunc("X-User-ID"),
		cors:      cfg.CORS,
		graceful:  cfg.Graceful,
	}
	api := storefront.NewServer(couponValidator, walletService, orderService).Handler()
	return srv.run(ctx, lg, m, srv.router(api))
}
