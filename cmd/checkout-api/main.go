// Command checkout-api serves checkout sessions backed by the storefront API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/course-checkout/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadCheckoutConfig()
		if err != nil {
			return err
		}
		return appkg.RunCheckout(ctx, lg, m, cfg)
	})
}
