// Command seed-db fills the storefront database with wallet balances and
// coupon definitions for local development.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/course-checkout/internal/backend"
	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
	"github.com/xenking/course-checkout/internal/repository"
)

type walletSeed struct {
	UserID  string
	Balance money.Amount
}

type walletUpserter interface {
	Upsert(ctx context.Context, userID string, balance money.Amount) error
}

type couponUpserter interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

func main() {
	var (
		databaseURL string
		walletsFile string
		couponsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&walletsFile, "wallets-file", "db/seed/wallets.json", "path to wallets JSON file")
	flag.StringVar(&couponsFile, "coupons-file", "db/seed/coupons.json", "path to coupons JSON file (empty to skip)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, walletsFile, couponsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, walletsFile, couponsFile string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedWallets(ctx, repository.NewWalletRepository(pool), walletsFile); err != nil {
		return errors.Wrap(err, "seed wallets")
	}

	if couponsFile == "" {
		return nil
	}
	if err := seedCoupons(ctx, repository.NewCouponRepository(pool), couponsFile); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedWallets(ctx context.Context, repo walletUpserter, path string) error {
	slog.Info("reading wallets file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read wallets file")
	}

	wallets, err := decodeWallets(data)
	if err != nil {
		return errors.Wrap(err, "parse wallets JSON")
	}

	slog.Info("upserting wallets", slog.Int("count", len(wallets)))

	for _, w := range wallets {
		if err := repo.Upsert(ctx, w.UserID, w.Balance); err != nil {
			return errors.Wrapf(err, "upsert wallet %s", w.UserID)
		}

		slog.Info("upserted wallet", slog.String("user_id", w.UserID), slog.String("balance", w.Balance.String()))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo couponUpserter, path string) error {
	slog.Info("reading coupons file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read coupons file")
	}

	coupons, err := decodeCoupons(data)
	if err != nil {
		return errors.Wrap(err, "parse coupons JSON")
	}

	if err := repo.UpsertBatch(ctx, coupons); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}

	for _, c := range coupons {
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

// decodeWallets reads [{"userId": "...", "balance": 1500}, ...].
func decodeWallets(data []byte) ([]walletSeed, error) {
	var wallets []walletSeed
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		var w walletSeed
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "userId":
				w.UserID, err = d.Str()
			case "balance":
				w.Balance, err = backend.DecodeAmount(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "decode %q", key)
			}
			return nil
		}); err != nil {
			return err
		}
		if w.UserID == "" {
			return errors.New("wallet without userId")
		}
		if w.Balance.IsNegative() {
			return errors.Errorf("wallet %s: negative balance", w.UserID)
		}
		wallets = append(wallets, w)
		return nil
	})
	return wallets, err
}

// decodeCoupons reads an array of coupon objects in the storefront wire
// format.
func decodeCoupons(data []byte) ([]coupon.Coupon, error) {
	var coupons []coupon.Coupon
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		c, err := backend.DecodeCoupon(d)
		if err != nil {
			return err
		}
		c.Code = coupon.NormalizeCode(c.Code)
		if err := c.Validate(); err != nil {
			return err
		}
		coupons = append(coupons, c)
		return nil
	})
	return coupons, err
}
