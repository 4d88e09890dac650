package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/course-checkout/internal/domain/wallet"
	"github.com/xenking/course-checkout/internal/money"
)

const (
	getWalletSQL = `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`

	upsertWalletSQL = `INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`
)

var _ wallet.Repository = (*WalletRepository)(nil)

// WalletRepository implements wallet.Repository backed by PostgreSQL.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository returns a WalletRepository that uses the given pool.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// Get returns the wallet of userID, or wallet.ErrNotFound.
func (r *WalletRepository) Get(ctx context.Context, userID string) (*wallet.Wallet, error) {
	var (
		w       wallet.Wallet
		balance decimal.Decimal
	)
	err := r.pool.QueryRow(ctx, getWalletSQL, userID).Scan(&w.UserID, &balance, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wallet.ErrNotFound
		}
		return nil, fmt.Errorf("getting wallet of %q: %w", userID, err)
	}
	w.Balance = money.FromDecimal(balance)
	return &w, nil
}

// Upsert sets the balance of userID.
func (r *WalletRepository) Upsert(ctx context.Context, userID string, balance money.Amount) error {
	if _, err := r.pool.Exec(ctx, upsertWalletSQL, userID, balance.Decimal()); err != nil {
		if isCheckViolation(err) {
			return fmt.Errorf("wallet of %q: %w", userID, wallet.ErrInsufficientBalance)
		}
		return fmt.Errorf("upserting wallet of %q: %w", userID, err)
	}
	return nil
}
