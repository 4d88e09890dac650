package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/money"
)

var (
	// ErrNotFound is returned when the user has no wallet row.
	ErrNotFound = errors.New("wallet not found")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Wallet is a user's prepaid balance.
type Wallet struct {
	UserID    string
	Balance   money.Amount
	UpdatedAt time.Time
}

// Repository provides wallet reads. Debits happen inside order creation.
type Repository interface {
	Get(ctx context.Context, userID string) (*Wallet, error)
}

// Service exposes wallet balances to the storefront.
type Service struct {
	repo Repository
}

// NewService creates a wallet Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Get returns the user's wallet. Users without a wallet row have an empty
// one.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Wallet{UserID: userID}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get wallet")
	}
	return w, nil
}
