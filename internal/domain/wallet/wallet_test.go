package wallet

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/money"
)

type mockWalletRepo struct {
	wallet *Wallet
	err    error
}

func (m *mockWalletRepo) Get(_ context.Context, _ string) (*Wallet, error) {
	return m.wallet, m.err
}

func TestService_Get(t *testing.T) {
	tests := []struct {
		name        string
		repo        *mockWalletRepo
		wantBalance money.Amount
		wantErr     bool
	}{
		{
			name:        "existing wallet",
			repo:        &mockWalletRepo{wallet: &Wallet{UserID: "u1", Balance: money.MustParse("200")}},
			wantBalance: money.MustParse("200"),
		},
		{
			name:        "missing wallet is empty",
			repo:        &mockWalletRepo{err: ErrNotFound},
			wantBalance: 0,
		},
		{
			name:    "repository failure",
			repo:    &mockWalletRepo{err: errors.New("db down")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewService(tt.repo).Get(context.Background(), "u1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u1", w.UserID)
			assert.Equal(t, tt.wantBalance, w.Balance)
		})
	}
}
