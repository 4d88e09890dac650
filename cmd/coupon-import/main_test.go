package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/money"
)

func writeGz(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func codes(coupons []coupon.Coupon) []string {
	out := make([]string, 0, len(coupons))
	for _, c := range coupons {
		out = append(out, c.Code)
	}
	return out
}

func TestScan(t *testing.T) {
	first := writeGz(t, "first.jsonl.gz",
		`{"code":"save10","discountType":"percentage","discountValue":10,"minOrderAmount":0,"maxUses":100}`,
		`{"code":"DUP50","discountType":"flat","discountValue":50,"minOrderAmount":200}`,
		`{"code":"x","discountType":"flat","discountValue":5,"minOrderAmount":0}`,
		`not json`,
		``,
	)
	second := writeGz(t, "second.jsonl.gz",
		`{"code":"dup50","discountType":"flat","discountValue":40,"minOrderAmount":0}`,
		`{"code":"NEW20","discountType":"percentage","discountValue":20,"minOrderAmount":500,"maxDiscount":150}`,
		`{"code":"NEW20","discountType":"percentage","discountValue":25,"minOrderAmount":500,"maxDiscount":150}`,
	)

	p, err := scan(context.Background(), []string{first, second}, 1000)
	require.NoError(t, err)

	assert.Equal(t, []string{"NEW20", "SAVE10"}, codes(p.coupons))
	assert.Equal(t, []string{"DUP50"}, p.conflicts)
	assert.Equal(t, 2, p.invalid)

	newCoupon := p.coupons[0]
	assert.True(t, decimal.NewFromInt(25).Equal(newCoupon.Value), "last definition in a file wins")
	assert.Equal(t, money.FromMajor(150), newCoupon.MaxDiscount)
	assert.Equal(t, 100, p.coupons[1].MaxUses)
}

func TestScan_MissingFile(t *testing.T) {
	_, err := scan(context.Background(), []string{filepath.Join(t.TempDir(), "missing.gz")}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check file")
}

func TestScan_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"code":"SAVE10"}`), 0o600))

	_, err := scan(context.Background(), []string{path}, 10)
	require.Error(t, err)
}

type mockUpserter struct {
	batches [][]string
	err     error
}

func (m *mockUpserter) UpsertBatch(_ context.Context, coupons []coupon.Coupon) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, codes(coupons))
	return nil
}

func TestWrite(t *testing.T) {
	coupons := []coupon.Coupon{{Code: "AAA"}, {Code: "BBB"}, {Code: "CCC"}, {Code: "DDD"}, {Code: "EEE"}}

	tests := []struct {
		name      string
		batchSize int
		want      [][]string
	}{
		{
			name:      "chunks",
			batchSize: 2,
			want:      [][]string{{"AAA", "BBB"}, {"CCC", "DDD"}, {"EEE"}},
		},
		{
			name:      "single batch when size unset",
			batchSize: 0,
			want:      [][]string{{"AAA", "BBB", "CCC", "DDD", "EEE"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpserter{}
			require.NoError(t, write(context.Background(), up, coupons, tt.batchSize))
			assert.Equal(t, tt.want, up.batches)
		})
	}
}

func TestWrite_Error(t *testing.T) {
	up := &mockUpserter{err: errors.New("connection reset")}
	err := write(context.Background(), up, []coupon.Coupon{{Code: "AAA"}}, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWrite_Empty(t *testing.T) {
	up := &mockUpserter{}
	require.NoError(t, write(context.Background(), up, nil, 10))
	assert.Empty(t, up.batches)
}
