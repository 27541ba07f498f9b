package pricing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStorage struct {
	winston *big.Int
	err     error
}

func (s stubStorage) Winston(context.Context, uint64) (*big.Int, error) { return s.winston, s.err }

type stubRate struct {
	usd   float64
	err   error
	calls int
}

func (s *stubRate) ARUSD(context.Context) (float64, error) {
	s.calls++
	return s.usd, s.err
}

func TestWinstonToCents_RoundsUp(t *testing.T) {
	tests := []struct {
		name    string
		winston *big.Int
		usd     float64
		want    uint64
	}{
		{"one AR at $10", big.NewInt(1_000_000_000_000), 10, 1000},
		{"one winston is still a cent", big.NewInt(1), 10, 1},
		{"zero cost", big.NewInt(0), 10, 0},
		{"fractional rate", big.NewInt(1_500_000_000_000), 8.5, 1275},
		{"just over a cent", big.NewInt(1_000_000_001), 10, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WinstonToCents(tt.winston, tt.usd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWinstonToCents_Invalid(t *testing.T) {
	_, err := WinstonToCents(big.NewInt(1), 0)
	assert.Error(t, err)
	_, err = WinstonToCents(big.NewInt(-1), 1)
	assert.Error(t, err)
	_, err = WinstonToCents(nil, 1)
	assert.Error(t, err)
}

func TestComputeBreakdown_Invariants(t *testing.T) {
	for _, arweave := range []uint64{0, 1, 7, 999, 123456} {
		for _, mult := range []uint64{1, 2, 3, 10} {
			b := ComputeBreakdown(arweave, 1, mult)
			raw := b.BaseFeeCents + b.ArweaveCents
			assert.Equal(t, raw*mult, b.TotalCents)
			assert.Equal(t, b.TotalCents-raw, b.MarkupCents)
		}
	}
}

func TestEngine_Quote(t *testing.T) {
	rate := &stubRate{usd: 10}
	e := NewEngine(stubStorage{winston: big.NewInt(2_000_000_000)}, rate, 1, 3)

	q, err := e.Quote(context.Background(), 1000)
	require.NoError(t, err)

	// 2e9 winston * $10 = $0.02 = 2 cents; raw 3; total 9
	assert.Equal(t, Breakdown{ArweaveCents: 2, BaseFeeCents: 1, MarkupCents: 6, TotalCents: 9}, q.Breakdown)
	assert.Equal(t, uint64(9), q.PriceCents)
}

func TestEngine_QuoteErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewEngine(stubStorage{winston: big.NewInt(1)}, &stubRate{usd: 1}, 1, 3).Quote(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = NewEngine(stubStorage{err: errors.New("node down")}, &stubRate{usd: 1}, 1, 3).Quote(ctx, 10)
	assert.ErrorContains(t, err, "storage price")

	_, err = NewEngine(stubStorage{winston: big.NewInt(1)}, &stubRate{err: errors.New("cg down")}, 1, 3).Quote(ctx, 10)
	assert.ErrorContains(t, err, "ar/usd rate")
}
