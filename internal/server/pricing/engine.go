// Package pricing turns an upload size into a price in USD cents.
//
// The two live inputs (storage cost in winston and the AR/USD rate) are the
// only floating-point-tainted values; everything after the cents conversion
// is integer arithmetic.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// winstonPerAR is the number of winston in one AR.
var winstonPerAR = big.NewInt(1_000_000_000_000)

var ErrInvalidSize = errors.New("size must be positive")

// Breakdown itemises a quote. TotalCents == (BaseFeeCents + ArweaveCents) * multiplier.
type Breakdown struct {
	ArweaveCents uint64 `json:"arweaveCents"`
	BaseFeeCents uint64 `json:"baseFeeCents"`
	MarkupCents  uint64 `json:"markupCents"`
	TotalCents   uint64 `json:"totalCents"`
}

type Quote struct {
	PriceCents uint64    `json:"priceCents"`
	Breakdown  Breakdown `json:"breakdown"`
}

// StorageCostSource reports the permanent-storage cost of size bytes in winston.
type StorageCostSource interface {
	Winston(ctx context.Context, sizeBytes uint64) (*big.Int, error)
}

// RateSource reports the AR/USD exchange rate.
type RateSource interface {
	ARUSD(ctx context.Context) (float64, error)
}

type Engine struct {
	storage          StorageCostSource
	rates            RateSource
	baseFeeCents     uint64
	markupMultiplier uint64
}

func NewEngine(storage StorageCostSource, rates RateSource, baseFeeCents, markupMultiplier uint64) *Engine {
	if markupMultiplier == 0 {
		markupMultiplier = 1
	}
	return &Engine{
		storage:          storage,
		rates:            rates,
		baseFeeCents:     baseFeeCents,
		markupMultiplier: markupMultiplier,
	}
}

// Quote prices sizeBytes at the current network rates.
func (e *Engine) Quote(ctx context.Context, sizeBytes uint64) (*Quote, error) {
	if sizeBytes == 0 {
		return nil, ErrInvalidSize
	}

	winston, err := e.storage.Winston(ctx, sizeBytes)
	if err != nil {
		return nil, fmt.Errorf("storage price: %w", err)
	}
	usd, err := e.rates.ARUSD(ctx)
	if err != nil {
		return nil, fmt.Errorf("ar/usd rate: %w", err)
	}

	cents, err := WinstonToCents(winston, usd)
	if err != nil {
		return nil, err
	}

	b := ComputeBreakdown(cents, e.baseFeeCents, e.markupMultiplier)
	return &Quote{PriceCents: b.TotalCents, Breakdown: b}, nil
}

// WinstonToCents converts a winston amount to USD cents, rounding up.
func WinstonToCents(winston *big.Int, arUSD float64) (uint64, error) {
	if winston == nil || winston.Sign() < 0 {
		return 0, fmt.Errorf("invalid winston amount")
	}
	rate := new(big.Rat)
	if rate.SetFloat64(arUSD) == nil || rate.Sign() <= 0 {
		return 0, fmt.Errorf("invalid ar/usd rate %v", arUSD)
	}

	// cents = winston * rate * 100 / 1e12
	v := new(big.Rat).SetInt(winston)
	v.Mul(v, rate)
	v.Mul(v, big.NewRat(100, 1))
	v.Quo(v, new(big.Rat).SetInt(winstonPerAR))

	q, r := new(big.Int).QuoRem(v.Num(), v.Denom(), new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	if !q.IsUint64() {
		return 0, fmt.Errorf("storage cost overflows cents")
	}
	return q.Uint64(), nil
}

// ComputeBreakdown applies the base fee and markup to the storage cost.
func ComputeBreakdown(arweaveCents, baseFeeCents, markupMultiplier uint64) Breakdown {
	raw := baseFeeCents + arweaveCents
	return Breakdown{
		ArweaveCents: arweaveCents,
		BaseFeeCents: baseFeeCents,
		MarkupCents:  raw * (markupMultiplier - 1),
		TotalCents:   raw * markupMultiplier,
	}
}
