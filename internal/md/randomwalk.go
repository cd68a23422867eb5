package md

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"

	"hodlbot/internal/money"
	"hodlbot/internal/venue"
)

type RandomWalkConfig struct {
	Seed  int64
	Start money.Money
	// Step is the largest relative move per call, e.g. 0.002.
	Step decimal.Decimal
	// Spread is the relative distance between best bid and best ask.
	Spread decimal.Decimal
	Depth  money.Money
}

// RandomWalk is a synthetic book source for offline runs. The same seed
// always yields the same sequence of books.
type RandomWalk struct {
	cfg   RandomWalkConfig
	rng   *rand.Rand
	price decimal.Decimal
}

func NewRandomWalk(cfg RandomWalkConfig) *RandomWalk {
	return &RandomWalk{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		price: cfg.Start.Amount,
	}
}

func (w *RandomWalk) Orderbook(ctx context.Context) (venue.Orderbook, error) {
	if err := ctx.Err(); err != nil {
		return venue.Orderbook{}, err
	}
	move := decimal.NewFromFloat(w.rng.Float64()*2 - 1).Mul(w.cfg.Step)
	w.price = w.price.Mul(decimal.NewFromInt(1).Add(move)).Round(2)

	halfSpread := w.price.Mul(w.cfg.Spread).Div(decimal.NewFromInt(2))
	quote := w.cfg.Start.Currency
	return venue.Orderbook{
		Bids: []venue.Level{{Price: money.New(w.price.Sub(halfSpread), quote), Volume: w.cfg.Depth}},
		Asks: []venue.Level{{Price: money.New(w.price.Add(halfSpread), quote), Volume: w.cfg.Depth}},
	}, nil
}
