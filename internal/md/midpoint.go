// Package md turns orderbooks into the midpoint stream the strategy trades on.
package md

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"hodlbot/internal/money"
	"hodlbot/internal/venue"
)

var (
	ErrEmptyBook   = errors.New("orderbook side is empty")
	ErrCrossedBook = errors.New("orderbook is crossed")
)

// BookSource is anything that can produce the current orderbook.
type BookSource interface {
	Orderbook(ctx context.Context) (venue.Orderbook, error)
}

var half = decimal.RequireFromString("0.5")

// Midpoint is the mean of the best bid and the best ask.
func Midpoint(book venue.Orderbook) (money.Money, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return money.Money{}, ErrEmptyBook
	}
	bid, ask := book.Bids[0].Price, book.Asks[0].Price
	c, err := bid.Cmp(ask)
	if err != nil {
		return money.Money{}, err
	}
	if c > 0 {
		return money.Money{}, fmt.Errorf("%w: bid %s above ask %s", ErrCrossedBook, bid, ask)
	}
	sum, _ := bid.Add(ask)
	return sum.Mul(half), nil
}

// Spread is best ask minus best bid.
func Spread(book venue.Orderbook) (money.Money, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return money.Money{}, ErrEmptyBook
	}
	return book.Asks[0].Price.Sub(book.Bids[0].Price)
}
