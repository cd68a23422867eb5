package desk

import (
	"errors"
	"fmt"
	"time"

	"hodlbot/internal/money"
	"hodlbot/internal/venue"
)

var ErrNegativeFill = errors.New("negative fill volume")

type Mode = venue.Side

const (
	Bid = venue.Bid
	Ask = venue.Ask
)

type Kind = venue.OrderType

const (
	Market = venue.Market
	Limit  = venue.Limit
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Order is one order placed during the run. Price is the execution-time
// estimate for market orders. Volume and Filled are in the traded currency,
// Price in the quote currency.
type Order struct {
	ID       string
	Mode     Mode
	Kind     Kind
	Price    money.Money
	Volume   money.Money
	Filled   money.Money
	PlacedAt time.Time
	Status   Status
}

func newOrder(id string, mode Mode, kind Kind, volume, price money.Money, at time.Time) *Order {
	return &Order{
		ID:       id,
		Mode:     mode,
		Kind:     kind,
		Price:    price,
		Volume:   volume,
		Filled:   money.Zero(volume.Currency),
		PlacedAt: at,
		Status:   StatusOpen,
	}
}

func (o Order) IsFilled() bool {
	return o.Filled.Amount.Equal(o.Volume.Amount)
}

func (o Order) Remaining() money.Money {
	r, _ := o.Volume.Sub(o.Filled)
	return r
}

// Fill applies up to volume to the order and returns the part of volume that
// did not fit.
func (o *Order) Fill(volume money.Money) (money.Money, error) {
	if volume.Sign() < 0 {
		return money.Money{}, fmt.Errorf("%w: order %s given %s", ErrNegativeFill, o.ID, volume)
	}
	remaining, err := o.Volume.Sub(o.Filled)
	if err != nil {
		return money.Money{}, err
	}
	if volume.Currency != remaining.Currency {
		return money.Money{}, fmt.Errorf("fill order %s: %w", o.ID, money.ErrCurrencyMismatch)
	}
	applied := volume
	if volume.Amount.GreaterThan(remaining.Amount) {
		applied = remaining
	}
	o.Filled, _ = o.Filled.Add(applied)
	if o.IsFilled() {
		o.Status = StatusFilled
	}
	leftover, _ := volume.Sub(applied)
	return leftover, nil
}

func (o Order) String() string {
	return fmt.Sprintf("%s: %s %s %s @ %s (%s)", o.ID, o.Kind, o.Mode, o.Volume, o.Price, o.Status)
}

// OrderSet maps order ids to orders, as exchanged with the tick driver.
type OrderSet map[string]Order

// FillSet holds ids of orders confirmed filled.
type FillSet map[string]struct{}

func NewFillSet(ids ...string) FillSet {
	s := make(FillSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s FillSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
