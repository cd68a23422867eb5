// Package position answers questions about the position built up by the
// orders on the desk.
package position

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"hodlbot/internal/desk"
	"hodlbot/internal/money"
)

// Source reports the authoritative position held on the venue.
type Source interface {
	Position(ctx context.Context) (money.Balances, error)
}

type Phase string

const (
	NoPosition   Phase = "no_position"
	EnterPending Phase = "enter_pending"
	Entered      Phase = "entered"
	ExitPending  Phase = "exit_pending"
	Exited       Phase = "exited"
)

type Config struct {
	Stake             money.Currency
	Quote             money.Currency
	TargetedProfitPct decimal.Decimal
	AcceptableLossPct decimal.Decimal
}

type Tracker struct {
	desk     *desk.Desk
	source   Source
	cfg      Config
	log      *slog.Logger
	baseline money.Balances
	diverged bool
}

// NewTracker wraps the desk. source may be nil, in which case the venue
// position is never consulted.
func NewTracker(d *desk.Desk, source Source, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{desk: d, source: source, cfg: cfg, log: logger}
}

// Position returns the ephemeral position computed from the desk. The venue
// position, taken relative to the first one observed, is only used to warn
// about stale bookkeeping.
func (t *Tracker) Position(ctx context.Context) money.Balances {
	pos := t.desk.EphemeralPosition()
	if t.source == nil {
		return pos
	}
	venuePos, err := t.source.Position(ctx)
	if err != nil {
		t.log.Warn("venue position unavailable", "error", err)
		return pos
	}
	if t.baseline == nil {
		t.baseline = venuePos.Clone()
	}
	delta := venuePos.Sub(t.baseline)
	if !delta.Equal(pos) {
		if !t.diverged {
			t.log.Warn("ephemeral position diverges from venue", "ephemeral", pos.String(), "venue_delta", delta.String())
		}
		t.diverged = true
	} else {
		t.diverged = false
	}
	return pos
}

func (t *Tracker) Diverged() bool {
	return t.diverged
}

// referencePrice is the quote paid per unit of stake held.
func (t *Tracker) referencePrice(pos money.Balances, quote, stake money.Currency) (money.Money, bool) {
	q, okQ := pos.Get(quote)
	s, okS := pos.Get(stake)
	if !okQ || !okS || s.IsZero() {
		return money.Money{}, false
	}
	return q.Neg().Div(s.Amount), true
}

func (t *Tracker) ExitLossPrice(quote, stake money.Currency) (money.Money, bool) {
	price, ok := t.referencePrice(t.desk.EphemeralPosition(), quote, stake)
	if !ok {
		return money.Money{}, false
	}
	return price.Mul(decimal.NewFromInt(1).Sub(t.cfg.AcceptableLossPct)), true
}

func (t *Tracker) ExitProfitPrice(quote, stake money.Currency) (money.Money, bool) {
	price, ok := t.referencePrice(t.desk.EphemeralPosition(), quote, stake)
	if !ok {
		return money.Money{}, false
	}
	return price.Mul(decimal.NewFromInt(1).Add(t.cfg.TargetedProfitPct)), true
}

func (t *Tracker) lastIs(mode desk.Mode, filled bool) bool {
	o, ok := t.desk.LastOrderMatching("", filled)
	return ok && o.Mode == mode
}

func (t *Tracker) Entering() bool { return t.lastIs(desk.Bid, false) }
func (t *Tracker) Exiting() bool  { return t.lastIs(desk.Ask, false) }
func (t *Tracker) Entered() bool  { return t.lastIs(desk.Bid, true) }
func (t *Tracker) Exited() bool   { return t.lastIs(desk.Ask, true) }

func (t *Tracker) Phase() Phase {
	switch {
	case t.Exiting():
		return ExitPending
	case t.Entering():
		return EnterPending
	case t.Entered():
		return Entered
	case t.Exited():
		return Exited
	default:
		return NoPosition
	}
}

func (t *Tracker) MarketEnter(ctx context.Context, volume, price money.Money) (desk.Order, error) {
	return t.desk.MarketBid(ctx, volume, price)
}

func (t *Tracker) LimitEnter(ctx context.Context, volume, price money.Money) (desk.Order, error) {
	return t.desk.LimitBid(ctx, volume, price)
}

// MarketExit sells the whole stake balance. ok is false when there is
// nothing to sell.
func (t *Tracker) MarketExit(ctx context.Context, price money.Money) (desk.Order, bool, error) {
	volume, ok := t.exitVolume()
	if !ok {
		return desk.Order{}, false, nil
	}
	o, err := t.desk.MarketAsk(ctx, volume, price)
	return o, err == nil, err
}

func (t *Tracker) LimitExit(ctx context.Context, price money.Money) (desk.Order, bool, error) {
	volume, ok := t.exitVolume()
	if !ok {
		return desk.Order{}, false, nil
	}
	o, err := t.desk.LimitAsk(ctx, volume, price)
	return o, err == nil, err
}

func (t *Tracker) exitVolume() (money.Money, bool) {
	volume, ok := t.desk.EphemeralPosition().Get(t.cfg.Stake)
	if !ok || volume.Sign() <= 0 {
		t.log.Warn("attempted exit without position", "stake", t.cfg.Stake)
		return money.Money{}, false
	}
	return volume, true
}

func (t *Tracker) Order(id string) (desk.Order, bool) {
	return t.desk.Get(id)
}

func (t *Tracker) Cancel(ctx context.Context, id string) error {
	return t.desk.Cancel(ctx, id)
}

func (t *Tracker) Config() Config {
	return t.cfg
}
