// Package trade runs a single long trade from its market entry to its exit on
// profit, loss or timeout.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hodlbot/internal/desk"
	"hodlbot/internal/money"
)

type State string

const (
	Idle     State = "idle"
	Entering State = "entering"
	Entered  State = "entered"
	Exiting  State = "exiting"
	Exited   State = "exited"
)

type Outcome string

const (
	Profit  Outcome = "profit"
	Loss    Outcome = "loss"
	Timeout Outcome = "timeout"
)

var (
	ErrEntryRejected = errors.New("entry rejected")
	ErrExitResting   = errors.New("exit order still resting")
)

// Positions is what a trade needs from the position tracker.
type Positions interface {
	MarketEnter(ctx context.Context, volume, price money.Money) (desk.Order, error)
	LimitEnter(ctx context.Context, volume, price money.Money) (desk.Order, error)
	MarketExit(ctx context.Context, price money.Money) (desk.Order, bool, error)
	LimitExit(ctx context.Context, price money.Money) (desk.Order, bool, error)
	ExitProfitPrice(quote, stake money.Currency) (money.Money, bool)
	ExitLossPrice(quote, stake money.Currency) (money.Money, bool)
	Order(id string) (desk.Order, bool)
	Cancel(ctx context.Context, id string) error
}

type Params struct {
	Stake             money.Currency
	Quote             money.Currency
	Timeout           time.Duration
	TargetedProfitPct decimal.Decimal
	AcceptableLossPct decimal.Decimal
	// Entry selects how the entry is placed; empty means a market bid.
	Entry desk.Kind
}

type Trade struct {
	State   State
	Outcome Outcome

	EnteredPrice money.Money
	ExitedPrice  money.Money
	ProfitPrice  money.Money
	LossPrice    money.Money
	EnterOrderID string
	ExitOrderID  string
	EntryTime    time.Time
	Deadline     time.Time

	TargetedProfitPct decimal.Decimal
	AcceptableLossPct decimal.Decimal

	exitCancelled bool
	pos           Positions
	params        Params
	log           *slog.Logger
}

// Open places the entry at the current midpoint, as a market bid or as a
// limit bid resting at the midpoint.
func Open(ctx context.Context, pos Positions, volume, midpoint money.Money, now time.Time, params Params, logger *slog.Logger) (*Trade, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enter := pos.MarketEnter
	if params.Entry == desk.Limit {
		enter = pos.LimitEnter
	}
	o, err := enter(ctx, volume, midpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEntryRejected, err)
	}
	t := &Trade{
		State:             Entering,
		EnteredPrice:      midpoint,
		EnterOrderID:      o.ID,
		EntryTime:         now,
		Deadline:          now.Add(params.Timeout),
		TargetedProfitPct: params.TargetedProfitPct,
		AcceptableLossPct: params.AcceptableLossPct,
		pos:               pos,
		params:            params,
		log:               logger.With("entry", o.ID),
	}
	t.log.Info("trade opened", "volume", volume.String(), "midpoint", midpoint.String(), "deadline", t.Deadline)
	return t, nil
}

func (t *Trade) Done() bool {
	return t.State == Exited
}

// Step advances the trade by one tick. A trade that cannot act this tick
// (missing reference price, rejected order) stays where it is.
func (t *Trade) Step(ctx context.Context, midpoint money.Money, now time.Time) error {
	if t.State == Idle || t.State == Exited {
		return nil
	}
	t.observeFills()
	if t.State == Exited {
		return nil
	}
	if !now.Before(t.Deadline) {
		return t.timeout(ctx, midpoint)
	}

	switch t.State {
	case Entered:
		if t.stopLossHit(midpoint) {
			return t.forceExit(ctx, midpoint, Loss)
		}
		return t.placeExit(ctx, midpoint)
	case Exiting:
		if t.stopLossHit(midpoint) {
			if err := t.cancelExit(ctx); err != nil {
				return err
			}
			return t.forceExit(ctx, midpoint, Loss)
		}
	}
	return nil
}

func (t *Trade) observeFills() {
	switch t.State {
	case Entering:
		o, ok := t.pos.Order(t.EnterOrderID)
		if !ok || !o.IsFilled() {
			return
		}
		t.EnteredPrice = o.Price
		t.State = Entered
		t.ProfitPrice, _ = t.pos.ExitProfitPrice(t.params.Quote, t.params.Stake)
		t.LossPrice, _ = t.pos.ExitLossPrice(t.params.Quote, t.params.Stake)
		t.log.Info("trade entered", "price", o.Price.String(), "profit_price", t.ProfitPrice.String(), "loss_price", t.LossPrice.String())
	case Exiting:
		o, ok := t.pos.Order(t.ExitOrderID)
		if !ok || !o.IsFilled() {
			return
		}
		t.finish(o.Price, Profit)
	}
}

// refreshTargets recomputes the exit prices when they were unavailable at
// entry.
func (t *Trade) refreshTargets() bool {
	if !t.ProfitPrice.IsValid() {
		t.ProfitPrice, _ = t.pos.ExitProfitPrice(t.params.Quote, t.params.Stake)
	}
	if !t.LossPrice.IsValid() {
		t.LossPrice, _ = t.pos.ExitLossPrice(t.params.Quote, t.params.Stake)
	}
	return t.ProfitPrice.IsValid() && t.LossPrice.IsValid()
}

func (t *Trade) stopLossHit(midpoint money.Money) bool {
	if !t.refreshTargets() {
		return false
	}
	c, err := midpoint.Cmp(t.LossPrice)
	return err == nil && c <= 0
}

func (t *Trade) placeExit(ctx context.Context, midpoint money.Money) error {
	if !t.refreshTargets() {
		t.log.Debug("exit price unavailable, deferring")
		return nil
	}
	c, err := t.ProfitPrice.Cmp(midpoint)
	if err != nil {
		return err
	}
	var (
		o      desk.Order
		placed bool
	)
	if c <= 0 {
		o, placed, err = t.pos.MarketExit(ctx, midpoint)
	} else {
		o, placed, err = t.pos.LimitExit(ctx, t.ProfitPrice)
	}
	if err != nil {
		return fmt.Errorf("place exit: %w", err)
	}
	if !placed {
		return nil
	}
	t.ExitOrderID = o.ID
	t.State = Exiting
	t.log.Info("trade exiting", "order", o.String(), "midpoint", midpoint.String())
	return nil
}

// cancelExit cancels the resting exit order. A successful cancel happens at
// most once over the life of the trade; a failed one leaves the trade
// Exiting so the next tick tries again.
func (t *Trade) cancelExit(ctx context.Context) error {
	if t.exitCancelled || t.ExitOrderID == "" {
		return nil
	}
	o, ok := t.pos.Order(t.ExitOrderID)
	if !ok || o.Status != desk.StatusOpen {
		t.exitCancelled = true
		return nil
	}
	if err := t.pos.Cancel(ctx, t.ExitOrderID); err != nil {
		t.log.Error("cannot cancel exit order", "order_id", t.ExitOrderID, "error", err)
		return fmt.Errorf("cancel exit: %w", err)
	}
	t.exitCancelled = true
	return nil
}

func (t *Trade) timeout(ctx context.Context, midpoint money.Money) error {
	t.log.Warn("trade timed out", "state", t.State, "deadline", t.Deadline)
	switch t.State {
	case Entering:
		if o, ok := t.pos.Order(t.EnterOrderID); ok && o.Status == desk.StatusOpen {
			if err := t.pos.Cancel(ctx, t.EnterOrderID); err != nil {
				return fmt.Errorf("cancel entry: %w", err)
			}
		}
	case Exiting:
		if err := t.cancelExit(ctx); err != nil {
			return err
		}
	}
	return t.forceExit(ctx, midpoint, Timeout)
}

func (t *Trade) forceExit(ctx context.Context, midpoint money.Money, outcome Outcome) error {
	o, placed, err := t.pos.MarketExit(ctx, midpoint)
	if err != nil {
		return fmt.Errorf("forced exit: %w", err)
	}
	if placed {
		t.ExitOrderID = o.ID
	} else if resting, ok := t.pos.Order(t.ExitOrderID); ok && resting.Status == desk.StatusOpen {
		return fmt.Errorf("forced exit: %w: %s", ErrExitResting, resting.ID)
	}
	t.finish(midpoint, outcome)
	return nil
}

func (t *Trade) finish(price money.Money, outcome Outcome) {
	t.State = Exited
	t.Outcome = outcome
	t.ExitedPrice = price
	t.log.Info("trade exited", "outcome", outcome, "price", price.String(), "exit", t.ExitOrderID)
}
