// Package desk owns every order placed during a run and derives the
// position those orders imply.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hodlbot/internal/money"
	"hodlbot/internal/risk"
	"hodlbot/internal/venue"
)

var (
	ErrVolumeTooLow    = risk.ErrVolumeTooLow
	ErrPlacementFailed = errors.New("order placement failed")
	ErrUnknownOrder    = errors.New("unknown order")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidOrder    = errors.New("invalid order")
)

// Venue is the part of the venue gateway the desk needs.
type Venue interface {
	PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Placement, error)
	CancelOrder(ctx context.Context, orderID string) error
	MinimumOrderSize() money.Money
}

type Option func(*Desk)

func WithFillSource(src FillSource) Option {
	return func(d *Desk) { d.fills = src }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Desk) {
		if logger != nil {
			d.log = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Desk) { d.now = now }
}

// WithLimits sets the notional cap and kill switch checked before placement.
// The minimum order size always comes from the venue.
func WithLimits(limits risk.Limits) Option {
	return func(d *Desk) { d.limits = limits }
}

func WithIDGenerator(next func() string) Option {
	return func(d *Desk) { d.newID = next }
}

// Desk is the order ledger. Orders are only ever appended; reconciliation
// and cancellation change their status in place.
type Desk struct {
	venue  Venue
	gate   risk.Gate
	limits risk.Limits
	fills  FillSource
	orders map[string]*Order
	index  []string
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(v Venue, opts ...Option) *Desk {
	d := &Desk{
		venue:  v,
		fills:  VenueFills{},
		orders: make(map[string]*Order),
		log:    slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.gate = risk.Gate{Logger: d.log}
	return d
}

func (d *Desk) MarketBid(ctx context.Context, volume, price money.Money) (Order, error) {
	return d.Place(ctx, Bid, Market, volume, price)
}

func (d *Desk) LimitBid(ctx context.Context, volume, price money.Money) (Order, error) {
	return d.Place(ctx, Bid, Limit, volume, price)
}

func (d *Desk) MarketAsk(ctx context.Context, volume, price money.Money) (Order, error) {
	return d.Place(ctx, Ask, Market, volume, price)
}

func (d *Desk) LimitAsk(ctx context.Context, volume, price money.Money) (Order, error) {
	return d.Place(ctx, Ask, Limit, volume, price)
}

// Place sends an order to the venue and records it. Rejected orders never
// reach the ledger.
func (d *Desk) Place(ctx context.Context, mode Mode, kind Kind, volume, price money.Money) (Order, error) {
	if !volume.IsValid() || !price.IsValid() {
		return Order{}, fmt.Errorf("%w: volume %s price %s", ErrInvalidOrder, volume, price)
	}
	limits := d.limits
	limits.MinOrderSize = d.venue.MinimumOrderSize()
	if err := d.gate.Evaluate(risk.Intent{Bid: mode == Bid, Volume: volume, Price: price}, limits); err != nil {
		if errors.Is(err, risk.ErrVolumeTooLow) {
			d.log.Warn("volume too low, order skipped", "mode", mode, "kind", kind, "volume", volume.String())
		}
		return Order{}, err
	}

	token := d.uniqueID()
	placement, err := d.venue.PlaceOrder(ctx, venue.OrderRequest{
		Side:          mode,
		Type:          kind,
		Volume:        volume,
		Price:         price,
		ClientOrderID: token,
	})
	if err != nil {
		d.log.Error("order cannot be placed", "mode", mode, "kind", kind, "volume", volume.String(), "price", price.String(), "error", err)
		return Order{}, fmt.Errorf("%w: %v", ErrPlacementFailed, err)
	}
	if !placement.Success {
		d.log.Error("order cannot be placed", "mode", mode, "kind", kind, "volume", volume.String(), "price", price.String(), "venue_id", placement.OrderID)
		return Order{}, ErrPlacementFailed
	}

	id := placement.OrderID
	if id == "" {
		id = token
	}
	if _, dup := d.orders[id]; dup {
		return Order{}, fmt.Errorf("%w: venue reused id %s", ErrPlacementFailed, id)
	}
	o := newOrder(id, mode, kind, volume, price, d.now())
	d.orders[id] = o
	d.index = append(d.index, id)
	d.log.Info("order placed", "order", o.String())
	return *o, nil
}

func (d *Desk) uniqueID() string {
	for {
		id := d.newID()
		if _, taken := d.orders[id]; !taken {
			return id
		}
	}
}

// Cancel forwards a cancellation to the venue for an open order.
func (d *Desk) Cancel(ctx context.Context, id string) error {
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if o.Status != StatusOpen {
		return fmt.Errorf("%w: cancel %s order %s", ErrNotSupported, o.Status, id)
	}
	if err := d.venue.CancelOrder(ctx, id); err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	o.Status = StatusCancelled
	d.log.Info("order cancelled", "order", o.String())
	return nil
}

// Reconcile marks orders filled according to the fill source and returns the
// orders still open together with every fill confirmed so far.
func (d *Desk) Reconcile(current OrderSet, confirmed FillSet) (OrderSet, FillSet, error) {
	if current == nil {
		current = OrderSet{}
	}
	if confirmed == nil {
		confirmed = FillSet{}
	}

	// fills are computed on copies so a failure leaves the ledger untouched
	type fill struct {
		id    string
		order *Order
		next  Order
	}
	var pending []fill
	for _, id := range d.fills.Fills(d.openOrders(), confirmed) {
		o, ok := d.orders[id]
		if !ok {
			d.log.Debug("fill reported for untracked order", "order_id", id)
			continue
		}
		if o.Status != StatusOpen {
			pending = append(pending, fill{id: id})
			continue
		}
		next := *o
		if _, err := next.Fill(next.Remaining()); err != nil {
			return current, confirmed, err
		}
		pending = append(pending, fill{id: id, order: o, next: next})
	}

	for _, f := range pending {
		confirmed[f.id] = struct{}{}
		delete(current, f.id)
		if f.order == nil {
			continue
		}
		*f.order = f.next
		d.log.Info("order filled", "order", f.order.String())
	}

	for _, o := range d.openOrders() {
		current[o.ID] = o
	}
	return current, confirmed, nil
}

func (d *Desk) openOrders() []Order {
	var open []Order
	for _, id := range d.index {
		if o := d.orders[id]; o.Status == StatusOpen {
			open = append(open, *o)
		}
	}
	return open
}

// EphemeralPosition recomputes the position implied by the ledger. The
// outgoing side of an order is booked when it is placed, the incoming side
// as it fills.
func (d *Desk) EphemeralPosition() money.Balances {
	pos := money.Balances{}
	for _, id := range d.index {
		o := d.orders[id]
		committed := o.Volume
		if o.Status == StatusCancelled {
			committed = o.Filled
		}
		switch o.Mode {
		case Bid:
			if !committed.IsZero() {
				pos.Debit(o.Price.Mul(committed.Amount))
			}
			if !o.Filled.IsZero() {
				pos.Credit(o.Filled)
			}
		case Ask:
			if !committed.IsZero() {
				pos.Debit(committed)
			}
			if !o.Filled.IsZero() {
				pos.Credit(o.Price.Mul(o.Filled.Amount))
			}
		default:
			d.log.Error("unknown order mode", "order", o.String())
		}
	}
	return pos
}

// LastOrderMatching returns the most recent open (filled=false) or filled
// order on the given side. An empty mode matches both sides. Cancelled
// orders never match.
func (d *Desk) LastOrderMatching(mode Mode, filled bool) (Order, bool) {
	want := StatusOpen
	if filled {
		want = StatusFilled
	}
	for i := len(d.index) - 1; i >= 0; i-- {
		o := d.orders[d.index[i]]
		if o.Status != want {
			continue
		}
		if mode != "" && o.Mode != mode {
			continue
		}
		return *o, true
	}
	return Order{}, false
}

func (d *Desk) Get(id string) (Order, bool) {
	o, ok := d.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns the ledger in insertion order.
func (d *Desk) Orders() []Order {
	out := make([]Order, 0, len(d.index))
	for _, id := range d.index {
		out = append(out, *d.orders[id])
	}
	return out
}

func (d *Desk) Len() int {
	return len(d.index)
}
