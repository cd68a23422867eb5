// Package strategy glues the trend detector, the trade lifecycle and the
// order desk together into one synchronous tick.
package strategy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hodlbot/internal/desk"
	"hodlbot/internal/money"
	"hodlbot/internal/position"
	"hodlbot/internal/series"
	"hodlbot/internal/trade"
	"hodlbot/internal/trend"
	"hodlbot/internal/venue"
)

type Action string

const (
	Hold  Action = "HOLD"
	Buy   Action = "BUY"
	Sell  Action = "SELL"
	Quote Action = "QUOTE"
)

// Strategy is one synchronous tick over the desk. The engine never runs two
// ticks at once.
type Strategy interface {
	Tick(ctx context.Context, midpoint money.Money, current desk.OrderSet, confirmed desk.FillSet) (desk.OrderSet, desk.FillSet, Report, error)
	Stats() Stats
}

// BookObserver is implemented by strategies that also want the orderbook
// the midpoint was taken from. The engine calls it right before Tick.
type BookObserver interface {
	ObserveBook(book venue.Orderbook)
}

type Config struct {
	Stake  money.Currency
	Quote  money.Currency
	Volume money.Money
	Trend  trend.Config
	Trade  trade.Params
}

// Report describes what one tick saw and did.
type Report struct {
	Midpoint       money.Money
	Classification trend.Classification
	Counts         trend.Counts
	Phase          position.Phase
	Action         Action
	Reason         string
	TradeState     trade.State
	Outcome        trade.Outcome
	Placed         []desk.Order
	Filled         []string
	Position       money.Balances
	Diverged       bool
	Spread         decimal.Decimal
	Err            error
}

type Stats struct {
	Opened  int
	Profit  int
	Loss    int
	Timeout int
	Quotes  int
}

type Option func(*Hodl)

func WithClock(now func() time.Time) Option {
	return func(h *Hodl) { h.now = now }
}

// Hodl buys on a bull trend and holds until the profit target, the stop
// loss or the timeout. At most one trade is open at a time.
type Hodl struct {
	cfg     Config
	desk    *desk.Desk
	tracker *position.Tracker
	trend   *trend.Detector
	trade   *trade.Trade
	stats   Stats
	log     *slog.Logger
	now     func() time.Time
}

func NewHodl(d *desk.Desk, tracker *position.Tracker, cfg Config, logger *slog.Logger, opts ...Option) (*Hodl, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hodl{
		cfg:     cfg,
		desk:    d,
		tracker: tracker,
		log:     logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	detector, err := trend.New(cfg.Trend, cfg.Quote, logger, series.WithClock(h.now))
	if err != nil {
		return nil, err
	}
	h.trend = detector
	return h, nil
}

// Fatal reports whether err means the bookkeeping can no longer be trusted.
func Fatal(err error) bool {
	return errors.Is(err, money.ErrCurrencyMismatch) ||
		errors.Is(err, series.ErrInvalidSample) ||
		errors.Is(err, desk.ErrNegativeFill)
}

// Tick runs one strategy iteration. Only fatal errors are returned; venue
// failures are logged and recorded on the report.
func (h *Hodl) Tick(ctx context.Context, midpoint money.Money, current desk.OrderSet, confirmed desk.FillSet) (desk.OrderSet, desk.FillSet, Report, error) {
	report := Report{Midpoint: midpoint, Action: Hold, Reason: "no_signal"}
	before := h.desk.Len()

	current, confirmed, filled, err := reconcile(h.desk, current, confirmed)
	if err != nil {
		return current, confirmed, report, err
	}
	report.Filled = filled

	class, err := h.trend.Observe(midpoint)
	if err != nil {
		return current, confirmed, report, err
	}
	report.Classification = class
	report.Counts = h.trend.Counts()

	now := h.now()
	if h.trade != nil {
		exitBefore := h.trade.ExitOrderID
		if err := h.trade.Step(ctx, midpoint, now); err != nil {
			if Fatal(err) {
				return current, confirmed, report, err
			}
			h.log.Warn("trade step failed", "error", err)
			report.Err = err
		}
		if h.trade.ExitOrderID != exitBefore {
			report.Action = Sell
			report.Reason = exitReason(h.trade)
		}
		report.TradeState = h.trade.State
		if h.trade.Done() {
			report.Outcome = h.trade.Outcome
			h.record(h.trade.Outcome)
			h.trade = nil
		}
	}

	switch class {
	case trend.Bull:
		if err := h.onBull(ctx, midpoint, now, &report); err != nil {
			return current, confirmed, report, err
		}
	case trend.Bear:
		h.log.Info("bear trend, holding", "bear", report.Counts.Bear, "midpoint", midpoint.String())
		if report.Action == Hold {
			report.Reason = "bear_trend"
		}
	}

	report.Placed = h.desk.Orders()[before:]
	report.Position = h.tracker.Position(ctx)
	report.Diverged = h.tracker.Diverged()
	report.Phase = h.tracker.Phase()
	return openOrders(h.desk), confirmed, report, nil
}

// reconcile applies this tick's fills and reports the orders that were open
// before and are filled now.
func reconcile(d *desk.Desk, current desk.OrderSet, confirmed desk.FillSet) (desk.OrderSet, desk.FillSet, []string, error) {
	wasOpen := make(map[string]bool)
	for _, o := range d.Orders() {
		if o.Status == desk.StatusOpen {
			wasOpen[o.ID] = true
		}
	}
	current, confirmed, err := d.Reconcile(current, confirmed)
	if err != nil {
		return current, confirmed, nil, err
	}
	var filled []string
	for _, o := range d.Orders() {
		if wasOpen[o.ID] && o.IsFilled() {
			filled = append(filled, o.ID)
		}
	}
	return current, confirmed, filled, nil
}

func openOrders(d *desk.Desk) desk.OrderSet {
	open := desk.OrderSet{}
	for _, o := range d.Orders() {
		if o.Status == desk.StatusOpen {
			open[o.ID] = o
		}
	}
	return open
}

// onBull opens a trade when none is in progress. Only fatal errors are
// returned.
func (h *Hodl) onBull(ctx context.Context, midpoint money.Money, now time.Time, report *Report) error {
	if h.trade != nil || h.tracker.Entering() || h.tracker.Exiting() {
		h.log.Debug("bull trend ignored, trade in progress", "phase", h.tracker.Phase())
		if report.Action == Hold {
			report.Reason = "trade_open"
		}
		return nil
	}
	t, err := trade.Open(ctx, h.tracker, h.cfg.Volume, midpoint, now, h.cfg.Trade, h.log)
	if err != nil {
		if Fatal(err) {
			return err
		}
		h.log.Warn("entry not placed", "error", err)
		report.Err = err
		report.Reason = "entry_rejected"
		return nil
	}
	h.trade = t
	h.stats.Opened++
	report.Action = Buy
	report.Reason = "bull_trend"
	report.TradeState = t.State
	return nil
}

func exitReason(t *trade.Trade) string {
	switch t.Outcome {
	case trade.Loss:
		return "stop_loss"
	case trade.Timeout:
		return "timeout"
	default:
		return "profit_target"
	}
}

func (h *Hodl) record(outcome trade.Outcome) {
	switch outcome {
	case trade.Profit:
		h.stats.Profit++
	case trade.Loss:
		h.stats.Loss++
	case trade.Timeout:
		h.stats.Timeout++
	}
}

func (h *Hodl) Stats() Stats {
	return h.stats
}

// Trade returns the open trade, if any.
func (h *Hodl) Trade() *trade.Trade {
	return h.trade
}
