// Package engine drives the strategy one tick at a time and records what
// each tick did.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"hodlbot/internal/desk"
	"hodlbot/internal/md"
	"hodlbot/internal/metrics"
	"hodlbot/internal/money"
	"hodlbot/internal/state"
	"hodlbot/internal/strategy"
	"hodlbot/internal/venue"
)

// Journal persists orders as their status changes.
type Journal interface {
	Record(ctx context.Context, orders []desk.Order) error
}

type Config struct {
	Symbol string
	// Live confirms fills against the venue's open orders. Dry runs leave
	// fills to the desk's own fill source.
	Live bool
}

type Engine struct {
	cfg       Config
	gateway   venue.Gateway
	desk      *desk.Desk
	strategy  strategy.Strategy
	state     *state.Store
	decisions *DecisionLogger
	journal   Journal
	log       *slog.Logger
	now       func() time.Time

	current   desk.OrderSet
	confirmed desk.FillSet
	journaled map[string]desk.Status
}

func New(cfg Config, gateway venue.Gateway, d *desk.Desk, s strategy.Strategy, stateStore *state.Store, decisions *DecisionLogger, journal Journal, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		desk:      d,
		strategy:  s,
		state:     stateStore,
		decisions: decisions,
		journal:   journal,
		log:       logger,
		now:       time.Now,
		current:   desk.OrderSet{},
		confirmed: desk.FillSet{},
		journaled: map[string]desk.Status{},
	}
}

// Run ticks every interval until ctx is done or a tick fails fatally. Ticks
// never overlap.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if err := e.Step(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Step runs a single tick. Venue failures skip the tick; only errors that
// leave the bookkeeping untrustworthy are returned.
func (e *Engine) Step(ctx context.Context) error {
	decision := Decision{Timestamp: e.now().UTC(), Symbol: e.cfg.Symbol, Intent: strategy.Hold}

	book, err := e.gateway.Orderbook(ctx)
	if err != nil {
		e.skip(decision, "orderbook_failed", err)
		return nil
	}
	midpoint, err := md.Midpoint(book)
	if err != nil {
		e.skip(decision, "midpoint_failed", err)
		return nil
	}
	decision.Midpoint = midpoint.String()

	if e.cfg.Live {
		e.confirmed = confirmFills(ctx, e.gateway, e.current, e.confirmed, e.log)
	}
	if observer, ok := e.strategy.(strategy.BookObserver); ok {
		observer.ObserveBook(book)
	}

	current, confirmed, report, err := e.strategy.Tick(ctx, midpoint, e.current, e.confirmed)
	if err != nil {
		decision.Result = "fatal"
		decision.RejectReason = err.Error()
		e.append(decision)
		metrics.TicksTotal.WithLabelValues(e.cfg.Symbol, "fatal").Inc()
		e.log.Error("tick failed", "midpoint", midpoint.String(), "error", err)
		return err
	}
	e.current, e.confirmed = current, confirmed

	decision.Classification = string(report.Classification)
	decision.BullCount = report.Counts.Bull
	decision.BearCount = report.Counts.Bear
	decision.Phase = string(report.Phase)
	decision.Intent = report.Action
	decision.Reason = report.Reason
	decision.TradeState = string(report.TradeState)
	decision.Outcome = string(report.Outcome)
	decision.Filled = report.Filled
	decision.Position = report.Position.String()
	if !report.Spread.IsZero() {
		decision.Spread = report.Spread.String()
	}
	for _, o := range report.Placed {
		decision.OrderIDs = append(decision.OrderIDs, o.ID)
	}
	decision.Result = "hold"
	if len(report.Placed) > 0 {
		decision.Result = "order_submitted"
	}
	if report.Err != nil {
		decision.Result = "order_failed"
		decision.RejectReason = report.Err.Error()
	}
	e.append(decision)

	e.observe(midpoint, report)
	e.snapshot(decision.Timestamp, midpoint, report)
	e.record(ctx)

	e.log.Info("tick",
		"midpoint", midpoint.String(),
		"trend", report.Classification,
		"bull", report.Counts.Bull,
		"bear", report.Counts.Bear,
		"phase", report.Phase,
		"intent", report.Action,
		"reason", report.Reason,
		"position", report.Position.String(),
	)
	return nil
}

func (e *Engine) skip(decision Decision, result string, err error) {
	decision.Result = result
	decision.RejectReason = err.Error()
	e.append(decision)
	metrics.TicksTotal.WithLabelValues(e.cfg.Symbol, result).Inc()
	e.log.Warn("tick skipped", "result", result, "error", err)
}

func (e *Engine) append(decision Decision) {
	if e.decisions != nil {
		e.decisions.Append(decision)
	}
}

func (e *Engine) observe(midpoint money.Money, report strategy.Report) {
	sym := e.cfg.Symbol
	metrics.TicksTotal.WithLabelValues(sym, "ok").Inc()
	metrics.Midpoint.WithLabelValues(sym).Set(midpoint.Amount.InexactFloat64())
	metrics.TrendCount.WithLabelValues(sym, "bull").Set(float64(report.Counts.Bull))
	metrics.TrendCount.WithLabelValues(sym, "bear").Set(float64(report.Counts.Bear))
	for _, o := range report.Placed {
		metrics.OrdersTotal.WithLabelValues(sym, string(o.Mode), string(o.Kind)).Inc()
	}
	metrics.FillsTotal.WithLabelValues(sym).Add(float64(len(report.Filled)))
	if report.Outcome != "" {
		metrics.TradesTotal.WithLabelValues(sym, string(report.Outcome)).Inc()
	}
	for c, m := range report.Position {
		metrics.PositionBalance.WithLabelValues(string(c)).Set(m.Amount.InexactFloat64())
	}
	if report.Diverged {
		metrics.PositionDiverged.Set(1)
	} else {
		metrics.PositionDiverged.Set(0)
	}
}

func (e *Engine) snapshot(at time.Time, midpoint money.Money, report strategy.Report) {
	if e.state == nil {
		return
	}
	e.state.RecordTick(at, midpoint, string(report.Classification), string(report.Phase), string(report.TradeState))
	e.state.UpdatePosition(report.Position)
	open := make(map[string]state.OpenOrder, len(e.current))
	for id, o := range e.current {
		open[id] = state.OpenOrder{OrderID: id, Mode: string(o.Mode), Kind: string(o.Kind), Volume: o.Volume, Price: o.Price}
	}
	e.state.SetOpenOrders(open)
	fills := make([]string, 0, len(e.confirmed))
	for id := range e.confirmed {
		fills = append(fills, id)
	}
	sort.Strings(fills)
	e.state.SetConfirmedFills(fills)
	if report.Action == strategy.Buy {
		e.state.SetLastTradeTime(at)
	}
	if report.Outcome != "" {
		e.state.RecordOutcome(string(report.Outcome))
	}
}

// record journals every order whose status changed since the last tick.
func (e *Engine) record(ctx context.Context) {
	if e.journal == nil {
		return
	}
	var changed []desk.Order
	for _, o := range e.desk.Orders() {
		if e.journaled[o.ID] != o.Status {
			changed = append(changed, o)
		}
	}
	if len(changed) == 0 {
		return
	}
	if err := e.journal.Record(ctx, changed); err != nil {
		e.log.Error("journal write failed", "orders", len(changed), "error", err)
		return
	}
	for _, o := range changed {
		e.journaled[o.ID] = o.Status
	}
}
