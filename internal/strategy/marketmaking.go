package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"hodlbot/internal/desk"
	"hodlbot/internal/md"
	"hodlbot/internal/money"
	"hodlbot/internal/position"
	"hodlbot/internal/risk"
	"hodlbot/internal/venue"
)

var ErrInvalidMarketMaking = errors.New("invalid market making config")

// Funds reports the balances held on the venue when the run starts.
type Funds interface {
	Balance(ctx context.Context) (money.Balances, error)
}

type MarketMakingConfig struct {
	Stake      money.Currency
	Quote      money.Currency
	BaseVolume money.Money
	// Spread is the initial distance between bid and ask, relative to the
	// midpoint. Quotes sit half of it on each side.
	Spread decimal.Decimal
	// SpreadAdjustCoef scales the change in volatility added to the spread
	// every tick.
	SpreadAdjustCoef decimal.Decimal
	// SpreadCoefOnLoss multiplies the spread when the midpoint escapes the
	// previous quotes.
	SpreadCoefOnLoss decimal.Decimal
	// MinSpread bounds the spread from below; the book's own spread is a
	// second floor.
	MinSpread decimal.Decimal
}

func (c MarketMakingConfig) Validate() error {
	if c.Stake == "" || c.Quote == "" || c.Stake == c.Quote {
		return fmt.Errorf("%w: currencies %q/%q", ErrInvalidMarketMaking, c.Stake, c.Quote)
	}
	if c.BaseVolume.Currency != c.Stake || !c.BaseVolume.Amount.IsPositive() {
		return fmt.Errorf("%w: base volume %s", ErrInvalidMarketMaking, c.BaseVolume)
	}
	if !c.Spread.IsPositive() || c.MinSpread.IsNegative() {
		return fmt.Errorf("%w: spread %s min %s", ErrInvalidMarketMaking, c.Spread, c.MinSpread)
	}
	if !c.SpreadCoefOnLoss.GreaterThan(c.SpreadAdjustCoef) {
		return fmt.Errorf("%w: spread coef on loss %s must exceed adjust coef %s", ErrInvalidMarketMaking, c.SpreadCoefOnLoss, c.SpreadAdjustCoef)
	}
	return nil
}

// MarketMaking quotes a limit bid and a limit ask around the midpoint and
// replaces both every tick. The spread follows the change in tick-to-tick
// volatility and widens sharply when the midpoint moves past a quote.
type MarketMaking struct {
	cfg     MarketMakingConfig
	desk    *desk.Desk
	tracker *position.Tracker
	funds   Funds
	log     *slog.Logger

	spread     decimal.Decimal
	bookSpread decimal.Decimal

	lastMidpoint  money.Money
	hasMidpoint   bool
	volatility    decimal.Decimal
	hasVolatility bool
	lastBid       money.Money
	lastAsk       money.Money
	hasQuotes     bool

	baseline money.Balances
	stats    Stats
}

// NewMarketMaking builds the strategy. funds may be nil, in which case only
// what the desk has bought or sold during the run can be quoted.
func NewMarketMaking(d *desk.Desk, tracker *position.Tracker, funds Funds, cfg MarketMakingConfig, logger *slog.Logger) (*MarketMaking, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketMaking{
		cfg:     cfg,
		desk:    d,
		tracker: tracker,
		funds:   funds,
		log:     logger.With("strategy", "market_making"),
		spread:  cfg.Spread,
	}, nil
}

// ObserveBook keeps the book's relative spread as a floor for our own.
func (m *MarketMaking) ObserveBook(book venue.Orderbook) {
	mid, err := md.Midpoint(book)
	if err != nil || mid.IsZero() {
		return
	}
	width, err := md.Spread(book)
	if err != nil {
		return
	}
	m.bookSpread = width.Amount.Div(mid.Amount)
}

func (m *MarketMaking) Tick(ctx context.Context, midpoint money.Money, current desk.OrderSet, confirmed desk.FillSet) (desk.OrderSet, desk.FillSet, Report, error) {
	report := Report{Midpoint: midpoint, Action: Hold, Reason: "warming_up"}
	if midpoint.Currency != m.cfg.Quote {
		return current, confirmed, report, fmt.Errorf("midpoint %s: %w", midpoint, money.ErrCurrencyMismatch)
	}
	before := m.desk.Len()

	current, confirmed, filled, err := reconcile(m.desk, current, confirmed)
	if err != nil {
		return current, confirmed, report, err
	}
	report.Filled = filled

	m.refreshSpread(midpoint, &report)
	report.Spread = m.spread

	if report.Reason != "warming_up" {
		if err := m.requote(ctx, midpoint, &report); err != nil {
			return current, confirmed, report, err
		}
	}

	report.Placed = m.desk.Orders()[before:]
	report.Position = m.tracker.Position(ctx)
	report.Diverged = m.tracker.Diverged()
	report.Phase = m.tracker.Phase()
	return openOrders(m.desk), confirmed, report, nil
}

// refreshSpread updates volatility and spread from the new midpoint. The
// first two ticks only collect a midpoint and a volatility.
func (m *MarketMaking) refreshSpread(midpoint money.Money, report *Report) {
	if !m.hasMidpoint {
		m.lastMidpoint, m.hasMidpoint = midpoint, true
		return
	}
	last := m.lastMidpoint
	m.lastMidpoint = midpoint
	if last.IsZero() {
		return
	}

	if m.hasQuotes && (m.lastAsk.Amount.LessThan(midpoint.Amount) || m.lastBid.Amount.GreaterThan(midpoint.Amount)) {
		m.spread = m.spread.Mul(m.cfg.SpreadCoefOnLoss)
		m.log.Warn("midpoint escaped quotes, widening spread", "bid", m.lastBid.String(), "ask", m.lastAsk.String(), "midpoint", midpoint.String(), "spread", m.spread.String())
		report.Reason = "spread_widened"
	}

	vol := midpoint.Amount.Sub(last.Amount).Abs().Div(last.Amount)
	if !m.hasVolatility {
		m.volatility, m.hasVolatility = vol, true
		return
	}
	m.spread = m.cfg.SpreadAdjustCoef.Mul(vol.Sub(m.volatility)).Add(m.spread)
	m.volatility = vol
	if floor := decimal.Max(m.cfg.MinSpread, m.bookSpread); m.spread.LessThan(floor) {
		m.spread = floor
	}
	if report.Reason == "warming_up" {
		report.Reason = "quotes_refreshed"
	}
	m.log.Debug("spread adjusted", "volatility", vol.String(), "spread", m.spread.String())
}

// requote cancels every open order and places a fresh bid and ask sized
// against the position taken so far.
func (m *MarketMaking) requote(ctx context.Context, midpoint money.Money, report *Report) error {
	for _, o := range m.desk.Orders() {
		if o.Status != desk.StatusOpen {
			continue
		}
		if err := m.desk.Cancel(ctx, o.ID); err != nil {
			m.log.Warn("quote not cancelled", "order_id", o.ID, "error", err)
			report.Err = err
		}
	}

	half := m.spread.Div(decimal.NewFromInt(2))
	bidPrice := midpoint.Mul(decimal.NewFromInt(1).Sub(half))
	askPrice := midpoint.Mul(decimal.NewFromInt(1).Add(half))
	bidVolume, askVolume := m.sizing()

	available := m.available(ctx)
	quoteFunds, _ := available.Get(m.cfg.Quote)
	stakeFunds, _ := available.Get(m.cfg.Stake)

	if bidVolume.Amount.IsPositive() && quoteFunds.Amount.GreaterThan(bidPrice.Amount.Mul(bidVolume.Amount)) {
		if err := m.place(ctx, desk.Bid, bidVolume, bidPrice, report); err != nil {
			return err
		}
	}
	// never offer more stake than is held
	if askVolume.Amount.GreaterThan(stakeFunds.Amount) {
		askVolume = money.New(decimal.Max(decimal.Zero, stakeFunds.Amount), m.cfg.Stake)
	}
	if askVolume.Amount.IsPositive() {
		if err := m.place(ctx, desk.Ask, askVolume, askPrice, report); err != nil {
			return err
		}
	}
	m.lastBid, m.lastAsk, m.hasQuotes = bidPrice, askPrice, true
	m.stats.Quotes++
	report.Action = Quote
	return nil
}

// sizing grows the side that would flatten the position: a long position
// adds to the ask, a short one to the bid.
func (m *MarketMaking) sizing() (bid, ask money.Money) {
	held := decimal.Zero
	if s, ok := m.desk.EphemeralPosition().Get(m.cfg.Stake); ok {
		held = s.Amount
	}
	base := m.cfg.BaseVolume.Amount
	bid = money.New(base.Add(decimal.Max(decimal.Zero, held.Neg())), m.cfg.Stake)
	ask = money.New(base.Add(decimal.Max(decimal.Zero, held)), m.cfg.Stake)
	return bid, ask
}

// available is the venue balance at start plus what the ledger has moved
// since, with open orders already booked against it.
func (m *MarketMaking) available(ctx context.Context) money.Balances {
	if m.baseline == nil && m.funds != nil {
		b, err := m.funds.Balance(ctx)
		if err != nil {
			m.log.Warn("venue balance unavailable", "error", err)
		} else {
			m.baseline = b.Clone()
		}
	}
	out := m.baseline.Clone()
	for _, amount := range m.desk.EphemeralPosition() {
		out.Credit(amount)
	}
	return out
}

func (m *MarketMaking) place(ctx context.Context, mode desk.Mode, volume, price money.Money, report *Report) error {
	_, err := m.desk.Place(ctx, mode, desk.Limit, volume, price)
	if err == nil {
		return nil
	}
	if Fatal(err) {
		return err
	}
	if !errors.Is(err, risk.ErrVolumeTooLow) {
		report.Err = err
	}
	m.log.Warn("quote not placed", "mode", mode, "volume", volume.String(), "price", price.String(), "error", err)
	return nil
}

func (m *MarketMaking) Stats() Stats {
	return m.stats
}
