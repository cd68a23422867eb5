package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodlbot/internal/desk"
	"hodlbot/internal/money"
	"hodlbot/internal/position"
	"hodlbot/internal/state"
	"hodlbot/internal/strategy"
	"hodlbot/internal/trade"
	"hodlbot/internal/trend"
	"hodlbot/internal/venue"
)

// scriptedVenue replays midpoints and reports whatever open orders the test
// sets.
type scriptedVenue struct {
	prices  []string
	open    []string
	bookErr error
	seq     int
}

func (v *scriptedVenue) Orderbook(context.Context) (venue.Orderbook, error) {
	if v.bookErr != nil {
		return venue.Orderbook{}, v.bookErr
	}
	p := v.prices[0]
	if len(v.prices) > 1 {
		v.prices = v.prices[1:]
	}
	level := []venue.Level{{Price: money.MustParse(p, "USD")}}
	return venue.Orderbook{Bids: level, Asks: level}, nil
}

func (v *scriptedVenue) Balance(context.Context) (money.Balances, error)  { return money.Balances{}, nil }
func (v *scriptedVenue) Position(context.Context) (money.Balances, error) { return money.Balances{}, nil }
func (v *scriptedVenue) OpenOrders(context.Context) ([]string, error)     { return v.open, nil }

func (v *scriptedVenue) PlaceOrder(context.Context, venue.OrderRequest) (venue.Placement, error) {
	v.seq++
	return venue.Placement{OrderID: fmt.Sprintf("v%d", v.seq), Success: true}, nil
}

func (v *scriptedVenue) CancelOrder(context.Context, string) error { return nil }
func (v *scriptedVenue) MinimumOrderSize() money.Money              { return money.MustParse("0.0001", "BTC") }

type memJournal struct {
	writes [][]desk.Order
}

func (j *memJournal) Record(_ context.Context, orders []desk.Order) error {
	j.writes = append(j.writes, orders)
	return nil
}

type rig struct {
	engine  *Engine
	venue   *scriptedVenue
	journal *memJournal
	store   *state.Store
	logPath string
}

func newRig(t *testing.T, live bool, fills desk.FillSource, prices ...string) *rig {
	t.Helper()
	v := &scriptedVenue{prices: prices}
	opts := []desk.Option{}
	if fills != nil {
		opts = append(opts, desk.WithFillSource(fills))
	}
	d := desk.New(v, opts...)
	profit, loss := decimal.RequireFromString("0.01"), decimal.RequireFromString("0.05")
	tracker := position.NewTracker(d, nil, position.Config{Stake: "BTC", Quote: "USD", TargetedProfitPct: profit, AcceptableLossPct: loss}, nil)
	hodl, err := strategy.NewHodl(d, tracker, strategy.Config{
		Stake:  "BTC",
		Quote:  "USD",
		Volume: money.MustParse("0.01", "BTC"),
		Trend:  trend.Config{BullPeriods: 2, BullTrend: 2, BearPeriods: 2, BearTrend: 2},
		Trade:  trade.Params{Stake: "BTC", Quote: "USD", Timeout: time.Hour, TargetedProfitPct: profit, AcceptableLossPct: loss},
	}, nil)
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	decisions, err := NewDecisionLogger(logPath, "run-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = decisions.Close() })

	r := &rig{venue: v, journal: &memJournal{}, store: state.NewStore("run-test"), logPath: logPath}
	r.engine = New(Config{Symbol: "BTC/USD", Live: live}, v, d, hodl, r.store, decisions, r.journal, nil)
	return r
}

func (r *rig) steps(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, r.engine.Step(context.Background()))
	}
}

func readDecisions(t *testing.T, path string) []Decision {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []Decision
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var d Decision
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		out = append(out, d)
	}
	return out
}

func TestLiveRoundTrip(t *testing.T) {
	r := newRig(t, true, nil, "100", "101", "102", "103", "104", "105")

	r.steps(t, 3)
	assert.Contains(t, r.engine.current, "v1", "market entry is open until the venue drops it")

	r.venue.open = nil
	r.steps(t, 1)
	assert.True(t, r.engine.confirmed.Has("v1"))
	require.Contains(t, r.engine.current, "v2", "limit exit rests")

	r.venue.open = []string{"v2"}
	r.steps(t, 1)
	assert.False(t, r.engine.confirmed.Has("v2"))

	r.venue.open = nil
	r.steps(t, 1)
	assert.True(t, r.engine.confirmed.Has("v2"))

	decisions := readDecisions(t, r.logPath)
	require.Len(t, decisions, 6)
	assert.Equal(t, strategy.Buy, decisions[2].Intent)
	assert.Equal(t, "order_submitted", decisions[2].Result)
	assert.Equal(t, []string{"v1"}, decisions[3].Filled)
	assert.Equal(t, strategy.Sell, decisions[3].Intent)
	assert.Equal(t, string(trade.Profit), decisions[5].Outcome)
	assert.Equal(t, "run-test", decisions[5].RunID)
	assert.Equal(t, 6, decisions[5].Seq)

	snap := r.store.Snapshot()
	assert.Equal(t, 6, snap.Stats.Ticks)
	assert.Equal(t, 1, snap.Stats.Profit)
	assert.Contains(t, snap.ConfirmedFills, "v2")

	var journaled []string
	for _, batch := range r.journal.writes {
		for _, o := range batch {
			journaled = append(journaled, o.ID+":"+string(o.Status))
		}
	}
	assert.Contains(t, journaled, "v1:open")
	assert.Contains(t, journaled, "v1:filled")
	assert.Contains(t, journaled, "v2:filled")
}

// widebook quotes 1 USD either side of the scripted price.
type widebook struct {
	*scriptedVenue
}

func (v widebook) Orderbook(ctx context.Context) (venue.Orderbook, error) {
	book, err := v.scriptedVenue.Orderbook(ctx)
	if err != nil {
		return book, err
	}
	mid := book.Bids[0].Price
	return venue.Orderbook{
		Bids: []venue.Level{{Price: money.New(mid.Amount.Sub(decimal.NewFromInt(1)), "USD")}},
		Asks: []venue.Level{{Price: money.New(mid.Amount.Add(decimal.NewFromInt(1)), "USD")}},
	}, nil
}

func TestMarketMakingSeesTheBook(t *testing.T) {
	v := widebook{&scriptedVenue{prices: []string{"100"}}}
	d := desk.New(v)
	tracker := position.NewTracker(d, nil, position.Config{Stake: "BTC", Quote: "USD"}, nil)
	mm, err := strategy.NewMarketMaking(d, tracker, v, strategy.MarketMakingConfig{
		Stake:            "BTC",
		Quote:            "USD",
		BaseVolume:       money.MustParse("0.01", "BTC"),
		Spread:           decimal.RequireFromString("0.001"),
		SpreadAdjustCoef: decimal.NewFromInt(1),
		SpreadCoefOnLoss: decimal.NewFromInt(2),
	}, nil)
	require.NoError(t, err)

	logPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	decisions, err := NewDecisionLogger(logPath, "run-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = decisions.Close() })
	e := New(Config{Symbol: "BTC/USD"}, v, d, mm, state.NewStore("run-test"), decisions, nil, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Step(context.Background()))
	}
	got := readDecisions(t, logPath)
	require.Len(t, got, 3)
	last := got[2]
	assert.Equal(t, strategy.Quote, last.Intent)
	assert.Equal(t, "0.02", last.Spread, "book spread is the floor")
}

func TestOrderbookFailureSkipsTick(t *testing.T) {
	r := newRig(t, false, nil, "100")
	r.venue.bookErr = errors.New("502 bad gateway")
	r.steps(t, 1)

	decisions := readDecisions(t, r.logPath)
	require.Len(t, decisions, 1)
	assert.Equal(t, "orderbook_failed", decisions[0].Result)
	assert.Equal(t, 0, r.store.Snapshot().Stats.Ticks)
}

func TestRunStopsOnContext(t *testing.T) {
	r := newRig(t, false, desk.NewSimulatedFills(3, 0.5, nil), "100", "101", "102", "101", "103")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, r.engine.Run(ctx, 5*time.Millisecond))
	assert.GreaterOrEqual(t, r.store.Snapshot().Stats.Ticks, 1)
}

func TestDecisionLoggerCreatesDirAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "decisions.ndjson")
	first, err := NewDecisionLogger(path, "run-a", nil)
	require.NoError(t, err)
	first.Append(Decision{Symbol: "BTC/USD", Intent: strategy.Hold, Result: "hold"})
	require.NoError(t, first.Close())

	second, err := NewDecisionLogger(path, "run-b", nil)
	require.NoError(t, err)
	second.Append(Decision{Symbol: "BTC/USD", Intent: strategy.Buy, Result: "order_submitted"})
	assert.Equal(t, 1, second.Written())
	require.NoError(t, second.Close())

	decisions := readDecisions(t, path)
	require.Len(t, decisions, 2)
	assert.Equal(t, "run-a", decisions[0].RunID)
	assert.Equal(t, "run-b", decisions[1].RunID)
	assert.Equal(t, 1, decisions[1].Seq)
}
