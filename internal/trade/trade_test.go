package trade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodlbot/internal/desk"
	"hodlbot/internal/money"
	"hodlbot/internal/position"
	"hodlbot/internal/venue"
)

type recordingVenue struct {
	placed      []venue.OrderRequest
	cancelled   []string
	failCancels int
}

func (v *recordingVenue) PlaceOrder(_ context.Context, req venue.OrderRequest) (venue.Placement, error) {
	v.placed = append(v.placed, req)
	return venue.Placement{Success: true}, nil
}

func (v *recordingVenue) CancelOrder(_ context.Context, id string) error {
	if v.failCancels > 0 {
		v.failCancels--
		return errors.New("venue busy")
	}
	v.cancelled = append(v.cancelled, id)
	return nil
}

func (v *recordingVenue) MinimumOrderSize() money.Money { return money.MustParse("0.001", "BTC") }

// harness fills every open order whenever fill is set.
type harness struct {
	venue   *recordingVenue
	desk    *desk.Desk
	tracker *position.Tracker
	fill    bool
}

func newHarness() *harness {
	h := &harness{venue: &recordingVenue{}}
	n := 0
	h.desk = desk.New(h.venue,
		desk.WithIDGenerator(func() string { n++; return fmt.Sprintf("o%d", n) }),
		desk.WithFillSource(desk.FillFunc(func(open []desk.Order, _ desk.FillSet) []string {
			if !h.fill {
				return nil
			}
			var ids []string
			for _, o := range open {
				ids = append(ids, o.ID)
			}
			return ids
		})))
	h.tracker = position.NewTracker(h.desk, nil, position.Config{
		Stake:             "BTC",
		Quote:             "EUR",
		TargetedProfitPct: testParams.TargetedProfitPct,
		AcceptableLossPct: testParams.AcceptableLossPct,
	}, nil)
	return h
}

func (h *harness) reconcile(t *testing.T, fill bool) {
	t.Helper()
	h.fill = fill
	_, _, err := h.desk.Reconcile(nil, nil)
	require.NoError(t, err)
}

var (
	start      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	testParams = Params{
		Stake:             "BTC",
		Quote:             "EUR",
		Timeout:           time.Minute,
		TargetedProfitPct: decimal.RequireFromString("0.1"),
		AcceptableLossPct: decimal.RequireFromString("0.05"),
	}
)

func btc(v string) money.Money { return money.MustParse(v, "BTC") }
func eur(v string) money.Money { return money.MustParse(v, "EUR") }

func openTrade(t *testing.T, h *harness) *Trade {
	t.Helper()
	tr, err := Open(context.Background(), h.tracker, btc("0.01"), eur("100"), start, testParams, nil)
	require.NoError(t, err)
	require.Equal(t, Entering, tr.State)
	return tr
}

func TestTradeExitsWithProfitThroughLimitOrder(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	ctx := context.Background()

	require.NoError(t, tr.Step(ctx, eur("100"), start.Add(time.Second)))
	assert.Equal(t, Entering, tr.State, "entry not filled yet")

	h.reconcile(t, true)
	require.NoError(t, tr.Step(ctx, eur("101"), start.Add(2*time.Second)))
	assert.Equal(t, Exiting, tr.State)
	assert.True(t, tr.ProfitPrice.Equal(eur("110")))
	assert.True(t, tr.LossPrice.Equal(eur("95")))

	exit, ok := h.desk.Get(tr.ExitOrderID)
	require.True(t, ok)
	assert.Equal(t, desk.Limit, exit.Kind)
	assert.True(t, exit.Price.Equal(eur("110")))

	h.reconcile(t, true)
	require.NoError(t, tr.Step(ctx, eur("109"), start.Add(3*time.Second)))
	assert.Equal(t, Exited, tr.State)
	assert.Equal(t, Profit, tr.Outcome)
	assert.True(t, tr.ExitedPrice.Equal(eur("110")))
	assert.True(t, tr.Done())
}

func TestTradeMarketExitWhenTargetAlreadyReached(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	h.reconcile(t, true)

	require.NoError(t, tr.Step(context.Background(), eur("111"), start.Add(time.Second)))
	assert.Equal(t, Exiting, tr.State)
	exit, _ := h.desk.Get(tr.ExitOrderID)
	assert.Equal(t, desk.Market, exit.Kind)
	assert.Equal(t, desk.Ask, exit.Mode)
}

func TestTradeTimeoutCancelsRestingExitOnce(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	ctx := context.Background()
	h.reconcile(t, true)
	require.NoError(t, tr.Step(ctx, eur("101"), start.Add(time.Second)))
	require.Equal(t, Exiting, tr.State)
	resting := tr.ExitOrderID

	h.fill = false
	require.NoError(t, tr.Step(ctx, eur("130"), start.Add(time.Minute)))
	assert.Equal(t, Exited, tr.State)
	assert.Equal(t, Timeout, tr.Outcome, "timeout wins over a profitable midpoint")
	assert.Equal(t, []string{resting}, h.venue.cancelled)

	require.NoError(t, tr.Step(ctx, eur("130"), start.Add(2*time.Minute)))
	assert.Len(t, h.venue.cancelled, 1)

	forced, ok := h.desk.Get(tr.ExitOrderID)
	require.True(t, ok)
	assert.Equal(t, desk.Market, forced.Kind)
	assert.True(t, forced.Volume.Equal(btc("0.01")))
}

func TestTradeTimeoutRetriesFailedExitCancel(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	ctx := context.Background()
	h.reconcile(t, true)
	require.NoError(t, tr.Step(ctx, eur("101"), start.Add(time.Second)))
	require.Equal(t, Exiting, tr.State)
	resting := tr.ExitOrderID

	h.fill = false
	h.venue.failCancels = 1
	err := tr.Step(ctx, eur("101"), start.Add(time.Minute))
	require.Error(t, err)
	assert.Equal(t, Exiting, tr.State, "trade stays open while its exit still rests")
	assert.Equal(t, resting, tr.ExitOrderID)
	assert.Len(t, h.venue.placed, 2, "no forced exit while the stake is locked")
	o, _ := h.desk.Get(resting)
	assert.Equal(t, desk.StatusOpen, o.Status)

	require.NoError(t, tr.Step(ctx, eur("101"), start.Add(time.Minute+time.Second)))
	assert.Equal(t, Exited, tr.State)
	assert.Equal(t, Timeout, tr.Outcome)
	assert.Equal(t, []string{resting}, h.venue.cancelled)
	forced, ok := h.desk.Get(tr.ExitOrderID)
	require.True(t, ok)
	assert.Equal(t, desk.Market, forced.Kind)
	assert.True(t, forced.Volume.Equal(btc("0.01")))
}

func TestTradeStopLossRetriesFailedExitCancel(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	ctx := context.Background()
	h.reconcile(t, true)
	require.NoError(t, tr.Step(ctx, eur("100"), start.Add(time.Second)))
	require.Equal(t, Exiting, tr.State)

	h.fill = false
	h.venue.failCancels = 1
	require.Error(t, tr.Step(ctx, eur("94"), start.Add(2*time.Second)))
	assert.Equal(t, Exiting, tr.State)

	require.NoError(t, tr.Step(ctx, eur("94"), start.Add(3*time.Second)))
	assert.Equal(t, Loss, tr.Outcome)
	forced, _ := h.desk.Get(tr.ExitOrderID)
	assert.Equal(t, desk.Market, forced.Kind)
}

func TestTradeTimeoutWhileEntering(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)

	require.NoError(t, tr.Step(context.Background(), eur("90"), start.Add(2*time.Minute)))
	assert.Equal(t, Exited, tr.State)
	assert.Equal(t, Timeout, tr.Outcome)
	assert.Equal(t, []string{tr.EnterOrderID}, h.venue.cancelled)
	assert.Len(t, h.venue.placed, 1, "nothing held, nothing sold")
}

func TestTradeStopLoss(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	ctx := context.Background()
	h.reconcile(t, true)
	require.NoError(t, tr.Step(ctx, eur("100"), start.Add(time.Second)))
	require.Equal(t, Exiting, tr.State)

	h.fill = false
	require.NoError(t, tr.Step(ctx, eur("96"), start.Add(2*time.Second)))
	assert.Equal(t, Exiting, tr.State)

	require.NoError(t, tr.Step(ctx, eur("95"), start.Add(3*time.Second)))
	assert.Equal(t, Exited, tr.State)
	assert.Equal(t, Loss, tr.Outcome)
	assert.Len(t, h.venue.cancelled, 1)
	forced, _ := h.desk.Get(tr.ExitOrderID)
	assert.Equal(t, desk.Market, forced.Kind)
}

func TestTradeStopLossBeforeExitPlaced(t *testing.T) {
	h := newHarness()
	tr := openTrade(t, h)
	h.reconcile(t, true)

	require.NoError(t, tr.Step(context.Background(), eur("90"), start.Add(time.Second)))
	assert.Equal(t, Exited, tr.State)
	assert.Equal(t, Loss, tr.Outcome)
	assert.Empty(t, h.venue.cancelled)
}

func TestOpenWithLimitEntry(t *testing.T) {
	h := newHarness()
	params := testParams
	params.Entry = desk.Limit
	tr, err := Open(context.Background(), h.tracker, btc("0.01"), eur("100"), start, params, nil)
	require.NoError(t, err)

	entry, ok := h.desk.Get(tr.EnterOrderID)
	require.True(t, ok)
	assert.Equal(t, desk.Limit, entry.Kind)
	assert.Equal(t, desk.Bid, entry.Mode)
	assert.True(t, entry.Price.Equal(eur("100")))
	assert.True(t, h.tracker.Entering())

	h.reconcile(t, true)
	require.NoError(t, tr.Step(context.Background(), eur("101"), start.Add(time.Second)))
	assert.Equal(t, Exiting, tr.State)
	assert.True(t, tr.ProfitPrice.Equal(eur("110")))
}

func TestOpenRejectedBelowMinimum(t *testing.T) {
	h := newHarness()
	_, err := Open(context.Background(), h.tracker, btc("0.001"), eur("100"), start, testParams, nil)
	assert.True(t, errors.Is(err, ErrEntryRejected))
	assert.True(t, errors.Is(err, desk.ErrVolumeTooLow))
	assert.Equal(t, 0, h.desk.Len())
}
