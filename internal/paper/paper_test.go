package paper

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodlbot/internal/desk"
	"hodlbot/internal/md"
	"hodlbot/internal/money"
)

func TestPaperGatewayWithDesk(t *testing.T) {
	books := md.NewRandomWalk(md.RandomWalkConfig{
		Seed:   1,
		Start:  money.MustParse("100", "EUR"),
		Step:   decimal.RequireFromString("0.01"),
		Spread: decimal.RequireFromString("0.001"),
	})
	g := New(books, money.Balances{"EUR": money.MustParse("1000", "EUR")}, money.MustParse("0.001", "BTC"), nil)
	ctx := context.Background()

	book, err := g.Orderbook(ctx)
	require.NoError(t, err)
	mid, err := md.Midpoint(book)
	require.NoError(t, err)

	d := desk.New(g)
	o, err := d.MarketBid(ctx, money.MustParse("0.01", "BTC"), mid)
	require.NoError(t, err)
	assert.Len(t, o.ID, 8, "desk assigns its own id on a paper venue")
	require.NoError(t, d.Cancel(ctx, o.ID))

	open, err := g.OpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestBalancesAreCopied(t *testing.T) {
	start := money.Balances{"EUR": money.MustParse("1000", "EUR")}
	g := New(nil, start, money.Money{}, nil)
	start.Debit(money.MustParse("1000", "EUR"))

	bal, err := g.Balance(context.Background())
	require.NoError(t, err)
	eur, _ := bal.Get("EUR")
	assert.True(t, eur.Equal(money.MustParse("1000", "EUR")))

	bal.Debit(money.MustParse("1", "EUR"))
	again, _ := g.Position(context.Background())
	assert.True(t, again.Equal(money.Balances{"EUR": money.MustParse("1000", "EUR")}))
}
