// Package paper is a dry-run venue gateway. Orders never leave the process;
// the desk decides their fills.
package paper

import (
	"context"
	"log/slog"

	"hodlbot/internal/md"
	"hodlbot/internal/money"
	"hodlbot/internal/venue"
)

type Gateway struct {
	books    md.BookSource
	balances money.Balances
	minimum  money.Money
	log      *slog.Logger
}

func New(books md.BookSource, balances money.Balances, minimum money.Money, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if balances == nil {
		balances = money.Balances{}
	}
	return &Gateway{books: books, balances: balances.Clone(), minimum: minimum, log: logger.With("venue", "paper")}
}

func (g *Gateway) Orderbook(ctx context.Context) (venue.Orderbook, error) {
	return g.books.Orderbook(ctx)
}

func (g *Gateway) Balance(context.Context) (money.Balances, error) {
	return g.balances.Clone(), nil
}

func (g *Gateway) Position(ctx context.Context) (money.Balances, error) {
	return g.Balance(ctx)
}

// OpenOrders is always empty; nothing rests on a paper venue.
func (g *Gateway) OpenOrders(context.Context) ([]string, error) {
	return nil, nil
}

// PlaceOrder accepts everything without assigning a venue id.
func (g *Gateway) PlaceOrder(_ context.Context, req venue.OrderRequest) (venue.Placement, error) {
	g.log.Info("dry run order", "side", req.Side, "type", req.Type, "volume", req.Volume.String(), "price", req.Price.String(), "client_order_id", req.ClientOrderID)
	return venue.Placement{Success: true}, nil
}

func (g *Gateway) CancelOrder(_ context.Context, orderID string) error {
	g.log.Info("dry run cancel", "order_id", orderID)
	return nil
}

func (g *Gateway) MinimumOrderSize() money.Money {
	return g.minimum
}

var _ venue.Gateway = (*Gateway)(nil)
