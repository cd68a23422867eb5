// Package venue describes the trading venue the strategy talks to. Live and
// dry-run gateways both implement Gateway.
package venue

import (
	"context"

	"hodlbot/internal/money"
)

type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type Level struct {
	Price  money.Money
	Volume money.Money
}

// Orderbook levels are sorted best first.
type Orderbook struct {
	Bids []Level
	Asks []Level
}

type OrderRequest struct {
	Side          Side
	Type          OrderType
	Volume        money.Money
	Price         money.Money
	ClientOrderID string
}

// Placement is the venue answer to an order request. An empty OrderID with
// Success set means the venue did not assign an id (dry run).
type Placement struct {
	OrderID string
	Success bool
}

type Gateway interface {
	Orderbook(ctx context.Context) (Orderbook, error)
	Balance(ctx context.Context) (money.Balances, error)
	// Position is the authoritative account position on the venue.
	Position(ctx context.Context) (money.Balances, error)
	// OpenOrders returns ids of orders still resting on the venue.
	OpenOrders(ctx context.Context) ([]string, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Placement, error)
	CancelOrder(ctx context.Context, orderID string) error
	MinimumOrderSize() money.Money
}
