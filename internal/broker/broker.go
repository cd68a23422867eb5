// Package broker is the live venue gateway backed by the Alpaca trading and
// market data APIs.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"hodlbot/internal/money"
	"hodlbot/internal/venue"
)

type tradingAPI interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	GetPosition(symbol string) (*alpaca.Position, error)
	GetAccount() (*alpaca.Account, error)
}

type bookAPI interface {
	GetLatestCryptoOrderbook(symbol string, req marketdata.GetLatestCryptoOrderbookRequest) (*marketdata.CryptoOrderbook, error)
}

type Config struct {
	APIKey       string
	APISecret    string
	BaseURL      string
	Symbol       string
	Stake        money.Currency
	Quote        money.Currency
	MinOrderSize money.Money
}

type Client struct {
	cfg     Config
	trading tradingAPI
	data    bookAPI
	log     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	return newClient(cfg, trading, data, logger)
}

func newClient(cfg Config, trading tradingAPI, data bookAPI, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, trading: trading, data: data, log: logger.With("venue", "alpaca", "symbol", cfg.Symbol)}
}

func (c *Client) Orderbook(ctx context.Context) (venue.Orderbook, error) {
	if err := ctx.Err(); err != nil {
		return venue.Orderbook{}, err
	}
	book, err := c.data.GetLatestCryptoOrderbook(c.cfg.Symbol, marketdata.GetLatestCryptoOrderbookRequest{})
	if err != nil {
		c.log.Error("fetch orderbook failed", "error", err)
		return venue.Orderbook{}, fmt.Errorf("fetch orderbook: %w", err)
	}
	if book == nil {
		return venue.Orderbook{}, errors.New("fetch orderbook: empty response")
	}
	out := venue.Orderbook{
		Bids: make([]venue.Level, 0, len(book.Bids)),
		Asks: make([]venue.Level, 0, len(book.Asks)),
	}
	for _, e := range book.Bids {
		out.Bids = append(out.Bids, c.level(e))
	}
	for _, e := range book.Asks {
		out.Asks = append(out.Asks, c.level(e))
	}
	c.log.Debug("orderbook fetched", "bids", len(out.Bids), "asks", len(out.Asks))
	return out, nil
}

func (c *Client) level(e marketdata.CryptoOrderbookEntry) venue.Level {
	return venue.Level{
		Price:  money.New(decimal.NewFromFloat(e.Price), c.cfg.Quote),
		Volume: money.New(decimal.NewFromFloat(e.Size), c.cfg.Stake),
	}
}

// Balance reports the account cash in the quote currency and the held stake.
func (c *Client) Balance(ctx context.Context) (money.Balances, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, err := c.trading.GetAccount()
	if err != nil {
		c.log.Error("fetch account failed", "error", err)
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	qty, err := c.positionQty()
	if err != nil {
		return nil, err
	}
	c.log.Debug("balance fetched", "cash", acct.Cash.String(), "qty", qty.String())
	return money.Balances{
		c.cfg.Quote: money.New(acct.Cash, c.cfg.Quote),
		c.cfg.Stake: money.New(qty, c.cfg.Stake),
	}, nil
}

func (c *Client) Position(ctx context.Context) (money.Balances, error) {
	return c.Balance(ctx)
}

// positionQty treats a missing position as zero.
func (c *Client) positionQty() (decimal.Decimal, error) {
	pos, err := c.trading.GetPosition(positionSymbol(c.cfg.Symbol))
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return decimal.Zero, nil
		}
		c.log.Error("fetch position failed", "error", err)
		return decimal.Zero, fmt.Errorf("fetch position: %w", err)
	}
	return pos.Qty, nil
}

func positionSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (c *Client) OpenOrders(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := c.trading.GetOrders(alpaca.GetOrdersRequest{
		Status:  "open",
		Symbols: []string{c.cfg.Symbol},
	})
	if err != nil {
		c.log.Error("fetch open orders failed", "error", err)
		return nil, fmt.Errorf("fetch open orders: %w", err)
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	c.log.Debug("open orders fetched", "count", len(ids))
	return ids, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.Placement, error) {
	if err := ctx.Err(); err != nil {
		return venue.Placement{}, err
	}
	qty := req.Volume.Amount
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        c.cfg.Symbol,
		Qty:           &qty,
		Side:          alpaca.Buy,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Side == venue.Ask {
		orderReq.Side = alpaca.Sell
	}
	if req.Type == venue.Limit {
		limit := req.Price.Amount
		orderReq.Type = alpaca.Limit
		orderReq.LimitPrice = &limit
	}

	order, err := c.trading.PlaceOrder(orderReq)
	if err != nil {
		c.log.Error("place order failed", "side", orderReq.Side, "type", orderReq.Type, "qty", qty.String(), "error", err)
		return venue.Placement{}, err
	}
	success := string(order.Status) != "rejected"
	c.log.Info("place order success", "order_id", order.ID, "client_order_id", order.ClientOrderID, "side", orderReq.Side, "qty", qty.String(), "status", order.Status)
	return venue.Placement{OrderID: order.ID, Success: success}, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.trading.CancelOrder(orderID); err != nil {
		c.log.Error("cancel order failed", "order_id", orderID, "error", err)
		return err
	}
	c.log.Info("cancel order success", "order_id", orderID)
	return nil
}

func (c *Client) MinimumOrderSize() money.Money {
	return c.cfg.MinOrderSize
}
