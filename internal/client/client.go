// Package client implements the typed REST and WebSocket clients for the
// trading simulator API.
//
// The REST client (Client) keeps a cookie jar, so the session minted on the
// first request identifies every later call and the WebSocket dial:
//   - Health:      GET    /                — service identification and halt status
//   - GetUser:     GET    /api/user        — account snapshot
//   - GetBook:     GET    /api/orderbook   — top-of-book with last trade price
//   - GetOrders:   GET    /api/orders      — the session's open orders
//   - GetTrades:   GET    /api/trades      — the session's trades, newest first
//   - PlaceOrder:  POST   /api/orders      — place a limit or market order
//   - CancelOrder: DELETE /api/orders/{id} — cancel a resting order
//   - AmendOrder:  PUT    /api/orders/{id} — cancel-replace
//
// Requests retry on transport errors and 5xx responses. Order rejections
// surface as *APIError carrying the server's status code and reason.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

// Client is the simulator REST API client. It wraps a resty HTTP client with
// retry and a session cookie jar shared with Stream.
type Client struct {
	http    *resty.Client
	baseURL string
	jar     http.CookieJar
	logger  *slog.Logger
}

// New creates a REST client for the simulator at baseURL. The fresh cookie
// jar means the first request starts a new session (and account) server-side.
func New(baseURL string, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetCookieJar(jar).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		baseURL: baseURL,
		jar:     jar,
		logger:  logger,
	}, nil
}

// Stream returns a WebSocket consumer sharing this client's session cookie.
// Call Run on it to connect.
func (c *Client) Stream() *Stream {
	return newStream(c.baseURL, c.jar, c.logger)
}

// Order is the payload for PlaceOrder. Price is required for limit orders
// and ignored for market orders.
type Order struct {
	Type     types.OrderType  `json:"order_type"`
	Side     types.Side       `json:"side"`
	Quantity decimal.Decimal  `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// Limit builds a limit order payload.
func Limit(side types.Side, qty, price decimal.Decimal) Order {
	return Order{Type: types.OrderTypeLimit, Side: side, Quantity: qty, Price: &price}
}

// Market builds a market order payload.
func Market(side types.Side, qty decimal.Decimal) Order {
	return Order{Type: types.OrderTypeMarket, Side: side, Quantity: qty}
}

// Amend is the payload for AmendOrder. Nil fields inherit the original
// order's values.
type Amend struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// OrderResult is the server's answer to place and amend calls: the accepted
// (or replacement) order plus any trades the matching pass produced.
type OrderResult struct {
	Order  types.OrderView   `json:"order"`
	Trades []types.TradeView `json:"trades"`
}

// Health is the service identification served at the root path.
type Health struct {
	Service string `json:"service"`
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
}

// APIError is a non-2xx response from the simulator API.
type APIError struct {
	Status int    // HTTP status code
	Reason string // server-reported reason
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Reason)
}

// apiError converts a rejection into *APIError, pulling the reason out of
// the server's {"error": ...} body when it parses.
func apiError(resp *resty.Response) error {
	reason := strings.TrimSpace(resp.String())
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		reason = body.Error
	}
	return &APIError{Status: resp.StatusCode(), Reason: reason}
}

// Health fetches the service identification. Status reads "halted" once the
// engine has refused writes after an invariant violation.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var result Health
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("health: %w", apiError(resp))
	}
	return &result, nil
}

// GetUser fetches the caller's account snapshot. On a fresh client this is
// the call that mints the session.
func (c *Client) GetUser(ctx context.Context) (*types.AccountView, error) {
	var result types.AccountView
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/user")
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get user: %w", apiError(resp))
	}
	return &result, nil
}

// GetBook fetches the top-of-book snapshot with the last trade price.
func (c *Client) GetBook(ctx context.Context) (*types.BookSnapshot, error) {
	var result types.BookSnapshot
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/orderbook")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: %w", apiError(resp))
	}
	return &result, nil
}

// GetOrders fetches the session's open orders in acceptance order.
func (c *Client) GetOrders(ctx context.Context) ([]types.OrderView, error) {
	var result []types.OrderView
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/orders")
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get orders: %w", apiError(resp))
	}
	return result, nil
}

// GetTrades fetches the session's trades, newest first.
func (c *Client) GetTrades(ctx context.Context) ([]types.TradeView, error) {
	var result []types.TradeView
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/api/trades")
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get trades: %w", apiError(resp))
	}
	return result, nil
}

// PlaceOrder submits an order and returns its accepted state plus any trades
// from the matching pass. A market order that ran out of liquidity comes back
// cancelled with its residual; that is a success, not an error.
func (c *Client) PlaceOrder(ctx context.Context, order Order) (*OrderResult, error) {
	var result OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(order).
		SetResult(&result).
		Post("/api/orders")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("place order: %w", apiError(resp))
	}
	return &result, nil
}

// CancelOrder cancels one of the session's resting orders and returns its
// final state.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*types.OrderView, error) {
	var result types.OrderView
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Delete("/api/orders/" + orderID)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel order: %w", apiError(resp))
	}
	return &result, nil
}

// AmendOrder replaces a resting order's price and/or quantity. The
// replacement is a new order with fresh time priority; it may trade
// immediately, so the result carries trades like PlaceOrder.
func (c *Client) AmendOrder(ctx context.Context, orderID string, amend Amend) (*OrderResult, error) {
	var result OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(amend).
		SetResult(&result).
		Put("/api/orders/" + orderID)
	if err != nil {
		return nil, fmt.Errorf("amend order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("amend order: %w", apiError(resp))
	}
	return &result, nil
}
