package api

import (
	"github.com/shopspring/decimal"

	"tradesim/internal/engine"
	"tradesim/pkg/types"
)

// Exchange is the engine surface the API serves. *engine.Core implements it.
type Exchange interface {
	Resolve(token string) (sessionID, account string, created bool)
	PlaceOrder(account string, req engine.OrderRequest) (*engine.PlaceResult, error)
	CancelOrder(account, orderID string) (types.OrderView, error)
	AmendOrder(account, orderID string, req engine.AmendRequest) (*engine.PlaceResult, error)
	GetUser(account string) (types.AccountView, error)
	GetOrders(account string) []types.OrderView
	GetTrades(account string) []types.TradeView
	GetBook() types.BookSnapshot
	Halted() (bool, string)
}

// PlaceOrderRequest is the body of POST /api/orders. Price is required for
// limit orders and ignored for market orders. Decimals travel as JSON
// strings, though bare numbers decode too.
type PlaceOrderRequest struct {
	OrderType types.OrderType  `json:"order_type"`
	Side      types.Side       `json:"side"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// UpdateOrderRequest is the body of PUT /api/orders/{id}. Omitted fields
// keep the original order's values.
type UpdateOrderRequest struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// OrderResponse reports a placed or amended order and the trades it took.
type OrderResponse struct {
	Order  types.OrderView   `json:"order"`
	Trades []types.TradeView `json:"trades"`
}

// HealthResponse identifies the service on GET /.
type HealthResponse struct {
	Service string `json:"service"`
	Symbol  string `json:"symbol"`
	Status  string `json:"status"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func orderResponse(res *engine.PlaceResult) OrderResponse {
	trades := res.Trades
	if trades == nil {
		trades = []types.TradeView{}
	}
	return OrderResponse{Order: res.Order, Trades: trades}
}
