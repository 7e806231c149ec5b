// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the simulator: order and trade
// records, order book snapshots, account views, and stream event payloads.
// It has no dependencies on internal packages, so it can be imported by any
// layer, including external API clients.
package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: buy or sell.
// Values are lowercase because they travel as-is in the JSON API.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderTypeMarket OrderType = "market" // execute immediately against resting liquidity, never rests
	OrderTypeLimit  OrderType = "limit"  // execute at price or better, residual rests on the book
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit
}

// OrderStatus tracks an order through its lifecycle:
// pending → partial → filled, or pending/partial → cancelled.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"   // accepted, nothing filled yet
	StatusPartial   OrderStatus = "partial"   // some quantity filled, remainder live
	StatusFilled    OrderStatus = "filled"    // fully executed (terminal)
	StatusCancelled OrderStatus = "cancelled" // withdrawn or starved of liquidity (terminal)
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// Open reports whether an order with this status may still trade.
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusPartial
}

// ————————————————————————————————————————————————————————————————————————
// Precision
// ————————————————————————————————————————————————————————————————————————

// QtyDecimals is the quantity precision in decimal places (satoshi granularity).
const QtyDecimals = 8

// DefaultSymbol is the only instrument the simulator trades.
const DefaultSymbol = "BTCUSD"

// OnTick reports whether price sits exactly on the tick grid.
func OnTick(price, tick decimal.Decimal) bool {
	if tick.Sign() <= 0 {
		return false
	}
	return price.Mod(tick).IsZero()
}

// SnapToTick rounds price to the nearest multiple of tick.
func SnapToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	return price.DivRound(tick, 0).Mul(tick)
}

// ValidQty reports whether q is positive and representable in QtyDecimals
// decimal places.
func ValidQty(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Round(QtyDecimals))
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// Order is the canonical order record held by the engine core. It never
// crosses the API boundary directly; View produces the wire representation.
type Order struct {
	ID        string
	UserID    string
	Symbol    string
	Type      OrderType
	Side      Side
	Quantity  decimal.Decimal  // original quantity, immutable after acceptance
	Price     *decimal.Decimal // nil for market orders
	FilledQty decimal.Decimal
	Status    OrderStatus
	Timestamp time.Time
	Sequence  uint64 // acceptance order; matching tie-breaker within a price
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQty)
}

// FullyFilled reports whether nothing remains to trade.
func (o *Order) FullyFilled() bool {
	return !o.Remaining().IsPositive()
}

// View converts the order to its wire representation.
func (o *Order) View() OrderView {
	return OrderView{
		ID:            o.ID,
		UserID:        o.UserID,
		Symbol:        o.Symbol,
		Type:          o.Type,
		Side:          o.Side,
		Quantity:      o.Quantity,
		FilledQty:     o.FilledQty,
		RemainingQty:  o.Remaining(),
		Price:         o.Price,
		Status:        o.Status,
		IsFullyFilled: o.FullyFilled(),
		Timestamp:     o.Timestamp,
	}
}

// OrderView is the JSON representation of an order as served by the REST API
// and carried in orders_update stream events.
type OrderView struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	Symbol        string           `json:"symbol"`
	Type          OrderType        `json:"order_type"`
	Side          Side             `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	FilledQty     decimal.Decimal  `json:"filled_quantity"`
	RemainingQty  decimal.Decimal  `json:"remaining_quantity"`
	Price         *decimal.Decimal `json:"price"` // null for market orders
	Status        OrderStatus      `json:"status"`
	IsFullyFilled bool             `json:"is_fully_filled"`
	Timestamp     time.Time        `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade records a single crossing between a taker and a maker. Trades are
// append-only; the engine never mutates one after creation.
type Trade struct {
	ID          string
	BuyOrderID  string
	SellOrderID string
	BuyerID     string
	SellerID    string
	Symbol      string
	Price       decimal.Decimal // always the resting (maker) price
	Quantity    decimal.Decimal
	Timestamp   time.Time
}

// SideFor returns the trade direction from one participant's perspective.
func (t *Trade) SideFor(userID string) Side {
	if userID == t.SellerID {
		return SideSell
	}
	return SideBuy
}

// OrderIDFor returns the participant's own order id in this trade.
func (t *Trade) OrderIDFor(userID string) string {
	if userID == t.SellerID {
		return t.SellOrderID
	}
	return t.BuyOrderID
}

// View converts the trade to its wire representation from one participant's
// perspective, as served by GET /api/trades.
func (t *Trade) View(userID string) TradeView {
	return TradeView{
		ID:        t.ID,
		OrderID:   t.OrderIDFor(userID),
		Symbol:    t.Symbol,
		Side:      t.SideFor(userID),
		Quantity:  t.Quantity,
		Price:     t.Price,
		Timestamp: t.Timestamp,
	}
}

// TradeView is the per-user JSON representation of a trade.
type TradeView struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Order book snapshots
// ————————————————————————————————————————————————————————————————————————

// BookLevel is one aggregated price level. It marshals as a [price, quantity]
// pair, the compact form the stream consumers expect.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// MarshalJSON encodes the level as a two-element array.
func (l BookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Quantity})
}

// UnmarshalJSON decodes a [price, quantity] array.
func (l *BookLevel) UnmarshalJSON(data []byte) error {
	var pair [2]decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Price, l.Quantity = pair[0], pair[1]
	return nil
}

// BookSnapshot is a point-in-time view of the order book: top-N levels per
// side plus the last traded price. Served by GET /api/orderbook and carried
// in order_book / order_book_update events.
type BookSnapshot struct {
	Symbol    string          `json:"symbol"`
	Bids      []BookLevel     `json:"bids"` // descending by price, best first
	Asks      []BookLevel     `json:"asks"` // ascending by price, best first
	LastPrice decimal.Decimal `json:"last_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Account views
// ————————————————————————————————————————————————————————————————————————

// AccountView is the account snapshot served by GET /api/user and carried in
// user_info events. TotalValue marks the asset position at the last trade
// price.
type AccountView struct {
	UserID       string          `json:"user_id"`
	CashBalance  decimal.Decimal `json:"cash_balance"`
	AssetBalance decimal.Decimal `json:"asset_balance"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

// BalanceUpdate carries new balances for one account after its trades apply.
type BalanceUpdate struct {
	CashBalance  decimal.Decimal `json:"cash_balance"`
	AssetBalance decimal.Decimal `json:"asset_balance"`
}

// ————————————————————————————————————————————————————————————————————————
// Stream events
// ————————————————————————————————————————————————————————————————————————
// Every server → client push is a StreamMessage envelope. Broadcast kinds
// (order_book*, market_data) go to all subscribers; the rest are scoped to
// one account.

// EventKind names a stream message type.
type EventKind string

const (
	EventUserInfo        EventKind = "user_info"
	EventOrderBook       EventKind = "order_book"
	EventOrderBookUpdate EventKind = "order_book_update"
	EventFill            EventKind = "fill"
	EventBalanceUpdate   EventKind = "balance_update"
	EventOrdersUpdate    EventKind = "orders_update"
	EventMarketData      EventKind = "market_data"
)

// StreamMessage is the wire envelope for WebSocket pushes.
type StreamMessage struct {
	Type EventKind `json:"type"`
	Data any       `json:"data"`
}

// FillNotice notifies one participant of a fill, including the balances that
// resulted from applying it.
type FillNotice struct {
	TradeID         string          `json:"id"`
	OrderID         string          `json:"order_id"`
	Side            Side            `json:"side"` // from the recipient's perspective
	Quantity        decimal.Decimal `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	Timestamp       time.Time       `json:"timestamp"`
	NewCashBalance  decimal.Decimal `json:"new_cash_balance"`
	NewAssetBalance decimal.Decimal `json:"new_asset_balance"`
}

// MarketData is the periodic simulated quote published by the market
// simulator. The price is a reference value and never creates fills.
type MarketData struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Bids      []BookLevel     `json:"bids"`
	Asks      []BookLevel     `json:"asks"`
	Timestamp time.Time       `json:"timestamp"`
}
