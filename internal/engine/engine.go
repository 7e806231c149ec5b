// Package engine implements the exchange core: order acceptance, price-time
// matching, and account settlement behind a single mutex.
//
// Every mutating operation follows the same shape:
//
//  1. Acquire the core lock.
//  2. Validate, then mutate book + ledger + session state atomically.
//  3. Assemble event payloads while the state is still consistent.
//  4. Release the lock, then publish the events to the bus.
//
// No I/O happens under the lock; slow stream consumers back up in their own
// bus queues, never in the matching path. A detected inconsistency (balance
// conservation, book/index mismatch, negative remaining) halts the core:
// mutating calls return ErrHalted until restart, reads keep working.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/book"
	"tradesim/internal/bus"
	"tradesim/internal/config"
	"tradesim/internal/ledger"
	"tradesim/internal/metrics"
	"tradesim/internal/session"
	"tradesim/pkg/types"
)

// marketBuyBuffer pads the funds estimate for market buys, which may walk
// past the best ask.
var marketBuyBuffer = decimal.RequireFromString("1.1")

// OrderRequest carries the parameters of a new order. Price is required for
// limit orders and ignored for market orders.
type OrderRequest struct {
	Type     types.OrderType
	Side     types.Side
	Quantity decimal.Decimal
	Price    *decimal.Decimal
}

// AmendRequest carries the fields of a cancel-replace. Nil fields inherit
// the original order's values.
type AmendRequest struct {
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
}

// PlaceResult reports an accepted order: its post-matching view and the
// trades it took, from the taker's perspective.
type PlaceResult struct {
	Order  types.OrderView
	Trades []types.TradeView
}

// Core is the exchange: matching, accounts, and sessions behind one lock.
type Core struct {
	mu       sync.Mutex
	trading  config.TradingConfig
	book     *book.Book
	ledger   *ledger.Ledger
	sessions *session.Registry
	orders   map[string]*types.Order // every order ever accepted, by id
	ids      idSource
	events   *bus.Bus
	logger   *slog.Logger

	halted     bool
	haltReason string
}

// New wires the exchange core from configuration. The book's last price is
// seeded with the market reference price until the first trade overwrites it.
func New(cfg *config.Config, events *bus.Bus, logger *slog.Logger) *Core {
	return &Core{
		trading:  cfg.Trading,
		book:     book.New(cfg.Trading.Symbol, cfg.Market.StartPrice),
		ledger:   ledger.New(cfg.Trading.StartCash, cfg.Trading.StartAsset),
		sessions: session.NewRegistry(),
		orders:   make(map[string]*types.Order),
		events:   events,
		logger:   logger.With("component", "engine"),
	}
}

// Resolve maps a session token to an account, minting both on first sight.
// New accounts receive the configured starting balances.
func (c *Core) Resolve(token string) (sessionID, account string, created bool) {
	c.mu.Lock()
	sessionID, account, created = c.sessions.Resolve(token)
	if created {
		c.ledger.GetOrCreate(account)
		metrics.Get().Accounts.Set(float64(c.ledger.Count()))
	}
	c.mu.Unlock()

	if created {
		c.logger.Info("account created", "account", account)
	}
	return sessionID, account, created
}

// PlaceOrder validates and matches a new order. The result carries the final
// order view (a market residual comes back with status cancelled, which is
// not an error) and the taker-side trades.
func (c *Core) PlaceOrder(account string, req OrderRequest) (*PlaceResult, error) {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return nil, ErrHalted
	}
	if _, created := c.ledger.GetOrCreate(account); created {
		metrics.Get().Accounts.Set(float64(c.ledger.Count()))
	}
	order, err := c.acceptLocked(account, req)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("order rejected", "account", account, "error", err)
		return nil, err
	}

	timer := metrics.NewTimer()
	result, events, err := c.matchLocked(order)
	metrics.Get().RecordMatchLatency(timer.ElapsedMs())
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.updateGaugesLocked()
	c.mu.Unlock()

	c.logger.Info("order placed",
		"order_id", order.ID,
		"account", account,
		"side", order.Side,
		"type", order.Type,
		"status", order.Status,
		"trades", len(result.Trades),
	)
	metrics.Get().RecordOrder(string(order.Side), string(order.Type), string(order.Status))
	c.events.Publish(events...)
	return result, nil
}

// CancelOrder removes the caller's resting order from the book.
func (c *Core) CancelOrder(account, orderID string) (types.OrderView, error) {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return types.OrderView{}, ErrHalted
	}
	o, ok := c.orders[orderID]
	if !ok {
		c.mu.Unlock()
		return types.OrderView{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if o.UserID != account {
		c.mu.Unlock()
		return types.OrderView{}, ErrNotOwner
	}
	if o.Status.Terminal() {
		c.mu.Unlock()
		return types.OrderView{}, fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrNotCancellable)
	}

	if c.book.Remove(orderID) == nil {
		c.haltLocked(fmt.Errorf("open order %s missing from book", orderID))
		c.mu.Unlock()
		return types.OrderView{}, ErrHalted
	}
	o.Status = types.StatusCancelled
	c.ledger.SettleOrder(account, orderID)
	view := o.View()
	events := c.bookkeepingEventsLocked(account)
	c.updateGaugesLocked()
	c.mu.Unlock()

	c.logger.Info("order cancelled", "order_id", orderID, "account", account)
	metrics.Get().CancelsTotal.Inc()
	c.events.Publish(events...)
	return view, nil
}

// AmendOrder replaces a resting order: the original is cancelled and a
// replacement with a fresh id and sequence re-enters matching, so it may
// fill immediately. Nil request fields inherit the original's values.
func (c *Core) AmendOrder(account, orderID string, req AmendRequest) (*PlaceResult, error) {
	c.mu.Lock()
	if c.halted {
		c.mu.Unlock()
		return nil, ErrHalted
	}
	o, ok := c.orders[orderID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if o.UserID != account {
		c.mu.Unlock()
		return nil, ErrNotOwner
	}
	if o.Status.Terminal() {
		c.mu.Unlock()
		return nil, fmt.Errorf("order %s is %s: %w", orderID, o.Status, ErrNotAmendable)
	}

	// Only limit orders rest, so the original always has a price to inherit.
	qty := o.Quantity
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	price := *o.Price
	if req.Price != nil {
		price = *req.Price
	}
	replacement, err := c.acceptLocked(account, OrderRequest{
		Type:     types.OrderTypeLimit,
		Side:     o.Side,
		Quantity: qty,
		Price:    &price,
	})
	if err != nil {
		// Reject without touching the original.
		c.mu.Unlock()
		c.logger.Debug("amend rejected", "order_id", orderID, "account", account, "error", err)
		return nil, err
	}

	if c.book.Remove(orderID) == nil {
		c.haltLocked(fmt.Errorf("open order %s missing from book", orderID))
		c.mu.Unlock()
		return nil, ErrHalted
	}
	o.Status = types.StatusCancelled
	c.ledger.SettleOrder(account, orderID)

	timer := metrics.NewTimer()
	result, events, err := c.matchLocked(replacement)
	metrics.Get().RecordMatchLatency(timer.ElapsedMs())
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.updateGaugesLocked()
	c.mu.Unlock()

	c.logger.Info("order amended",
		"order_id", orderID,
		"replacement_id", replacement.ID,
		"account", account,
		"status", replacement.Status,
		"trades", len(result.Trades),
	)
	metrics.Get().AmendsTotal.Inc()
	c.events.Publish(events...)
	return result, nil
}

// GetUser returns the account snapshot with total value marked at the last
// trade price.
func (c *Core) GetUser(account string) (types.AccountView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view, ok := c.ledger.View(account, c.book.LastPrice())
	if !ok {
		return types.AccountView{}, fmt.Errorf("account %s: %w", account, ErrNotFound)
	}
	return view, nil
}

// GetOrders returns the account's open orders in sequence order.
func (c *Core) GetOrders(account string) []types.OrderView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openOrdersLocked(account)
}

// GetTrades returns the account's fills in execution order.
func (c *Core) GetTrades(account string) []types.TradeView {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := c.ledger.Trades(account)
	if views == nil {
		views = []types.TradeView{}
	}
	return views
}

// GetBook returns the aggregated book snapshot at the configured depth.
func (c *Core) GetBook() types.BookSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book.Snapshot(c.trading.BookDepth)
}

// Halted reports whether the core stopped accepting writes, and why.
func (c *Core) Halted() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted, c.haltReason
}

// acceptLocked validates a request and stamps the order with its id,
// sequence, and acceptance time.
func (c *Core) acceptLocked(account string, req OrderRequest) (*types.Order, error) {
	if !req.Side.Valid() {
		return nil, invalidf("side must be %q or %q", types.SideBuy, types.SideSell)
	}
	if !req.Type.Valid() {
		return nil, invalidf("order_type must be %q or %q", types.OrderTypeMarket, types.OrderTypeLimit)
	}
	if !req.Quantity.IsPositive() {
		return nil, invalidf("quantity must be positive")
	}
	if !types.ValidQty(req.Quantity) {
		return nil, invalidf("quantity precision exceeds %d decimal places", types.QtyDecimals)
	}

	var price *decimal.Decimal
	if req.Type == types.OrderTypeLimit {
		if req.Price == nil {
			return nil, invalidf("limit orders require a price")
		}
		if !req.Price.IsPositive() {
			return nil, invalidf("price must be positive")
		}
		if !types.OnTick(*req.Price, c.trading.TickSize) {
			return nil, invalidf("price must be a multiple of tick size %s", c.trading.TickSize)
		}
		p := *req.Price
		price = &p
	}

	if err := c.checkFundsLocked(account, req); err != nil {
		return nil, err
	}

	return &types.Order{
		ID:        newID(),
		UserID:    account,
		Symbol:    c.trading.Symbol,
		Type:      req.Type,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     price,
		FilledQty: decimal.Zero,
		Status:    types.StatusPending,
		Timestamp: time.Now().UTC(),
		Sequence:  c.ids.next(),
	}, nil
}

// checkFundsLocked enforces the up-front funds policy when negative cash is
// disallowed. Market buys are estimated against the best ask with a buffer
// since they may walk the book; with no asks nothing can execute, so nothing
// is required.
func (c *Core) checkFundsLocked(account string, req OrderRequest) error {
	if c.trading.AllowNegativeCash {
		return nil
	}
	acct, ok := c.ledger.Get(account)
	if !ok {
		return invalidf("unknown account")
	}

	if req.Side == types.SideSell {
		if req.Quantity.GreaterThan(acct.Asset) {
			return invalidf("insufficient asset balance: have %s, need %s", acct.Asset, req.Quantity)
		}
		return nil
	}

	var cost decimal.Decimal
	switch req.Type {
	case types.OrderTypeLimit:
		cost = req.Price.Mul(req.Quantity)
	case types.OrderTypeMarket:
		ask, _, ok := c.book.BestAsk()
		if !ok {
			return nil
		}
		cost = ask.Mul(req.Quantity).Mul(marketBuyBuffer)
	}
	if cost.GreaterThan(acct.Cash) {
		return invalidf("insufficient cash balance: have %s, need %s", acct.Cash, cost)
	}
	return nil
}

// bookkeepingEventsLocked is the event tail for operations without fills: the
// owner's open-orders snapshot plus the book broadcast.
func (c *Core) bookkeepingEventsLocked(account string) []bus.Event {
	return []bus.Event{
		{Kind: types.EventOrdersUpdate, Account: account, Data: c.openOrdersLocked(account)},
		{Kind: types.EventOrderBookUpdate, Data: c.book.Snapshot(c.trading.BookDepth)},
	}
}

func (c *Core) haltLocked(err error) {
	c.halted = true
	c.haltReason = err.Error()
	c.logger.Error("engine halted", "reason", err)
}

func (c *Core) updateGaugesLocked() {
	m := metrics.Get()
	bids, asks := c.book.Depth()
	m.SetBookDepth(bids, asks)
	m.OrdersOpen.Set(float64(c.ledger.OpenCount()))
	m.LastTradePrice.Set(c.book.LastPrice().InexactFloat64())
}
