package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/internal/metrics"
	"tradesim/pkg/types"
)

// matchLocked runs the taker against the opposite side of the book until it
// is filled, the book is exhausted, or the limit price stops crossing. It
// returns the taker's result and the event batch to publish after unlock:
// fills first, then balance updates for the trade parties, then open-order
// snapshots for every affected owner (taker's owner first), then the book
// broadcast.
func (c *Core) matchLocked(taker *types.Order) (*PlaceResult, []bus.Event, error) {
	var (
		fills      []bus.Event
		tradeViews []types.TradeView
		parties    []string
		updates    = []string{taker.UserID}
	)

	for !taker.FullyFilled() {
		resting := c.book.Peek(taker.Side.Opposite())
		if resting == nil {
			break
		}
		if taker.Type == types.OrderTypeLimit && !crosses(taker, resting) {
			break
		}

		// Trades execute at the resting order's price.
		qty := decimal.Min(taker.Remaining(), resting.Remaining())
		trade := c.newTrade(taker, resting, *resting.Price, qty)
		if err := c.applyTradeLocked(trade, taker, resting, qty); err != nil {
			c.haltLocked(err)
			return nil, nil, ErrHalted
		}

		fills = append(fills, c.fillEventsLocked(trade)...)
		tradeViews = append(tradeViews, types.TradeView{
			ID:        trade.ID,
			OrderID:   taker.ID,
			Symbol:    trade.Symbol,
			Side:      taker.Side,
			Quantity:  qty,
			Price:     trade.Price,
			Timestamp: trade.Timestamp,
		})
		parties = appendUnique(parties, trade.BuyerID)
		parties = appendUnique(parties, trade.SellerID)
		updates = appendUnique(updates, resting.UserID)
		metrics.Get().RecordTrade(qty.InexactFloat64(), trade.Price.Mul(qty).InexactFloat64())
	}

	c.finaliseLocked(taker)

	events := fills
	for _, party := range parties {
		if bal, ok := c.ledger.Balances(party); ok {
			events = append(events, bus.Event{Kind: types.EventBalanceUpdate, Account: party, Data: bal})
		}
	}
	for _, account := range updates {
		events = append(events, bus.Event{Kind: types.EventOrdersUpdate, Account: account, Data: c.openOrdersLocked(account)})
	}
	events = append(events, bus.Event{Kind: types.EventOrderBookUpdate, Data: c.book.Snapshot(c.trading.BookDepth)})

	return &PlaceResult{Order: taker.View(), Trades: tradeViews}, events, nil
}

// newTrade records an execution between the taker and a resting order.
func (c *Core) newTrade(taker, resting *types.Order, price, qty decimal.Decimal) *types.Trade {
	buyOrder, sellOrder := taker, resting
	if taker.Side == types.SideSell {
		buyOrder, sellOrder = resting, taker
	}
	return &types.Trade{
		ID:          newID(),
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyOrder.UserID,
		SellerID:    sellOrder.UserID,
		Symbol:      c.trading.Symbol,
		Price:       price,
		Quantity:    qty,
		Timestamp:   time.Now().UTC(),
	}
}

// applyTradeLocked settles a trade against the ledger and both orders, then
// verifies the core invariants. Any error here is unrecoverable.
func (c *Core) applyTradeLocked(t *types.Trade, taker, resting *types.Order, qty decimal.Decimal) error {
	if err := c.ledger.ApplyTrade(t); err != nil {
		return err
	}
	taker.FilledQty = taker.FilledQty.Add(qty)
	resting.FilledQty = resting.FilledQty.Add(qty)
	c.book.Reduce(resting.ID, qty)
	c.book.SetLastPrice(t.Price)

	if resting.FullyFilled() {
		resting.Status = types.StatusFilled
		if c.book.Remove(resting.ID) == nil {
			return fmt.Errorf("filled maker %s missing from book", resting.ID)
		}
		c.ledger.SettleOrder(resting.UserID, resting.ID)
	} else {
		resting.Status = types.StatusPartial
	}

	if taker.Remaining().IsNegative() || resting.Remaining().IsNegative() {
		return fmt.Errorf("negative remaining after trade %s", t.ID)
	}
	if !c.ledger.Conserved() {
		return fmt.Errorf("balance conservation violated after trade %s", t.ID)
	}
	return nil
}

// finaliseLocked assigns the taker's resting status. Unfilled market
// remainder has nothing to rest against and is cancelled; limit remainder
// joins the book.
func (c *Core) finaliseLocked(taker *types.Order) {
	switch {
	case taker.FullyFilled():
		taker.Status = types.StatusFilled
	case taker.Type == types.OrderTypeMarket:
		taker.Status = types.StatusCancelled
	case taker.FilledQty.IsPositive():
		taker.Status = types.StatusPartial
		c.book.Insert(taker)
	default:
		taker.Status = types.StatusPending
		c.book.Insert(taker)
	}
	c.orders[taker.ID] = taker
	c.ledger.TrackOrder(taker)
}

// fillEventsLocked builds one fill notice per trade leg with the leg owner's
// post-trade balances. A self-trade yields both legs to the same account.
func (c *Core) fillEventsLocked(t *types.Trade) []bus.Event {
	legs := []struct {
		userID  string
		orderID string
		side    types.Side
	}{
		{t.BuyerID, t.BuyOrderID, types.SideBuy},
		{t.SellerID, t.SellOrderID, types.SideSell},
	}
	events := make([]bus.Event, 0, len(legs))
	for _, leg := range legs {
		bal, _ := c.ledger.Balances(leg.userID)
		events = append(events, bus.Event{
			Kind:    types.EventFill,
			Account: leg.userID,
			Data: types.FillNotice{
				TradeID:         t.ID,
				OrderID:         leg.orderID,
				Side:            leg.side,
				Quantity:        t.Quantity,
				Price:           t.Price,
				Timestamp:       t.Timestamp,
				NewCashBalance:  bal.CashBalance,
				NewAssetBalance: bal.AssetBalance,
			},
		})
	}
	return events
}

func (c *Core) openOrdersLocked(account string) []types.OrderView {
	views := c.ledger.OpenOrders(account)
	if views == nil {
		views = []types.OrderView{}
	}
	return views
}

func crosses(taker, resting *types.Order) bool {
	if taker.Side == types.SideBuy {
		return taker.Price.GreaterThanOrEqual(*resting.Price)
	}
	return taker.Price.LessThanOrEqual(*resting.Price)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
