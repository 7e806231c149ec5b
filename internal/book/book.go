// Package book implements the central limit order book: two price ladders
// (bids descending, asks ascending) backed by B-trees, with a FIFO queue of
// resting orders per price level and an id index for O(log L) removal.
//
// The book is not safe for concurrent use. The engine core serialises all
// access under its own lock; see internal/engine.
package book

import (
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

const btreeDegree = 32

// bookSide is one half of the book. The tree orders levels ascending by
// price; desc selects descending iteration (bids) so Best and Iterate always
// return the most aggressive price first.
type bookSide struct {
	tree *btree.BTree
	desc bool
}

func newSide(desc bool) *bookSide {
	return &bookSide{tree: btree.New(btreeDegree), desc: desc}
}

func (s *bookSide) get(price decimal.Decimal) *level {
	item := s.tree.Get(&level{price: price})
	if item == nil {
		return nil
	}
	return item.(*level)
}

func (s *bookSide) getOrCreate(price decimal.Decimal) *level {
	if lvl := s.get(price); lvl != nil {
		return lvl
	}
	lvl := newLevel(price)
	s.tree.ReplaceOrInsert(lvl)
	return lvl
}

func (s *bookSide) removeLevel(price decimal.Decimal) {
	s.tree.Delete(&level{price: price})
}

// best returns the most aggressive level: highest price for bids, lowest for asks.
func (s *bookSide) best() *level {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*level)
}

// iterate visits levels in matching order until fn returns false.
func (s *bookSide) iterate(fn func(*level) bool) {
	wrap := func(item btree.Item) bool { return fn(item.(*level)) }
	if s.desc {
		s.tree.Descend(wrap)
	} else {
		s.tree.Ascend(wrap)
	}
}

func (s *bookSide) len() int {
	return s.tree.Len()
}

// Book holds the resting limit orders for a single instrument.
type Book struct {
	symbol    string
	bids      *bookSide
	asks      *bookSide
	byID      map[string]*level // order id → the level it rests at
	lastPrice decimal.Decimal
}

// New creates an empty book. lastPrice seeds the last-trade reference until
// the first real trade overwrites it.
func New(symbol string, lastPrice decimal.Decimal) *Book {
	return &Book{
		symbol:    symbol,
		bids:      newSide(true),
		asks:      newSide(false),
		byID:      make(map[string]*level),
		lastPrice: lastPrice,
	}
}

func (b *Book) side(s types.Side) *bookSide {
	if s == types.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert places a resting limit order at the tail of its price level's FIFO.
// The order must be a limit order with a price; market orders never rest.
func (b *Book) Insert(o *types.Order) {
	lvl := b.side(o.Side).getOrCreate(*o.Price)
	lvl.add(o)
	b.byID[o.ID] = lvl
}

// Remove takes an order out of the book by id and returns it, or nil if the
// id is not resting. The level's aggregate drops by the order's current
// remaining quantity, so any Reduce for already-consumed quantity must happen
// first. Empty levels are deleted from the ladder.
func (b *Book) Remove(orderID string) *types.Order {
	lvl, ok := b.byID[orderID]
	if !ok {
		return nil
	}
	o := lvl.remove(orderID)
	if o == nil {
		return nil
	}
	delete(b.byID, orderID)
	if lvl.empty() {
		b.side(o.Side).removeLevel(lvl.price)
	}
	return o
}

// Reduce lowers the aggregate quantity at a resting order's level after qty
// of it has been consumed by a fill. The caller updates the order's own
// FilledQty; Reduce only maintains the level sum.
func (b *Book) Reduce(orderID string, qty decimal.Decimal) {
	if lvl, ok := b.byID[orderID]; ok {
		lvl.reduce(qty)
	}
}

// Contains reports whether the order currently rests in the book.
func (b *Book) Contains(orderID string) bool {
	_, ok := b.byID[orderID]
	return ok
}

// Peek returns the best-priority resting order on the given side: best price
// first, earliest sequence within the price. Returns nil on an empty side.
func (b *Book) Peek(s types.Side) *types.Order {
	lvl := b.side(s).best()
	if lvl == nil {
		return nil
	}
	return lvl.front()
}

// BestBid returns the highest bid level as (price, aggregated qty).
func (b *Book) BestBid() (decimal.Decimal, decimal.Decimal, bool) {
	lvl := b.bids.best()
	if lvl == nil {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return lvl.price, lvl.qty, true
}

// BestAsk returns the lowest ask level as (price, aggregated qty).
func (b *Book) BestAsk() (decimal.Decimal, decimal.Decimal, bool) {
	lvl := b.asks.best()
	if lvl == nil {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	return lvl.price, lvl.qty, true
}

// Iterate visits resting orders on one side in matching order (best price
// first, FIFO within a price) until fn returns false. The callback must not
// mutate the book.
func (b *Book) Iterate(s types.Side, fn func(*types.Order) bool) {
	b.side(s).iterate(func(lvl *level) bool {
		for _, o := range lvl.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

// Depth returns the number of price levels per side.
func (b *Book) Depth() (bids, asks int) {
	return b.bids.len(), b.asks.len()
}

// SetLastPrice records the most recent trade price.
func (b *Book) SetLastPrice(p decimal.Decimal) {
	b.lastPrice = p
}

// LastPrice returns the most recent trade price (or the seed reference).
func (b *Book) LastPrice() decimal.Decimal {
	return b.lastPrice
}

// Snapshot returns the top-depth aggregated levels per side together with the
// last trade price.
func (b *Book) Snapshot(depth int) types.BookSnapshot {
	snap := types.BookSnapshot{
		Symbol:    b.symbol,
		Bids:      make([]types.BookLevel, 0, depth),
		Asks:      make([]types.BookLevel, 0, depth),
		LastPrice: b.lastPrice,
		Timestamp: time.Now().UTC(),
	}

	collect := func(dst *[]types.BookLevel) func(*level) bool {
		return func(lvl *level) bool {
			if len(*dst) >= depth {
				return false
			}
			*dst = append(*dst, types.BookLevel{Price: lvl.price, Quantity: lvl.qty})
			return true
		}
	}
	b.bids.iterate(collect(&snap.Bids))
	b.asks.iterate(collect(&snap.Asks))

	return snap
}
