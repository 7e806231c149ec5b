package book

import (
	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

// level is one price point on a ladder: a FIFO queue of resting orders plus
// the maintained sum of their remaining quantities. Orders arrive at the tail
// and match from the head, so queue position follows sequence order.
type level struct {
	price  decimal.Decimal
	orders []*types.Order
	qty    decimal.Decimal
}

func newLevel(price decimal.Decimal) *level {
	return &level{price: price, qty: decimal.Zero}
}

// Less orders levels ascending by price. The side's desc flag picks the
// iteration direction, not the comparator.
func (l *level) Less(than btree.Item) bool {
	return l.price.LessThan(than.(*level).price)
}

func (l *level) add(o *types.Order) {
	l.orders = append(l.orders, o)
	l.qty = l.qty.Add(o.Remaining())
}

// remove deletes the order by id, shifting later arrivals up to preserve FIFO
// order, and subtracts its current remaining quantity from the level sum.
func (l *level) remove(orderID string) *types.Order {
	for i, o := range l.orders {
		if o.ID == orderID {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			l.qty = l.qty.Sub(o.Remaining())
			return o
		}
	}
	return nil
}

func (l *level) reduce(qty decimal.Decimal) {
	l.qty = l.qty.Sub(qty)
}

func (l *level) front() *types.Order {
	if len(l.orders) == 0 {
		return nil
	}
	return l.orders[0]
}

func (l *level) empty() bool {
	return len(l.orders) == 0
}
