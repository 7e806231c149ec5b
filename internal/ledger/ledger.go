// Package ledger tracks accounts: cash and asset balances, order history,
// and per-account fills. Every account starts with the same configured
// balances, and trades move value between exactly two accounts, so the
// ledger-wide totals are conserved.
//
// The ledger is not safe for concurrent use. The engine core serialises all
// access under its own lock; see internal/engine.
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

// Account holds one user's balances and trading history. Balances may go
// negative when the engine's funds policy allows it.
type Account struct {
	ID    string
	Cash  decimal.Decimal
	Asset decimal.Decimal

	open  map[string]*types.Order // orders currently resting in the book
	fills []types.TradeView       // executions from this account's perspective
}

func (a *Account) view(lastPrice decimal.Decimal) types.AccountView {
	return types.AccountView{
		UserID:       a.ID,
		CashBalance:  a.Cash,
		AssetBalance: a.Asset,
		TotalValue:   a.Cash.Add(a.Asset.Mul(lastPrice)),
	}
}

// Ledger is the account store.
type Ledger struct {
	accounts   map[string]*Account
	startCash  decimal.Decimal
	startAsset decimal.Decimal
}

// New creates an empty ledger. New accounts are seeded with the given
// starting balances.
func New(startCash, startAsset decimal.Decimal) *Ledger {
	return &Ledger{
		accounts:   make(map[string]*Account),
		startCash:  startCash,
		startAsset: startAsset,
	}
}

// GetOrCreate returns the account for id, creating it with the starting
// balances on first sight. The second return reports whether it was created.
func (l *Ledger) GetOrCreate(id string) (*Account, bool) {
	if a, ok := l.accounts[id]; ok {
		return a, false
	}
	a := &Account{
		ID:    id,
		Cash:  l.startCash,
		Asset: l.startAsset,
		open:  make(map[string]*types.Order),
	}
	l.accounts[id] = a
	return a, true
}

// Get returns the account for id if it exists.
func (l *Ledger) Get(id string) (*Account, bool) {
	a, ok := l.accounts[id]
	return a, ok
}

// Count returns the number of accounts.
func (l *Ledger) Count() int {
	return len(l.accounts)
}

// ApplyTrade settles a trade: the buyer pays price*quantity in cash and
// receives the quantity in asset, the seller the reverse. Both parties get a
// fill record from their own perspective. A self-trade nets to zero but still
// records both legs.
func (l *Ledger) ApplyTrade(t *types.Trade) error {
	buyer, ok := l.accounts[t.BuyerID]
	if !ok {
		return fmt.Errorf("apply trade %s: unknown buyer %s", t.ID, t.BuyerID)
	}
	seller, ok := l.accounts[t.SellerID]
	if !ok {
		return fmt.Errorf("apply trade %s: unknown seller %s", t.ID, t.SellerID)
	}

	notional := t.Price.Mul(t.Quantity)
	buyer.Cash = buyer.Cash.Sub(notional)
	buyer.Asset = buyer.Asset.Add(t.Quantity)
	seller.Cash = seller.Cash.Add(notional)
	seller.Asset = seller.Asset.Sub(t.Quantity)

	buyer.fills = append(buyer.fills, t.View(t.BuyerID))
	if t.SellerID == t.BuyerID {
		// Self-trade: View resolves to the buy leg, so build the sell leg here.
		leg := t.View(t.SellerID)
		leg.Side = types.SideSell
		leg.OrderID = t.SellOrderID
		buyer.fills = append(buyer.fills, leg)
	} else {
		seller.fills = append(seller.fills, t.View(t.SellerID))
	}
	return nil
}

// TrackOrder indexes a non-terminal order as open for its owner. Terminal
// orders (a market order that consumed its liquidity, say) are ignored.
func (l *Ledger) TrackOrder(o *types.Order) {
	a, ok := l.accounts[o.UserID]
	if !ok {
		return
	}
	if !o.Status.Terminal() {
		a.open[o.ID] = o
	}
}

// SettleOrder drops an order from its owner's open index once it has left
// the book.
func (l *Ledger) SettleOrder(userID, orderID string) {
	if a, ok := l.accounts[userID]; ok {
		delete(a.open, orderID)
	}
}

// OpenOrders returns views of the account's resting orders in sequence order.
func (l *Ledger) OpenOrders(userID string) []types.OrderView {
	a, ok := l.accounts[userID]
	if !ok {
		return nil
	}
	open := make([]*types.Order, 0, len(a.open))
	for _, o := range a.open {
		open = append(open, o)
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Sequence < open[j].Sequence })

	views := make([]types.OrderView, len(open))
	for i, o := range open {
		views[i] = o.View()
	}
	return views
}

// Trades returns the account's fills in append order. The transport layer
// reverses for newest-first display.
func (l *Ledger) Trades(userID string) []types.TradeView {
	a, ok := l.accounts[userID]
	if !ok {
		return nil
	}
	views := make([]types.TradeView, len(a.fills))
	copy(views, a.fills)
	return views
}

// OpenCount returns the number of open orders across all accounts.
func (l *Ledger) OpenCount() int {
	n := 0
	for _, a := range l.accounts {
		n += len(a.open)
	}
	return n
}

// View returns the account's balances with total value marked at lastPrice.
func (l *Ledger) View(userID string, lastPrice decimal.Decimal) (types.AccountView, bool) {
	a, ok := l.accounts[userID]
	if !ok {
		return types.AccountView{}, false
	}
	return a.view(lastPrice), true
}

// Balances returns the account's raw balances.
func (l *Ledger) Balances(userID string) (types.BalanceUpdate, bool) {
	a, ok := l.accounts[userID]
	if !ok {
		return types.BalanceUpdate{}, false
	}
	return types.BalanceUpdate{CashBalance: a.Cash, AssetBalance: a.Asset}, true
}

// Conserved reports whether ledger-wide totals still match what the accounts
// were seeded with. Trades move value between accounts and never create or
// destroy it, so a false return means a settlement bug.
func (l *Ledger) Conserved() bool {
	totalCash := decimal.Zero
	totalAsset := decimal.Zero
	for _, a := range l.accounts {
		totalCash = totalCash.Add(a.Cash)
		totalAsset = totalAsset.Add(a.Asset)
	}
	n := decimal.NewFromInt(int64(len(l.accounts)))
	return totalCash.Equal(l.startCash.Mul(n)) && totalAsset.Equal(l.startAsset.Mul(n))
}
