package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLedger() *Ledger {
	return New(dec("10000"), decimal.Zero)
}

func trade(id, buyer, seller, price, qty string) *types.Trade {
	return &types.Trade{
		ID:          id,
		BuyOrderID:  "bo-" + id,
		SellOrderID: "so-" + id,
		BuyerID:     buyer,
		SellerID:    seller,
		Symbol:      types.DefaultSymbol,
		Price:       dec(price),
		Quantity:    dec(qty),
		Timestamp:   time.Now().UTC(),
	}
}

func TestGetOrCreate(t *testing.T) {
	t.Parallel()

	l := testLedger()
	a, created := l.GetOrCreate("alice")
	if !created {
		t.Fatal("first GetOrCreate should report created")
	}
	if !a.Cash.Equal(dec("10000")) || !a.Asset.IsZero() {
		t.Fatalf("seed balances = %s cash, %s asset", a.Cash, a.Asset)
	}

	again, created := l.GetOrCreate("alice")
	if created {
		t.Fatal("second GetOrCreate should not report created")
	}
	if again != a {
		t.Fatal("GetOrCreate returned a different account for the same id")
	}
	if l.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", l.Count())
	}
}

func TestApplyTrade(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")
	l.GetOrCreate("bob")

	if err := l.ApplyTrade(trade("t1", "alice", "bob", "100", "2")); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	alice, _ := l.Balances("alice")
	bob, _ := l.Balances("bob")
	if !alice.CashBalance.Equal(dec("9800")) || !alice.AssetBalance.Equal(dec("2")) {
		t.Fatalf("buyer balances = %s cash, %s asset; want 9800, 2", alice.CashBalance, alice.AssetBalance)
	}
	if !bob.CashBalance.Equal(dec("10200")) || !bob.AssetBalance.Equal(dec("-2")) {
		t.Fatalf("seller balances = %s cash, %s asset; want 10200, -2", bob.CashBalance, bob.AssetBalance)
	}
	if !l.Conserved() {
		t.Fatal("Conserved() = false after a balanced trade")
	}

	aliceFills := l.Trades("alice")
	bobFills := l.Trades("bob")
	if len(aliceFills) != 1 || aliceFills[0].Side != types.SideBuy {
		t.Fatalf("alice fills = %+v, want one buy", aliceFills)
	}
	if len(bobFills) != 1 || bobFills[0].Side != types.SideSell {
		t.Fatalf("bob fills = %+v, want one sell", bobFills)
	}
}

func TestApplyTradeSelf(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")

	if err := l.ApplyTrade(trade("t1", "alice", "alice", "100", "1")); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	bal, _ := l.Balances("alice")
	if !bal.CashBalance.Equal(dec("10000")) || !bal.AssetBalance.IsZero() {
		t.Fatalf("self-trade should net to zero, got %s cash, %s asset", bal.CashBalance, bal.AssetBalance)
	}

	fills := l.Trades("alice")
	if len(fills) != 2 {
		t.Fatalf("self-trade fills = %d, want both legs", len(fills))
	}
	if fills[0].Side != types.SideBuy || fills[1].Side != types.SideSell {
		t.Fatalf("legs = [%s %s], want [buy sell]", fills[0].Side, fills[1].Side)
	}
	if fills[0].OrderID != "bo-t1" || fills[1].OrderID != "so-t1" {
		t.Fatalf("leg order ids = [%s %s]", fills[0].OrderID, fills[1].OrderID)
	}
}

func TestApplyTradeUnknownParty(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")

	if err := l.ApplyTrade(trade("t1", "alice", "ghost", "100", "1")); err == nil {
		t.Fatal("ApplyTrade with unknown seller should error")
	}
	if err := l.ApplyTrade(trade("t2", "ghost", "alice", "100", "1")); err == nil {
		t.Fatal("ApplyTrade with unknown buyer should error")
	}
}

func TestTrackAndSettleOrder(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")

	price := dec("100")
	open := &types.Order{ID: "o1", UserID: "alice", Side: types.SideBuy, Type: types.OrderTypeLimit,
		Quantity: dec("1"), Price: &price, Status: types.StatusPending, Sequence: 1}
	done := &types.Order{ID: "o2", UserID: "alice", Side: types.SideBuy, Type: types.OrderTypeMarket,
		Quantity: dec("1"), Status: types.StatusFilled, FilledQty: dec("1"), Sequence: 2}

	l.TrackOrder(open)
	l.TrackOrder(done)

	if got := l.OpenCount(); got != 1 {
		t.Fatalf("OpenCount() = %d, want 1 (terminal orders are not open)", got)
	}
	if got := l.OpenOrders("alice"); len(got) != 1 || got[0].ID != "o1" {
		t.Fatalf("OpenOrders() = %+v, want only o1", got)
	}

	l.SettleOrder("alice", "o1")
	if got := l.OpenCount(); got != 0 {
		t.Fatalf("OpenCount() after settle = %d, want 0", got)
	}
	if got := l.OpenOrders("alice"); len(got) != 0 {
		t.Fatalf("OpenOrders() after settle = %+v, want none", got)
	}
}

func TestOpenOrdersSequenceOrder(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")

	price := dec("100")
	for _, seq := range []uint64{3, 1, 2} {
		l.TrackOrder(&types.Order{ID: fmt.Sprintf("o%d", seq), UserID: "alice", Side: types.SideBuy,
			Type: types.OrderTypeLimit, Quantity: dec("1"), Price: &price,
			Status: types.StatusPending, Sequence: seq})
	}

	got := l.OpenOrders("alice")
	if len(got) != 3 || got[0].ID != "o1" || got[1].ID != "o2" || got[2].ID != "o3" {
		t.Fatalf("OpenOrders() = %+v, want sequence order o1 o2 o3", got)
	}
}

func TestTradesAppendOrder(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")
	l.GetOrCreate("bob")

	for _, id := range []string{"t1", "t2", "t3"} {
		if err := l.ApplyTrade(trade(id, "alice", "bob", "100", "1")); err != nil {
			t.Fatalf("ApplyTrade(%s): %v", id, err)
		}
	}

	fills := l.Trades("alice")
	if len(fills) != 3 {
		t.Fatalf("got %d fills, want 3", len(fills))
	}
	if fills[0].ID != "t1" || fills[2].ID != "t3" {
		t.Fatalf("fills = [%s %s %s], want append order", fills[0].ID, fills[1].ID, fills[2].ID)
	}
}

func TestViewTotalValue(t *testing.T) {
	t.Parallel()

	l := testLedger()
	l.GetOrCreate("alice")
	l.GetOrCreate("bob")
	if err := l.ApplyTrade(trade("t1", "alice", "bob", "100", "2")); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}

	view, ok := l.View("alice", dec("150"))
	if !ok {
		t.Fatal("View(alice) not found")
	}
	// 9800 cash + 2 asset marked at 150.
	if !view.TotalValue.Equal(dec("10100")) {
		t.Fatalf("total value = %s, want 10100", view.TotalValue)
	}

	if _, ok := l.View("ghost", dec("150")); ok {
		t.Fatal("View of unknown account should report not found")
	}
}
