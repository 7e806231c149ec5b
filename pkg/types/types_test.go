package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSideOpposite(t *testing.T) {
	t.Parallel()

	if got := SideBuy.Opposite(); got != SideSell {
		t.Errorf("SideBuy.Opposite() = %q, want %q", got, SideSell)
	}
	if got := SideSell.Opposite(); got != SideBuy {
		t.Errorf("SideSell.Opposite() = %q, want %q", got, SideBuy)
	}
}

func TestSideValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		side Side
		want bool
	}{
		{SideBuy, true},
		{SideSell, true},
		{Side("BUY"), false},
		{Side(""), false},
	}

	for _, tt := range tests {
		if got := tt.side.Valid(); got != tt.want {
			t.Errorf("Side(%q).Valid() = %v, want %v", tt.side, got, tt.want)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   OrderStatus
		terminal bool
		open     bool
	}{
		{StatusPending, false, true},
		{StatusPartial, false, true},
		{StatusFilled, true, false},
		{StatusCancelled, true, false},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%q.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
		if got := tt.status.Open(); got != tt.open {
			t.Errorf("%q.Open() = %v, want %v", tt.status, got, tt.open)
		}
	}
}

func TestOnTick(t *testing.T) {
	t.Parallel()

	tick := dec("10")
	tests := []struct {
		price string
		want  bool
	}{
		{"100000", true},
		{"99990", true},
		{"100005", false},
		{"0.5", false},
	}

	for _, tt := range tests {
		if got := OnTick(dec(tt.price), tick); got != tt.want {
			t.Errorf("OnTick(%s, 10) = %v, want %v", tt.price, got, tt.want)
		}
	}
}

func TestSnapToTick(t *testing.T) {
	t.Parallel()

	tick := dec("10")
	tests := []struct {
		price string
		want  string
	}{
		{"100000", "100000"},
		{"100004", "100000"},
		{"100006", "100010"},
		{"99995", "100000"}, // rounds half away from zero
	}

	for _, tt := range tests {
		got := SnapToTick(dec(tt.price), tick)
		if !got.Equal(dec(tt.want)) {
			t.Errorf("SnapToTick(%s, 10) = %s, want %s", tt.price, got, tt.want)
		}
	}
}

func TestValidQty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		qty  string
		want bool
	}{
		{"0.01", true},
		{"0.00000001", true},
		{"0.000000001", false}, // 9 dp, below satoshi granularity
		{"0", false},
		{"-1", false},
		{"1.500000000", true}, // trailing zeros beyond 8 dp are still exact
	}

	for _, tt := range tests {
		if got := ValidQty(dec(tt.qty)); got != tt.want {
			t.Errorf("ValidQty(%s) = %v, want %v", tt.qty, got, tt.want)
		}
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()

	o := &Order{Quantity: dec("0.10"), FilledQty: dec("0.04")}
	if got := o.Remaining(); !got.Equal(dec("0.06")) {
		t.Errorf("Remaining() = %s, want 0.06", got)
	}
	if o.FullyFilled() {
		t.Error("FullyFilled() = true for partially filled order")
	}

	o.FilledQty = dec("0.10")
	if !o.FullyFilled() {
		t.Error("FullyFilled() = false for fully filled order")
	}
}

func TestTradePerspective(t *testing.T) {
	t.Parallel()

	tr := &Trade{
		ID:          "t1",
		BuyOrderID:  "ob",
		SellOrderID: "os",
		BuyerID:     "alice",
		SellerID:    "bob",
		Price:       dec("100000"),
		Quantity:    dec("0.10"),
	}

	if got := tr.SideFor("alice"); got != SideBuy {
		t.Errorf("SideFor(alice) = %q, want buy", got)
	}
	if got := tr.SideFor("bob"); got != SideSell {
		t.Errorf("SideFor(bob) = %q, want sell", got)
	}
	if got := tr.OrderIDFor("bob"); got != "os" {
		t.Errorf("OrderIDFor(bob) = %q, want os", got)
	}

	v := tr.View("bob")
	if v.Side != SideSell || v.OrderID != "os" {
		t.Errorf("View(bob) = {side %q, order %q}, want {sell, os}", v.Side, v.OrderID)
	}
}

func TestBookLevelJSON(t *testing.T) {
	t.Parallel()

	lvl := BookLevel{Price: dec("100000"), Quantity: dec("0.5")}
	data, err := json.Marshal(lvl)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["100000","0.5"]` {
		t.Errorf("marshal = %s, want [\"100000\",\"0.5\"]", data)
	}

	var back BookLevel
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Price.Equal(lvl.Price) || !back.Quantity.Equal(lvl.Quantity) {
		t.Errorf("round trip = %+v, want %+v", back, lvl)
	}
}

func TestOrderViewPriceNull(t *testing.T) {
	t.Parallel()

	o := &Order{
		ID:        "o1",
		UserID:    "u1",
		Symbol:    DefaultSymbol,
		Type:      OrderTypeMarket,
		Side:      SideBuy,
		Quantity:  dec("0.01"),
		Status:    StatusPending,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(o.View())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := m["price"]; !ok || v != nil {
		t.Errorf("price = %v, want null", v)
	}
	if m["remaining_quantity"] != "0.01" {
		t.Errorf("remaining_quantity = %v, want 0.01", m["remaining_quantity"])
	}
}
