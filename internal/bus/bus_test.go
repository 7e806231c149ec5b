package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradesim/pkg/types"
)

func drain(t *testing.T, s *Subscription) ([]Event, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, lagged, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return batch, lagged
}

func TestRouting(t *testing.T) {
	t.Parallel()

	b := New(8)
	alice := b.Subscribe("alice")
	bob := b.Subscribe("bob")
	defer alice.Close()
	defer bob.Close()

	b.Publish(
		Event{Kind: types.EventFill, Account: "alice"},
		Event{Kind: types.EventOrderBookUpdate}, // broadcast
	)

	got, _ := drain(t, alice)
	if len(got) != 2 || got[0].Kind != types.EventFill || got[1].Kind != types.EventOrderBookUpdate {
		t.Fatalf("alice got %+v, want fill then book update", got)
	}

	got, _ = drain(t, bob)
	if len(got) != 1 || got[0].Kind != types.EventOrderBookUpdate {
		t.Fatalf("bob got %+v, want only the broadcast", got)
	}
}

func TestOverflowEvictsSameKind(t *testing.T) {
	t.Parallel()

	b := New(3)
	s := b.Subscribe("alice")
	defer s.Close()

	b.Publish(
		Event{Kind: types.EventOrderBookUpdate, Data: 1},
		Event{Kind: types.EventFill, Account: "alice", Data: 2},
		Event{Kind: types.EventOrderBookUpdate, Data: 3},
		Event{Kind: types.EventOrderBookUpdate, Data: 4}, // overflow: evicts Data 1
	)

	got, lagged := drain(t, s)
	if !lagged {
		t.Fatal("overflow should set the lagged flag")
	}
	if len(got) != 3 {
		t.Fatalf("queue delivered %d events, want 3", len(got))
	}
	if got[0].Data != 2 || got[1].Data != 3 || got[2].Data != 4 {
		t.Fatalf("surviving events = %+v, want the oldest book update evicted", got)
	}
}

func TestOverflowEvictsOldestWhenNoKindMatches(t *testing.T) {
	t.Parallel()

	b := New(2)
	s := b.Subscribe("alice")
	defer s.Close()

	b.Publish(
		Event{Kind: types.EventFill, Account: "alice", Data: 1},
		Event{Kind: types.EventBalanceUpdate, Account: "alice", Data: 2},
		Event{Kind: types.EventOrdersUpdate, Account: "alice", Data: 3},
	)

	got, lagged := drain(t, s)
	if !lagged {
		t.Fatal("overflow should set the lagged flag")
	}
	if len(got) != 2 || got[0].Data != 2 || got[1].Data != 3 {
		t.Fatalf("surviving events = %+v, want oldest overall evicted", got)
	}
}

func TestLaggedClearsAfterDelivery(t *testing.T) {
	t.Parallel()

	b := New(1)
	s := b.Subscribe("alice")
	defer s.Close()

	b.Publish(
		Event{Kind: types.EventOrderBookUpdate, Data: 1},
		Event{Kind: types.EventOrderBookUpdate, Data: 2},
	)
	if _, lagged := drain(t, s); !lagged {
		t.Fatal("first drain should report lagged")
	}

	b.Publish(Event{Kind: types.EventOrderBookUpdate, Data: 3})
	if _, lagged := drain(t, s); lagged {
		t.Fatal("lagged flag should clear once reported")
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	t.Parallel()

	b := New(8)
	s := b.Subscribe("alice")
	defer s.Close()

	done := make(chan []Event, 1)
	go func() {
		batch, _, err := s.Next(context.Background())
		if err != nil {
			done <- nil
			return
		}
		done <- batch
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(Event{Kind: types.EventMarketData, Data: "tick"})

	select {
	case batch := <-done:
		if len(batch) != 1 || batch[0].Data != "tick" {
			t.Fatalf("got %+v", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on publish")
	}
}

func TestNextContextCancel(t *testing.T) {
	t.Parallel()

	b := New(8)
	s := b.Subscribe("alice")
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := s.Next(ctx)
		errc <- err
	}()

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return on cancel")
	}
}

func TestCloseDrainsThenErrs(t *testing.T) {
	t.Parallel()

	b := New(8)
	s := b.Subscribe("alice")

	b.Publish(Event{Kind: types.EventFill, Account: "alice"})
	s.Close()

	got, _ := drain(t, s)
	if len(got) != 1 {
		t.Fatalf("pending events lost on close: got %d", len(got))
	}
	if _, _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers() = %d after close, want 0", b.Subscribers())
	}

	// Closing twice is fine.
	s.Close()
}

func TestBusCloseWakesBlockedSubscribers(t *testing.T) {
	t.Parallel()

	b := New(8)
	s := b.Subscribe("alice")

	errc := make(chan error, 1)
	go func() {
		_, _, err := s.Next(context.Background())
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return on bus close")
	}
}

func TestPublishAfterCloseDoesNotDeliver(t *testing.T) {
	t.Parallel()

	b := New(8)
	s := b.Subscribe("alice")
	s.Close()

	b.Publish(Event{Kind: types.EventFill, Account: "alice"})
	if _, _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
