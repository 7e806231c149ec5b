// Package market simulates the external reference feed: a random walk over
// the BTC price, broadcast as market_data quotes alongside the live book.
package market

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"tradesim/internal/bus"
	"tradesim/internal/config"
	"tradesim/internal/metrics"
	"tradesim/pkg/types"
)

// BookSource yields the current book snapshot for quote payloads.
type BookSource interface {
	GetBook() types.BookSnapshot
}

// Simulator drives the reference price on a bounded random walk and
// broadcasts a quote every interval. The reference price never creates
// fills; it gives participants something to trade around.
type Simulator struct {
	cfg    config.MarketConfig
	symbol string
	tick   decimal.Decimal
	books  BookSource
	events *bus.Bus
	logger *slog.Logger
	rng    *rand.Rand
	price  decimal.Decimal
}

// New creates a simulator positioned at the configured starting price.
func New(cfg *config.Config, books BookSource, events *bus.Bus, logger *slog.Logger) *Simulator {
	return &Simulator{
		cfg:    cfg.Market,
		symbol: cfg.Trading.Symbol,
		tick:   cfg.Trading.TickSize,
		books:  books,
		events: events,
		logger: logger.With("component", "market"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		price:  cfg.Market.StartPrice,
	}
}

// Run publishes quotes until ctx is cancelled. The first quote goes out
// immediately so clients connecting at startup see a price.
func (s *Simulator) Run(ctx context.Context) {
	s.logger.Info("market simulator started",
		"symbol", s.symbol,
		"start_price", s.price,
		"interval", s.cfg.Interval,
	)
	s.step()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("market simulator stopped")
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *Simulator) step() {
	s.price = s.walk()
	snap := s.books.GetBook()
	metrics.Get().MarketPrice.Set(s.price.InexactFloat64())
	s.events.Publish(bus.Event{
		Kind: types.EventMarketData,
		Data: types.MarketData{
			Symbol:    s.symbol,
			Price:     s.price,
			Bids:      snap.Bids,
			Asks:      snap.Asks,
			Timestamp: time.Now().UTC(),
		},
	})
}

// walk moves the price by a uniform draw in [-drift, +drift], snapped to the
// tick grid and clamped at the floor.
func (s *Simulator) walk() decimal.Decimal {
	delta := s.cfg.MaxDrift.Mul(decimal.NewFromFloat(s.rng.Float64()*2 - 1))
	next := types.SnapToTick(s.price.Add(delta), s.tick)
	if next.LessThan(s.cfg.Floor) {
		return s.cfg.Floor
	}
	return next
}
