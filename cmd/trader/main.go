// trader is a command-line load generator for the trading simulator. It
// drives the public API with randomized flow: limit orders spread around the
// last trade price, market orders that cross the book, and cancels and
// amends of its own resting orders, all paced by a token bucket. With
// --stream it follows its own fills over the WebSocket feed as it trades.
//
// Each run is one session, so one account: start several traders to get a
// market going.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"tradesim/internal/client"
	"tradesim/pkg/types"
)

var opts struct {
	url     string
	rate    float64
	orders  int
	seed    int64
	tick    string
	stream  bool
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newTraderCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newTraderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trader",
		Short: "Random-order load generator for the trading simulator",
		Long: `trader drives the simulator API with randomized order flow: limit
orders spread around the last trade price, market orders that cross the
book, and cancels and amends of its own resting orders. Placement is paced
by a token bucket so the rate stays steady.

Examples:
  trader --url http://localhost:8080 --rate 5
  trader --orders 200 --seed 42
  trader --stream=false -v`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080", "simulator base URL")
	cmd.Flags().Float64Var(&opts.rate, "rate", 2, "actions per second")
	cmd.Flags().IntVar(&opts.orders, "orders", 0, "stop after this many actions (0 = run until interrupted)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed (0 = derive from the clock)")
	cmd.Flags().StringVar(&opts.tick, "tick", "10", "price tick size the venue enforces")
	cmd.Flags().BoolVar(&opts.stream, "stream", true, "follow fills over the WebSocket feed")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func run(ctx context.Context) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if opts.rate <= 0 {
		return fmt.Errorf("rate must be > 0, got %v", opts.rate)
	}
	tick, err := decimal.NewFromString(opts.tick)
	if err != nil || !tick.IsPositive() {
		return fmt.Errorf("invalid tick size %q", opts.tick)
	}

	seed := opts.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	cl, err := client.New(opts.url, logger)
	if err != nil {
		return err
	}
	me, err := cl.GetUser(ctx)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", opts.url, err)
	}
	logger.Info("trader session ready",
		"url", opts.url,
		"user_id", me.UserID,
		"cash", me.CashBalance,
		"seed", seed,
	)

	if opts.stream {
		st := cl.Stream()
		go st.Run(ctx)
		go followStream(ctx, st, logger)
	}

	// Capacity stays at one token minimum or sub-1/s rates would starve.
	bucket := client.NewTokenBucket(math.Max(1, opts.rate), opts.rate)
	tr := &trader{client: cl, rng: rng, tick: tick, logger: logger}

	var runErr error
	for n := 0; opts.orders == 0 || n < opts.orders; n++ {
		if err := bucket.Wait(ctx); err != nil {
			break
		}
		if err := tr.act(ctx); err != nil {
			if ctx.Err() == nil {
				runErr = err
			}
			break
		}
	}

	tr.sweep()
	logger.Info("trader stopped",
		"placed", tr.placed,
		"trades", tr.trades,
		"cancelled", tr.cancelled,
		"amended", tr.amended,
		"rejected", tr.rejectedCount,
	)
	return runErr
}

// trader owns the random flow: one client session, one rng, running tallies.
type trader struct {
	client *client.Client
	rng    *rand.Rand
	tick   decimal.Decimal
	logger *slog.Logger

	placed        int
	trades        int
	cancelled     int
	amended       int
	rejectedCount int
}

// act performs one randomized action. Most turns place a limit order near
// the last trade price; the rest cross with a market order or cancel or
// amend a resting one. Server-side rejections are tallied and tolerated;
// transport errors abort the run.
func (t *trader) act(ctx context.Context) error {
	roll := t.rng.Float64()
	switch {
	case roll < 0.15:
		return t.cancelRandom(ctx)
	case roll < 0.25:
		return t.amendRandom(ctx)
	case roll < 0.40:
		return t.placeMarket(ctx)
	default:
		return t.placeLimit(ctx)
	}
}

func (t *trader) placeLimit(ctx context.Context) error {
	book, err := t.client.GetBook(ctx)
	if err != nil {
		return err
	}

	side := t.randomSide()
	qty := t.randomQty()
	// Up to five ticks either side of the last trade: some orders rest,
	// some cross.
	offset := t.tick.Mul(decimal.NewFromInt(int64(t.rng.Intn(11) - 5)))
	price := types.SnapToTick(book.LastPrice.Add(offset), t.tick)
	if !price.IsPositive() {
		price = t.tick
	}

	res, err := t.client.PlaceOrder(ctx, client.Limit(side, qty, price))
	if err != nil {
		if t.tolerate(err) {
			return nil
		}
		return err
	}
	t.placed++
	t.trades += len(res.Trades)
	t.logger.Debug("limit order placed",
		"side", side,
		"quantity", qty,
		"price", price,
		"status", res.Order.Status,
		"trades", len(res.Trades),
	)
	return nil
}

func (t *trader) placeMarket(ctx context.Context) error {
	side := t.randomSide()
	qty := t.randomQty()

	res, err := t.client.PlaceOrder(ctx, client.Market(side, qty))
	if err != nil {
		if t.tolerate(err) {
			return nil
		}
		return err
	}
	t.placed++
	t.trades += len(res.Trades)
	t.logger.Debug("market order placed",
		"side", side,
		"quantity", qty,
		"status", res.Order.Status,
		"trades", len(res.Trades),
	)
	return nil
}

func (t *trader) cancelRandom(ctx context.Context) error {
	open, err := t.client.GetOrders(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return t.placeLimit(ctx)
	}

	target := open[t.rng.Intn(len(open))]
	if _, err := t.client.CancelOrder(ctx, target.ID); err != nil {
		if t.tolerate(err) {
			return nil
		}
		return err
	}
	t.cancelled++
	t.logger.Debug("order cancelled", "order_id", target.ID)
	return nil
}

func (t *trader) amendRandom(ctx context.Context) error {
	open, err := t.client.GetOrders(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return t.placeLimit(ctx)
	}

	target := open[t.rng.Intn(len(open))]
	if target.Price == nil {
		return nil
	}
	shift := t.tick.Mul(decimal.NewFromInt(int64(t.rng.Intn(5) - 2)))
	price := target.Price.Add(shift)
	if !price.IsPositive() {
		price = t.tick
	}

	res, err := t.client.AmendOrder(ctx, target.ID, client.Amend{Price: &price})
	if err != nil {
		if t.tolerate(err) {
			return nil
		}
		return err
	}
	t.amended++
	t.trades += len(res.Trades)
	t.logger.Debug("order amended",
		"order_id", target.ID,
		"replacement_id", res.Order.ID,
		"price", price,
		"trades", len(res.Trades),
	)
	return nil
}

// tolerate swallows server-side rejections so random flow keeps running.
func (t *trader) tolerate(err error) bool {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		t.rejectedCount++
		t.logger.Debug("request rejected", "status", apiErr.Status, "reason", apiErr.Reason)
		return true
	}
	return false
}

func (t *trader) randomSide() types.Side {
	if t.rng.Intn(2) == 0 {
		return types.SideBuy
	}
	return types.SideSell
}

// randomQty draws 0.001 to 0.5 BTC at three decimal places.
func (t *trader) randomQty() decimal.Decimal {
	return decimal.NewFromFloat(0.001 + t.rng.Float64()*0.499).Round(3)
}

// sweep clears the session's resting orders so repeated runs start from a
// clean book. The run context is done by the time it is called, so it gets
// its own short deadline.
func (t *trader) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	open, err := t.client.GetOrders(ctx)
	if err != nil {
		t.logger.Warn("sweep skipped", "error", err)
		return
	}
	for _, o := range open {
		if _, err := t.client.CancelOrder(ctx, o.ID); err != nil {
			t.logger.Debug("sweep cancel failed", "order_id", o.ID, "error", err)
			continue
		}
		t.cancelled++
	}
}

// followStream logs fills as they land and drains the rest of the feed so
// nothing backs up.
func followStream(ctx context.Context, st *client.Stream, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill := <-st.FillEvents():
			logger.Info("fill",
				"side", fill.Side,
				"quantity", fill.Quantity,
				"price", fill.Price,
				"cash", fill.NewCashBalance,
				"asset", fill.NewAssetBalance,
			)
		case <-st.UserEvents():
		case <-st.BookEvents():
		case <-st.BalanceEvents():
		case <-st.OrderEvents():
		case <-st.MarketEvents():
		}
	}
}
