// stream.go implements the WebSocket consumer for the simulator push feed.
//
// The server speaks a single envelope, {type, data}, over /ws. On connect it
// sends a user_info snapshot followed by an order_book snapshot, then pushes
// incremental events: fills, balance and open-order updates scoped to the
// session's account, book updates and simulated market data for everyone.
// The client never writes; the server runs the ping/pong keepalive.
//
// Stream auto-reconnects with exponential backoff (1s → 30s max). The session
// cookie rides every dial, so a reconnect resumes the same account, and the
// server's connect-time snapshots double as a resync.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradesim/pkg/types"
)

const (
	handshakeTimeout = 10 * time.Second // cap on the dial + upgrade round trip
	readTimeout      = 90 * time.Second // over one missed server ping plus slack
	pongTimeout      = 10 * time.Second // deadline for pong replies
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	bookBufferSize   = 256              // buffer for book and market data events
	userBufferSize   = 64               // buffer for account-scoped events
)

// Stream consumes the simulator's WebSocket feed, dispatching envelopes into
// typed channels. It reconnects until its context is cancelled; consumers
// that fall behind lose events rather than stalling the reader.
type Stream struct {
	url    string
	jar    http.CookieJar
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn for Close racing the read loop

	userCh    chan types.AccountView
	bookCh    chan types.BookSnapshot
	fillCh    chan types.FillNotice
	balanceCh chan types.BalanceUpdate
	ordersCh  chan []types.OrderView
	marketCh  chan types.MarketData

	logger *slog.Logger
}

func newStream(baseURL string, jar http.CookieJar, logger *slog.Logger) *Stream {
	return &Stream{
		url:       "ws" + strings.TrimPrefix(baseURL, "http") + "/ws",
		jar:       jar,
		userCh:    make(chan types.AccountView, userBufferSize),
		bookCh:    make(chan types.BookSnapshot, bookBufferSize),
		fillCh:    make(chan types.FillNotice, userBufferSize),
		balanceCh: make(chan types.BalanceUpdate, userBufferSize),
		ordersCh:  make(chan []types.OrderView, userBufferSize),
		marketCh:  make(chan types.MarketData, bookBufferSize),
		logger:    logger.With("component", "stream"),
	}
}

// UserEvents returns the channel of account snapshots (user_info).
func (s *Stream) UserEvents() <-chan types.AccountView { return s.userCh }

// BookEvents returns the channel of book snapshots (order_book and
// order_book_update).
func (s *Stream) BookEvents() <-chan types.BookSnapshot { return s.bookCh }

// FillEvents returns the channel of the session's fills.
func (s *Stream) FillEvents() <-chan types.FillNotice { return s.fillCh }

// BalanceEvents returns the channel of post-trade balance updates.
func (s *Stream) BalanceEvents() <-chan types.BalanceUpdate { return s.balanceCh }

// OrderEvents returns the channel of open-order snapshots.
func (s *Stream) OrderEvents() <-chan []types.OrderView { return s.ordersCh }

// MarketEvents returns the channel of simulated market data quotes.
func (s *Stream) MarketEvents() <-chan types.MarketData { return s.marketCh }

// Run connects and maintains the feed with auto-reconnect. Blocks until ctx
// is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close tears down the current connection, unblocking a read in progress.
// Cancel the Run context first or it will reconnect.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{Jar: s.jar, HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	// Cancellation closes the connection so the blocked read returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	// The server pings on an interval; answering refreshes the read
	// deadline so quiet books do not look like dead connections.
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(pongTimeout))
	})

	s.logger.Info("stream connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatch(msg)
	}
}

func (s *Stream) dispatch(data []byte) {
	var envelope struct {
		Type types.EventKind `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring malformed stream message", "data", string(data))
		return
	}

	switch envelope.Type {
	case types.EventUserInfo:
		var evt types.AccountView
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			s.logger.Error("unmarshal user_info", "error", err)
			return
		}
		select {
		case s.userCh <- evt:
		default:
			s.logger.Warn("user channel full, dropping event")
		}

	case types.EventOrderBook, types.EventOrderBookUpdate:
		var evt types.BookSnapshot
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			s.logger.Error("unmarshal book snapshot", "error", err)
			return
		}
		select {
		case s.bookCh <- evt:
		default:
			s.logger.Warn("book channel full, dropping event")
		}

	case types.EventFill:
		var evt types.FillNotice
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			s.logger.Error("unmarshal fill", "error", err)
			return
		}
		select {
		case s.fillCh <- evt:
		default:
			s.logger.Warn("fill channel full, dropping event", "trade_id", evt.TradeID)
		}

	case types.EventBalanceUpdate:
		var evt types.BalanceUpdate
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			s.logger.Error("unmarshal balance_update", "error", err)
			return
		}
		select {
		case s.balanceCh <- evt:
		default:
			s.logger.Warn("balance channel full, dropping event")
		}

	case types.EventOrdersUpdate:
		var evt []types.OrderView
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			s.logger.Error("unmarshal orders_update", "error", err)
			return
		}
		select {
		case s.ordersCh <- evt:
		default:
			s.logger.Warn("orders channel full, dropping event")
		}

	case types.EventMarketData:
		var evt types.MarketData
		if err := json.Unmarshal(envelope.Data, &evt); err != nil {
			s.logger.Error("unmarshal market_data", "error", err)
			return
		}
		select {
		case s.marketCh <- evt:
		default:
			s.logger.Warn("market channel full, dropping event")
		}

	default:
		s.logger.Debug("unknown stream event type", "type", envelope.Type)
	}
}
