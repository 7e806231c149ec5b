package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tradesim/internal/bus"
	"tradesim/internal/metrics"
	"tradesim/pkg/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 // clients never send payloads
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Sandbox service; any origin may connect.
		return true
	},
}

// streamClient owns one WebSocket connection: a relay goroutine drains the
// bus subscription into the send channel, the write pump serialises messages
// to the socket, and the read pump watches for disconnect.
type streamClient struct {
	core    Exchange
	conn    *websocket.Conn
	sub     *bus.Subscription
	account string
	send    chan types.StreamMessage
	logger  *slog.Logger
}

// HandleStream upgrades the connection and streams the caller's events. The
// session resolves before the upgrade so a fresh cookie can still be set.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		core:    h.core,
		conn:    conn,
		sub:     h.events.Subscribe(account),
		account: account,
		send:    make(chan types.StreamMessage, 256),
		logger:  h.logger.With("account", account),
	}
	client.hello()

	ctx, cancel := context.WithCancel(context.Background())
	go client.relay(ctx)
	go client.writePump(cancel)
	go client.readPump(cancel)

	metrics.Get().RecordWSConnection(1)
	h.logger.Info("stream connected", "account", account)
}

// hello queues the on-connect snapshots: who you are, then the book.
func (c *streamClient) hello() {
	if view, err := c.core.GetUser(c.account); err == nil {
		c.send <- types.StreamMessage{Type: types.EventUserInfo, Data: view}
	}
	c.send <- types.StreamMessage{Type: types.EventOrderBook, Data: c.core.GetBook()}
}

// relay forwards bus events to the send channel until the subscription or
// the connection goes away. Closing the send channel is what stops the
// write pump.
func (c *streamClient) relay(ctx context.Context) {
	defer func() {
		c.sub.Close()
		close(c.send)
	}()

	for {
		events, lagged, err := c.sub.Next(ctx)
		if err != nil {
			return
		}
		for _, e := range events {
			if !c.enqueue(ctx, types.StreamMessage{Type: e.Kind, Data: e.Data}) {
				return
			}
		}
		if lagged {
			// Dropped events left the client behind; fresh snapshots
			// catch it up. They follow the surviving events, which are
			// older than the snapshots.
			c.logger.Warn("stream lagged, resyncing")
			if !c.resync(ctx) {
				return
			}
		}
	}
}

func (c *streamClient) resync(ctx context.Context) bool {
	if view, err := c.core.GetUser(c.account); err == nil {
		if !c.enqueue(ctx, types.StreamMessage{Type: types.EventUserInfo, Data: view}) {
			return false
		}
	}
	return c.enqueue(ctx, types.StreamMessage{Type: types.EventOrderBook, Data: c.core.GetBook()})
}

func (c *streamClient) enqueue(ctx context.Context, msg types.StreamMessage) bool {
	select {
	case c.send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// writePump serialises messages and pings to the socket.
func (c *streamClient) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Relay shut down; say goodbye.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			metrics.Get().RecordWSMessage(string(msg.Type))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump services control frames until the peer goes away. Clients never
// send payloads.
func (c *streamClient) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.conn.Close()
		metrics.Get().RecordWSConnection(-1)
		c.logger.Info("stream disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("stream read error", "error", err)
			}
			return
		}
	}
}
