package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"tradesim/internal/bus"
	"tradesim/internal/config"
	"tradesim/internal/engine"
)

const (
	sessionCookie = "session_id"
	sessionMaxAge = 30 * 24 * 60 * 60 // seconds
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	core   Exchange
	events *bus.Bus
	cfg    *config.Config
	logger *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(core Exchange, events *bus.Bus, cfg *config.Config, logger *slog.Logger) *Handlers {
	return &Handlers{
		core:   core,
		events: events,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}
}

// resolveSession maps the request's session cookie to an account, minting a
// session and setting the cookie when the browser presents none (or one the
// registry never issued).
func (h *Handlers) resolveSession(w http.ResponseWriter, r *http.Request) string {
	var token string
	if c, err := r.Cookie(sessionCookie); err == nil {
		token = c.Value
	}
	sess, account, created := h.core.Resolve(token)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess,
			Path:     "/",
			HttpOnly: true,
			MaxAge:   sessionMaxAge,
		})
	}
	return account
}

// HandleHealth identifies the service and reports whether the core still
// accepts orders.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if halted, _ := h.core.Halted(); halted {
		status = "halted"
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Service: "tradesim",
		Symbol:  h.cfg.Trading.Symbol,
		Status:  status,
	})
}

// HandleUser returns the caller's account snapshot.
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	view, err := h.core.GetUser(account)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleOrderBook returns the aggregated book snapshot.
func (h *Handlers) HandleOrderBook(w http.ResponseWriter, r *http.Request) {
	h.resolveSession(w, r)
	h.writeJSON(w, http.StatusOK, h.core.GetBook())
}

// HandleOpenOrders returns the caller's open orders in acceptance order.
func (h *Handlers) HandleOpenOrders(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	h.writeJSON(w, http.StatusOK, h.core.GetOrders(account))
}

// HandleTrades returns the caller's fills, newest first, capped at the
// configured history length.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	trades := h.core.GetTrades(account)
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	if limit := h.cfg.Trading.TradeHistory; limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandlePlaceOrder accepts a new order. A market order that ran out of
// liquidity comes back with status cancelled; that is a success, not an
// error.
func (h *Handlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	res, err := h.core.PlaceOrder(account, engine.OrderRequest{
		Type:     req.OrderType,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse(res))
}

// HandleCancelOrder cancels the caller's resting order.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	view, err := h.core.CancelOrder(account, r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleAmendOrder cancel-replaces the caller's resting order.
func (h *Handlers) HandleAmendOrder(w http.ResponseWriter, r *http.Request) {
	account := h.resolveSession(w, r)
	var req UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	res, err := h.core.AmendOrder(account, r.PathValue("id"), engine.AmendRequest{
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse(res))
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrNotCancellable), errors.Is(err, engine.ErrNotAmendable):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrHalted):
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
