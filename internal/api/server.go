package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"tradesim/internal/bus"
	"tradesim/internal/config"
	"tradesim/internal/metrics"
)

// Server runs the HTTP and WebSocket API.
type Server struct {
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the route table. Method-qualified patterns route per verb;
// the mux itself answers 405 for known paths with the wrong method.
func NewServer(cfg *config.Config, core Exchange, events *bus.Bus, logger *slog.Logger) *Server {
	handlers := NewHandlers(core, events, cfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handlers.HandleHealth)
	mux.HandleFunc("GET /api/user", instrument("/api/user", handlers.HandleUser))
	mux.HandleFunc("GET /api/orderbook", instrument("/api/orderbook", handlers.HandleOrderBook))
	mux.HandleFunc("GET /api/orders", instrument("/api/orders", handlers.HandleOpenOrders))
	mux.HandleFunc("POST /api/orders", instrument("/api/orders", handlers.HandlePlaceOrder))
	mux.HandleFunc("DELETE /api/orders/{id}", instrument("/api/orders/{id}", handlers.HandleCancelOrder))
	mux.HandleFunc("PUT /api/orders/{id}", instrument("/api/orders/{id}", handlers.HandleAmendOrder))
	mux.HandleFunc("GET /api/trades", instrument("/api/trades", handlers.HandleTrades))
	mux.Handle("GET /metrics", metrics.Handler())
	// The upgrade hijacks the connection, so /ws stays outside the
	// instrumentation wrapper.
	mux.HandleFunc("GET /ws", handlers.HandleStream)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api"),
	}
}

// Start serves until Stop is called. Blocks.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests with a timeout.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// instrument records request count and latency under a stable path label.
func instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.Get().RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), timer.ElapsedMs())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
