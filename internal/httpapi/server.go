package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/internal/domain"
	"tradecore/internal/status"
	"tradecore/internal/store"
	"tradecore/pkg/tradecore"
)

// Resumer clears a symbol's order-lifecycle pause.
type Resumer interface {
	Resume(symbol string) bool
}

// Options carries the optional backends of a StatusServer. A nil backend
// makes its routes fall back to the live board or answer 503.
type Options struct {
	Resumer Resumer
	Orders  store.OrderStore
	Signals store.SignalStore
	Candles store.CandleStore
	Log     *slog.Logger
}

// StatusServer serves the trader's status HTTP API.
type StatusServer struct {
	board    *status.Board
	resumer  Resumer
	orders   store.OrderStore
	signals  store.SignalStore
	candles  store.CandleStore
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewStatusServer creates a new status HTTP server.
func NewStatusServer(board *status.Board, opts Options) *StatusServer {
	log := opts.Log
	if log == nil {
		log = slog.Default().With("component", "http")
	}
	return &StatusServer{
		board:   board,
		resumer: opts.Resumer,
		orders:  opts.Orders,
		signals: opts.Signals,
		candles: opts.Candles,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *StatusServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/risk", s.handleRisk)
	mux.HandleFunc("GET /api/signals", s.handleSignals)
	mux.HandleFunc("GET /api/orders", s.handleOrders)
	mux.HandleFunc("GET /api/orders/{id}", s.handleOrder)
	mux.HandleFunc("GET /api/orders/{id}/fills", s.handleFills)
	mux.HandleFunc("GET /api/candles/{symbol}", s.handleCandles)
	mux.HandleFunc("POST /api/symbols/{symbol}/resume", s.handleResume)
	mux.HandleFunc("GET /ws", s.handleWS)
}

// Handler returns an http.Handler with CORS middleware.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("http server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http serve %s: %w", addr, err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseLimit extracts the "limit" query param, clamped to [1, 1000].
func parseLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, 1000)
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.board.Snapshot().Wire())
}

func (s *StatusServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, status.WirePortfolio(s.board.Snapshot().Portfolio))
}

func (s *StatusServer) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, status.WireRisk(s.board.Snapshot().Risk))
}

func (s *StatusServer) handleSignals(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	limit := parseLimit(r, 100)

	if s.signals == nil {
		out := []tradecore.Signal{}
		for _, sig := range s.board.Snapshot().Signals {
			if symbol == "" || sig.Symbol == symbol {
				out = append(out, status.WireSignal(sig))
			}
		}
		writeJSON(w, SignalsResponse{Source: "live", Signals: out[:min(len(out), limit)]})
		return
	}

	sigs, err := s.signals.ListSignals(r.Context(), symbol, limit)
	if err != nil {
		s.log.Error("listing signals", "symbol", symbol, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	out := make([]tradecore.Signal, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, status.WireSignal(sig))
	}
	writeJSON(w, SignalsResponse{Source: "journal", Signals: out})
}

func (s *StatusServer) handleOrders(w http.ResponseWriter, r *http.Request) {
	st := domain.OrderStatus(strings.ToLower(r.URL.Query().Get("status")))
	limit := parseLimit(r, 100)

	if s.orders == nil {
		out := []tradecore.Order{}
		for _, o := range s.board.Snapshot().Orders {
			if st == "" || o.Status == st {
				out = append(out, status.WireOrder(o))
			}
		}
		writeJSON(w, OrdersResponse{Source: "live", Orders: out[:min(len(out), limit)]})
		return
	}

	orders, err := s.orders.ListOrders(r.Context(), st, limit)
	if err != nil {
		s.log.Error("listing orders", "status", st, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	out := make([]tradecore.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, status.WireOrder(o))
	}
	writeJSON(w, OrdersResponse{Source: "journal", Orders: out})
}

func (s *StatusServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	id := r.PathValue("id")
	o, err := s.orders.GetOrder(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("order %s not found", id))
		return
	}
	if err != nil {
		s.log.Error("getting order", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	writeJSON(w, status.WireOrder(o))
}

func (s *StatusServer) handleFills(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	id := r.PathValue("id")
	fills, err := s.orders.ListFills(r.Context(), id)
	if err != nil {
		s.log.Error("listing fills", "orderID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}
	out := make([]tradecore.Fill, 0, len(fills))
	for _, f := range fills {
		out = append(out, status.WireFill(f))
	}
	writeJSON(w, FillsResponse{OrderID: id, Fills: out})
}

func (s *StatusServer) handleCandles(w http.ResponseWriter, r *http.Request) {
	if s.candles == nil {
		writeError(w, http.StatusServiceUnavailable, "candle archive not configured")
		return
	}
	q := r.URL.Query()
	key := domain.Key{
		Symbol:    strings.ToUpper(r.PathValue("symbol")),
		Timeframe: domain.Timeframe(q.Get("timeframe")),
	}
	if key.Timeframe == "" {
		key.Timeframe = domain.Timeframe1m
	}
	if _, err := key.Timeframe.Duration(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end")
			return
		}
		end = t
	}

	candles, err := s.candles.ReadCandles(r.Context(), key, start, end)
	if err != nil {
		s.log.Error("reading candles", "key", key.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read candles")
		return
	}
	writeJSON(w, CandlesResponse{Symbol: key.Symbol, Timeframe: string(key.Timeframe), Candles: convertCandles(candles)})
}

func (s *StatusServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if s.resumer == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not attached")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	resumed := s.resumer.Resume(symbol)
	if resumed {
		s.log.Info("symbol resumed", "symbol", symbol)
	}
	writeJSON(w, ResumeResponse{Symbol: symbol, Resumed: resumed})
}
