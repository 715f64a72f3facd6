package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"hyperliquid-engine/internal/levels"
	"hyperliquid-engine/internal/marketdata"
	"hyperliquid-engine/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Read-only public data; any origin may subscribe.
		return true
	},
}

// Mids reads the current mid-price snapshot. Satisfied by *marketdata.Client.
type Mids interface {
	AllMids(ctx context.Context) (map[string]float64, error)
}

// Candles fetches recent bars. Satisfied by *marketdata.CandleCache.
type Candles interface {
	Recent(ctx context.Context, symbol, interval string, bars int) ([]types.Candle, error)
}

var defaultTimeframes = []string{"15m", "30m", "1h"}

// Candle depth for on-demand requests: slower timeframes get more history.
const (
	slowTimeframeBars = 100
	fastTimeframeBars = 50
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	mids    Mids
	candles Candles
	hub     *Hub
	logger  *slog.Logger
}

// NewHandlers creates the handlers over the market-data adapters.
func NewHandlers(mids Mids, candles Candles, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		mids:    mids,
		candles: candles,
		hub:     hub,
		logger:  logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns the service liveness payload.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "scanner-api"})
}

// HandleLevels computes support/resistance for one symbol on demand.
func (h *Handlers) HandleLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req LevelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	symbol := types.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	timeframes := req.Timeframes
	if len(timeframes) == 0 {
		timeframes = defaultTimeframes
	}

	resp, err := h.computeLevels(r.Context(), symbol, timeframes, req.Limit)
	if err != nil {
		h.logger.Error("on-demand levels failed", "symbol", symbol, "error", err)
		writeError(w, http.StatusBadGateway, "level computation failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode levels", "error", err)
	}
}

func (h *Handlers) computeLevels(ctx context.Context, symbol string, timeframes []string, limit int) (*LevelsResponse, error) {
	mids, err := h.mids.AllMids(ctx)
	if err != nil {
		return nil, err
	}
	mid := mids[symbol]

	byTimeframe := make(map[string]types.TimeframeLevels, len(timeframes))
	var lastErr error
	for _, tf := range timeframes {
		bars := fastTimeframeBars
		if marketdata.IntervalDuration(tf) >= time.Hour {
			bars = slowTimeframeBars
		}
		if limit > 0 {
			bars = limit
		}
		candles, err := h.candles.Recent(ctx, symbol, tf, bars)
		if err != nil {
			lastErr = err
			h.logger.Warn("candle fetch failed", "symbol", symbol, "timeframe", tf, "error", err)
			continue
		}
		closed := marketdata.Closed(candles)
		if len(closed) == 0 {
			continue
		}
		ref := mid
		if ref <= 0 {
			ref = closed[len(closed)-1].Close
		}
		support, resistance := levels.FindLevels(closed, ref, tf)
		byTimeframe[tf] = types.TimeframeLevels{Support: support, Resistance: resistance}
	}
	if len(byTimeframe) == 0 && lastErr != nil {
		return nil, lastErr
	}

	support, resistance := levels.Strongest(mid, byTimeframe)
	return &LevelsResponse{
		Symbol:        symbol,
		CurrentPrice:  mid,
		Support:       support,
		Resistance:    resistance,
		Closest:       levels.Closest(mid, byTimeframe),
		AllTimeframes: byTimeframe,
	}, nil
}

// HandleWebSocket upgrades the connection and subscribes it to the stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	NewClient(h.hub, conn)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
