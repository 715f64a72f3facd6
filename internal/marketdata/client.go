// Package marketdata implements the exchange market-data HTTP client.
//
// All market data arrives through a single POST endpoint taking a JSON body
// with a request type:
//   - AllMids:          {type: "allMids"}                        — symbol → mid price
//   - L2Book:           {type: "l2Book", coin}                   — two-sided depth snapshot
//   - Candles:          {type: "candleSnapshot", req: {...}}     — OHLCV bars
//   - RecentTrades:     {type: "recentTrades", coin}             — latest prints
//   - MetaAndAssetCtxs: {type: "metaAndAssetCtxs"}               — universe + daily stats
//
// Numbers arrive as strings and are parsed here; no stringly-typed values
// leave this package. Calls never retry internally: a failure surfaces to the
// caller, which treats it as "skip this symbol this tick". A circuit breaker
// fails fast while the endpoint is unhealthy, and a Pacer sleeps before
// candle and book calls to stay polite.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"hyperliquid-engine/internal/config"
	"hyperliquid-engine/pkg/types"
)

// ErrMalformed marks provider responses that do not match the documented
// shape (for example a bare integer error code instead of a book object).
// Callers log and skip the symbol; no state changes.
var ErrMalformed = errors.New("malformed provider response")

// Client is the market-data API client. Safe for concurrent use, though the
// engine gives the supervisor and the scanner separate instances so the two
// tasks share no in-memory state.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	pacer   *Pacer
	logger  *slog.Logger
}

// NewClient creates a client for the configured /info endpoint.
func NewClient(cfg config.ExchangeConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	settings := gobreaker.Settings{
		Name:        "info",
		MaxRequests: 3,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.Breaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.Breaker.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("market data breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(settings),
		pacer: NewPacer(map[CallKind]time.Duration{
			CallCandles: cfg.CandleDelay,
			CallBook:    cfg.BookDelay,
		}),
		logger: logger.With("component", "marketdata"),
	}
}

// post sends one /info request and returns the raw response body.
func (c *Client) post(ctx context.Context, kind CallKind, body any) ([]byte, error) {
	if err := c.pacer.Wait(ctx, kind); err != nil {
		return nil, err
	}

	raw, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(body).
			Post("/info")
		if err != nil {
			return nil, fmt.Errorf("info %s: %w", kind, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("info %s: status %d: %s", kind, resp.StatusCode(), resp.String())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}
	return raw.([]byte), nil
}

// AllMids returns the current mid price for every listed symbol.
func (c *Client) AllMids(ctx context.Context) (map[string]float64, error) {
	body, err := c.post(ctx, CallMids, map[string]any{"type": "allMids"})
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: allMids: %v", ErrMalformed, err)
	}

	mids := make(map[string]float64, len(raw))
	for sym, s := range raw {
		px, err := parseNum(s)
		if err != nil {
			return nil, fmt.Errorf("%w: allMids %s: %v", ErrMalformed, sym, err)
		}
		mids[sym] = px
	}
	return mids, nil
}

type rawBook struct {
	Coin   string       `json:"coin"`
	Levels [][][]string `json:"levels"` // levels[0] = bids, levels[1] = asks, each [price, size]
	Time   int64        `json:"time"`
}

// L2Book returns the order book snapshot for one symbol, bids and asks best
// first. The provider occasionally answers with a bare integer error code in
// place of the book object; that surfaces as ErrMalformed.
func (c *Client) L2Book(ctx context.Context, coin string) (*types.OrderBook, error) {
	body, err := c.post(ctx, CallBook, map[string]any{"type": "l2Book", "coin": coin})
	if err != nil {
		return nil, err
	}

	var raw rawBook
	if err := json.Unmarshal(body, &raw); err != nil {
		var code int
		if json.Unmarshal(body, &code) == nil {
			return nil, fmt.Errorf("%w: l2Book %s: error code %d", ErrMalformed, coin, code)
		}
		return nil, fmt.Errorf("%w: l2Book %s: %v", ErrMalformed, coin, err)
	}
	if len(raw.Levels) < 2 {
		return nil, fmt.Errorf("%w: l2Book %s: %d sides", ErrMalformed, coin, len(raw.Levels))
	}

	book := &types.OrderBook{Coin: raw.Coin, Time: raw.Time}
	if book.Bids, err = parseLevels(raw.Levels[0]); err != nil {
		return nil, fmt.Errorf("%w: l2Book %s bids: %v", ErrMalformed, coin, err)
	}
	if book.Asks, err = parseLevels(raw.Levels[1]); err != nil {
		return nil, fmt.Errorf("%w: l2Book %s asks: %v", ErrMalformed, coin, err)
	}
	return book, nil
}

func parseLevels(raw [][]string) ([]types.BookLevel, error) {
	levels := make([]types.BookLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			return nil, fmt.Errorf("level has %d fields", len(lv))
		}
		px, err := parseNum(lv[0])
		if err != nil {
			return nil, err
		}
		sz, err := parseNum(lv[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, types.BookLevel{Price: px, Size: sz})
	}
	return levels, nil
}

type rawCandle struct {
	T int64  `json:"t"` // open time, unix ms
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
	V string `json:"v"`
}

// Candles returns OHLCV bars for [startMs, endMs], oldest first.
func (c *Client) Candles(ctx context.Context, coin, interval string, startMs, endMs int64) ([]types.Candle, error) {
	req := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":      coin,
			"interval":  interval,
			"startTime": startMs,
			"endTime":   endMs,
		},
	}
	body, err := c.post(ctx, CallCandles, req)
	if err != nil {
		return nil, err
	}

	var raw []rawCandle
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: candles %s %s: %v", ErrMalformed, coin, interval, err)
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, rc := range raw {
		k := types.Candle{T: rc.T}
		if k.Open, err = parseNum(rc.O); err == nil {
			if k.High, err = parseNum(rc.H); err == nil {
				if k.Low, err = parseNum(rc.L); err == nil {
					if k.Close, err = parseNum(rc.C); err == nil {
						k.Volume, err = parseNum(rc.V)
					}
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: candles %s %s: %v", ErrMalformed, coin, interval, err)
		}
		candles = append(candles, k)
	}
	return candles, nil
}

type rawTrade struct {
	Side string `json:"side"` // "B" or "A"
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Time int64  `json:"time"`
}

// RecentTrades returns the latest prints for one symbol, most recent last.
func (c *Client) RecentTrades(ctx context.Context, coin string) ([]types.TradeTick, error) {
	body, err := c.post(ctx, CallTrades, map[string]any{"type": "recentTrades", "coin": coin})
	if err != nil {
		return nil, err
	}

	var raw []rawTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: recentTrades %s: %v", ErrMalformed, coin, err)
	}

	ticks := make([]types.TradeTick, 0, len(raw))
	for _, rt := range raw {
		px, err := parseNum(rt.Px)
		if err != nil {
			return nil, fmt.Errorf("%w: recentTrades %s: %v", ErrMalformed, coin, err)
		}
		sz, err := parseNum(rt.Sz)
		if err != nil {
			return nil, fmt.Errorf("%w: recentTrades %s: %v", ErrMalformed, coin, err)
		}
		ticks = append(ticks, types.TradeTick{Price: px, Size: sz, Side: rt.Side, Time: rt.Time})
	}
	return ticks, nil
}

type rawMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type rawAssetCtx struct {
	DayNtlVlm string `json:"dayNtlVlm"`
	PrevDayPx string `json:"prevDayPx"`
	MarkPx    string `json:"markPx"`
}

// MetaAndAssetCtxs returns the daily stats for every listed symbol. The wire
// format is a two-element array: the universe (symbol names) and a parallel
// array of per-asset contexts.
func (c *Client) MetaAndAssetCtxs(ctx context.Context) ([]types.AssetContext, error) {
	body, err := c.post(ctx, CallMeta, map[string]any{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, err
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil || len(parts) < 2 {
		return nil, fmt.Errorf("%w: metaAndAssetCtxs: not a two-part response", ErrMalformed)
	}

	var meta rawMeta
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return nil, fmt.Errorf("%w: metaAndAssetCtxs universe: %v", ErrMalformed, err)
	}
	var ctxs []rawAssetCtx
	if err := json.Unmarshal(parts[1], &ctxs); err != nil {
		return nil, fmt.Errorf("%w: metaAndAssetCtxs contexts: %v", ErrMalformed, err)
	}

	n := len(meta.Universe)
	if len(ctxs) < n {
		n = len(ctxs)
	}
	assets := make([]types.AssetContext, 0, n)
	for i := 0; i < n; i++ {
		a := types.AssetContext{Symbol: meta.Universe[i].Name}
		if a.DayVolumeUSD, err = parseNum(ctxs[i].DayNtlVlm); err != nil {
			return nil, fmt.Errorf("%w: metaAndAssetCtxs %s: %v", ErrMalformed, a.Symbol, err)
		}
		if a.PrevDayPrice, err = parseNum(ctxs[i].PrevDayPx); err != nil {
			return nil, fmt.Errorf("%w: metaAndAssetCtxs %s: %v", ErrMalformed, a.Symbol, err)
		}
		if a.MarkPrice, err = parseNum(ctxs[i].MarkPx); err != nil {
			return nil, fmt.Errorf("%w: metaAndAssetCtxs %s: %v", ErrMalformed, a.Symbol, err)
		}
		assets = append(assets, a)
	}
	return assets, nil
}

func parseNum(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}
