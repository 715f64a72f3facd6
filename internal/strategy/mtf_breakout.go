package strategy

import (
	"context"
	"fmt"

	"hyperliquid-engine/internal/marketdata"
	"hyperliquid-engine/pkg/types"
)

// Multi-timeframe breakout, dip-only variant: the last closed candle on each
// of 15m/30m/1h gives the timeframe's reference high and low. Entries fire
// long when price dips to a reference low with volume behind it. The
// near-high side is computed and logged but never trades, and shorts do not
// exist here.
const (
	mtfBars    = 10     // bars fetched per timeframe; the last (forming) one is dropped
	dipWiggle  = 0.0005 // 0.05% relative distance that counts as "at the low"
	volWeightL = 0.5    // clamp bounds for the 15m/30m volume weight
	volWeightH = 3.0
)

var mtfTimeframes = []string{"15m", "30m", "1h"}

type tfStats struct {
	lastClosed types.Candle
	avgVolume  float64
}

type multiTFBreakout struct{}

func newMultiTFBreakout() *multiTFBreakout { return &multiTFBreakout{} }

func (s *multiTFBreakout) Type() types.StrategyType { return types.StrategyMultiTFBreakout }

func (s *multiTFBreakout) Evaluate(ctx context.Context, t *Tick) error {
	for _, symbol := range t.Strategy.Pairs {
		current, ok := t.Prices[symbol]
		if !ok || current <= 0 {
			continue
		}
		s.evaluateSymbol(ctx, t, symbol, current)
	}
	return nil
}

func (s *multiTFBreakout) evaluateSymbol(ctx context.Context, t *Tick, symbol string, current float64) {
	stats := make(map[string]tfStats, len(mtfTimeframes))
	for _, tf := range mtfTimeframes {
		candles, err := t.Candles.Recent(ctx, symbol, tf, mtfBars)
		if err != nil {
			t.Logger.Warn("candle fetch failed", "symbol", symbol, "timeframe", tf, "error", err)
			continue // the remaining timeframes can still signal
		}
		closed := marketdata.Closed(candles)
		if len(closed) == 0 {
			continue
		}
		var vol float64
		for _, k := range closed {
			vol += k.Volume
		}
		stats[tf] = tfStats{lastClosed: closed[len(closed)-1], avgVolume: vol / float64(len(closed))}
	}
	if len(stats) == 0 {
		return
	}

	// Trend filter on the last closed 1h candle: a bearish hour blocks
	// entries but observational logging continues. When the hour candle is
	// unavailable the filter fails open (or closed, per config).
	bearish := false
	if hour, ok := stats["1h"]; ok {
		bearish = hour.lastClosed.Close < hour.lastClosed.Open
	} else if !t.TrendFailOpen {
		bearish = true
	}

	weight := volumeWeight(stats["15m"].avgVolume, stats["30m"].avgVolume)
	hasVolume := weight > volWeightL

	near := make(map[string]bool, len(mtfTimeframes))
	nearHigh := make(map[string]bool, len(mtfTimeframes))
	for tf, st := range stats {
		low, high := st.lastClosed.Low, st.lastClosed.High
		near[tf] = low > 0 && relDistance(current, low) <= dipWiggle
		nearHigh[tf] = high > 0 && relDistance(current, high) <= dipWiggle
	}

	t.Logs.UpdateTile(ctx, types.TileMarketMetrics, symbol,
		fmt.Sprintf("%s MTF: vol weight %.2f", symbol, weight),
		map[string]any{
			"price":         current,
			"volume_weight": weight,
			"has_volume":    hasVolume,
			"bearish_1h":    bearish,
			"near_low_1h":   near["1h"],
			"near_low_30m":  near["30m"],
			"near_low_15m":  near["15m"],
			"near_high_1h":  nearHigh["1h"],
			"near_high_30m": nearHigh["30m"],
			"near_high_15m": nearHigh["15m"],
		})

	if bearish {
		return // downtrend: no dip entries
	}
	if !canEnter(t, symbol) {
		return
	}

	// Strict priority: slowest timeframe first; first match wins.
	for _, tf := range []string{"1h", "30m", "15m"} {
		if near[tf] && hasVolume {
			low := stats[tf].lastClosed.Low
			reason := fmt.Sprintf("Buy dip at %s low", tf)
			t.Logs.Append(ctx, types.LogSignal,
				fmt.Sprintf("long signal on %s: dip at %s low %.4f", symbol, tf, low),
				map[string]any{"symbol": symbol, "timeframe": tf, "low": low, "price": current, "volume_weight": weight})

			if _, err := t.Positions.Open(ctx, entryIntent(symbol, types.Long, current, reason,
				map[string]any{"timeframe": tf, "reference_low": low, "volume_weight": weight})); err != nil {
				t.Logger.Warn("entry failed", "symbol", symbol, "error", err)
			}
			return
		}
	}
}

// relDistance is |price − ref| / ref.
func relDistance(price, ref float64) float64 {
	d := price - ref
	if d < 0 {
		d = -d
	}
	return d / ref
}

// volumeWeight is the clamped ratio of 15m to 30m average volume.
func volumeWeight(v15, v30 float64) float64 {
	if v30 <= 0 {
		return volWeightL
	}
	w := v15 / v30
	if w < volWeightL {
		return volWeightL
	}
	if w > volWeightH {
		return volWeightH
	}
	return w
}
