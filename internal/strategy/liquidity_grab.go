package strategy

import (
	"context"
	"fmt"
	"time"

	"hyperliquid-engine/internal/marketdata"
	"hyperliquid-engine/pkg/types"
)

// Liquidity grab: catch the bounce after price wicks through a support.
//
// Per-symbol state machine:
//
//	Idle  — price touches within 0.1% of the last closed 1h/30m low:
//	        record the wick event and arm.
//	Armed — expire after 10 minutes; otherwise fire a long once price
//	        recovers to within 0.2% of the support AND either volume holds
//	        up (V_now/V_avg ≥ 0.8) or the bounce itself is ≥ 0.1%.
//
// The whole evaluator runs at most every five seconds.
const (
	grabRunEvery     = 5 * time.Second
	grabTouchWiggle  = 1.001 // price ≤ support×1.001 arms the wick
	grabBounceWiggle = 0.998 // price ≥ support×0.998 counts as recovered
	grabWickTTL      = 600 * time.Second
	grabVolumeRatio  = 0.8
	grabRecoveryPct  = 0.1
	grabBars         = 6 // bars per timeframe; the forming one is dropped
)

type wickEvent struct {
	supportPrice float64
	timeframe    string
	wickPrice    float64
	wickTime     time.Time
}

type liquidityGrab struct {
	lastRun time.Time
	wicks   map[string]*wickEvent
}

func newLiquidityGrab() *liquidityGrab {
	return &liquidityGrab{wicks: make(map[string]*wickEvent)}
}

func (s *liquidityGrab) Type() types.StrategyType { return types.StrategyLiquidityGrab }

func (s *liquidityGrab) Evaluate(ctx context.Context, t *Tick) error {
	if !s.lastRun.IsZero() && t.Now.Sub(s.lastRun) < grabRunEvery {
		return nil
	}
	s.lastRun = t.Now

	for _, symbol := range t.Strategy.Pairs {
		current, ok := t.Prices[symbol]
		if !ok || current <= 0 {
			continue
		}
		s.evaluateSymbol(ctx, t, symbol, current)
	}
	return nil
}

func (s *liquidityGrab) evaluateSymbol(ctx context.Context, t *Tick, symbol string, current float64) {
	hour, hourAvg, hourErr := lastClosedWithVolume(ctx, t, symbol, "1h")
	half, halfAvg, halfErr := lastClosedWithVolume(ctx, t, symbol, "30m")
	if hourErr != nil && halfErr != nil {
		t.Logger.Warn("candle fetch failed", "symbol", symbol, "error", hourErr)
		return
	}

	// Trend filter on the last closed 30m candle; fail-open when missing.
	if halfErr == nil {
		if half.Close < half.Open {
			delete(s.wicks, symbol)
			return
		}
	} else if !t.TrendFailOpen {
		return
	}

	var avgVolume float64
	switch {
	case hourErr == nil && halfErr == nil:
		avgVolume = (hourAvg + halfAvg) / 2
	case hourErr == nil:
		avgVolume = hourAvg
	default:
		avgVolume = halfAvg
	}

	// Current 15m volume for the bounce confirmation.
	var nowVolume float64
	if candles, err := t.Candles.Recent(ctx, symbol, "15m", 2); err == nil && len(candles) > 0 {
		nowVolume = candles[len(candles)-1].Volume
	}

	ev := s.wicks[symbol]
	if ev == nil {
		// Idle: arm on a touch of a support, the hour low preferred.
		if hourErr == nil && hour.Low > 0 && current <= hour.Low*grabTouchWiggle {
			s.arm(t, symbol, hour.Low, "1h", current)
		} else if halfErr == nil && half.Low > 0 && current <= half.Low*grabTouchWiggle {
			s.arm(t, symbol, half.Low, "30m", current)
		}
		return
	}

	if t.Now.Sub(ev.wickTime) > grabWickTTL {
		delete(s.wicks, symbol)
		return
	}

	recovered := current >= ev.supportPrice*grabBounceWiggle
	volumeOK := avgVolume > 0 && nowVolume/avgVolume >= grabVolumeRatio
	recoveryPct := 0.0
	if ev.wickPrice > 0 {
		recoveryPct = (current - ev.wickPrice) / ev.wickPrice * 100
	}

	if recovered && (volumeOK || recoveryPct >= grabRecoveryPct) {
		delete(s.wicks, symbol)
		if !canEnter(t, symbol) {
			return
		}
		reason := fmt.Sprintf("Liquidity grab bounce off %s support", ev.timeframe)
		t.Logs.Append(ctx, types.LogSignal,
			fmt.Sprintf("long signal on %s: bounce off %.4f (%s), recovery %.2f%%",
				symbol, ev.supportPrice, ev.timeframe, recoveryPct),
			map[string]any{
				"symbol":       symbol,
				"support":      ev.supportPrice,
				"timeframe":    ev.timeframe,
				"wick_price":   ev.wickPrice,
				"recovery_pct": recoveryPct,
				"volume_ratio": safeRatio(nowVolume, avgVolume),
			})

		if _, err := t.Positions.Open(ctx, entryIntent(symbol, types.Long, current, reason,
			map[string]any{"support": ev.supportPrice, "wick_price": ev.wickPrice})); err != nil {
			t.Logger.Warn("entry failed", "symbol", symbol, "error", err)
		}
	}
}

func (s *liquidityGrab) arm(t *Tick, symbol string, support float64, timeframe string, current float64) {
	s.wicks[symbol] = &wickEvent{
		supportPrice: support,
		timeframe:    timeframe,
		wickPrice:    current,
		wickTime:     t.Now,
	}
	t.Logger.Info("wick armed",
		"symbol", symbol, "support", support, "timeframe", timeframe, "price", current)
}

// lastClosedWithVolume returns the last closed candle and the average closed
// volume for one timeframe.
func lastClosedWithVolume(ctx context.Context, t *Tick, symbol, interval string) (types.Candle, float64, error) {
	candles, err := t.Candles.Recent(ctx, symbol, interval, grabBars)
	if err != nil {
		return types.Candle{}, 0, err
	}
	closed := marketdata.Closed(candles)
	if len(closed) == 0 {
		return types.Candle{}, 0, fmt.Errorf("no closed %s candles for %s", interval, symbol)
	}
	var vol float64
	for _, k := range closed {
		vol += k.Volume
	}
	return closed[len(closed)-1], vol / float64(len(closed)), nil
}

func safeRatio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
