package strategy

import (
	"context"
	"fmt"

	"hyperliquid-engine/pkg/types"
)

// Momentum breakout: price change over the last ~5 minutes of 1m candles.
// A move beyond ±2% enters in the direction of the move at the current mid.
const (
	momentumBars       = 5
	momentumEntryPct   = 2.0
	momentumWindowName = "5m"
)

type momentumBreakout struct{}

func newMomentumBreakout() *momentumBreakout { return &momentumBreakout{} }

func (s *momentumBreakout) Type() types.StrategyType { return types.StrategyMomentumBreakout }

func (s *momentumBreakout) Evaluate(ctx context.Context, t *Tick) error {
	for _, symbol := range t.Strategy.Pairs {
		current, ok := t.Prices[symbol]
		if !ok || current <= 0 {
			continue
		}

		candles, err := t.Candles.Recent(ctx, symbol, "1m", momentumBars)
		if err != nil {
			t.Logger.Warn("candle fetch failed", "symbol", symbol, "error", err)
			continue
		}
		if len(candles) == 0 || candles[0].Close <= 0 {
			continue
		}

		oldest := candles[0].Close
		momentum := (current - oldest) / oldest * 100
		// momentum_score is observational only; it never gates entries.
		score := momentum / momentumEntryPct

		t.Logs.UpdateTile(ctx, types.TileMonitoring, symbol,
			fmt.Sprintf("%s momentum %+.2f%% over %s", symbol, momentum, momentumWindowName),
			map[string]any{
				"price":          current,
				"momentum_pct":   momentum,
				"momentum_score": score,
			})

		if !canEnter(t, symbol) {
			continue
		}

		var side types.Side
		switch {
		case momentum > momentumEntryPct:
			side = types.Long
		case momentum < -momentumEntryPct:
			side = types.Short
		default:
			continue
		}

		reason := fmt.Sprintf("Momentum breakout %+.2f%%", momentum)
		t.Logs.Append(ctx, types.LogSignal,
			fmt.Sprintf("%s signal on %s: momentum %+.2f%%", side, symbol, momentum),
			map[string]any{"symbol": symbol, "side": side, "momentum_pct": momentum, "momentum_score": score, "price": current})

		if _, err := t.Positions.Open(ctx, entryIntent(symbol, side, current, reason,
			map[string]any{"momentum_pct": momentum, "momentum_score": score})); err != nil {
			t.Logger.Warn("entry failed", "symbol", symbol, "error", err)
		}
	}
	return nil
}
