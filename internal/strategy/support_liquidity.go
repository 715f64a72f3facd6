package strategy

import (
	"context"
	"fmt"

	"hyperliquid-engine/pkg/types"
)

// Support liquidity: trade the scanner's published support levels when order
// flow agrees. Entry (long only) needs all of: a scanner support for the
// symbol, price within 0.15% of it, price not meaningfully below it, and
// positive net aggressor flow over the last hundred prints.
const (
	supportWiggle    = 0.0015 // 0.15% proximity band around the support
	supportFloor     = 0.9985 // price ≥ support×0.9985
	flowWindowPrints = 100
)

type supportLiquidity struct{}

func newSupportLiquidity() *supportLiquidity { return &supportLiquidity{} }

func (s *supportLiquidity) Type() types.StrategyType { return types.StrategySupportLiquidity }

func (s *supportLiquidity) Evaluate(ctx context.Context, t *Tick) error {
	for _, symbol := range t.Strategy.Pairs {
		current, ok := t.Prices[symbol]
		if !ok || current <= 0 {
			continue
		}

		row, err := t.Levels.Get(ctx, symbol)
		if err != nil {
			t.Logger.Warn("levels read failed", "symbol", symbol, "error", err)
			continue
		}
		if row == nil || row.Support == nil || row.Support.Price <= 0 {
			continue // the scanner has not published a support yet
		}
		support := row.Support.Price

		ticks, err := t.Trades.RecentTrades(ctx, symbol)
		if err != nil {
			t.Logger.Warn("recent trades fetch failed", "symbol", symbol, "error", err)
			continue
		}
		flow := Flow(ticks, flowWindowPrints)

		distance := current - support
		if distance < 0 {
			distance = -distance
		}
		nearSupport := distance/support <= supportWiggle
		aboveFloor := current >= support*supportFloor

		t.Logs.UpdateTile(ctx, types.TileMonitoring, symbol,
			fmt.Sprintf("%s near support %.4f, net flow %.0f", symbol, support, flow.NetFlow),
			map[string]any{
				"price":        current,
				"support":      support,
				"distance_pct": distance / support * 100,
				"buy_volume":   flow.BuyVolume,
				"sell_volume":  flow.SellVolume,
				"net_flow":     flow.NetFlow,
				"flow_ratio":   flow.FlowRatio,
			})

		if !nearSupport || !aboveFloor || !flow.Bullish() {
			continue
		}
		if !canEnter(t, symbol) {
			continue
		}

		reason := fmt.Sprintf("Support hold at %.4f with bullish flow", support)
		t.Logs.Append(ctx, types.LogSignal,
			fmt.Sprintf("long signal on %s: support %.4f, net flow %.0f", symbol, support, flow.NetFlow),
			map[string]any{"symbol": symbol, "support": support, "net_flow": flow.NetFlow, "flow_ratio": flow.FlowRatio, "price": current})

		if _, err := t.Positions.Open(ctx, entryIntent(symbol, types.Long, current, reason,
			map[string]any{"support": support, "net_flow": flow.NetFlow})); err != nil {
			t.Logger.Warn("entry failed", "symbol", symbol, "error", err)
		}
	}
	return nil
}
