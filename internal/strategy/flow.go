package strategy

import "hyperliquid-engine/pkg/types"

// FlowSnapshot summarizes the aggressor flow over a window of recent prints.
// Bid-initiated prints ("B") are aggressive buys, ask-initiated ("A")
// aggressive sells; volumes are notional (price × size).
type FlowSnapshot struct {
	BuyVolume  float64
	SellVolume float64
	NetFlow    float64 // buy − sell
	FlowRatio  float64 // buy / (buy + sell), 0 when no volume
}

// Bullish reports whether net flow is positive.
func (f FlowSnapshot) Bullish() bool { return f.NetFlow > 0 }

// Flow computes the snapshot over the most recent up-to-limit ticks
// (ticks arrive oldest first).
func Flow(ticks []types.TradeTick, limit int) FlowSnapshot {
	if limit > 0 && len(ticks) > limit {
		ticks = ticks[len(ticks)-limit:]
	}

	var f FlowSnapshot
	for _, tk := range ticks {
		notional := tk.Price * tk.Size
		switch tk.Side {
		case types.TickSideBid:
			f.BuyVolume += notional
		case types.TickSideAsk:
			f.SellVolume += notional
		}
	}
	f.NetFlow = f.BuyVolume - f.SellVolume
	if total := f.BuyVolume + f.SellVolume; total > 0 {
		f.FlowRatio = f.BuyVolume / total
	}
	return f
}
