package strategy

import (
	"context"
	"fmt"
	"time"

	"hyperliquid-engine/pkg/types"
)

// imbalanceV2Params are the tunables of the v2 imbalance strategy, decoded
// from the strategies row's parameters object.
type imbalanceV2Params struct {
	ImbalanceThreshold float64 `json:"imbalance_threshold"`
	Depth              int     `json:"depth"`
	MinHoldTimeSec     float64 `json:"min_hold_time"`
	CooldownPeriodSec  float64 `json:"cooldown_period"`
}

func defaultV2Params() imbalanceV2Params {
	return imbalanceV2Params{
		ImbalanceThreshold: 0.7,
		Depth:              10,
		MinHoldTimeSec:     30,
		CooldownPeriodSec:  60,
	}
}

// Orderbook imbalance v2 works on the normalized ratio ρ = bid / (bid + ask)
// over the configured depth. Long-only: entries fire when ρ crosses the
// threshold; the exit sweep runs before entries every tick and
// closes a position held at least min_hold_time once ρ collapses below
// 1 − threshold, or unconditionally at twice the hold time. The strategy
// keeps its own per-symbol trade clock for the entry cooldown, separate from
// the generic post-close cooldown.
type orderbookImbalanceV2 struct {
	lastTrade map[string]time.Time
}

func newOrderbookImbalanceV2() *orderbookImbalanceV2 {
	return &orderbookImbalanceV2{lastTrade: make(map[string]time.Time)}
}

func (s *orderbookImbalanceV2) Type() types.StrategyType {
	return types.StrategyOrderbookImbalanceV2
}

func (s *orderbookImbalanceV2) Evaluate(ctx context.Context, t *Tick) error {
	params := defaultV2Params()
	decodeParams(t.Strategy.Parameters, &params)
	minHold := time.Duration(params.MinHoldTimeSec * float64(time.Second))
	cooldown := time.Duration(params.CooldownPeriodSec * float64(time.Second))

	for _, pair := range t.Strategy.Pairs {
		symbol := types.NormalizeSymbol(pair)
		mid, ok := t.Prices[symbol]
		if !ok || mid <= 0 {
			continue
		}

		book, err := t.Books.L2Book(ctx, symbol)
		if err != nil {
			t.Logger.Warn("book fetch failed", "symbol", symbol, "error", err)
			continue
		}
		bidSum, askSum := book.DepthSums(params.Depth)
		total := bidSum + askSum
		if total == 0 {
			continue
		}
		rho := bidSum / total

		// Exits run before entries and ignore every cooldown.
		if pos, held := t.Positions.Get(symbol); held && pos.Side == types.Long {
			heldFor := t.Now.Sub(pos.OpenedAt)
			if heldFor >= minHold {
				var reason string
				switch {
				case rho < 1-params.ImbalanceThreshold:
					reason = "Imbalance reversed"
				case heldFor >= 2*minHold:
					reason = "Max hold reached"
				}
				if reason != "" {
					if err := t.Positions.Close(ctx, pos, mid, reason); err == nil {
						s.lastTrade[symbol] = t.Now
					}
					continue
				}
			}
			continue // holding; no entry logic on this symbol
		}

		if last, ok := s.lastTrade[symbol]; ok && t.Now.Sub(last) < cooldown {
			continue
		}
		if !canEnter(t, symbol) {
			continue
		}

		if rho > params.ImbalanceThreshold {
			reason := fmt.Sprintf("Orderbook imbalance %.2f", rho)
			t.Logs.Append(ctx, types.LogSignal,
				fmt.Sprintf("long signal on %s: imbalance %.2f", symbol, rho),
				map[string]any{"symbol": symbol, "imbalance": rho, "price": mid})

			if _, err := t.Positions.Open(ctx, entryIntent(symbol, types.Long, mid, reason,
				map[string]any{"imbalance": rho})); err != nil {
				t.Logger.Warn("entry failed", "symbol", symbol, "error", err)
				continue
			}
			s.lastTrade[symbol] = t.Now
		}
	}
	return nil
}
