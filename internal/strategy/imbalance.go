package strategy

import (
	"context"
	"fmt"
	"time"

	"hyperliquid-engine/pkg/types"
)

// Orderbook imbalance v1: the ratio of bid depth to ask depth over the top
// ten levels. A heavily bid book (ratio > 3) enters long at the best ask; a
// heavily offered one (ratio < 1/3) enters short at the best bid.
const (
	imbalanceDepth      = 10
	imbalanceLongRatio  = 3.0
	imbalanceShortRatio = 0.33

	bookTileEvery = 30 * time.Second
)

type orderbookImbalance struct {
	tileAt map[string]time.Time
}

func newOrderbookImbalance() *orderbookImbalance {
	return &orderbookImbalance{tileAt: make(map[string]time.Time)}
}

func (s *orderbookImbalance) Type() types.StrategyType { return types.StrategyOrderbookImbalance }

func (s *orderbookImbalance) Evaluate(ctx context.Context, t *Tick) error {
	for _, symbol := range t.Strategy.Pairs {
		book, err := t.Books.L2Book(ctx, symbol)
		if err != nil {
			t.Logger.Warn("book fetch failed", "symbol", symbol, "error", err)
			continue
		}

		bidSum, askSum := book.DepthSums(imbalanceDepth)
		if askSum == 0 {
			continue
		}
		ratio := bidSum / askSum

		if last, ok := s.tileAt[symbol]; !ok || t.Now.Sub(last) >= bookTileEvery {
			s.tileAt[symbol] = t.Now
			t.Logs.UpdateTile(ctx, types.TileMarketMetrics, symbol,
				fmt.Sprintf("%s book imbalance %.2f", symbol, ratio),
				map[string]any{
					"bid_depth": bidSum,
					"ask_depth": askSum,
					"ratio":     ratio,
				})
		}

		if !canEnter(t, symbol) {
			continue
		}

		switch {
		case ratio > imbalanceLongRatio:
			ask, ok := book.BestAsk()
			if !ok {
				continue
			}
			s.enter(ctx, t, symbol, types.Long, ask.Price, ratio)
		case ratio < imbalanceShortRatio:
			bid, ok := book.BestBid()
			if !ok {
				continue
			}
			s.enter(ctx, t, symbol, types.Short, bid.Price, ratio)
		}
	}
	return nil
}

func (s *orderbookImbalance) enter(ctx context.Context, t *Tick, symbol string, side types.Side, price, ratio float64) {
	reason := fmt.Sprintf("Orderbook imbalance %.2f", ratio)
	t.Logs.Append(ctx, types.LogSignal,
		fmt.Sprintf("%s signal on %s: imbalance %.2f", side, symbol, ratio),
		map[string]any{"symbol": symbol, "side": side, "ratio": ratio, "price": price})

	if _, err := t.Positions.Open(ctx, entryIntent(symbol, side, price, reason, map[string]any{"imbalance_ratio": ratio})); err != nil {
		t.Logger.Warn("entry failed", "symbol", symbol, "error", err)
	}
}
