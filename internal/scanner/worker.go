// Package scanner runs the support/resistance scanner: every cycle it picks
// the most liquid symbols, detects levels per timeframe and publishes one
// row per symbol to the scanner_levels store.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"hyperliquid-engine/internal/config"
	"hyperliquid-engine/internal/levels"
	"hyperliquid-engine/internal/marketdata"
	"hyperliquid-engine/pkg/types"
)

// Universe lists the tradable assets with their daily stats.
// Satisfied by *marketdata.Client.
type Universe interface {
	MetaAndAssetCtxs(ctx context.Context) ([]types.AssetContext, error)
}

// Candles fetches recent bars, usually through the scanner's own cache.
// Satisfied by *marketdata.CandleCache.
type Candles interface {
	Recent(ctx context.Context, symbol, interval string, bars int) ([]types.Candle, error)
}

// Sink persists one finished levels row. Satisfied by *store.LevelStore.
type Sink interface {
	Upsert(ctx context.Context, row types.LevelRow) error
}

// Publisher pushes finished rows to live subscribers (the websocket hub).
// Optional; publishing must not block the scan.
type Publisher interface {
	PublishLevels(row types.LevelRow)
}

// Worker is the scanner loop. One instance, one goroutine.
type Worker struct {
	universe  Universe
	candles   Candles
	sink      Sink
	publisher Publisher
	cfg       config.ScannerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewWorker creates the scanner over its market-data and store adapters.
// publisher may be nil.
func NewWorker(universe Universe, candles Candles, sink Sink, publisher Publisher, cfg config.ScannerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		universe:  universe,
		candles:   candles,
		sink:      sink,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "scanner"),
		now:       time.Now,
	}
}

// Run executes scan cycles until the context is canceled. The first cycle
// starts immediately; a failed cycle pauses for error_sleep instead of the
// regular interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("scanner started", "interval", w.cfg.Interval, "top_n", w.cfg.TopN)
	for {
		pause := w.cfg.Interval
		if err := w.scanOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("scan cycle failed", "error", err)
			pause = w.cfg.ErrorSleep
		}
		if !sleep(ctx, pause) {
			return ctx.Err()
		}
	}
}

// scanOnce runs one full cycle over the selected universe. Per-symbol
// failures are logged and skipped; only a universe fetch failure fails the
// cycle.
func (w *Worker) scanOnce(ctx context.Context) error {
	assets, err := w.universe.MetaAndAssetCtxs(ctx)
	if err != nil {
		return fmt.Errorf("universe fetch: %w", err)
	}

	selected := w.selectUniverse(assets)
	w.logger.Info("scan cycle", "universe", len(assets), "selected", len(selected))

	for i, asset := range selected {
		if err := w.scanSymbol(ctx, asset); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("symbol scan failed", "symbol", asset.Symbol, "error", err)
		}
		if i < len(selected)-1 && !sleep(ctx, w.cfg.SymbolPause) {
			return ctx.Err()
		}
	}
	return nil
}

// selectUniverse filters by daily volume and 24h change, then keeps the
// top-N by volume.
func (w *Worker) selectUniverse(assets []types.AssetContext) []types.AssetContext {
	kept := make([]types.AssetContext, 0, len(assets))
	for _, a := range assets {
		if a.MarkPrice <= 0 {
			continue
		}
		if a.DayVolumeUSD < w.cfg.MinVolumeUSD {
			continue
		}
		if a.ChangePct() <= w.cfg.MaxChangePct {
			continue // dumping too hard; levels are unreliable
		}
		kept = append(kept, a)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].DayVolumeUSD > kept[j].DayVolumeUSD })
	if len(kept) > w.cfg.TopN {
		kept = kept[:w.cfg.TopN]
	}
	return kept
}

// scanSymbol detects levels on every configured timeframe for one asset and
// upserts the combined row.
func (w *Worker) scanSymbol(ctx context.Context, asset types.AssetContext) error {
	byTimeframe := make(map[string]types.TimeframeLevels, len(w.cfg.Timeframes))
	var lastErr error

	for i, tf := range w.cfg.Timeframes {
		bars, err := w.candles.Recent(ctx, asset.Symbol, tf, w.cfg.CandleLimit)
		if err != nil {
			lastErr = err
			w.logger.Warn("candle fetch failed", "symbol", asset.Symbol, "timeframe", tf, "error", err)
			continue
		}
		closed := marketdata.Closed(bars)
		if len(closed) == 0 {
			continue
		}
		support, resistance := levels.FindLevels(closed, asset.MarkPrice, tf)
		byTimeframe[tf] = types.TimeframeLevels{Support: support, Resistance: resistance}

		if i < len(w.cfg.Timeframes)-1 && !sleep(ctx, w.cfg.TimeframePause) {
			return ctx.Err()
		}
	}
	if len(byTimeframe) == 0 {
		if lastErr != nil {
			return fmt.Errorf("no timeframe produced levels: %w", lastErr)
		}
		return fmt.Errorf("no timeframe produced levels for %s", asset.Symbol)
	}

	support, resistance := levels.Strongest(asset.MarkPrice, byTimeframe)
	row := types.LevelRow{
		Symbol:        asset.Symbol,
		CurrentPrice:  asset.MarkPrice,
		Support:       support,
		Resistance:    resistance,
		Closest:       levels.Closest(asset.MarkPrice, byTimeframe),
		AllTimeframes: byTimeframe,
		UpdatedAt:     w.now().UTC(),
	}

	if err := w.sink.Upsert(ctx, row); err != nil {
		return err
	}
	if w.publisher != nil {
		w.publisher.PublishLevels(row)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
