// Package engine runs the bot fleet: a supervisor reconciles the running
// bots from the row store once per second and drives each bot's tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hyperliquid-engine/internal/config"
	"hyperliquid-engine/internal/marketdata"
	"hyperliquid-engine/internal/position"
	"hyperliquid-engine/internal/store"
	"hyperliquid-engine/internal/strategy"
	"hyperliquid-engine/pkg/types"
)

// Deps are the shared adapters every bot runs against. The market-data
// client is shared so the pacer and circuit breaker see all traffic.
type Deps struct {
	Market    *marketdata.Client
	Bots      *store.BotStore
	Positions *store.PositionStore
	Logs      *store.LogStore
	Levels    *store.LevelStore
}

// Bot is one running bot instance: its configuration snapshot, its strategy
// evaluator, its position manager and its own market-data caches. A bot is
// driven by the supervisor from a single goroutine; nothing here locks.
type Bot struct {
	row       types.BotRow
	strategy  types.StrategyRow
	evaluator strategy.Evaluator

	manager *position.Manager
	blog    *store.BotLogger
	mids    *marketdata.MidCache
	candles *marketdata.CandleCache
	market  *marketdata.Client
	levels  *store.LevelStore

	cfg    *config.Config
	logger *slog.Logger

	lastMarketLog time.Time
	now           func() time.Time
}

// NewBot builds the runtime for one bot_instances row.
func NewBot(row types.BotRow, deps Deps, cfg *config.Config, logger *slog.Logger) *Bot {
	blog := store.NewBotLogger(deps.Logs, row.ID, row.UserID, logger)
	b := &Bot{
		row:     row,
		blog:    blog,
		mids:    marketdata.NewMidCache(deps.Market, cfg.Bot.MidTTL),
		candles: marketdata.NewCandleCache(deps.Market, cfg.Bot.CandleTTL, logger),
		market:  deps.Market,
		levels:  deps.Levels,
		cfg:     cfg,
		logger:  logger.With("component", "bot", "bot_id", row.ID, "bot_name", row.Name),
		now:     time.Now,
	}
	b.strategy = strategyRow(row)
	b.evaluator = strategy.New(b.strategy.Type)
	b.manager = position.NewManager(deps.Positions, blog, b.managerConfig(), logger)
	return b
}

// strategyRow returns the embedded strategies row, or a zero row that maps
// to the default (no-op) evaluator when the relation is missing.
func strategyRow(row types.BotRow) types.StrategyRow {
	if row.Strategy == nil {
		return types.StrategyRow{Type: types.StrategyDefault}
	}
	return *row.Strategy
}

func (b *Bot) managerConfig() position.Config {
	return position.Config{
		BotID:           b.row.ID,
		UserID:          b.row.UserID,
		Mode:            b.row.Mode,
		Pairs:           b.strategy.Pairs,
		PositionSizeUSD: b.strategy.PositionSize,
		StopLossPct:     b.strategy.StopLossPercent,
		TakeProfitPct:   b.strategy.TakeProfitPercent,
		MaxPositions:    b.strategy.MaxPositions,
		Cooldown:        b.cfg.Bot.Cooldown,
	}
}

// UpdateConfig refreshes the bot from its current row. The strategies row
// can change between passes (pairs, sizing, even the strategy type); a type
// change swaps in a fresh evaluator and drops the old one's scratch state.
func (b *Bot) UpdateConfig(row types.BotRow) {
	b.row = row
	next := strategyRow(row)
	if next.Type != b.strategy.Type {
		b.logger.Info("strategy changed", "from", b.strategy.Type, "to", next.Type)
		b.evaluator = strategy.New(next.Type)
	}
	b.strategy = next
	b.manager.UpdateConfig(b.managerConfig())
}

// Tick runs one evaluation cycle: fetch the mid snapshot, reload positions
// from the store, evaluate the strategy, then sweep the positions. A failed
// strategy evaluation does not skip the sweep — open positions keep their
// stop/take-profit protection even when signals cannot be computed.
func (b *Bot) Tick(ctx context.Context) error {
	prices, err := b.mids.Get(ctx)
	if err != nil {
		return fmt.Errorf("mid snapshot: %w", err)
	}

	b.logMarketSnapshot(ctx, prices)

	if err := b.manager.Reload(ctx); err != nil {
		return err
	}

	tick := &strategy.Tick{
		Strategy:      b.strategy,
		Prices:        prices,
		Books:         b.market,
		Trades:        b.market,
		Candles:       b.candles,
		Levels:        b.levels,
		Positions:     b.manager,
		Logs:          b.blog,
		Logger:        b.logger,
		Now:           b.now(),
		TrendFailOpen: b.cfg.Strategy.TrendFailOpen,
	}
	if err := b.evaluator.Evaluate(ctx, tick); err != nil {
		b.logger.Warn("strategy evaluation failed", "strategy", b.strategy.Type, "error", err)
	}

	b.manager.Sweep(ctx, prices)
	return nil
}

// ReportError writes a tick failure to the bot's log stream.
func (b *Bot) ReportError(ctx context.Context, err error) {
	b.blog.Append(ctx, types.LogError, fmt.Sprintf("Tick failed: %v", err), nil)
}

// logMarketSnapshot appends a market_data row with the configured pairs'
// mid prices, at most once per market_log_interval.
func (b *Bot) logMarketSnapshot(ctx context.Context, prices map[string]float64) {
	now := b.now()
	if !b.lastMarketLog.IsZero() && now.Sub(b.lastMarketLog) < b.cfg.Bot.MarketLogInterval {
		return
	}
	b.lastMarketLog = now

	snapshot := make(map[string]any, len(b.strategy.Pairs))
	for _, symbol := range b.strategy.Pairs {
		if price, ok := prices[symbol]; ok {
			snapshot[symbol] = price
		}
	}
	if len(snapshot) == 0 {
		return
	}
	b.blog.Append(ctx, types.LogMarketData, "Market Snapshot", map[string]any{"prices": snapshot})
}
