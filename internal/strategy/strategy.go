// Package strategy implements the per-tick decision procedures.
//
// Each bot carries one Evaluator, selected by its strategies row. An
// evaluator walks the configured pairs once per tick, consults market data
// through the bot's caches, and turns its signal into an entry intent on the
// position manager. Evaluators own their per-symbol scratch state (hold
// clocks, wick events); nothing is shared across bots.
//
// Shared preamble, applied by every strategy before an entry: skip symbols
// that already hold a position, suppress entries at the max-positions cap,
// and respect the per-symbol post-close cooldown. Observational logging
// continues even when entries are suppressed.
package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"hyperliquid-engine/internal/position"
	"hyperliquid-engine/pkg/types"
)

// Books fetches order-book snapshots. Satisfied by *marketdata.Client.
type Books interface {
	L2Book(ctx context.Context, coin string) (*types.OrderBook, error)
}

// Trades fetches recent prints. Satisfied by *marketdata.Client.
type Trades interface {
	RecentTrades(ctx context.Context, coin string) ([]types.TradeTick, error)
}

// Candles fetches recent bars through the bot's cache.
// Satisfied by *marketdata.CandleCache.
type Candles interface {
	Recent(ctx context.Context, symbol, interval string, bars int) ([]types.Candle, error)
}

// Levels reads the scanner's published support/resistance rows.
// Satisfied by *store.LevelStore.
type Levels interface {
	Get(ctx context.Context, symbol string) (*types.LevelRow, error)
}

// Positions is the slice of the position manager evaluators drive.
// Satisfied by *position.Manager.
type Positions interface {
	HasOpen(symbol string) bool
	Count() int
	InCooldown(symbol string) bool
	Get(symbol string) (*types.PositionRow, bool)
	Open(ctx context.Context, e position.Entry) (*types.PositionRow, error)
	Close(ctx context.Context, pos *types.PositionRow, price float64, reason string) error
}

// Logs is the per-bot logging surface. Satisfied by *store.BotLogger.
type Logs interface {
	Append(ctx context.Context, kind types.LogType, message string, data map[string]any)
	UpdateTile(ctx context.Context, kind types.TileKind, symbol, message string, data map[string]any)
	DeleteTile(ctx context.Context, kind types.TileKind, symbol string)
}

// Tick is the evaluation context for one bot tick.
type Tick struct {
	Strategy  types.StrategyRow
	Prices    map[string]float64 // mid-price snapshot for this tick
	Books     Books
	Trades    Trades
	Candles   Candles
	Levels    Levels
	Positions Positions
	Logs      Logs
	Logger    *slog.Logger
	Now       time.Time

	// TrendFailOpen keeps bearish-trend entry filters permissive when the
	// filter itself errors: trading proceeds as if the trend were fine.
	TrendFailOpen bool
}

// Evaluator is one strategy's decision procedure.
type Evaluator interface {
	Type() types.StrategyType
	Evaluate(ctx context.Context, t *Tick) error
}

// New returns a fresh evaluator for the strategy type. Unknown types get the
// no-op default. Evaluators are stateful; create one per bot.
func New(st types.StrategyType) Evaluator {
	switch st {
	case types.StrategyOrderbookImbalance:
		return newOrderbookImbalance()
	case types.StrategyOrderbookImbalanceV2:
		return newOrderbookImbalanceV2()
	case types.StrategyMomentumBreakout:
		return newMomentumBreakout()
	case types.StrategyMultiTFBreakout:
		return newMultiTFBreakout()
	case types.StrategyLiquidityGrab:
		return newLiquidityGrab()
	case types.StrategySupportLiquidity:
		return newSupportLiquidity()
	default:
		return defaultEvaluator{}
	}
}

// canEnter applies the shared entry preamble for one symbol.
func canEnter(t *Tick, symbol string) bool {
	if t.Positions.HasOpen(symbol) {
		return false
	}
	if t.Positions.Count() >= t.Strategy.MaxPositions {
		return false
	}
	if t.Positions.InCooldown(symbol) {
		return false
	}
	return true
}

// entryIntent builds the position-manager entry for a fired signal.
func entryIntent(symbol string, side types.Side, price float64, reason string, data map[string]any) position.Entry {
	return position.Entry{Symbol: symbol, Side: side, Price: price, Reason: reason, Data: data}
}

// decodeParams fills v from the strategy row's parameters object. Missing or
// empty parameters leave the defaults in v untouched.
func decodeParams(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	// Bad parameter JSON keeps the defaults; the strategy still runs.
	_ = json.Unmarshal(raw, v)
}

// defaultEvaluator is the no-op fallback for unknown strategy types. The
// position manager still marks, protects and exits any open positions.
type defaultEvaluator struct{}

func (defaultEvaluator) Type() types.StrategyType { return types.StrategyDefault }

func (defaultEvaluator) Evaluate(ctx context.Context, t *Tick) error {
	return nil
}
