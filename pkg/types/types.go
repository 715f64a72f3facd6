// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine: database row shapes,
// parsed market-data payloads, and the enums that tie them together. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of a position.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// TradeSide is the direction of an executed trade row. A long position opens
// with a buy and closes with a sell; a short is the reverse.
type TradeSide string

const (
	Buy  TradeSide = "buy"
	Sell TradeSide = "sell"
)

// OpenTradeSide returns the trade side that opens a position of the given side.
func OpenTradeSide(s Side) TradeSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// CloseTradeSide returns the trade side that closes a position of the given side.
func CloseTradeSide(s Side) TradeSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// StrategyType selects the decision procedure a bot runs each tick.
// Unknown values fall through to StrategyDefault (a no-op that still logs).
type StrategyType string

const (
	StrategyOrderbookImbalance   StrategyType = "orderbook_imbalance"
	StrategyOrderbookImbalanceV2 StrategyType = "orderbook_imbalance_v2"
	StrategyMomentumBreakout     StrategyType = "momentum_breakout"
	StrategyMultiTFBreakout      StrategyType = "multi_timeframe_breakout"
	StrategyLiquidityGrab        StrategyType = "liquidity_grab"
	StrategySupportLiquidity     StrategyType = "support_liquidity"
	StrategyDefault              StrategyType = "default"
)

// LogType classifies a bot_logs row.
type LogType string

const (
	LogInfo       LogType = "info"
	LogError      LogType = "error"
	LogSignal     LogType = "signal"
	LogTrade      LogType = "trade"
	LogMarketData LogType = "market_data"
)

// TileKind names the live per-symbol status rows that are updated in place
// rather than appended, so a UI sorted by created_at keeps them pinned.
type TileKind string

const (
	TilePositionStatus TileKind = "position_status"
	TileMonitoring     TileKind = "monitoring"
	TileMarketMetrics  TileKind = "market_metrics"
)

// Position status values stored in bot_positions.status.
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
)

// ————————————————————————————————————————————————————————————————————————
// Database rows
// ————————————————————————————————————————————————————————————————————————
// Field tags match the column names of the shared row store. Numeric columns
// travel as JSON numbers, timestamps as RFC 3339 strings.

// BotRow is one bot_instances row, with its strategies row embedded when the
// query selects the relation.
type BotRow struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Name       string       `json:"name"`
	Mode       string       `json:"mode"`   // "paper" or "live" tag; not acted on differently
	Status     string       `json:"status"` // "running", "stopped", ...
	LastTickAt *time.Time   `json:"last_tick_at,omitempty"`
	Strategy   *StrategyRow `json:"strategies,omitempty"`
}

// StrategyRow is one strategies row: the typed core fields every strategy
// shares, plus an opaque parameters object each strategy decodes itself.
type StrategyRow struct {
	ID                string          `json:"id"`
	Type              StrategyType    `json:"type"`
	Pairs             []string        `json:"pairs"`
	MaxPositions      int             `json:"max_positions"`
	PositionSize      float64         `json:"position_size"` // USD notional per entry
	StopLossPercent   float64         `json:"stop_loss_percent"`
	TakeProfitPercent float64         `json:"take_profit_percent"`
	Parameters        json.RawMessage `json:"parameters,omitempty"`
}

// PositionRow is one bot_positions row. Size is denominated in base-asset
// units, derived as position_size_usd / entry_price; it is never USD.
type PositionRow struct {
	ID            int64      `json:"id"`
	BotID         string     `json:"bot_id"`
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	Size          float64    `json:"size"`
	EntryPrice    float64    `json:"entry_price"`
	CurrentPrice  float64    `json:"current_price"`
	StopLoss      float64    `json:"stop_loss"`
	TakeProfit    float64    `json:"take_profit"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	Status        string     `json:"status"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// TradeRow is one bot_trades row. Append-only; a closed position owns exactly
// two rows, the opening trade and the closing trade. PnL is set only on close.
type TradeRow struct {
	ID         int64     `json:"id"`
	BotID      string    `json:"bot_id"`
	PositionID int64     `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Side       TradeSide `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	PnL        *float64  `json:"pnl,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
	Mode       string    `json:"mode"`
}

// LogRow is one bot_logs row.
type LogRow struct {
	ID        int64          `json:"id"`
	BotID     string         `json:"bot_id"`
	UserID    string         `json:"user_id"`
	LogType   LogType        `json:"log_type"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// LevelInfo describes one detected support or resistance level.
type LevelInfo struct {
	Price     float64 `json:"price"`
	Timeframe string  `json:"timeframe"`
	Touches   int     `json:"touches"`
	Weight    int     `json:"weight"`
}

// ClosestLevel is the level nearest the reference price across every
// inspected timeframe, chosen by (distance ascending, weight descending).
type ClosestLevel struct {
	Price     float64 `json:"price"`
	Timeframe string  `json:"timeframe"`
	Type      string  `json:"type"`     // "LOW" (support) or "HIGH" (resistance)
	Distance  float64 `json:"distance"` // percent distance from the reference price
	Weight    int     `json:"weight"`
}

// TimeframeLevels pairs the support and resistance found on one timeframe.
type TimeframeLevels struct {
	Support    *LevelInfo `json:"support,omitempty"`
	Resistance *LevelInfo `json:"resistance,omitempty"`
}

// LevelRow is one scanner_levels row, keyed by symbol. The scanner worker is
// its only writer; the support_liquidity strategy and external UIs read it.
type LevelRow struct {
	Symbol        string                     `json:"symbol"`
	CurrentPrice  float64                    `json:"current_price"`
	Support       *LevelInfo                 `json:"support,omitempty"`
	Resistance    *LevelInfo                 `json:"resistance,omitempty"`
	Closest       *ClosestLevel              `json:"closest_level,omitempty"`
	AllTimeframes map[string]TimeframeLevels `json:"all_levels_by_timeframe,omitempty"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// ————————————————————————————————————————————————————————————————————————
// Market data (parsed)
// ————————————————————————————————————————————————————————————————————————
// The provider sends numbers as strings; the market-data client parses them
// once at the boundary so no stringly-typed values reach the strategy layer.

// Candle is one OHLCV bar. T is the bar open time in unix milliseconds.
type Candle struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	T      int64
}

// BookLevel is a single bid or ask level.
type BookLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a parsed L2 snapshot for one symbol.
type OrderBook struct {
	Coin string
	Bids []BookLevel // sorted descending by price (best bid first)
	Asks []BookLevel // sorted ascending by price (best ask first)
	Time int64       // server time in unix milliseconds
}

// Trade tick sides as the provider reports them.
const (
	TickSideBid = "B" // bid-initiated (aggressive buy)
	TickSideAsk = "A" // ask-initiated (aggressive sell)
)

// TradeTick is one recent trade for a symbol.
type TradeTick struct {
	Price float64
	Size  float64
	Side  string // TickSideBid or TickSideAsk
	Time  int64  // unix milliseconds
}

// AssetContext is one symbol's slice of the provider's meta-and-contexts
// response: the daily stats the scanner filters and ranks on.
type AssetContext struct {
	Symbol       string
	DayVolumeUSD float64 // 24h notional volume
	PrevDayPrice float64
	MarkPrice    float64
}

// ChangePct returns the 24h price change in percent, or 0 when the previous
// day price is unknown.
func (a AssetContext) ChangePct() float64 {
	if a.PrevDayPrice == 0 {
		return 0
	}
	return (a.MarkPrice - a.PrevDayPrice) / a.PrevDayPrice * 100
}

// NormalizeSymbol upper-cases a pair and strips quote-currency suffixes so
// "btcusdt" and "BTC" address the same market.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "USDT")
	s = strings.TrimSuffix(s, "USD")
	return s
}
