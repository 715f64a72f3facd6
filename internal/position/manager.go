// Package position tracks the lifecycle of a bot's paper positions: entry
// sizing, live marking, break-even protection, stop-loss/take-profit exits,
// the post-close cooldown and the live status tiles.
//
// Per sweep (once per bot tick, after strategy evaluation):
//
//  1. Retry any close whose store write failed on a previous tick.
//  2. For each open position: compute PnL, persist the mark, update the
//     in-memory metadata (profit peaks, first-profit time).
//  3. Break-even protection: once up 0.15%, move the stop to exactly the
//     entry price, one-shot.
//  4. Exit on stop-loss or take-profit touches.
//  5. Refresh the position_status, monitoring and market_metrics tiles on
//     their throttles.
//
// State machine per position: Open → (break-even armed) → Closed. One
// transition to Closed, never a reopen.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"hyperliquid-engine/internal/store"
	"hyperliquid-engine/pkg/types"
)

// breakEvenTriggerPct arms break-even protection: once unrealized profit
// reaches this percentage, the stop moves to the entry price.
const breakEvenTriggerPct = 0.15

// Tile refresh throttles.
const (
	statusTileEvery  = 5 * time.Second
	monitorTileEvery = 5 * time.Second
	metricsTileEvery = 30 * time.Second
)

// Store is the slice of the row store the manager writes through.
// Satisfied by *store.PositionStore.
type Store interface {
	OpenPosition(ctx context.Context, p store.OpenParams) (*types.PositionRow, error)
	MarkPosition(ctx context.Context, id int64, currentPrice, unrealizedPnL float64) error
	AdjustStop(ctx context.Context, id int64, newStop float64) error
	ClosePosition(ctx context.Context, pos *types.PositionRow, closePrice, pnl float64, mode string) error
	ListOpen(ctx context.Context, botID string) ([]types.PositionRow, error)
}

// Logs is the per-bot logging surface. Satisfied by *store.BotLogger.
type Logs interface {
	Append(ctx context.Context, kind types.LogType, message string, data map[string]any)
	UpdateTile(ctx context.Context, kind types.TileKind, symbol, message string, data map[string]any)
	DeleteTile(ctx context.Context, kind types.TileKind, symbol string)
}

// Config is the risk envelope for one bot, refreshed on every supervisor
// pass from the bot's strategies row.
type Config struct {
	BotID           string
	UserID          string
	Mode            string
	Pairs           []string
	PositionSizeUSD float64
	StopLossPct     float64
	TakeProfitPct   float64
	MaxPositions    int
	Cooldown        time.Duration
}

// Entry is an intent to open a position, emitted by a strategy evaluator.
type Entry struct {
	Symbol string
	Side   types.Side
	Price  float64
	Reason string
	Data   map[string]any // extra signal context carried into the trade log
}

// pendingClose remembers a close whose store write failed so a later sweep
// can retry it. The position stays accounted for until the write lands.
type pendingClose struct {
	pos    types.PositionRow
	price  float64
	reason string
}

// Manager owns one bot's position state. Not safe for concurrent use; each
// bot drives its manager from its own tick.
type Manager struct {
	store  Store
	logs   Logs
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	open      []types.PositionRow
	meta      map[int64]*Metadata
	lastClose map[string]time.Time
	retries   map[int64]pendingClose

	tileAt map[string]time.Time // throttle per "<kind>:<symbol>"
}

// NewManager creates the position manager for one bot.
func NewManager(st Store, logs Logs, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		store:     st,
		logs:      logs,
		logger:    logger.With("component", "positions", "bot_id", cfg.BotID),
		cfg:       cfg,
		now:       time.Now,
		meta:      make(map[int64]*Metadata),
		lastClose: make(map[string]time.Time),
		retries:   make(map[int64]pendingClose),
		tileAt:    make(map[string]time.Time),
	}
}

// UpdateConfig replaces the risk envelope (supervisor refresh).
func (m *Manager) UpdateConfig(cfg Config) {
	m.cfg = cfg
}

// Reload re-reads the open positions from the store, the source of truth for
// stop edits and anything changed externally. Metadata is created for any
// position seen for the first time and dropped for positions gone from the
// store (unless a close retry still owns them).
func (m *Manager) Reload(ctx context.Context) error {
	rows, err := m.store.ListOpen(ctx, m.cfg.BotID)
	if err != nil {
		return fmt.Errorf("reload positions: %w", err)
	}
	m.open = rows

	seen := make(map[int64]bool, len(rows))
	for _, p := range rows {
		seen[p.ID] = true
		if _, ok := m.meta[p.ID]; !ok {
			m.meta[p.ID] = newMetadata(p.EntryPrice, p.StopLoss)
		}
	}
	for id := range m.meta {
		if !seen[id] {
			if _, retrying := m.retries[id]; !retrying {
				delete(m.meta, id)
			}
		}
	}
	return nil
}

// Positions returns the current in-memory open positions.
func (m *Manager) Positions() []types.PositionRow {
	return m.open
}

// Get returns the open position on a symbol, if any.
func (m *Manager) Get(symbol string) (*types.PositionRow, bool) {
	for i := range m.open {
		if m.open[i].Symbol == symbol {
			return &m.open[i], true
		}
	}
	return nil, false
}

// HasOpen reports whether the bot holds a position on the symbol.
func (m *Manager) HasOpen(symbol string) bool {
	_, ok := m.Get(symbol)
	return ok
}

// Count returns the number of open positions.
func (m *Manager) Count() int {
	return len(m.open)
}

// InCooldown reports whether the symbol closed less than the configured
// cooldown ago, which blocks re-entry.
func (m *Manager) InCooldown(symbol string) bool {
	closed, ok := m.lastClose[symbol]
	if !ok {
		return false
	}
	return m.now().Sub(closed) < m.cfg.Cooldown
}

// Metadata exposes the in-memory record for one position id.
func (m *Manager) Metadata(id int64) (*Metadata, bool) {
	md, ok := m.meta[id]
	return md, ok
}

// Open turns an entry intent into a stored position. Sizing: size in
// base-asset units is position_size_usd / entry; stop and take-profit come
// from the configured percentages around the entry. Money math runs in
// decimals so the stored invariant size*entry == position_size_usd holds.
//
// Guards (already checked by the evaluators, enforced again here): one
// position per symbol, the max-positions cap, the post-close cooldown.
// A guard trip is a quiet no-op.
func (m *Manager) Open(ctx context.Context, e Entry) (*types.PositionRow, error) {
	if e.Price <= 0 {
		return nil, fmt.Errorf("open %s: bad price %v", e.Symbol, e.Price)
	}
	if m.HasOpen(e.Symbol) || m.Count() >= m.cfg.MaxPositions || m.InCooldown(e.Symbol) {
		return nil, nil
	}

	entry := decimal.NewFromFloat(e.Price)
	size := decimal.NewFromFloat(m.cfg.PositionSizeUSD).Div(entry)
	slFrac := decimal.NewFromFloat(m.cfg.StopLossPct).Div(decimal.NewFromInt(100))
	tpFrac := decimal.NewFromFloat(m.cfg.TakeProfitPct).Div(decimal.NewFromInt(100))

	one := decimal.NewFromInt(1)
	var stop, take decimal.Decimal
	if e.Side == types.Short {
		stop = entry.Mul(one.Add(slFrac))
		take = entry.Mul(one.Sub(tpFrac))
	} else {
		stop = entry.Mul(one.Sub(slFrac))
		take = entry.Mul(one.Add(tpFrac))
	}

	row, err := m.store.OpenPosition(ctx, store.OpenParams{
		BotID:      m.cfg.BotID,
		Symbol:     e.Symbol,
		Side:       e.Side,
		Size:       size.InexactFloat64(),
		EntryPrice: e.Price,
		StopLoss:   stop.InexactFloat64(),
		TakeProfit: take.InexactFloat64(),
		Mode:       m.cfg.Mode,
	})
	if err != nil {
		// The position row may exist without its trade row; do not account
		// for it in memory — the next tick reloads whatever the store holds.
		m.logger.Error("open failed", "symbol", e.Symbol, "error", err)
		m.logs.Append(ctx, types.LogError, fmt.Sprintf("Failed to open %s %s: %v", e.Side, e.Symbol, err), nil)
		return nil, err
	}

	// Account immediately so the next symbol in this tick cannot double-enter.
	m.open = append(m.open, *row)
	m.meta[row.ID] = newMetadata(row.EntryPrice, row.StopLoss)
	m.logs.DeleteTile(ctx, types.TileMonitoring, e.Symbol)

	data := map[string]any{
		"position_id": row.ID,
		"symbol":      e.Symbol,
		"side":        e.Side,
		"size":        row.Size,
		"entry_price": row.EntryPrice,
		"stop_loss":   row.StopLoss,
		"take_profit": row.TakeProfit,
		"reason":      e.Reason,
	}
	for k, v := range e.Data {
		data[k] = v
	}
	m.logs.Append(ctx, types.LogTrade,
		fmt.Sprintf("Opened %s %s @ %.4f (%s)", e.Side, e.Symbol, e.Price, e.Reason), data)

	m.logger.Info("position opened",
		"symbol", e.Symbol, "side", e.Side, "entry", e.Price, "size", row.Size, "reason", e.Reason)
	return row, nil
}

// pnl returns the signed PnL and its percentage for a position at a price.
func pnl(p *types.PositionRow, current float64) (value, pct float64) {
	if p.Side == types.Short {
		value = (p.EntryPrice - current) * p.Size
	} else {
		value = (current - p.EntryPrice) * p.Size
	}
	notional := p.EntryPrice * p.Size
	if notional != 0 {
		pct = value / notional * 100
	}
	return value, pct
}

// Close writes the close to the store and drops the position from memory.
// On a store failure the position is kept and the close retried on the next
// sweep; it is never silently dropped.
func (m *Manager) Close(ctx context.Context, pos *types.PositionRow, price float64, reason string) error {
	value, _ := pnl(pos, price)

	if err := m.store.ClosePosition(ctx, pos, price, value, m.cfg.Mode); err != nil {
		m.logger.Error("close failed, will retry", "symbol", pos.Symbol, "position_id", pos.ID, "error", err)
		m.logs.Append(ctx, types.LogError,
			fmt.Sprintf("Failed to close %s position %d: %v", pos.Symbol, pos.ID, err), nil)
		m.retries[pos.ID] = pendingClose{pos: *pos, price: price, reason: reason}
		return err
	}

	m.finishClose(ctx, pos, price, value, reason)
	return nil
}

// finishClose does the post-close bookkeeping once the store write landed.
func (m *Manager) finishClose(ctx context.Context, pos *types.PositionRow, price, value float64, reason string) {
	for i := range m.open {
		if m.open[i].ID == pos.ID {
			m.open = append(m.open[:i], m.open[i+1:]...)
			break
		}
	}
	delete(m.meta, pos.ID)
	delete(m.retries, pos.ID)
	m.lastClose[pos.Symbol] = m.now()
	m.logs.DeleteTile(ctx, types.TilePositionStatus, pos.Symbol)

	m.logs.Append(ctx, types.LogTrade,
		fmt.Sprintf("Closed %s %s @ %.4f (%s) PnL %.4f", pos.Side, pos.Symbol, price, reason, value),
		map[string]any{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
			"side":        pos.Side,
			"close_price": price,
			"pnl":         value,
			"reason":      reason,
		})

	m.logger.Info("position closed",
		"symbol", pos.Symbol, "close", price, "pnl", value, "reason", reason)
}

// Sweep runs the per-tick position pass: close retries, marking, metadata,
// break-even protection, exits and tiles. Individual position failures are
// logged and skipped; the sweep always finishes.
func (m *Manager) Sweep(ctx context.Context, prices map[string]float64) {
	m.retryCloses(ctx)

	// Iterate over ids: exits mutate m.open.
	ids := make([]int64, 0, len(m.open))
	for _, p := range m.open {
		ids = append(ids, p.ID)
	}

	for _, id := range ids {
		pos := m.byID(id)
		if pos == nil {
			continue
		}
		current, ok := prices[pos.Symbol]
		if !ok || current <= 0 {
			continue // no price this tick, skip the position
		}
		m.sweepOne(ctx, pos, current)
	}

	m.refreshMonitorTiles(ctx, prices)
}

func (m *Manager) byID(id int64) *types.PositionRow {
	for i := range m.open {
		if m.open[i].ID == id {
			return &m.open[i]
		}
	}
	return nil
}

func (m *Manager) sweepOne(ctx context.Context, pos *types.PositionRow, current float64) {
	value, pct := pnl(pos, current)
	pos.CurrentPrice = current
	pos.UnrealizedPnL = value

	if err := m.store.MarkPosition(ctx, pos.ID, current, value); err != nil {
		m.logger.Warn("mark failed", "symbol", pos.Symbol, "error", err)
	}

	md, ok := m.meta[pos.ID]
	if !ok {
		md = newMetadata(pos.EntryPrice, pos.StopLoss)
		m.meta[pos.ID] = md
	}
	md.observe(pct, current, m.now())

	m.applyBreakEven(ctx, pos, md, pct)

	if reason, exit := exitReason(pos, current); exit {
		// Close failure keeps the position; the next sweep retries.
		_ = m.Close(ctx, pos, current, reason)
		return
	}

	if m.tileDue(types.TilePositionStatus, pos.Symbol, statusTileEvery) {
		m.logs.UpdateTile(ctx, types.TilePositionStatus, pos.Symbol,
			fmt.Sprintf("%s %s: %.4f (%.2f%%)", pos.Side, pos.Symbol, current, pct),
			map[string]any{
				"position_id":    pos.ID,
				"side":           pos.Side,
				"entry_price":    pos.EntryPrice,
				"current_price":  current,
				"stop_loss":      pos.StopLoss,
				"take_profit":    pos.TakeProfit,
				"unrealized_pnl": value,
				"pnl_pct":        pct,
				"highest_pct":    md.HighestProfitPct,
			})
	}
}

// applyBreakEven moves the stop to exactly the entry price once profit
// reaches the trigger, provided the stop still sits on the loss side. Fires
// at most once per position.
func (m *Manager) applyBreakEven(ctx context.Context, pos *types.PositionRow, md *Metadata, pct float64) {
	if md.breakEvenApplied || pct < breakEvenTriggerPct {
		return
	}
	lossSide := pos.StopLoss < pos.EntryPrice
	if pos.Side == types.Short {
		lossSide = pos.StopLoss > pos.EntryPrice
	}
	if !lossSide {
		md.breakEvenApplied = true
		return
	}

	if err := m.store.AdjustStop(ctx, pos.ID, pos.EntryPrice); err != nil {
		m.logger.Warn("break-even adjust failed", "symbol", pos.Symbol, "error", err)
		return
	}
	pos.StopLoss = pos.EntryPrice
	md.breakEvenApplied = true

	m.logs.Append(ctx, types.LogInfo,
		fmt.Sprintf("Break-even protection: %s stop moved to entry %.4f", pos.Symbol, pos.EntryPrice),
		map[string]any{
			"position_id":   pos.ID,
			"symbol":        pos.Symbol,
			"new_stop":      pos.EntryPrice,
			"original_stop": md.OriginalStopLoss,
			"pnl_pct":       pct,
		})
	m.logger.Info("break-even protection applied", "symbol", pos.Symbol, "stop", pos.EntryPrice)
}

// exitReason checks the stop-loss / take-profit touches for a position.
func exitReason(pos *types.PositionRow, current float64) (string, bool) {
	if pos.Side == types.Short {
		switch {
		case current >= pos.StopLoss:
			return "Stop Loss", true
		case current <= pos.TakeProfit:
			return "Take Profit", true
		}
		return "", false
	}
	switch {
	case current <= pos.StopLoss:
		return "Stop Loss", true
	case current >= pos.TakeProfit:
		return "Take Profit", true
	}
	return "", false
}

func (m *Manager) retryCloses(ctx context.Context) {
	for id, r := range m.retries {
		pos := r.pos
		value, _ := pnl(&pos, r.price)
		if err := m.store.ClosePosition(ctx, &pos, r.price, value, m.cfg.Mode); err != nil {
			m.logger.Error("close retry failed", "symbol", pos.Symbol, "position_id", id, "error", err)
			continue
		}
		m.finishClose(ctx, &pos, r.price, value, r.reason)
	}
}

// refreshMonitorTiles keeps the monitoring and market_metrics tiles alive
// for configured symbols without an open position.
func (m *Manager) refreshMonitorTiles(ctx context.Context, prices map[string]float64) {
	for _, symbol := range m.cfg.Pairs {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		if !m.HasOpen(symbol) && m.tileDue(types.TileMonitoring, symbol, monitorTileEvery) {
			m.logs.UpdateTile(ctx, types.TileMonitoring, symbol,
				fmt.Sprintf("Monitoring %s @ %.4f", symbol, price),
				map[string]any{"price": price})
		}
		if m.tileDue(types.TileMarketMetrics, symbol, metricsTileEvery) {
			m.logs.UpdateTile(ctx, types.TileMarketMetrics, symbol,
				fmt.Sprintf("%s market metrics", symbol),
				map[string]any{"price": price, "open_positions": m.Count()})
		}
	}
}

func (m *Manager) tileDue(kind types.TileKind, symbol string, every time.Duration) bool {
	key := string(kind) + ":" + symbol
	now := m.now()
	if last, ok := m.tileAt[key]; ok && now.Sub(last) < every {
		return false
	}
	m.tileAt[key] = now
	return true
}
