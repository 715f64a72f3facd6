package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"hyperliquid-engine/pkg/types"
)

// LogStore is the raw bot_logs adapter: insert, in-place update, delete.
type LogStore struct {
	c   *Client
	now func() time.Time
}

// NewLogStore creates the bot_logs adapter.
func NewLogStore(c *Client) *LogStore {
	return &LogStore{c: c, now: time.Now}
}

// Insert appends one log row and returns its id.
func (s *LogStore) Insert(ctx context.Context, botID, userID string, kind types.LogType, message string, data map[string]any) (int64, error) {
	body := map[string]any{
		"bot_id":     botID,
		"user_id":    userID,
		"log_type":   kind,
		"message":    message,
		"data":       data,
		"created_at": s.now().UTC().Format(time.RFC3339Nano),
	}

	resp, err := s.c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		Post("/bot_logs")
	if err != nil {
		return 0, fmt.Errorf("insert log: %w", err)
	}
	if err := checkStatus("insert log", resp); err != nil {
		return 0, err
	}

	var rows []types.LogRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil || len(rows) == 0 {
		return 0, fmt.Errorf("insert log: no row returned")
	}
	return rows[0].ID, nil
}

// Update rewrites message, data and created_at of an existing row.
// Refreshing created_at keeps the row pinned in a UI sorted by created_at
// descending. Returns false when the row no longer exists.
func (s *LogStore) Update(ctx context.Context, id int64, message string, data map[string]any) (bool, error) {
	body := map[string]any{
		"message":    message,
		"data":       data,
		"created_at": s.now().UTC().Format(time.RFC3339Nano),
	}

	resp, err := s.c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetQueryParam("id", "eq."+strconv.FormatInt(id, 10)).
		SetBody(body).
		Patch("/bot_logs")
	if err != nil {
		return false, fmt.Errorf("update log %d: %w", id, err)
	}
	if err := checkStatus(fmt.Sprintf("update log %d", id), resp); err != nil {
		return false, err
	}

	var rows []types.LogRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return false, fmt.Errorf("update log %d: decode: %w", id, err)
	}
	return len(rows) > 0, nil
}

// Delete removes one log row.
func (s *LogStore) Delete(ctx context.Context, id int64) error {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+strconv.FormatInt(id, 10)).
		Delete("/bot_logs")
	if err != nil {
		return fmt.Errorf("delete log %d: %w", id, err)
	}
	return checkStatus(fmt.Sprintf("delete log %d", id), resp)
}

type tileKey struct {
	symbol string
	kind   types.TileKind
}

// tileLogType maps a tile kind to the log_type its rows carry.
func tileLogType(kind types.TileKind) types.LogType {
	if kind == types.TileMarketMetrics {
		return types.LogMarketData
	}
	return types.LogInfo
}

// BotLogger is the per-bot logging surface. Appends are unconditional
// inserts; tiles are live per-symbol rows updated in place, tracked by a
// (symbol, kind) → row id map owned here — the engine is the sole writer, so
// no compare-and-set is needed. Every failure is swallowed after a warn: the
// engine never fails operationally for logging reasons.
type BotLogger struct {
	store  *LogStore
	botID  string
	userID string
	logger *slog.Logger

	mu    sync.Mutex
	tiles map[tileKey]int64
}

// NewBotLogger creates the logging surface for one bot.
func NewBotLogger(store *LogStore, botID, userID string, logger *slog.Logger) *BotLogger {
	return &BotLogger{
		store:  store,
		botID:  botID,
		userID: userID,
		logger: logger.With("component", "bot-logger", "bot_id", botID),
		tiles:  make(map[tileKey]int64),
	}
}

// Append inserts one log row. Best effort.
func (l *BotLogger) Append(ctx context.Context, kind types.LogType, message string, data map[string]any) {
	if _, err := l.store.Insert(ctx, l.botID, l.userID, kind, message, data); err != nil {
		l.logger.Warn("log append failed", "log_type", kind, "error", err)
	}
}

// UpdateTile updates the live row for (symbol, kind) in place, inserting a
// fresh row when none is remembered or the remembered one was deleted
// externally.
func (l *BotLogger) UpdateTile(ctx context.Context, kind types.TileKind, symbol, message string, data map[string]any) {
	payload := make(map[string]any, len(data)+2)
	for k, v := range data {
		payload[k] = v
	}
	payload["symbol"] = symbol
	payload["tile"] = string(kind)

	key := tileKey{symbol: symbol, kind: kind}
	l.mu.Lock()
	id, remembered := l.tiles[key]
	l.mu.Unlock()

	if remembered {
		found, err := l.store.Update(ctx, id, message, payload)
		if err != nil {
			l.logger.Warn("tile update failed", "tile", kind, "symbol", symbol, "error", err)
			return
		}
		if found {
			return
		}
		// Row deleted externally; fall through to insert.
	}

	newID, err := l.store.Insert(ctx, l.botID, l.userID, tileLogType(kind), message, payload)
	if err != nil {
		l.logger.Warn("tile insert failed", "tile", kind, "symbol", symbol, "error", err)
		return
	}
	l.mu.Lock()
	l.tiles[key] = newID
	l.mu.Unlock()
}

// DeleteTile removes the live row for (symbol, kind) when its purpose ends,
// e.g. the monitoring tile once a position opens. Best effort.
func (l *BotLogger) DeleteTile(ctx context.Context, kind types.TileKind, symbol string) {
	key := tileKey{symbol: symbol, kind: kind}
	l.mu.Lock()
	id, ok := l.tiles[key]
	delete(l.tiles, key)
	l.mu.Unlock()
	if !ok {
		return
	}
	if err := l.store.Delete(ctx, id); err != nil {
		l.logger.Warn("tile delete failed", "tile", kind, "symbol", symbol, "error", err)
	}
}
