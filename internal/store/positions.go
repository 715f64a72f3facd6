package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"hyperliquid-engine/pkg/types"
)

// PositionStore owns the bot_positions and bot_trades lifecycle. Ordering
// guarantee: the position row is inserted before its opening trade row, and a
// closing trade row is only ever written after the position update.
type PositionStore struct {
	c   *Client
	now func() time.Time
}

// NewPositionStore creates the positions/trades adapter.
func NewPositionStore(c *Client) *PositionStore {
	return &PositionStore{c: c, now: time.Now}
}

// OpenParams describes a new paper position. Size is in base-asset units.
type OpenParams struct {
	BotID      string
	Symbol     string
	Side       types.Side
	Size       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Mode       string
}

// OpenPosition inserts the position row and its opening trade row and returns
// the stored position. When the trade insert fails the position row stays
// (no rollback); the error surfaces so the caller can log it and skip the
// in-memory append.
func (s *PositionStore) OpenPosition(ctx context.Context, p OpenParams) (*types.PositionRow, error) {
	openedAt := s.now().UTC()
	body := map[string]any{
		"bot_id":         p.BotID,
		"symbol":         p.Symbol,
		"side":           p.Side,
		"size":           p.Size,
		"entry_price":    p.EntryPrice,
		"current_price":  p.EntryPrice,
		"stop_loss":      p.StopLoss,
		"take_profit":    p.TakeProfit,
		"unrealized_pnl": 0,
		"status":         types.PositionOpen,
		"opened_at":      openedAt.Format(time.RFC3339Nano),
	}

	resp, err := s.c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		Post("/bot_positions")
	if err != nil {
		return nil, fmt.Errorf("open position %s: %w", p.Symbol, err)
	}
	if err := checkStatus("open position "+p.Symbol, resp); err != nil {
		return nil, err
	}

	var rows []types.PositionRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("open position %s: no row returned", p.Symbol)
	}
	row := rows[0]

	err = s.insertTrade(ctx, tradeParams{
		botID:      p.BotID,
		positionID: row.ID,
		symbol:     p.Symbol,
		side:       types.OpenTradeSide(p.Side),
		size:       p.Size,
		price:      p.EntryPrice,
		mode:       p.Mode,
	})
	if err != nil {
		return &row, fmt.Errorf("open position %s: opening trade: %w", p.Symbol, err)
	}
	return &row, nil
}

// MarkPosition persists the live price and unrealized PnL of an open position.
func (s *PositionStore) MarkPosition(ctx context.Context, id int64, currentPrice, unrealizedPnL float64) error {
	return s.patch(ctx, id, "mark position", map[string]any{
		"current_price":  currentPrice,
		"unrealized_pnl": unrealizedPnL,
	})
}

// AdjustStop moves the stop-loss of an open position (break-even protection).
func (s *PositionStore) AdjustStop(ctx context.Context, id int64, newStop float64) error {
	return s.patch(ctx, id, "adjust stop", map[string]any{"stop_loss": newStop})
}

// ClosePosition marks the position closed and writes the closing trade with
// the signed realized PnL.
func (s *PositionStore) ClosePosition(ctx context.Context, pos *types.PositionRow, closePrice, pnl float64, mode string) error {
	closedAt := s.now().UTC()
	err := s.patch(ctx, pos.ID, "close position", map[string]any{
		"status":         types.PositionClosed,
		"current_price":  closePrice,
		"unrealized_pnl": pnl,
		"closed_at":      closedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	return s.insertTrade(ctx, tradeParams{
		botID:      pos.BotID,
		positionID: pos.ID,
		symbol:     pos.Symbol,
		side:       types.CloseTradeSide(pos.Side),
		size:       pos.Size,
		price:      closePrice,
		pnl:        &pnl,
		mode:       mode,
	})
}

// ListOpen returns the open positions for one bot, oldest first. This is the
// source of truth each tick; external stop edits show up here.
func (s *PositionStore) ListOpen(ctx context.Context, botID string) ([]types.PositionRow, error) {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetQueryParam("bot_id", "eq."+botID).
		SetQueryParam("status", "eq."+types.PositionOpen).
		SetQueryParam("order", "opened_at.asc").
		Get("/bot_positions")
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	if err := checkStatus("list open positions", resp); err != nil {
		return nil, err
	}

	var rows []types.PositionRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("list open positions: decode: %w", err)
	}
	return rows, nil
}

func (s *PositionStore) patch(ctx context.Context, id int64, op string, body map[string]any) error {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+strconv.FormatInt(id, 10)).
		SetBody(body).
		Patch("/bot_positions")
	if err != nil {
		return fmt.Errorf("%s %d: %w", op, id, err)
	}
	return checkStatus(fmt.Sprintf("%s %d", op, id), resp)
}

type tradeParams struct {
	botID      string
	positionID int64
	symbol     string
	side       types.TradeSide
	size       float64
	price      float64
	pnl        *float64
	mode       string
}

func (s *PositionStore) insertTrade(ctx context.Context, p tradeParams) error {
	body := map[string]any{
		"bot_id":      p.botID,
		"position_id": p.positionID,
		"symbol":      p.symbol,
		"side":        p.side,
		"size":        p.size,
		"price":       p.price,
		"executed_at": s.now().UTC().Format(time.RFC3339Nano),
		"mode":        p.mode,
	}
	if p.pnl != nil {
		body["pnl"] = *p.pnl
	}

	resp, err := s.c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/bot_trades")
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", p.symbol, err)
	}
	return checkStatus("insert trade "+p.symbol, resp)
}
