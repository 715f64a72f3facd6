package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hyperliquid-engine/pkg/types"
)

// BotStore reads the desired bot fleet and stamps tick times.
type BotStore struct {
	c *Client
}

// NewBotStore creates the bot_instances adapter.
func NewBotStore(c *Client) *BotStore {
	return &BotStore{c: c}
}

// ListRunning returns every bot_instances row with status "running", each
// with its strategies row embedded.
func (s *BotStore) ListRunning(ctx context.Context) ([]types.BotRow, error) {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetQueryParam("status", "eq.running").
		SetQueryParam("select", "*,strategies(*)").
		Get("/bot_instances")
	if err != nil {
		return nil, fmt.Errorf("list running bots: %w", err)
	}
	if err := checkStatus("list running bots", resp); err != nil {
		return nil, err
	}

	var bots []types.BotRow
	if err := json.Unmarshal(resp.Body(), &bots); err != nil {
		return nil, fmt.Errorf("list running bots: decode: %w", err)
	}
	return bots, nil
}

// StampTick records a successful tick on the bot row.
func (s *BotStore) StampTick(ctx context.Context, botID string, at time.Time) error {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+botID).
		SetBody(map[string]any{"last_tick_at": at.UTC().Format(time.RFC3339Nano)}).
		Patch("/bot_instances")
	if err != nil {
		return fmt.Errorf("stamp tick %s: %w", botID, err)
	}
	return checkStatus("stamp tick "+botID, resp)
}
