package store

import (
	"context"
	"encoding/json"
	"fmt"

	"hyperliquid-engine/pkg/types"
)

// LevelStore is the scanner_levels adapter. The scanner worker is its only
// writer; the support_liquidity strategy and external UIs read it.
type LevelStore struct {
	c *Client
}

// NewLevelStore creates the scanner_levels adapter.
func NewLevelStore(c *Client) *LevelStore {
	return &LevelStore{c: c}
}

// Upsert writes one row keyed by symbol, replacing any previous row.
func (s *LevelStore) Upsert(ctx context.Context, row types.LevelRow) error {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetQueryParam("on_conflict", "symbol").
		SetBody(row).
		Post("/scanner_levels")
	if err != nil {
		return fmt.Errorf("upsert levels %s: %w", row.Symbol, err)
	}
	return checkStatus("upsert levels "+row.Symbol, resp)
}

// Get returns the row for one symbol, or nil when the scanner has not
// published it yet.
func (s *LevelStore) Get(ctx context.Context, symbol string) (*types.LevelRow, error) {
	resp, err := s.c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", "eq."+symbol).
		Get("/scanner_levels")
	if err != nil {
		return nil, fmt.Errorf("get levels %s: %w", symbol, err)
	}
	if err := checkStatus("get levels "+symbol, resp); err != nil {
		return nil, err
	}

	var rows []types.LevelRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("get levels %s: decode: %w", symbol, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
