package api

import "hyperliquid-engine/pkg/types"

// LevelsRequest is the body of POST /api/scanner/levels.
type LevelsRequest struct {
	Symbol     string   `json:"symbol"`
	Timeframes []string `json:"timeframes,omitempty"` // defaults to 15m/30m/1h
	Limit      int      `json:"limit,omitempty"`      // candles per timeframe; 0 uses the per-timeframe default
}

// LevelsResponse is the on-demand levels payload: the same shape the scanner
// publishes, computed for the requested symbol right now.
type LevelsResponse struct {
	Symbol        string                           `json:"symbol"`
	CurrentPrice  float64                          `json:"current_price"`
	Support       *types.LevelInfo                 `json:"support,omitempty"`
	Resistance    *types.LevelInfo                 `json:"resistance,omitempty"`
	Closest       *types.ClosestLevel              `json:"closest_level,omitempty"`
	AllTimeframes map[string]types.TimeframeLevels `json:"all_levels_by_timeframe"`
}

type errorResponse struct {
	Error string `json:"error"`
}
