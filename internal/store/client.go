// Package store adapts the shared row-store database (Supabase PostgREST)
// for the engine.
//
// The engine is the sole writer of bot_positions, bot_trades and most of
// bot_logs; the scanner worker is the sole writer of scanner_levels. External
// UIs only read. Adapters:
//
//	bots.go       — bot_instances (desired fleet) and last_tick_at stamping
//	positions.go  — bot_positions + bot_trades lifecycle
//	logs.go       — bot_logs appends and in-place tile updates
//	levels.go     — scanner_levels upserts and reads
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"hyperliquid-engine/internal/config"
)

// requestTimeout bounds every row-store call. The database is local to the
// deployment; anything slower than this is treated as a failure.
const requestTimeout = 10 * time.Second

// Client is the shared PostgREST HTTP client. All table adapters go through
// it so authentication and the base URL live in one place.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewClient creates a client for the configured Supabase project, using the
// service-role key (the engine bypasses row-level security).
func NewClient(cfg config.SupabaseConfig, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/") + "/rest/v1").
		SetTimeout(requestTimeout).
		SetHeader("apikey", cfg.ServiceKey).
		SetHeader("Authorization", "Bearer "+cfg.ServiceKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   http,
		logger: logger.With("component", "store"),
	}
}

// checkStatus converts a non-2xx PostgREST response into an error.
func checkStatus(op string, resp *resty.Response) error {
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}
