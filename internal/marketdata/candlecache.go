// candlecache.go holds the per-owner memo layers over the /info endpoint.
//
// Every bot (and the scanner) owns its own CandleCache and MidCache; there is
// no cross-bot sharing, which keeps each bot's view self-contained at the cost
// of a few duplicate fetches. The caches are the primary throttle: combined
// with the Pacer they keep the request volume under the provider's limits.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hyperliquid-engine/pkg/types"
)

// CandleSource fetches raw candle snapshots. Satisfied by *Client.
type CandleSource interface {
	Candles(ctx context.Context, coin, interval string, startMs, endMs int64) ([]types.Candle, error)
}

// MidSource fetches the all-mids snapshot. Satisfied by *Client.
type MidSource interface {
	AllMids(ctx context.Context) (map[string]float64, error)
}

// IntervalDuration maps a provider interval string to its bar duration.
// Unknown intervals fall back to one minute.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Closed drops the last (still-forming) bar from a candle slice.
func Closed(candles []types.Candle) []types.Candle {
	if len(candles) == 0 {
		return candles
	}
	return candles[:len(candles)-1]
}

type candleKey struct {
	symbol   string
	interval string
	bucket   int64 // startMs normalized to the enclosing minute
}

type candleEntry struct {
	candles   []types.Candle
	fetchedAt time.Time
}

// CandleCache memoizes candle fetches with a TTL. The key normalizes the
// window start to the enclosing minute so rolling windows computed a few
// hundred milliseconds apart hit the same entry. On a fetch error the last
// cached value is returned stale when one exists.
type CandleCache struct {
	src    CandleSource
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[candleKey]candleEntry
	now     func() time.Time
}

// NewCandleCache creates a cache over src with the given entry lifetime.
func NewCandleCache(src CandleSource, ttl time.Duration, logger *slog.Logger) *CandleCache {
	return &CandleCache{
		src:     src,
		ttl:     ttl,
		logger:  logger.With("component", "candle-cache"),
		entries: make(map[candleKey]candleEntry),
		now:     time.Now,
	}
}

// Get returns the candles for [startMs, endMs], from cache when fresh.
func (c *CandleCache) Get(ctx context.Context, symbol, interval string, startMs, endMs int64) ([]types.Candle, error) {
	key := candleKey{symbol: symbol, interval: interval, bucket: startMs - startMs%60_000}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.candles, nil
	}
	c.mu.Unlock()

	candles, err := c.src.Candles(ctx, symbol, interval, startMs, endMs)
	if err != nil {
		if ok {
			c.logger.Warn("candle fetch failed, serving stale",
				"symbol", symbol, "interval", interval, "age", c.now().Sub(entry.fetchedAt), "error", err)
			return entry.candles, nil
		}
		return nil, fmt.Errorf("candles %s %s: %w", symbol, interval, err)
	}

	c.mu.Lock()
	c.entries[key] = candleEntry{candles: candles, fetchedAt: c.now()}
	c.mu.Unlock()
	return candles, nil
}

// Recent returns the last n bars of the given interval, oldest first. The
// window end is now; the last bar is usually still forming.
func (c *CandleCache) Recent(ctx context.Context, symbol, interval string, bars int) ([]types.Candle, error) {
	end := c.now().UnixMilli()
	start := end - int64(bars)*IntervalDuration(interval).Milliseconds()
	return c.Get(ctx, symbol, interval, start, end)
}

// MidCache is the per-bot snapshot of all mid prices. The short TTL keeps a
// whole tick (every symbol, every strategy) on one consistent price view.
type MidCache struct {
	src MidSource
	ttl time.Duration

	mu        sync.Mutex
	mids      map[string]float64
	fetchedAt time.Time
	now       func() time.Time
}

// NewMidCache creates a mid-price snapshot cache.
func NewMidCache(src MidSource, ttl time.Duration) *MidCache {
	return &MidCache{src: src, ttl: ttl, now: time.Now}
}

// Get returns the current mid-price map, refreshing it when the snapshot is
// older than the TTL. A refresh failure serves the stale snapshot when one
// exists.
func (m *MidCache) Get(ctx context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mids != nil && m.now().Sub(m.fetchedAt) < m.ttl {
		return m.mids, nil
	}

	mids, err := m.src.AllMids(ctx)
	if err != nil {
		if m.mids != nil {
			return m.mids, nil
		}
		return nil, err
	}

	m.mids = mids
	m.fetchedAt = m.now()
	return mids, nil
}
