// pacer.go implements the client-side politeness policy for the provider's
// /info endpoint.
//
// The provider rate-limits aggressively. The engine's policy is to sleep
// before selected calls rather than shape traffic with a token bucket:
// candle fetches wait ~1.5s since the previous candle fetch, order-book
// fetches ~1s. Combined with the per-bot caches this keeps request volume
// well under the provider's limits.
package marketdata

import (
	"context"
	"sync"
	"time"
)

// CallKind labels the /info request types so the Pacer can space them
// independently.
type CallKind string

const (
	CallMids    CallKind = "allMids"
	CallBook    CallKind = "l2Book"
	CallCandles CallKind = "candleSnapshot"
	CallTrades  CallKind = "recentTrades"
	CallMeta    CallKind = "metaAndAssetCtxs"
)

// Pacer enforces a minimum interval between consecutive calls of the same
// kind. Kinds without a configured interval pass through immediately.
// Callers block in Wait() until the interval has elapsed or the context is
// cancelled.
type Pacer struct {
	mu       sync.Mutex
	interval map[CallKind]time.Duration
	last     map[CallKind]time.Time
	now      func() time.Time
}

// NewPacer creates a pacer with per-kind minimum intervals. Zero or missing
// intervals disable pacing for that kind.
func NewPacer(intervals map[CallKind]time.Duration) *Pacer {
	iv := make(map[CallKind]time.Duration, len(intervals))
	for k, d := range intervals {
		if d > 0 {
			iv[k] = d
		}
	}
	return &Pacer{
		interval: iv,
		last:     make(map[CallKind]time.Time),
		now:      time.Now,
	}
}

// Wait blocks until at least the configured interval has passed since the
// previous call of this kind, then stamps the call. Returns early with the
// context error on cancellation.
func (p *Pacer) Wait(ctx context.Context, kind CallKind) error {
	for {
		p.mu.Lock()
		iv, ok := p.interval[kind]
		if !ok {
			p.last[kind] = p.now()
			p.mu.Unlock()
			return nil
		}

		now := p.now()
		prev, seen := p.last[kind]
		if !seen || now.Sub(prev) >= iv {
			p.last[kind] = now
			p.mu.Unlock()
			return nil
		}

		wait := iv - now.Sub(prev)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry; another caller may have claimed the slot meanwhile
		}
	}
}
