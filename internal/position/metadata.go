package position

import "time"

// Metadata is the in-memory record kept per open position. It exists from
// the moment a position is first seen until its close; it never touches the
// row store.
type Metadata struct {
	HighestProfitPct   float64    // best pnl percentage seen so far
	HighestProfitPrice float64    // price at that peak
	FirstProfitTime    *time.Time // first moment pnl went positive
	OriginalStopLoss   float64    // stop at entry, before break-even moved it

	breakEvenApplied bool
}

// newMetadata initializes metadata for a freshly-seen position.
func newMetadata(entryPrice, stopLoss float64) *Metadata {
	return &Metadata{
		HighestProfitPrice: entryPrice,
		OriginalStopLoss:   stopLoss,
	}
}

// observe folds one price observation into the metadata.
func (m *Metadata) observe(pnlPct, price float64, now time.Time) {
	if pnlPct > m.HighestProfitPct {
		m.HighestProfitPct = pnlPct
		m.HighestProfitPrice = price
	}
	if pnlPct > 0 && m.FirstProfitTime == nil {
		t := now
		m.FirstProfitTime = &t
	}
}
