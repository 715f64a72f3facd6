package types

// BestBid returns the highest bid, or false when the bid side is empty.
func (b *OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false when the ask side is empty.
func (b *OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Mid returns the midpoint of the best bid and ask, or false when either
// side is empty.
func (b *OrderBook) Mid() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// DepthSums returns the total size over the top n bid and ask levels. Both
// imbalance strategies build their ratios from these sums.
func (b *OrderBook) DepthSums(n int) (bidSum, askSum float64) {
	for i := 0; i < n && i < len(b.Bids); i++ {
		bidSum += b.Bids[i].Size
	}
	for i := 0; i < n && i < len(b.Asks); i++ {
		askSum += b.Asks[i].Size
	}
	return bidSum, askSum
}
