// Package levels detects support and resistance zones by touch counting.
//
// A zone is a clustered price region: candle highs and lows within 0.5% of a
// pivot price (relative to the reference price) count as touches of that
// pivot. Zones with at least two touches are significant; the strongest ones
// sit where price repeatedly reversed. The algorithm is deterministic in
// candle order: the first matching zone in insertion order takes the touch.
//
// Everything here is pure; callers supply closed candles and a reference
// price (usually the current mark).
package levels

import (
	"sort"

	"hyperliquid-engine/pkg/types"
)

// ZoneThreshold is the relative width of a zone: a price within 0.5% of a
// pivot (measured against the reference price) touches it.
const ZoneThreshold = 0.005

// MinTouches is the number of touches a zone needs to be significant.
const MinTouches = 2

// fallbackBars bounds the window used when no zone reaches MinTouches.
const fallbackBars = 20

// Zone is one clustered price region with its running touch count.
type Zone struct {
	Price   float64
	Touches int
}

// Weight returns the timeframe weight used to rank levels across timeframes.
// Slower timeframes carry more weight.
func Weight(timeframe string) int {
	switch timeframe {
	case "5m":
		return 1
	case "15m":
		return 2
	case "30m":
		return 3
	case "1h":
		return 4
	case "4h":
		return 6
	case "12h":
		return 8
	case "1d":
		return 10
	default:
		return 1
	}
}

// DetectZones clusters the highs and lows of the given candles into zones
// relative to refPrice. Zones come back sorted by touch count descending;
// only zones with at least MinTouches survive.
func DetectZones(candles []types.Candle, refPrice float64) []Zone {
	if refPrice <= 0 {
		return nil
	}

	var zones []Zone
	touch := func(p float64) {
		for i := range zones {
			diff := zones[i].Price - p
			if diff < 0 {
				diff = -diff
			}
			if diff/refPrice <= ZoneThreshold {
				zones[i].Touches++
				return
			}
		}
		zones = append(zones, Zone{Price: p, Touches: 1})
	}

	for _, k := range candles {
		touch(k.High)
		touch(k.Low)
	}

	kept := zones[:0]
	for _, z := range zones {
		if z.Touches >= MinTouches {
			kept = append(kept, z)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Touches > kept[j].Touches })
	return kept
}

// FindLevels returns the closest significant support and resistance around
// refPrice for one timeframe: the highest zone below the reference and the
// lowest zone above it. When no zone reaches MinTouches it falls back to the
// extremes of the most recent up-to-20 candles as a single pair.
func FindLevels(candles []types.Candle, refPrice float64, timeframe string) (support, resistance *types.LevelInfo) {
	zones := DetectZones(candles, refPrice)
	w := Weight(timeframe)

	for _, z := range zones {
		if z.Price < refPrice {
			if support == nil || z.Price > support.Price {
				support = &types.LevelInfo{Price: z.Price, Timeframe: timeframe, Touches: z.Touches, Weight: w}
			}
		} else {
			if resistance == nil || z.Price < resistance.Price {
				resistance = &types.LevelInfo{Price: z.Price, Timeframe: timeframe, Touches: z.Touches, Weight: w}
			}
		}
	}
	if len(zones) > 0 {
		return support, resistance
	}

	// Fallback: window extremes of the recent candles.
	window := candles
	if len(window) > fallbackBars {
		window = window[len(window)-fallbackBars:]
	}
	if len(window) == 0 {
		return nil, nil
	}
	lo, hi := window[0].Low, window[0].High
	for _, k := range window[1:] {
		if k.Low < lo {
			lo = k.Low
		}
		if k.High > hi {
			hi = k.High
		}
	}
	support = &types.LevelInfo{Price: lo, Timeframe: timeframe, Touches: 1, Weight: w}
	resistance = &types.LevelInfo{Price: hi, Timeframe: timeframe, Touches: 1, Weight: w}
	return support, resistance
}

// candidate is one level annotated for cross-timeframe ranking.
type candidate struct {
	level    types.LevelInfo
	kind     string // "LOW" for supports, "HIGH" for resistances
	distance float64
}

func collect(refPrice float64, byTimeframe map[string]types.TimeframeLevels) []candidate {
	var out []candidate
	add := func(l *types.LevelInfo, kind string) {
		if l == nil || refPrice <= 0 {
			return
		}
		d := (l.Price - refPrice) / refPrice * 100
		if d < 0 {
			d = -d
		}
		out = append(out, candidate{level: *l, kind: kind, distance: d})
	}
	for _, tf := range sortedKeys(byTimeframe) {
		lv := byTimeframe[tf]
		add(lv.Support, "LOW")
		add(lv.Resistance, "HIGH")
	}
	return out
}

func sortedKeys(m map[string]types.TimeframeLevels) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rank(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		return cands[i].level.Weight > cands[j].level.Weight
	})
}

// Closest picks the single level nearest the reference price across every
// timeframe, by (distance ascending, weight descending).
func Closest(refPrice float64, byTimeframe map[string]types.TimeframeLevels) *types.ClosestLevel {
	cands := collect(refPrice, byTimeframe)
	if len(cands) == 0 {
		return nil
	}
	rank(cands)
	best := cands[0]
	return &types.ClosestLevel{
		Price:     best.level.Price,
		Timeframe: best.level.Timeframe,
		Type:      best.kind,
		Distance:  best.distance,
		Weight:    best.level.Weight,
	}
}

// Strongest picks the best support and the best resistance across every
// timeframe, each by (distance ascending, weight descending).
func Strongest(refPrice float64, byTimeframe map[string]types.TimeframeLevels) (support, resistance *types.LevelInfo) {
	cands := collect(refPrice, byTimeframe)
	rank(cands)
	for _, c := range cands {
		if c.kind == "LOW" && support == nil {
			l := c.level
			support = &l
		}
		if c.kind == "HIGH" && resistance == nil {
			l := c.level
			resistance = &l
		}
	}
	return support, resistance
}
