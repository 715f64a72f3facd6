package levels

import (
	"reflect"
	"testing"

	"hyperliquid-engine/pkg/types"
)

func clusteredCandles() []types.Candle {
	// Highs cluster near 105, lows near 95, plus one outlier high at 110.
	return []types.Candle{
		{High: 105.0, Low: 95.0},
		{High: 105.2, Low: 95.3},
		{High: 110.0, Low: 95.1},
	}
}

func TestDetectZonesTouchCounting(t *testing.T) {
	t.Parallel()

	zones := DetectZones(clusteredCandles(), 100)

	if len(zones) != 2 {
		t.Fatalf("got %d zones, want 2 (outlier at 110 has one touch)", len(zones))
	}
	// Sorted by touches descending: the low cluster has 3, the high cluster 2.
	if zones[0].Price != 95.0 || zones[0].Touches != 3 {
		t.Errorf("zones[0] = %+v, want pivot 95 with 3 touches", zones[0])
	}
	if zones[1].Price != 105.0 || zones[1].Touches != 2 {
		t.Errorf("zones[1] = %+v, want pivot 105 with 2 touches", zones[1])
	}
}

func TestDetectZonesDeterministic(t *testing.T) {
	t.Parallel()

	a := DetectZones(clusteredCandles(), 100)
	b := DetectZones(clusteredCandles(), 100)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same input produced different zones: %v vs %v", a, b)
	}
}

func TestDetectZonesThresholdBound(t *testing.T) {
	t.Parallel()

	// 100.5 is exactly 0.5% of the reference from 100.0: same zone.
	// 100.6 is beyond the threshold: new zone.
	candles := []types.Candle{
		{High: 100.0, Low: 100.0},
		{High: 100.5, Low: 100.6},
	}
	zones := DetectZones(candles, 100)

	if len(zones) != 1 {
		t.Fatalf("got %d significant zones, want 1", len(zones))
	}
	if zones[0].Price != 100.0 || zones[0].Touches != 3 {
		t.Errorf("zone = %+v, want pivot 100 with 3 touches", zones[0])
	}
}

func TestFindLevelsSupportAndResistance(t *testing.T) {
	t.Parallel()

	support, resistance := FindLevels(clusteredCandles(), 100, "1h")

	if support == nil || support.Price != 95.0 || support.Touches != 3 {
		t.Errorf("support = %+v, want 95 with 3 touches", support)
	}
	if resistance == nil || resistance.Price != 105.0 || resistance.Weight != 4 {
		t.Errorf("resistance = %+v, want 105 with weight 4", resistance)
	}
}

func TestFindLevelsFallback(t *testing.T) {
	t.Parallel()

	// No clustering anywhere: fall back to the window extremes.
	candles := []types.Candle{
		{High: 110, Low: 90},
		{High: 120, Low: 80},
		{High: 130, Low: 70},
	}
	support, resistance := FindLevels(candles, 100, "15m")

	if support == nil || support.Price != 70 || support.Touches != 1 {
		t.Errorf("fallback support = %+v, want 70 with 1 touch", support)
	}
	if resistance == nil || resistance.Price != 130 || resistance.Weight != 2 {
		t.Errorf("fallback resistance = %+v, want 130 with weight 2", resistance)
	}
}

func TestFindLevelsEmptyInput(t *testing.T) {
	t.Parallel()

	support, resistance := FindLevels(nil, 100, "1h")
	if support != nil || resistance != nil {
		t.Errorf("got %v/%v for empty candles, want nil/nil", support, resistance)
	}
}

func TestWeightPerTimeframe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tf   string
		want int
	}{
		{"5m", 1}, {"15m", 2}, {"30m", 3}, {"1h", 4}, {"4h", 6}, {"12h", 8}, {"1d", 10}, {"2m", 1},
	}
	for _, tt := range tests {
		if got := Weight(tt.tf); got != tt.want {
			t.Errorf("Weight(%q) = %d, want %d", tt.tf, got, tt.want)
		}
	}
}

func TestClosestPrefersDistanceThenWeight(t *testing.T) {
	t.Parallel()

	byTF := map[string]types.TimeframeLevels{
		"15m": {Resistance: &types.LevelInfo{Price: 101, Timeframe: "15m", Touches: 2, Weight: 2}},
		"1h":  {Support: &types.LevelInfo{Price: 99, Timeframe: "1h", Touches: 3, Weight: 4}},
	}

	got := Closest(100, byTF)
	if got == nil {
		t.Fatal("Closest returned nil")
	}
	// Both levels sit 1% away; the heavier 1h support wins the tie.
	if got.Type != "LOW" || got.Price != 99 || got.Timeframe != "1h" {
		t.Errorf("closest = %+v, want the 1h support", got)
	}
	if got.Distance != 1.0 {
		t.Errorf("distance = %v, want 1.0", got.Distance)
	}
}

func TestStrongestPicksPerSide(t *testing.T) {
	t.Parallel()

	byTF := map[string]types.TimeframeLevels{
		"15m": {
			Support:    &types.LevelInfo{Price: 98, Timeframe: "15m", Weight: 2},
			Resistance: &types.LevelInfo{Price: 103, Timeframe: "15m", Weight: 2},
		},
		"1h": {
			Support:    &types.LevelInfo{Price: 96, Timeframe: "1h", Weight: 4},
			Resistance: &types.LevelInfo{Price: 102, Timeframe: "1h", Weight: 4},
		},
	}

	support, resistance := Strongest(100, byTF)
	if support == nil || support.Price != 98 {
		t.Errorf("support = %+v, want the nearer 15m level at 98", support)
	}
	if resistance == nil || resistance.Price != 102 {
		t.Errorf("resistance = %+v, want the nearer 1h level at 102", resistance)
	}
}
