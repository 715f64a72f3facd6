package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"hyperliquid-engine/internal/store"
	"hyperliquid-engine/pkg/types"
)

// fakeStore is an in-memory Store with scriptable failures.
type fakeStore struct {
	nextID    int64
	rows      map[int64]*types.PositionRow
	trades    []fakeTrade
	stops     map[int64]float64
	failOpen  bool
	failClose bool
}

type fakeTrade struct {
	positionID int64
	side       types.TradeSide
	price      float64
	pnl        *float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]*types.PositionRow), stops: make(map[int64]float64)}
}

func (f *fakeStore) OpenPosition(_ context.Context, p store.OpenParams) (*types.PositionRow, error) {
	if f.failOpen {
		return nil, errors.New("insert failed")
	}
	f.nextID++
	row := &types.PositionRow{
		ID: f.nextID, BotID: p.BotID, Symbol: p.Symbol, Side: p.Side,
		Size: p.Size, EntryPrice: p.EntryPrice, CurrentPrice: p.EntryPrice,
		StopLoss: p.StopLoss, TakeProfit: p.TakeProfit, Status: types.PositionOpen,
	}
	f.rows[row.ID] = row
	f.trades = append(f.trades, fakeTrade{positionID: row.ID, side: types.OpenTradeSide(p.Side), price: p.EntryPrice})
	return row, nil
}

func (f *fakeStore) MarkPosition(_ context.Context, id int64, price, pnl float64) error {
	if r, ok := f.rows[id]; ok {
		r.CurrentPrice = price
		r.UnrealizedPnL = pnl
	}
	return nil
}

func (f *fakeStore) AdjustStop(_ context.Context, id int64, stop float64) error {
	f.stops[id] = stop
	if r, ok := f.rows[id]; ok {
		r.StopLoss = stop
	}
	return nil
}

func (f *fakeStore) ClosePosition(_ context.Context, pos *types.PositionRow, price, pnl float64, _ string) error {
	if f.failClose {
		return errors.New("close failed")
	}
	if r, ok := f.rows[pos.ID]; ok {
		r.Status = types.PositionClosed
		r.CurrentPrice = price
	}
	p := pnl
	f.trades = append(f.trades, fakeTrade{positionID: pos.ID, side: types.CloseTradeSide(pos.Side), price: price, pnl: &p})
	return nil
}

func (f *fakeStore) ListOpen(_ context.Context, botID string) ([]types.PositionRow, error) {
	var out []types.PositionRow
	for _, r := range f.rows {
		if r.BotID == botID && r.Status == types.PositionOpen {
			out = append(out, *r)
		}
	}
	return out, nil
}

// fakeLogs records log activity.
type fakeLogs struct {
	appends []string
	tiles   map[string]int
	deletes []string
}

func newFakeLogs() *fakeLogs { return &fakeLogs{tiles: make(map[string]int)} }

func (f *fakeLogs) Append(_ context.Context, kind types.LogType, msg string, _ map[string]any) {
	f.appends = append(f.appends, string(kind)+": "+msg)
}
func (f *fakeLogs) UpdateTile(_ context.Context, kind types.TileKind, symbol, _ string, _ map[string]any) {
	f.tiles[string(kind)+":"+symbol]++
}
func (f *fakeLogs) DeleteTile(_ context.Context, kind types.TileKind, symbol string) {
	f.deletes = append(f.deletes, string(kind)+":"+symbol)
}

func testConfig() Config {
	return Config{
		BotID: "b1", UserID: "u1", Mode: "paper",
		Pairs:           []string{"BTC"},
		PositionSizeUSD: 1000,
		StopLossPct:     1.0,
		TakeProfitPct:   2.0,
		MaxPositions:    2,
		Cooldown:        60 * time.Second,
	}
}

func newTestManager(st Store, logs Logs) *Manager {
	return NewManager(st, logs, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenSizingInvariant(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())

	row, err := m.Open(context.Background(), Entry{Symbol: "BTC", Side: types.Long, Price: 100, Reason: "test"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Size is base units: size * entry == configured USD notional.
	if got := row.Size * row.EntryPrice; math.Abs(got-1000) > 1e-9 {
		t.Errorf("size*entry = %v, want 1000", got)
	}
	if row.Size != 10 {
		t.Errorf("size = %v, want 10 units", row.Size)
	}
	// Long invariant: stop < entry <= take profit.
	if !(row.StopLoss < row.EntryPrice && row.EntryPrice <= row.TakeProfit) {
		t.Errorf("levels: stop=%v entry=%v tp=%v", row.StopLoss, row.EntryPrice, row.TakeProfit)
	}
	if math.Abs(row.StopLoss-99) > 1e-9 || math.Abs(row.TakeProfit-102) > 1e-9 {
		t.Errorf("stop=%v tp=%v, want 99/102", row.StopLoss, row.TakeProfit)
	}
}

func TestOpenShortLevelsReversed(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())

	row, err := m.Open(context.Background(), Entry{Symbol: "BTC", Side: types.Short, Price: 200, Reason: "test"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !(row.TakeProfit <= row.EntryPrice && row.EntryPrice < row.StopLoss) {
		t.Errorf("short levels: tp=%v entry=%v stop=%v", row.TakeProfit, row.EntryPrice, row.StopLoss)
	}
}

func TestOpenGuards(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())
	ctx := context.Background()

	if _, err := m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Same symbol: suppressed quietly.
	row, err := m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100})
	if row != nil || err != nil {
		t.Errorf("duplicate-symbol open = %v, %v; want nil, nil", row, err)
	}

	// Fill up to max positions, then a third symbol is suppressed.
	if _, err := m.Open(ctx, Entry{Symbol: "ETH", Side: types.Long, Price: 50}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	row, err = m.Open(ctx, Entry{Symbol: "SOL", Side: types.Long, Price: 20})
	if row != nil || err != nil {
		t.Errorf("max-positions open = %v, %v; want nil, nil", row, err)
	}
	if m.Count() != 2 {
		t.Errorf("count = %d, want 2", m.Count())
	}
}

func TestOpenFailureNotAccounted(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.failOpen = true
	m := newTestManager(st, newFakeLogs())

	if _, err := m.Open(context.Background(), Entry{Symbol: "BTC", Side: types.Long, Price: 100}); err == nil {
		t.Fatal("expected open error")
	}
	if m.Count() != 0 {
		t.Errorf("count = %d after failed open, want 0", m.Count())
	}
}

func TestCooldownBlocksReentry(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	row, err := m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := m.Close(ctx, row, 101, "Take Profit"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// 30s later: still cooling down.
	m.now = func() time.Time { return base.Add(30 * time.Second) }
	if !m.InCooldown("BTC") {
		t.Error("expected cooldown at 30s")
	}
	got, err := m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100})
	if got != nil || err != nil {
		t.Errorf("cooldown open = %v, %v; want nil, nil", got, err)
	}

	// 61s later: allowed again.
	m.now = func() time.Time { return base.Add(61 * time.Second) }
	if m.InCooldown("BTC") {
		t.Error("cooldown should have expired at 61s")
	}
}

// Scenario: long at 200.00 with stop 198.00 / TP 204.00. Price hits 200.30
// (+0.15%): stop moves to exactly 200.00. A drop to 199.90 then exits at
// Stop Loss with pnl ≈ 0.
func TestBreakEvenThenStopLossExit(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	logs := newFakeLogs()
	m := newTestManager(st, logs)
	m.cfg.StopLossPct = 1.0
	m.cfg.TakeProfitPct = 2.0
	ctx := context.Background()

	row, err := m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 200, Reason: "test"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m.Sweep(ctx, map[string]float64{"BTC": 200.30})

	pos, ok := m.Get("BTC")
	if !ok {
		t.Fatal("position should still be open")
	}
	if pos.StopLoss != 200.0 {
		t.Errorf("stop after break-even = %v, want exactly 200.00", pos.StopLoss)
	}
	if st.stops[row.ID] != 200.0 {
		t.Errorf("persisted stop = %v, want 200.00", st.stops[row.ID])
	}
	md, _ := m.Metadata(row.ID)
	if md.OriginalStopLoss != 198.0 {
		t.Errorf("original stop = %v, want 198.00", md.OriginalStopLoss)
	}
	if md.FirstProfitTime == nil {
		t.Error("first profit time should be set")
	}

	// Break-even is one-shot: a second profitable sweep leaves the stop alone.
	m.Sweep(ctx, map[string]float64{"BTC": 200.40})
	if pos, _ := m.Get("BTC"); pos.StopLoss != 200.0 {
		t.Errorf("stop moved again: %v", pos.StopLoss)
	}

	// The drop through the new stop exits at Stop Loss with pnl ≈ 0.
	m.Sweep(ctx, map[string]float64{"BTC": 199.90})
	if m.HasOpen("BTC") {
		t.Fatal("position should have closed")
	}

	last := st.trades[len(st.trades)-1]
	if last.side != types.Sell || last.pnl == nil {
		t.Fatalf("closing trade = %+v", last)
	}
	if math.Abs(*last.pnl-(199.90-200.0)*row.Size) > 1e-9 {
		t.Errorf("close pnl = %v, want (199.90-200)*size", *last.pnl)
	}
	if math.Abs(*last.pnl) > 1.0 {
		t.Errorf("pnl = %v, want approximately zero", *last.pnl)
	}
}

func TestTakeProfitExitLong(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())
	ctx := context.Background()

	row, _ := m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100})
	m.Sweep(ctx, map[string]float64{"BTC": 102.5})

	if m.HasOpen("BTC") {
		t.Fatal("position should have closed at take profit")
	}
	last := st.trades[len(st.trades)-1]
	want := (102.5 - 100) * row.Size
	if last.pnl == nil || math.Abs(*last.pnl-want) > 1e-9 {
		t.Errorf("pnl = %v, want %v", last.pnl, want)
	}
}

func TestShortExits(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())
	ctx := context.Background()

	// Short at 100: stop 101, TP 98.
	m.Open(ctx, Entry{Symbol: "BTC", Side: types.Short, Price: 100})
	m.Sweep(ctx, map[string]float64{"BTC": 101.5}) // through the stop

	if m.HasOpen("BTC") {
		t.Fatal("short should have stopped out")
	}
	last := st.trades[len(st.trades)-1]
	if last.side != types.Buy {
		t.Errorf("closing side = %v, want buy", last.side)
	}
	if last.pnl == nil || *last.pnl >= 0 {
		t.Errorf("pnl = %v, want negative", last.pnl)
	}
}

func TestCloseFailureRetriesNextSweep(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	m := newTestManager(st, newFakeLogs())
	ctx := context.Background()

	m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100})

	st.failClose = true
	m.Sweep(ctx, map[string]float64{"BTC": 98.0}) // stop touched, close fails

	if len(m.retries) != 1 {
		t.Fatalf("retries = %d, want 1", len(m.retries))
	}

	// Next sweep retries the close and converges.
	st.failClose = false
	m.Sweep(ctx, map[string]float64{"BTC": 98.0})

	if len(m.retries) != 0 {
		t.Errorf("retries = %d after recovery, want 0", len(m.retries))
	}
	if m.HasOpen("BTC") {
		t.Error("position should be closed after retry")
	}
	last := st.trades[len(st.trades)-1]
	if last.pnl == nil {
		t.Error("closing trade must carry pnl")
	}
}

func TestReloadInitializesMetadata(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	// Seed a row as if another process restarted the engine.
	st.nextID = 5
	st.rows[5] = &types.PositionRow{
		ID: 5, BotID: "b1", Symbol: "ETH", Side: types.Long,
		Size: 2, EntryPrice: 50, StopLoss: 49, TakeProfit: 52, Status: types.PositionOpen,
	}
	m := newTestManager(st, newFakeLogs())

	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	md, ok := m.Metadata(5)
	if !ok {
		t.Fatal("metadata missing after reload")
	}
	if md.OriginalStopLoss != 49 || md.HighestProfitPrice != 50 {
		t.Errorf("metadata = %+v", md)
	}

	// The row closes externally: metadata is dropped on the next reload.
	st.rows[5].Status = types.PositionClosed
	if err := m.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := m.Metadata(5); ok {
		t.Error("metadata should be dropped for closed positions")
	}
}

func TestTileThrottles(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	logs := newFakeLogs()
	m := newTestManager(st, logs)
	ctx := context.Background()

	base := time.Now()
	m.now = func() time.Time { return base }

	m.Open(ctx, Entry{Symbol: "BTC", Side: types.Long, Price: 100})
	m.Sweep(ctx, map[string]float64{"BTC": 100.05})
	m.Sweep(ctx, map[string]float64{"BTC": 100.06}) // within 5s: throttled

	if got := logs.tiles["position_status:BTC"]; got != 1 {
		t.Errorf("position_status updates = %d, want 1 within throttle window", got)
	}

	m.now = func() time.Time { return base.Add(6 * time.Second) }
	m.Sweep(ctx, map[string]float64{"BTC": 100.07})
	if got := logs.tiles["position_status:BTC"]; got != 2 {
		t.Errorf("position_status updates = %d, want 2 after window", got)
	}
}

func TestMonitoringTileForSymbolsWithoutPositions(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	logs := newFakeLogs()
	m := newTestManager(st, logs)

	m.Sweep(context.Background(), map[string]float64{"BTC": 100})
	if logs.tiles["monitoring:BTC"] != 1 {
		t.Errorf("monitoring updates = %d, want 1", logs.tiles["monitoring:BTC"])
	}
	if logs.tiles["market_metrics:BTC"] != 1 {
		t.Errorf("market_metrics updates = %d, want 1", logs.tiles["market_metrics:BTC"])
	}
}
