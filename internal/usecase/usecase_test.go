package usecase

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/internal/service/indicator"
	"OptionPilot/internal/service/signal"
	"OptionPilot/pkg/logger"
	"OptionPilot/pkg/metrics"
)

type fakeSource struct {
	calls int
	list  []models.OptionRef
	err   error
}

func (f *fakeSource) ListInstruments(context.Context, string) ([]models.OptionRef, error) {
	f.calls++
	return f.list, f.err
}

func chainFixture() *fakeSource {
	day := func(d int) time.Time { return time.Date(2024, 10, d, 0, 0, 0, 0, time.UTC) }
	var list []models.OptionRef
	for _, exp := range []time.Time{day(3), day(17), day(10)} {
		for k := 24800.0; k <= 25200; k += 50 {
			for _, side := range []models.OptionSide{models.Call, models.Put} {
				list = append(list, models.OptionRef{
					ID:         exp.Format("0102") + "-" + string(side) + "-" + formatStrike(k),
					Symbol:     "NIFTY" + formatStrike(k) + string(side),
					Underlying: "NIFTY",
					Strike:     k,
					Side:       side,
					Expiry:     exp,
					LotSize:    75,
				})
			}
		}
	}
	list = append(list, models.OptionRef{ID: "bank", Underlying: "BANKNIFTY", Strike: 25000, Side: models.Call, Expiry: day(10)})
	return &fakeSource{list: list}
}

func formatStrike(k float64) string {
	return strconv.FormatFloat(k, 'f', 0, 64)
}

func newTestChain(src *fakeSource) *OptionChain {
	c := NewOptionChain(ChainConfig{Underlying: "NIFTY", Exchange: "NFO", StrikeStep: 50, Width: 1, CacheTTL: time.Hour}, src, nil)
	c.now = func() time.Time { return time.Date(2024, 10, 9, 4, 0, 0, 0, time.UTC) }
	return c
}

func TestOptionChainPicksNearestExpiryAndATM(t *testing.T) {
	src := chainFixture()
	c := newTestChain(src)
	ctx := context.Background()
	if err := c.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.Expiry().Day(); got != 10 {
		t.Fatalf("expected the 10th (3rd has expired), got %d", got)
	}
	ce, ok := c.ATM(models.Call, 25024)
	if !ok || ce.Strike != 25000 || ce.Side != models.Call || ce.Expiry.Day() != 10 {
		t.Fatalf("unexpected ATM call %+v ok=%v", ce, ok)
	}
	pe, ok := c.ATM(models.Put, 25026)
	if !ok || pe.Strike != 25050 {
		t.Fatalf("unexpected ATM put %+v", pe)
	}
	if win := c.Window(25000); len(win) != 6 {
		t.Fatalf("expected 3 strikes x 2 sides, got %d", len(win))
	}

	// Second load is served from the cache.
	if err := c.Load(ctx); err != nil || src.calls != 1 {
		t.Fatalf("expected cached load, calls=%d err=%v", src.calls, err)
	}
}

func TestOptionChainShiftOnlyOnATMChange(t *testing.T) {
	c := newTestChain(chainFixture())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	ids, changed := c.Shift(25010)
	if !changed || len(ids) != 6 {
		t.Fatalf("first shift must report window, got %v %v", ids, changed)
	}
	if _, changed := c.Shift(25020); changed {
		t.Fatalf("same ATM must not shift")
	}
	if _, changed := c.Shift(25030); !changed {
		t.Fatalf("ATM moved to 25050, expected shift")
	}
}

func TestOptionChainNoContracts(t *testing.T) {
	c := newTestChain(&fakeSource{})
	if err := c.Load(context.Background()); !errors.Is(err, ErrNoContracts) {
		t.Fatalf("expected ErrNoContracts, got %v", err)
	}
}

func TestMarketStateTickHistory(t *testing.T) {
	s := NewMarketState(indicator.NewEngine("256265"), nil, 3)
	base := time.Date(2024, 10, 10, 4, 0, 0, 0, time.UTC)
	for i, p := range []float64{1, 2, 3, 4, 5} {
		s.Record(models.Tick{InstrumentID: "x", Price: p, Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	got := s.Ticks("x", 10)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected ring %v", got)
	}
	if got := s.Ticks("x", 2); len(got) != 2 || got[0] != 4 {
		t.Fatalf("unexpected tail %v", got)
	}
	if p, ok := s.LastPrice("x"); !ok || p != 5 {
		t.Fatalf("last=%v ok=%v", p, ok)
	}
	if _, ok := s.ATMOption(models.Call); ok {
		t.Fatalf("no chain means no ATM option")
	}
}

type memSink struct {
	name string
	err  error
	n    int
}

func (m *memSink) Name() string { return m.name }

func (m *memSink) Append(context.Context, models.TradeRecord) error {
	m.n++
	return m.err
}

func TestTradeJournalJoinsSinkErrors(t *testing.T) {
	ok := &memSink{name: "clickhouse"}
	bad := &memSink{name: "kafka", err: errors.New("no leader")}
	j := NewTradeJournal([]drepo.TradeSink{bad, ok}, nil, logger.NewNop(), metrics.Nop{})
	ctx := context.Background()

	err := j.Append(ctx, models.TradeRecord{TradeID: "a"})
	if err == nil || !errors.Is(err, bad.err) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.n != 1 || bad.n != 1 {
		t.Fatalf("every sink must be attempted once, ok=%d bad=%d", ok.n, bad.n)
	}
	_ = j.Append(ctx, models.TradeRecord{TradeID: "b"})
	recent, _ := j.Recent(ctx, 5)
	if len(recent) != 2 || recent[0].TradeID != "b" {
		t.Fatalf("unexpected recent %+v", recent)
	}
}

type ingestRecorder struct{ ticks []models.Tick }

func (r *ingestRecorder) Ingest(t models.Tick) error {
	r.ticks = append(r.ticks, t)
	return nil
}

func TestKafkaTicksHandlerParsesTimestamps(t *testing.T) {
	rec := &ingestRecorder{}
	h := NewKafkaTicksHandler("optionpilot.ticks", rec, metrics.Nop{})
	ctx := context.Background()
	msgs := []string{
		`{"instrument_id":256265,"price":25010.5,"ts":1728532800000}`,
		`{"instrument_id":"111","price":101.2,"ts":"2024-10-10T04:00:00Z"}`,
		`{"instrument_id":"111","price":101.3,"ts":1728532801}`,
	}
	for _, m := range msgs {
		if err := h.Handle(ctx, []byte(m)); err != nil {
			t.Fatalf("handle %s: %v", m, err)
		}
	}
	if len(rec.ticks) != 3 || rec.ticks[0].InstrumentID != "256265" || rec.ticks[1].InstrumentID != "111" {
		t.Fatalf("unexpected ticks %+v", rec.ticks)
	}
	want := time.Date(2024, 10, 10, 4, 0, 0, 0, time.UTC)
	if !rec.ticks[0].Timestamp.Equal(want) || !rec.ticks[1].Timestamp.Equal(want) || !rec.ticks[2].Timestamp.Equal(want.Add(time.Second)) {
		t.Fatalf("unexpected timestamps %v %v %v", rec.ticks[0].Timestamp, rec.ticks[1].Timestamp, rec.ticks[2].Timestamp)
	}
	if err := h.Handle(ctx, []byte(`{"instrument_id":"1","price":1}`)); err == nil {
		t.Fatalf("expected error without timestamp")
	}
	if err := h.Handle(ctx, []byte(`not json`)); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

func TestStatusSnapshotReflectsPosition(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	h.open(t)
	engine := indicator.NewEngine("256265")
	state := NewMarketState(engine, nil, 8)
	state.Record(models.Tick{InstrumentID: "256265", Price: 25010, Timestamp: h.now})
	state.Record(models.Tick{InstrumentID: testOption.ID, Price: 103, Timestamp: h.now})
	chain := newTestChain(chainFixture())

	s := NewStatusService(h.pm, state, chain, h.health, &recNotifier{}, "paper", time.Second)
	snap := s.Snapshot()
	if snap.Connection != "connected" || snap.Mode != "paper" || snap.Underlying != "NIFTY" {
		t.Fatalf("unexpected header %+v", snap)
	}
	if snap.State != models.StateOpen || snap.Position == nil || snap.LastPrice != 103 || snap.IndexPrice != 25010 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.TradingEnabled || snap.Trend != models.TrendUnknown {
		t.Fatalf("unexpected flags %+v", snap)
	}
}

func TestRouterDropsWhenQueueFull(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	engine := indicator.NewEngine("256265")
	chain := newTestChain(chainFixture())
	state := NewMarketState(engine, chain, 8)
	r := NewTickRouter(RouterConfig{QueueSize: 1, MaxRPS: 0}, RouterDeps{
		Engine:   engine,
		State:    state,
		Chain:    chain,
		Signals:  signal.NewCoordinator(signal.Config{MinCandles: 20}, nil, logger.NewNop(), metrics.Nop{}, nil),
		BandFlip: signal.NewTrendBandFlip(time.Minute),
		Position: h.pm,
		Notifier: h.notes,
		Metrics:  metrics.Nop{},
		Log:      logger.NewNop(),
	})
	tk := models.Tick{InstrumentID: "256265", Price: 25000, Timestamp: h.now}
	if !r.Enqueue(tk) {
		t.Fatalf("first tick must be queued")
	}
	if r.Enqueue(tk) {
		t.Fatalf("second tick must be dropped")
	}
}

func TestRouterDrivesExitsForHeldOption(t *testing.T) {
	cfg := baseLifecycle()
	cfg.ProfitTarget = 500
	h := newHarness(t, cfg)
	h.open(t)

	engine := indicator.NewEngine("256265")
	chain := newTestChain(chainFixture())
	state := NewMarketState(engine, chain, 8)
	r := NewTickRouter(RouterConfig{}, RouterDeps{
		Engine:   engine,
		State:    state,
		Chain:    chain,
		Signals:  signal.NewCoordinator(signal.Config{MinCandles: 20}, nil, logger.NewNop(), metrics.Nop{}, nil),
		Position: h.pm,
		Notifier: h.notes,
		Metrics:  metrics.Nop{},
		Log:      logger.NewNop(),
	})
	ctx := context.Background()

	r.handle(ctx, models.Tick{InstrumentID: "other", Price: 200, Timestamp: h.now})
	if h.pm.State() != models.StateOpen {
		t.Fatalf("ticks of other instruments must not exit")
	}
	h.exec.sellPrice = 104
	r.handle(ctx, models.Tick{InstrumentID: testOption.ID, Price: 104, Timestamp: h.now.Add(time.Second)})
	if h.pm.State() != models.StateFlat || h.journal.recs[0].ExitReason != ReasonProfitTarget {
		t.Fatalf("expected profit target exit via router, state=%s", h.pm.State())
	}
	if p, _ := state.LastPrice(testOption.ID); p != 104 {
		t.Fatalf("market state not updated")
	}
}

func TestRouterTrendListenerPublishes(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	engine := indicator.NewEngine("256265")
	chain := newTestChain(chainFixture())
	flip := signal.NewTrendBandFlip(time.Minute)
	r := NewTickRouter(RouterConfig{}, RouterDeps{
		Engine:   engine,
		State:    NewMarketState(engine, chain, 8),
		Chain:    chain,
		Signals:  signal.NewCoordinator(signal.Config{}, nil, logger.NewNop(), metrics.Nop{}, nil),
		BandFlip: flip,
		Position: h.pm,
		Notifier: h.notes,
		Metrics:  metrics.Nop{},
		Log:      logger.NewNop(),
	})
	r.onTrend(models.TrendEvent{From: models.TrendBearish, To: models.TrendBullish, At: h.now, Close: 25000})
	if !h.notes.has(models.EventTrend) {
		t.Fatalf("expected trend event")
	}
}
