package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/repository"
	"OptionPilot/internal/service/risk"
	"OptionPilot/pkg/cache"
	"OptionPilot/pkg/logger"
	"OptionPilot/pkg/metrics"
	"OptionPilot/pkg/util"
)

type execCall struct {
	side models.OrderSide
	qty  int
}

type fakeExec struct {
	mu        sync.Mutex
	calls     []execCall
	buyPrice  float64
	sellPrice float64
	sell      func(qty int) models.OrderResult
	gate      chan struct{}
	started   chan struct{}
}

func (f *fakeExec) Execute(_ context.Context, _ models.OptionRef, side models.OrderSide, qty int) models.OrderResult {
	f.mu.Lock()
	f.calls = append(f.calls, execCall{side, qty})
	started, gate := f.started, f.gate
	var res models.OrderResult
	switch {
	case side == models.Buy:
		res = models.OrderResult{Status: models.Filled, FilledQty: qty, AvgPrice: f.buyPrice}
	case f.sell != nil:
		res = f.sell(qty)
	default:
		res = models.OrderResult{Status: models.Filled, FilledQty: qty, AvgPrice: f.sellPrice}
	}
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return res
}

func (f *fakeExec) count(side models.OrderSide) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.side == side {
			n++
		}
	}
	return n
}

type fakeAccount struct {
	positions []models.BrokerPosition
}

func (a *fakeAccount) Margins(context.Context) (models.Margins, error) {
	return models.Margins{}, nil
}

func (a *fakeAccount) Positions(context.Context) ([]models.BrokerPosition, error) {
	return a.positions, nil
}

type fakeView struct {
	mu      sync.Mutex
	prices  map[string]float64
	candles []models.Candle
	live    map[string]models.Candle
}

func (v *fakeView) LastPrice(id string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.prices[id]
	return p, ok
}

func (v *fakeView) Candles(n int) []models.Candle {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n > len(v.candles) {
		n = len(v.candles)
	}
	return v.candles[len(v.candles)-n:]
}

func (v *fakeView) LiveCandle(id string) (models.Candle, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.live[id]
	return c, ok
}

func (v *fakeView) Trend() models.TrendState { return models.TrendBullish }

type fakeJournal struct {
	mu   sync.Mutex
	recs []models.TradeRecord
	err  error
}

func (j *fakeJournal) Append(_ context.Context, rec models.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, rec)
	return j.err
}

type recNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (n *recNotifier) PublishStatus(models.StatusSnapshot) {}

func (n *recNotifier) PublishEvent(e models.Event) {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
}

func (n *recNotifier) has(t models.EventType) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

type fakeHealth struct{ up bool }

func (h *fakeHealth) IsConnected() bool { return h.up }

var testOption = models.OptionRef{
	ID:       "111",
	Symbol:   "NIFTY24O1025000CE",
	Exchange: "NFO",
	Strike:   25000,
	Side:     models.Call,
	LotSize:  75,
	TickSize: 0.05,
}

type harness struct {
	pm      *PositionManager
	exec    *fakeExec
	view    *fakeView
	journal *fakeJournal
	alerts  *repository.CacheAlertStore
	notes   *recNotifier
	account *fakeAccount
	health  *fakeHealth
	now     time.Time
}

func baseLifecycle() LifecycleConfig {
	return LifecycleConfig{
		MaxTradesPerMinute: 2,
		MaxExitAttempts:    2,
		FailsafeWindow:     10 * time.Second,
		StaleTickWindow:    time.Minute,
		TradingEnabled:     true,
	}
}

func newHarness(t *testing.T, cfg LifecycleConfig) *harness {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	clock, err := util.NewSessionClock("Asia/Kolkata", "15:15")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	h := &harness{
		exec:    &fakeExec{buyPrice: 100, sellPrice: 100},
		view:    &fakeView{prices: map[string]float64{testOption.ID: 100}, live: map[string]models.Candle{}},
		journal: &fakeJournal{},
		alerts:  repository.NewCacheAlertStore(mc),
		notes:   &recNotifier{},
		account: &fakeAccount{},
		health:  &fakeHealth{up: true},
		// 09:30 IST
		now: time.Date(2024, 10, 10, 4, 0, 0, 0, time.UTC),
	}
	h.pm = NewPositionManager(cfg, PositionDeps{
		Executor: h.exec,
		Account:  h.account,
		Sizer: risk.NewSizer(risk.Config{
			Capital:      100000,
			RiskPercent:  2,
			StopPoints:   10,
			StopPercent:  0.10,
			TrailPoints:  5,
			TrailPercent: 0.05,
		}),
		Charges:  risk.NewChargeCalculator(risk.DefaultChargeRates()),
		Journal:  h.journal,
		Alerts:   h.alerts,
		Session:  repository.NewCacheSessionStore(mc),
		Notifier: h.notes,
		View:     h.view,
		Health:   h.health,
		Clock:    clock,
		Metrics:  metrics.Nop{},
		Log:      logger.NewNop(),
	})
	h.pm.now = func() time.Time { return h.now }
	return h
}

func (h *harness) signal() models.Signal {
	return models.Signal{Side: models.Call, Reason: "Band_Flip_CE", Strategy: "band_flip", Instrument: testOption, At: h.now}
}

func (h *harness) open(t *testing.T) models.Position {
	t.Helper()
	if err := h.pm.Enter(context.Background(), h.signal()); err != nil {
		t.Fatalf("enter: %v", err)
	}
	pos, ok := h.pm.Position()
	if !ok {
		t.Fatalf("expected open position")
	}
	return pos
}

func TestEntrySizesAndOpens(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	pos := h.open(t)
	// 2% of 100k over 10 points of risk per share is two lots.
	if pos.Quantity != 150 || pos.EntryPrice != 100 || pos.InitialStop != 90 || pos.TrailingStop != 90 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if h.pm.State() != models.StateOpen || !h.notes.has(models.EventTradeOpened) {
		t.Fatalf("state=%s events=%+v", h.pm.State(), h.notes.events)
	}
}

func TestConcurrentEntryAllowsOnePosition(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	h.exec.gate = make(chan struct{})
	h.exec.started = make(chan struct{}, 1)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- h.pm.Enter(ctx, h.signal()) }()
	<-h.exec.started

	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrEntryInFlight) {
		t.Fatalf("expected ErrEntryInFlight, got %v", err)
	}
	if st := h.pm.State(); st != models.StateEntering {
		t.Fatalf("expected ENTERING while executing, got %s", st)
	}
	close(h.exec.gate)
	if err := <-first; err != nil {
		t.Fatalf("first entry: %v", err)
	}
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrPositionOpen) {
		t.Fatalf("expected ErrPositionOpen, got %v", err)
	}
	if n := h.exec.count(models.Buy); n != 1 {
		t.Fatalf("expected one buy, got %d", n)
	}
}

func TestConcurrentEntryStress(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.pm.Enter(context.Background(), h.signal()); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 || h.exec.count(models.Buy) != 1 {
		t.Fatalf("expected exactly one entry, ok=%d buys=%d", ok, h.exec.count(models.Buy))
	}
}

func TestProfitTargetBeatsTrailingStop(t *testing.T) {
	cfg := baseLifecycle()
	cfg.ProfitTarget = 500
	h := newHarness(t, cfg)
	pos := models.Position{
		Instrument:   testOption,
		Direction:    models.Call,
		EntryPrice:   100,
		Quantity:     75,
		LotSize:      75,
		InitialStop:  90,
		TrailingStop: 110,
		RunningHigh:  120,
		EntryTime:    h.now,
	}
	ltp := 106.94 // unrealized ~520, below the trailing stop

	_, d := h.pm.Evaluate(pos, ltp, h.now.Add(time.Second))
	if !d.Exit || d.Reason != ReasonProfitTarget || d.Quantity != 75 {
		t.Fatalf("expected profit target exit, got %+v", d)
	}

	h.pm.cfg.ProfitTarget = 0
	_, d = h.pm.Evaluate(pos, ltp, h.now.Add(time.Second))
	if !d.Exit || d.Reason != ReasonTrailing {
		t.Fatalf("expected trailing exit without target, got %+v", d)
	}
}

func TestTrailingStopNeverRelaxes(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	pos := h.open(t)
	last := pos.TrailingStop
	for _, ltp := range []float64{101, 104, 108, 106, 107, 109} {
		next, d := h.pm.Evaluate(pos, ltp, h.now)
		if d.Exit {
			t.Fatalf("unexpected exit at %v: %+v", ltp, d)
		}
		if next.TrailingStop < last {
			t.Fatalf("stop relaxed from %v to %v", last, next.TrailingStop)
		}
		last, pos = next.TrailingStop, next
	}
	if _, d := h.pm.Evaluate(pos, last-0.5, h.now); !d.Exit || d.Reason != ReasonTrailing {
		t.Fatalf("expected trailing exit, got %+v", d)
	}
}

func TestBreakevenActivatesThenStops(t *testing.T) {
	cfg := baseLifecycle()
	cfg.BreakevenTriggerPct = 5
	h := newHarness(t, cfg)
	pos := h.open(t)

	next, d := h.pm.Evaluate(pos, 106, h.now)
	if d.Exit || !next.BreakevenActive || next.TrailingStop < next.EntryPrice {
		t.Fatalf("expected breakeven armed, got %+v %+v", next, d)
	}
	_, d = h.pm.Evaluate(next, 100, h.now)
	if !d.Exit || d.Reason != ReasonBreakeven {
		t.Fatalf("expected breakeven exit, got %+v", d)
	}
}

func TestInvalidationOnReversalAfterEntry(t *testing.T) {
	cfg := baseLifecycle()
	cfg.InvalidateOnPattern = true
	cfg.InvalidateOnRedCandle = true
	h := newHarness(t, cfg)
	pos := h.open(t)
	minute := h.now.Truncate(time.Minute)

	// Pattern closed before entry does not count.
	h.view.candles = []models.Candle{
		{OpenTime: minute.Add(-2 * time.Minute), Open: 100, High: 111, Low: 99, Close: 110},
		{OpenTime: minute.Add(-time.Minute), Open: 112, High: 113, Low: 97, Close: 98},
	}
	if _, d := h.pm.Evaluate(pos, 101, h.now.Add(30*time.Second)); d.Exit {
		t.Fatalf("stale pattern must not invalidate: %+v", d)
	}

	h.view.candles = []models.Candle{
		{OpenTime: minute.Add(-time.Minute), Open: 100, High: 111, Low: 99, Close: 110},
		{OpenTime: minute, Open: 112, High: 113, Low: 97, Close: 98},
	}
	if _, d := h.pm.Evaluate(pos, 101, h.now.Add(time.Minute)); !d.Exit || d.Reason != "Invalidation: Bearish_Engulfing" {
		t.Fatalf("expected pattern invalidation, got %+v", d)
	}

	h.view.candles = nil
	h.view.live[testOption.ID] = models.Candle{OpenTime: minute, Open: 101, High: 101, Low: 99, Close: 99.5}
	if _, d := h.pm.Evaluate(pos, 99.5, h.now.Add(10*time.Second)); d.Exit {
		t.Fatalf("red candle in the entry minute must not invalidate: %+v", d)
	}
	h.view.live[testOption.ID] = models.Candle{OpenTime: minute.Add(time.Minute), Open: 101, High: 101, Low: 99, Close: 99.5}
	if _, d := h.pm.Evaluate(pos, 99.5, h.now.Add(70*time.Second)); !d.Exit || d.Reason != "Invalidation: Red Candle" {
		t.Fatalf("expected red candle invalidation, got %+v", d)
	}
}

func TestPartialExitsThenFinalClose(t *testing.T) {
	cfg := baseLifecycle()
	cfg.PartialProfitPct = 10
	cfg.PartialExitPct = 50
	h := newHarness(t, cfg)
	h.open(t) // 150 units
	ctx := context.Background()

	h.exec.sellPrice = 111
	h.pm.OnPriceTick(ctx, testOption.ID, 111)
	pos, ok := h.pm.Position()
	if !ok || pos.Quantity != 75 || pos.PartialLevel != 1 || pos.RealizedPartialQty != 75 {
		t.Fatalf("unexpected position after partial %+v ok=%v", pos, ok)
	}
	if len(h.journal.recs) != 1 || !h.journal.recs[0].Partial || h.journal.recs[0].ExitReason != "Partial Profit-Take (1)" {
		t.Fatalf("unexpected records %+v", h.journal.recs)
	}
	if h.pm.State() != models.StateOpen || !h.notes.has(models.EventPartialExit) {
		t.Fatalf("expected OPEN with partial event, state=%s", h.pm.State())
	}

	// Level two needs +20%; 50% of 75 rounds up to a full lot, leaving
	// nothing, so the position closes in full.
	h.exec.sellPrice = 121
	h.pm.OnPriceTick(ctx, testOption.ID, 121)
	if _, ok := h.pm.Position(); ok {
		t.Fatalf("expected flat after final partial")
	}
	last := h.journal.recs[len(h.journal.recs)-1]
	if last.ExitReason != ReasonFinalPartial || last.Partial || last.Quantity != 75 {
		t.Fatalf("unexpected final record %+v", last)
	}
	if d := h.pm.Daily(); d.Trades != 2 || d.Wins != 2 || d.NetPnL <= 0 {
		t.Fatalf("unexpected daily stats %+v", d)
	}
}

func TestShortFilledCloseRetriesRemainder(t *testing.T) {
	cfg := baseLifecycle()
	cfg.ProfitTarget = 500
	h := newHarness(t, cfg)
	h.open(t) // 150 units @ 100
	ctx := context.Background()

	sells := 0
	h.exec.sell = func(qty int) models.OrderResult {
		sells++
		if sells == 1 {
			return models.OrderResult{Status: models.PartiallyFilled, FilledQty: 75, AvgPrice: 104}
		}
		return models.OrderResult{Status: models.Filled, FilledQty: qty, AvgPrice: 104}
	}

	h.pm.OnPriceTick(ctx, testOption.ID, 104)
	pos, ok := h.pm.Position()
	if !ok || pos.Quantity != 75 || pos.PendingExit != ReasonProfitTarget {
		t.Fatalf("short close should keep the exit pending: %+v ok=%v", pos, ok)
	}
	if h.pm.State() != models.StateOpen {
		t.Fatalf("expected OPEN between retries, got %s", h.pm.State())
	}

	// 75 units at 104 no longer reach the target; the close still completes.
	h.pm.OnPriceTick(ctx, testOption.ID, 104)
	if _, ok := h.pm.Position(); ok || h.pm.State() != models.StateFlat {
		t.Fatalf("expected flat after retry, state=%s", h.pm.State())
	}
	if n := h.exec.count(models.Sell); n != 2 {
		t.Fatalf("sells=%d", n)
	}
	if c := h.exec.calls[len(h.exec.calls)-1]; c.qty != 75 {
		t.Fatalf("retry should sell the remainder, got %+v", c)
	}
	if len(h.journal.recs) != 2 {
		t.Fatalf("records=%d", len(h.journal.recs))
	}
	for i, r := range h.journal.recs {
		if r.ExitReason != ReasonProfitTarget || r.Quantity != 75 {
			t.Fatalf("record %d: %+v", i, r)
		}
	}
	if !h.journal.recs[0].Partial || h.journal.recs[1].Partial {
		t.Fatalf("only the first fill is partial: %+v", h.journal.recs)
	}
}

func TestShortFilledCloseHaltsAfterMaxAttempts(t *testing.T) {
	cfg := baseLifecycle()
	cfg.ProfitTarget = 500
	h := newHarness(t, cfg)
	h.open(t)
	ctx := context.Background()
	h.exec.sell = func(qty int) models.OrderResult {
		return models.OrderResult{Status: models.PartiallyFilled, FilledQty: min(qty, 50), AvgPrice: 104}
	}

	h.pm.OnPriceTick(ctx, testOption.ID, 104)
	h.pm.OnPriceTick(ctx, testOption.ID, 104)
	if h.pm.State() != models.StateHalted {
		t.Fatalf("expected HALTED, got %s", h.pm.State())
	}
	pos, ok := h.pm.Position()
	if !ok || pos.Quantity != 50 {
		t.Fatalf("remaining exposure %+v ok=%v", pos, ok)
	}
	alerts, _ := h.alerts.List(ctx)
	if len(alerts) == 0 || alerts[0].Code != "exit_failed" || alerts[0].Level != models.AlertCritical {
		t.Fatalf("expected critical exit_failed alert, got %+v", alerts)
	}

	h.pm.OnPriceTick(ctx, testOption.ID, 104)
	if n := h.exec.count(models.Sell); n != 2 {
		t.Fatalf("halted engine must not keep selling, sells=%d", n)
	}
}

func TestCloseStartsCooldownAndJournalFailureRaisesAlert(t *testing.T) {
	cfg := baseLifecycle()
	cfg.ProfitTarget = 500
	cfg.Cooldown = time.Minute
	h := newHarness(t, cfg)
	h.journal.err = errors.New("clickhouse: down")
	h.open(t)
	ctx := context.Background()

	h.exec.sellPrice = 105
	h.pm.OnPriceTick(ctx, testOption.ID, 105) // 150 * 5 = 750 >= 500
	if h.pm.State() != models.StateFlat {
		t.Fatalf("expected FLAT, got %s", h.pm.State())
	}
	if len(h.journal.recs) != 1 || h.journal.recs[0].ExitReason != ReasonProfitTarget {
		t.Fatalf("expected one profit target record, got %+v", h.journal.recs)
	}
	alerts, _ := h.alerts.List(ctx)
	if len(alerts) != 1 || alerts[0].Code != "journal_write_failed" || alerts[0].Record == nil {
		t.Fatalf("expected journal alert carrying the record, got %+v", alerts)
	}

	h.now = h.now.Add(30 * time.Second)
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}
	h.now = h.now.Add(31 * time.Second)
	if err := h.pm.Enter(ctx, h.signal()); err != nil {
		t.Fatalf("entry after cooldown: %v", err)
	}
}

func TestTradeFrequencyCap(t *testing.T) {
	cfg := baseLifecycle()
	cfg.MaxTradesPerMinute = 1
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.open(t)
	if err := h.pm.ForceExit(ctx, "Manual Exit"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrTradeFrequency) {
		t.Fatalf("expected frequency cap, got %v", err)
	}
	h.now = h.now.Add(time.Minute)
	if err := h.pm.Enter(ctx, h.signal()); err != nil {
		t.Fatalf("entry next minute: %v", err)
	}
}

func TestDailyStopLossBlocksEntries(t *testing.T) {
	cfg := baseLifecycle()
	cfg.DailyStopLoss = 1000
	h := newHarness(t, cfg)
	ctx := context.Background()
	h.open(t)
	h.exec.sellPrice = 90 // 150 * -10 = -1500 before charges
	if err := h.pm.ForceExit(ctx, "Manual Exit"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if d := h.pm.Daily(); !d.LimitHit || d.Losses != 1 {
		t.Fatalf("expected limit hit, got %+v", d)
	}
	h.now = h.now.Add(time.Hour)
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("expected daily limit, got %v", err)
	}
	if !h.notes.has(models.EventWarning) {
		t.Fatalf("expected warning event")
	}

	// A new trading day resets the stats.
	h.now = h.now.Add(24 * time.Hour)
	if err := h.pm.CanEnter(); err != nil {
		t.Fatalf("expected entries allowed next day, got %v", err)
	}
}

func TestUnconfirmedExitsHaltAndResume(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	ctx := context.Background()
	h.open(t)
	h.exec.sell = func(int) models.OrderResult {
		return models.OrderResult{Status: models.Failed, Reason: "broker down"}
	}

	if err := h.pm.ForceExit(ctx, "Manual Exit"); err == nil {
		t.Fatalf("expected exit error")
	}
	if h.pm.State() != models.StateOpen {
		t.Fatalf("first failure keeps the position open, got %s", h.pm.State())
	}
	_ = h.pm.ForceExit(ctx, "Manual Exit")
	if h.pm.State() != models.StateHalted {
		t.Fatalf("expected HALTED, got %s", h.pm.State())
	}
	alerts, _ := h.alerts.List(ctx)
	if len(alerts) == 0 || alerts[0].Level != models.AlertCritical || alerts[0].Code != "exit_failed" {
		t.Fatalf("expected critical alert, got %+v", alerts)
	}
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	// Operator flattened at the broker.
	h.account.positions = []models.BrokerPosition{{Symbol: testOption.Symbol, Quantity: 0}}
	if err := h.pm.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if h.pm.State() != models.StateFlat {
		t.Fatalf("expected FLAT after resume, got %s", h.pm.State())
	}
}

func TestCriticalExitReconcilesFromBroker(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	ctx := context.Background()
	h.open(t)
	h.exec.sell = func(qty int) models.OrderResult {
		return models.OrderResult{Status: models.PartiallyFilled, FilledQty: qty, AvgPrice: 104, Critical: true}
	}
	// Broker shows everything sold despite the failed verification.
	h.account.positions = nil
	if err := h.pm.ForceExit(ctx, "Manual Exit"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if h.pm.State() != models.StateFlat || len(h.journal.recs) != 1 {
		t.Fatalf("state=%s records=%d", h.pm.State(), len(h.journal.recs))
	}
	if r := h.journal.recs[0]; r.Quantity != 150 || r.ExitPrice != 104 {
		t.Fatalf("unexpected reconciled record %+v", r)
	}
}

func TestSupervisorForcedExits(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, baseLifecycle())
	h.open(t)
	h.now = time.Date(2024, 10, 10, 9, 45, 0, 0, time.UTC) // 15:15 IST
	h.pm.Check(ctx)
	if len(h.journal.recs) != 1 || h.journal.recs[0].ExitReason != ReasonEOD {
		t.Fatalf("expected EOD exit, got %+v", h.journal.recs)
	}
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrPastCutoff) {
		t.Fatalf("expected cutoff, got %v", err)
	}

	h = newHarness(t, baseLifecycle())
	h.open(t)
	h.health.up = false
	h.pm.Check(ctx)
	if _, ok := h.pm.Position(); !ok {
		t.Fatalf("disconnect shorter than the window must not exit")
	}
	h.now = h.now.Add(11 * time.Second)
	h.pm.Check(ctx)
	if len(h.journal.recs) != 1 || h.journal.recs[0].ExitReason != ReasonFailsafe {
		t.Fatalf("expected failsafe exit, got %+v", h.journal.recs)
	}

	h = newHarness(t, baseLifecycle())
	h.open(t)
	h.now = h.now.Add(2 * time.Minute)
	h.pm.Check(ctx)
	if len(h.journal.recs) != 1 || h.journal.recs[0].ExitReason != ReasonStaleFeed {
		t.Fatalf("expected stale feed exit, got %+v", h.journal.recs)
	}
}

func TestShutdownFlattens(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	ctx := context.Background()
	if err := h.pm.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown while flat: %v", err)
	}
	h.open(t)
	if err := h.pm.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if h.pm.State() != models.StateFlat || h.journal.recs[0].ExitReason != ReasonShutdown {
		t.Fatalf("expected flattened position")
	}
}

func TestTradingToggleAndRestore(t *testing.T) {
	h := newHarness(t, baseLifecycle())
	ctx := context.Background()
	h.pm.SetTradingEnabled(false)
	if err := h.pm.Enter(ctx, h.signal()); !errors.Is(err, ErrTradingDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
	h.pm.SetTradingEnabled(true)

	if err := h.pm.session.SaveDaily(ctx, models.DailyStats{Day: "2024-10-10", NetPnL: -200, Trades: 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := h.pm.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if d := h.pm.Daily(); d.Trades != 3 || d.NetPnL != -200 {
		t.Fatalf("unexpected restored stats %+v", d)
	}
}
