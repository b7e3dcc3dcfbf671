package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/internal/service/indicator"
	"OptionPilot/internal/service/ratelimit"
	"OptionPilot/internal/service/risk"
	"OptionPilot/pkg/logger"
	"OptionPilot/pkg/util"
)

var (
	ErrEntryInFlight   = errors.New("entry already in flight")
	ErrPositionOpen    = errors.New("position already open")
	ErrNoPosition      = errors.New("no open position")
	ErrCooldown        = errors.New("cooldown active")
	ErrHalted          = errors.New("engine halted")
	ErrTradingDisabled = errors.New("trading disabled")
	ErrDailyLimit      = errors.New("daily limit reached")
	ErrTradeFrequency  = errors.New("too many trades this minute")
	ErrPastCutoff      = errors.New("past end-of-day cutoff")
	ErrNoPrice         = errors.New("no price for instrument")
)

// Exit reasons written to trade records.
const (
	ReasonProfitTarget   = "Profit Target"
	ReasonBreakeven      = "Breakeven Stop"
	ReasonStopLoss       = "Stop Loss"
	ReasonTrailing       = "Trailing SL"
	ReasonFinalPartial   = "Final Partial Profit-Take"
	ReasonEOD            = "EOD Square Off"
	ReasonFailsafe       = "Failsafe: Feed Disconnected"
	ReasonStaleFeed      = "Failsafe: Stale Feed"
	ReasonShutdown       = "Shutdown Flatten"
	invalidationPrefix   = "Invalidation: "
	partialReasonPattern = "Partial Profit-Take (%d)"
)

type LifecycleConfig struct {
	ProfitTarget          float64
	BreakevenTriggerPct   float64
	PartialProfitPct      float64
	PartialExitPct        float64
	InvalidateOnPattern   bool
	InvalidateOnRedCandle bool
	Cooldown              time.Duration
	MaxTradesPerMinute    int
	DailyStopLoss         float64
	DailyProfitTarget     float64
	MaxExitAttempts       int
	FailsafeWindow        time.Duration
	StaleTickWindow       time.Duration
	SuperviseInterval     time.Duration
	ExitLogThrottle       time.Duration
	PersistTimeout        time.Duration
	TradingEnabled        bool
}

// OrderExecutor runs one order intent to completion.
type OrderExecutor interface {
	Execute(ctx context.Context, inst models.OptionRef, side models.OrderSide, qty int) models.OrderResult
}

// Account is the broker surface used for sizing and reconciliation.
type Account interface {
	Margins(ctx context.Context) (models.Margins, error)
	Positions(ctx context.Context) ([]models.BrokerPosition, error)
}

// ExitView is the market data exit evaluation reads.
type ExitView interface {
	LastPrice(id string) (float64, bool)
	Candles(n int) []models.Candle
	LiveCandle(id string) (models.Candle, bool)
	Trend() models.TrendState
}

// FeedHealth reports market-data connectivity.
type FeedHealth interface {
	IsConnected() bool
}

// PositionDeps groups the collaborators of a PositionManager.
type PositionDeps struct {
	Executor OrderExecutor
	Account  Account
	Sizer    *risk.Sizer
	Charges  *risk.ChargeCalculator
	Journal  drepo.TradeLogger
	Alerts   drepo.AlertStore
	Session  drepo.SessionStore
	Notifier drepo.Notifier
	View     ExitView
	Health   FeedHealth
	Clock    *util.SessionClock
	Metrics  drepo.Metrics
	Log      *logger.Logger
}

// ExitDecision is the outcome of one exit evaluation.
type ExitDecision struct {
	Exit     bool
	Partial  bool
	Quantity int
	Reason   string
}

// PositionManager owns the single position and its state machine. txMu
// serializes transitions (entries use TryLock); stateMu guards the fields
// readers look at.
type PositionManager struct {
	cfg      LifecycleConfig
	exec     OrderExecutor
	account  Account
	sizer    *risk.Sizer
	charges  *risk.ChargeCalculator
	journal  drepo.TradeLogger
	alerts   drepo.AlertStore
	session  drepo.SessionStore
	notifier drepo.Notifier
	view     ExitView
	health   FeedHealth
	clock    *util.SessionClock
	metrics  drepo.Metrics
	log      *logger.Logger
	throttle *ratelimit.Limiter
	now      func() time.Time

	txMu sync.Mutex

	stateMu       sync.RWMutex
	state         models.PositionState
	pos           *models.Position
	daily         models.DailyStats
	enabled       bool
	cooldownUntil time.Time
	minute        time.Time
	minuteTrades  int
	exitAttempts  int
	lastTick      time.Time
	downSince     time.Time
}

func NewPositionManager(cfg LifecycleConfig, d PositionDeps) *PositionManager {
	if cfg.MaxExitAttempts <= 0 {
		cfg.MaxExitAttempts = 3
	}
	if cfg.SuperviseInterval <= 0 {
		cfg.SuperviseInterval = time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &PositionManager{
		cfg:      cfg,
		exec:     d.Executor,
		account:  d.Account,
		sizer:    d.Sizer,
		charges:  d.Charges,
		journal:  d.Journal,
		alerts:   d.Alerts,
		session:  d.Session,
		notifier: d.Notifier,
		view:     d.View,
		health:   d.Health,
		clock:    d.Clock,
		metrics:  d.Metrics,
		log:      d.Log,
		throttle: ratelimit.New(),
		now:      time.Now,
		state:    models.StateFlat,
		enabled:  cfg.TradingEnabled,
	}
}

// Restore loads today's stats and any pending cooldown.
func (m *PositionManager) Restore(ctx context.Context) error {
	now := m.now()
	day := m.clock.Day(now)
	stats, ok, err := m.session.LoadDaily(ctx, day)
	if err != nil {
		return fmt.Errorf("load daily stats: %w", err)
	}
	if !ok {
		stats = models.DailyStats{Day: day}
	}
	until, cooling, err := m.session.Cooldown(ctx)
	if err != nil {
		return fmt.Errorf("load cooldown: %w", err)
	}

	m.stateMu.Lock()
	m.daily = stats
	if cooling {
		m.cooldownUntil = until
	}
	m.stateMu.Unlock()
	m.metrics.SetDailyPnL(stats.NetPnL)
	m.metrics.SetPositionState(string(models.StateFlat))
	m.log.Info("session restored",
		logger.String("day", day),
		logger.Float64("net_pnl", stats.NetPnL),
		logger.Int("trades", stats.Trades),
		logger.Bool("limit_hit", stats.LimitHit))
	return nil
}

// Enter opens a position for sig. A concurrent entry fails fast with
// ErrEntryInFlight.
func (m *PositionManager) Enter(ctx context.Context, sig models.Signal) error {
	if !m.txMu.TryLock() {
		return ErrEntryInFlight
	}
	defer m.txMu.Unlock()

	now := m.now()
	m.rollDay(now)
	if err := m.entryGate(now); err != nil {
		return err
	}
	inst := sig.Instrument
	price, ok := m.view.LastPrice(inst.ID)
	if !ok || price <= 0 {
		return fmt.Errorf("%w: %s", ErrNoPrice, inst.Symbol)
	}

	var available float64
	if mg, err := m.account.Margins(ctx); err != nil {
		m.log.Warn("margins unavailable, sizing on configured capital", logger.Error(err))
	} else {
		available = mg.AvailableCash
	}
	sz, err := m.sizer.SizeTrade(price, inst.LotSize, available)
	if err != nil {
		m.log.Info("entry rejected",
			logger.String("symbol", inst.Symbol),
			logger.Float64("price", price),
			logger.Error(err))
		return err
	}

	m.setState(models.StateEntering)
	m.log.Info("entering",
		logger.String("symbol", inst.Symbol),
		logger.String("strategy", sig.Strategy),
		logger.String("reason", sig.Reason),
		logger.Int("qty", sz.Quantity),
		logger.Float64("ltp", price))

	start := time.Now()
	res := m.exec.Execute(ctx, inst, models.Buy, sz.Quantity)
	m.metrics.RecordLatency("entry_execute", time.Since(start).Seconds())
	m.metrics.RecordOrder("entry", strings.ToLower(string(res.Status)))

	if res.Status != models.Filled {
		if res.Critical {
			m.setState(models.StateHalted)
			m.raise(ctx, models.AlertCritical, "entry_unverified",
				fmt.Sprintf("entry into %s could not be verified or reversed: %s", inst.Symbol, res.Reason), nil)
		} else {
			m.setState(models.StateFlat)
		}
		return fmt.Errorf("entry %s: %s", strings.ToLower(string(res.Status)), res.Reason)
	}

	stop := m.sizer.InitialStop(res.AvgPrice)
	pos := models.Position{
		Instrument:    inst,
		Direction:     sig.Side,
		EntryPrice:    res.AvgPrice,
		Quantity:      res.FilledQty,
		LotSize:       inst.LotSize,
		InitialStop:   stop,
		TrailingStop:  stop,
		RunningHigh:   res.AvgPrice,
		EntryTime:     now,
		TriggerReason: sig.Reason,
	}

	m.stateMu.Lock()
	m.pos = &pos
	m.state = models.StateOpen
	m.exitAttempts = 0
	m.lastTick = now
	if minute := now.Truncate(time.Minute); !minute.Equal(m.minute) {
		m.minute, m.minuteTrades = minute, 0
	}
	m.minuteTrades++
	m.stateMu.Unlock()

	m.metrics.SetPositionState(string(models.StateOpen))
	m.log.Info("position opened",
		logger.String("symbol", inst.Symbol),
		logger.Int("qty", pos.Quantity),
		logger.Float64("entry", pos.EntryPrice),
		logger.Float64("stop", stop))
	m.notifier.PublishEvent(models.Event{
		Type:    models.EventTradeOpened,
		Message: fmt.Sprintf("Bought %d %s @ %.2f (%s)", pos.Quantity, inst.Symbol, pos.EntryPrice, sig.Reason),
		Payload: pos,
		At:      now,
	})
	return nil
}

// CanEnter reports why an entry would be refused right now, or nil.
func (m *PositionManager) CanEnter() error {
	now := m.now()
	m.rollDay(now)
	return m.entryGate(now)
}

func (m *PositionManager) entryGate(now time.Time) error {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	switch {
	case m.state == models.StateHalted:
		return ErrHalted
	case m.state != models.StateFlat || m.pos != nil:
		return ErrPositionOpen
	case !m.enabled:
		return ErrTradingDisabled
	case m.daily.LimitHit:
		return ErrDailyLimit
	case now.Before(m.cooldownUntil):
		return ErrCooldown
	case m.clock.PastCutoff(now):
		return ErrPastCutoff
	case m.cfg.MaxTradesPerMinute > 0 && now.Truncate(time.Minute).Equal(m.minute) && m.minuteTrades >= m.cfg.MaxTradesPerMinute:
		return ErrTradeFrequency
	}
	return nil
}

// OnPriceTick evaluates exits for a tick of the held option. It is a no-op
// for other instruments or while another transition holds the lock.
func (m *PositionManager) OnPriceTick(ctx context.Context, id string, ltp float64) {
	now := m.now()
	m.stateMu.Lock()
	if m.pos != nil && m.pos.Instrument.ID == id {
		m.lastTick = now
	}
	m.stateMu.Unlock()

	if !m.txMu.TryLock() {
		return
	}
	defer m.txMu.Unlock()

	m.stateMu.RLock()
	held := m.state == models.StateOpen && m.pos != nil && m.pos.Instrument.ID == id
	var pos models.Position
	if held {
		pos = *m.pos
	}
	m.stateMu.RUnlock()
	if !held {
		return
	}

	if pos.PendingExit != "" {
		m.log.Warn("retrying incomplete exit",
			logger.String("symbol", pos.Instrument.Symbol),
			logger.String("reason", pos.PendingExit),
			logger.Int("qty", pos.Quantity),
			logger.Float64("ltp", ltp))
		m.close(ctx, ExitDecision{Exit: true, Quantity: pos.Quantity, Reason: pos.PendingExit})
		return
	}

	next, d := m.Evaluate(pos, ltp, now)
	m.stateMu.Lock()
	if m.pos != nil {
		*m.pos = next
	}
	m.stateMu.Unlock()

	if !d.Exit {
		if m.cfg.ExitLogThrottle > 0 && m.throttle.Allow("exit/hold", 1, 1/m.cfg.ExitLogThrottle.Seconds()) {
			m.log.Debug("holding",
				logger.String("symbol", pos.Instrument.Symbol),
				logger.Float64("ltp", ltp),
				logger.Float64("stop", next.TrailingStop),
				logger.Float64("high", next.RunningHigh),
				logger.Float64("unrealized", next.Unrealized(ltp)))
		}
		return
	}
	m.log.Info("exit triggered",
		logger.String("symbol", pos.Instrument.Symbol),
		logger.String("reason", d.Reason),
		logger.Int("qty", d.Quantity),
		logger.Float64("ltp", ltp))
	m.close(ctx, d)
}

// Evaluate applies the exit rules in priority order: profit target,
// breakeven, invalidation, partial levels, trailing stop. It returns the
// position with updated stops and the decision.
func (m *PositionManager) Evaluate(p models.Position, ltp float64, now time.Time) (models.Position, ExitDecision) {
	full := func(reason string) ExitDecision {
		return ExitDecision{Exit: true, Quantity: p.Quantity, Reason: reason}
	}

	if m.cfg.ProfitTarget > 0 && p.Unrealized(ltp) >= m.cfg.ProfitTarget {
		return p, full(ReasonProfitTarget)
	}

	pct := p.ProfitPct(ltp)
	if !p.BreakevenActive && m.cfg.BreakevenTriggerPct > 0 && pct >= m.cfg.BreakevenTriggerPct {
		p.BreakevenActive = true
		p.TrailingStop = math.Max(p.TrailingStop, p.EntryPrice)
	}
	if p.BreakevenActive && ltp <= p.EntryPrice {
		return p, full(ReasonBreakeven)
	}

	if reason := m.invalidated(p, now); reason != "" {
		return p, full(reason)
	}

	if d, ok := m.partial(p, pct); ok {
		return p, d
	}

	p.TrailingStop, p.RunningHigh = m.sizer.UpdateTrailing(p, ltp)
	if ltp <= p.TrailingStop {
		if p.TrailingStop <= p.InitialStop {
			return p, full(ReasonStopLoss)
		}
		return p, full(ReasonTrailing)
	}
	return p, ExitDecision{}
}

func (m *PositionManager) invalidated(p models.Position, now time.Time) string {
	entryMinute := p.EntryTime.Truncate(time.Minute)
	if m.cfg.InvalidateOnPattern {
		if cs := m.view.Candles(2); len(cs) == 2 && !cs[1].OpenTime.Before(entryMinute) {
			if name := indicator.ReversalAgainst(p.Direction, cs[0], cs[1]); name != "" {
				return invalidationPrefix + name
			}
		}
	}
	if m.cfg.InvalidateOnRedCandle && now.Truncate(time.Minute).After(entryMinute) {
		if c, ok := m.view.LiveCandle(p.Instrument.ID); ok && c.OpenTime.After(entryMinute) && c.IsBearish() {
			return invalidationPrefix + "Red Candle"
		}
	}
	return ""
}

func (m *PositionManager) partial(p models.Position, pct float64) (ExitDecision, bool) {
	if m.cfg.PartialProfitPct <= 0 || m.cfg.PartialExitPct <= 0 {
		return ExitDecision{}, false
	}
	level := p.PartialLevel + 1
	if pct < m.cfg.PartialProfitPct*float64(level) {
		return ExitDecision{}, false
	}
	lot := max(p.LotSize, 1)
	qty := int(math.Ceil(float64(p.Quantity) * m.cfg.PartialExitPct / 100))
	qty = int(math.Ceil(float64(qty)/float64(lot))) * lot
	if p.Quantity-qty < lot {
		return ExitDecision{Exit: true, Quantity: p.Quantity, Reason: ReasonFinalPartial}, true
	}
	return ExitDecision{
		Exit:     true,
		Partial:  true,
		Quantity: qty,
		Reason:   fmt.Sprintf(partialReasonPattern, level),
	}, true
}

// close sells d.Quantity and settles the result. Caller holds txMu.
func (m *PositionManager) close(ctx context.Context, d ExitDecision) {
	m.stateMu.Lock()
	if m.pos == nil {
		m.stateMu.Unlock()
		return
	}
	pos := *m.pos
	if d.Partial {
		m.state = models.StatePartialExiting
	} else {
		m.state = models.StateClosing
	}
	state := m.state
	m.stateMu.Unlock()
	m.metrics.SetPositionState(string(state))

	qty := min(d.Quantity, pos.Quantity)
	start := time.Now()
	res := m.exec.Execute(ctx, pos.Instrument, models.Sell, qty)
	m.metrics.RecordLatency("exit_execute", time.Since(start).Seconds())
	m.metrics.RecordOrder("exit", strings.ToLower(string(res.Status)))

	if res.FilledQty <= 0 || res.Critical {
		m.exitFailed(ctx, pos, d, res)
		return
	}
	if short := m.settle(ctx, pos, d, res.FilledQty, res.AvgPrice); short {
		m.log.Warn("close filled short",
			logger.String("symbol", pos.Instrument.Symbol),
			logger.String("reason", d.Reason),
			logger.Int("filled", res.FilledQty),
			logger.Int("requested", qty),
			logger.String("detail", res.Reason))
		m.exitIncomplete(ctx, pos, d)
	}
}

// settle books filled units of pos as a trade and updates the state. It
// reports whether a full close left units held.
func (m *PositionManager) settle(ctx context.Context, pos models.Position, d ExitDecision, filled int, price float64) bool {
	now := m.now()
	gross, charges, net := m.charges.PnL(pos.EntryPrice, price, filled)
	remaining := pos.Quantity - filled
	rec := models.TradeRecord{
		TradeID:       uuid.NewString(),
		Instrument:    pos.Instrument.Symbol,
		Direction:     pos.Direction,
		TriggerReason: pos.TriggerReason,
		EntryTime:     pos.EntryTime,
		ExitTime:      now,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     price,
		Quantity:      filled,
		GrossPnL:      gross,
		Charges:       charges,
		NetPnL:        net,
		ExitReason:    d.Reason,
		TrendAtExit:   m.view.Trend(),
		Partial:       remaining > 0,
	}
	m.persist(ctx, rec)

	m.stateMu.Lock()
	m.daily.Trades++
	m.daily.NetPnL += net
	m.daily.Charges += charges
	if net > 0 {
		m.daily.Wins++
		m.daily.GrossProfit += net
	} else {
		m.daily.Losses++
		m.daily.GrossLoss += -net
	}
	limitHit := !m.daily.LimitHit && risk.IsDailyLimitHit(m.daily.NetPnL, m.cfg.DailyStopLoss, m.cfg.DailyProfitTarget)
	if limitHit {
		m.daily.LimitHit = true
	}
	daily := m.daily
	short := !d.Partial && remaining > 0
	if !short {
		m.exitAttempts = 0
	}
	if remaining > 0 && m.pos != nil {
		m.pos.Quantity = remaining
		m.pos.RealizedPartialQty += filled
		if d.Partial {
			m.pos.PartialLevel++
		}
		m.state = models.StateOpen
	} else {
		m.pos = nil
		m.state = models.StateFlat
		m.cooldownUntil = now.Add(m.cfg.Cooldown)
	}
	state, until := m.state, m.cooldownUntil
	m.stateMu.Unlock()

	m.metrics.RecordTrade(d.Reason, net)
	m.metrics.SetDailyPnL(daily.NetPnL)
	m.metrics.SetPositionState(string(state))

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
	defer cancel()
	if err := m.session.SaveDaily(pctx, daily); err != nil {
		m.log.Warn("save daily stats failed", logger.Error(err))
	}

	ev := models.Event{Type: models.EventPartialExit, Payload: rec, At: now}
	if state == models.StateFlat {
		ev.Type = models.EventTradeClosed
		if err := m.session.SetCooldown(pctx, until); err != nil {
			m.log.Warn("save cooldown failed", logger.Error(err))
		}
	}
	ev.Message = fmt.Sprintf("Sold %d %s @ %.2f (%s) net %.2f", filled, rec.Instrument, price, d.Reason, net)
	m.log.Info("position reduced",
		logger.String("symbol", rec.Instrument),
		logger.String("reason", d.Reason),
		logger.Int("qty", filled),
		logger.Int("remaining", remaining),
		logger.Float64("exit", price),
		logger.Float64("net", net),
		logger.Float64("day_net", daily.NetPnL))
	m.notifier.PublishEvent(ev)

	if limitHit {
		m.log.Warn("daily limit reached, entries paused", logger.Float64("day_net", daily.NetPnL))
		m.notifier.PublishEvent(models.Event{
			Type:    models.EventWarning,
			Message: fmt.Sprintf("Daily limit reached at %.2f, trading paused", daily.NetPnL),
			At:      now,
		})
	}
	return short
}

func (m *PositionManager) persist(ctx context.Context, rec models.TradeRecord) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
	defer cancel()
	if err := m.journal.Append(pctx, rec); err != nil {
		m.metrics.RecordError("journal")
		m.log.Error("trade journal append failed",
			logger.String("trade_id", rec.TradeID),
			logger.Error(err))
		m.raise(ctx, models.AlertWarning, "journal_write_failed",
			fmt.Sprintf("trade %s was not fully persisted: %v", rec.TradeID, err), &rec)
	}
}

// exitFailed handles an exit that filled nothing or could not be verified.
// Broker positions are the source of truth for what is still held.
func (m *PositionManager) exitFailed(ctx context.Context, pos models.Position, d ExitDecision, res models.OrderResult) {
	m.metrics.RecordError("exit_failed")
	m.log.Error("exit not confirmed",
		logger.String("symbol", pos.Instrument.Symbol),
		logger.String("reason", d.Reason),
		logger.String("status", string(res.Status)),
		logger.String("detail", res.Reason),
		logger.Bool("critical", res.Critical))

	if res.Critical {
		if held, ok := m.brokerQty(ctx, pos.Instrument.Symbol); ok && held < pos.Quantity {
			price := res.AvgPrice
			if price <= 0 {
				price, _ = m.view.LastPrice(pos.Instrument.ID)
			}
			m.raise(ctx, models.AlertCritical, "exit_reconciled",
				fmt.Sprintf("exit of %s unverified; broker shows %d held, booked %d @ %.2f", pos.Instrument.Symbol, held, pos.Quantity-held, price), nil)
			m.settle(ctx, pos, ExitDecision{Exit: true, Partial: d.Partial, Quantity: pos.Quantity - held, Reason: d.Reason + " (reconciled)"}, pos.Quantity-held, price)
			if held == 0 {
				return
			}
		}
	}

	m.exitIncomplete(ctx, pos, d)
}

// exitIncomplete counts an exit attempt that left units held. A full close
// stays pending on the position and is retried on the next tick of the held
// option. The engine halts after MaxExitAttempts.
func (m *PositionManager) exitIncomplete(ctx context.Context, pos models.Position, d ExitDecision) {
	m.stateMu.Lock()
	m.exitAttempts++
	attempts := m.exitAttempts
	halt := attempts >= m.cfg.MaxExitAttempts
	if m.pos != nil && !d.Partial {
		m.pos.PendingExit = d.Reason
	}
	if halt {
		m.state = models.StateHalted
	} else if m.pos != nil {
		m.state = models.StateOpen
	}
	state := m.state
	m.stateMu.Unlock()
	m.metrics.SetPositionState(string(state))

	if halt {
		m.raise(ctx, models.AlertCritical, "exit_failed",
			fmt.Sprintf("exit of %s not confirmed after %d attempts; engine halted with exposure", pos.Instrument.Symbol, attempts), nil)
	}
}

func (m *PositionManager) brokerQty(ctx context.Context, symbol string) (int, bool) {
	positions, err := m.account.Positions(ctx)
	if err != nil {
		m.log.Warn("broker positions unavailable", logger.Error(err))
		return 0, false
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			return max(p.Quantity, 0), true
		}
	}
	return 0, true
}

func (m *PositionManager) raise(ctx context.Context, level models.AlertLevel, code, msg string, rec *models.TradeRecord) {
	a := models.Alert{Level: level, Code: code, Message: msg, Record: rec, CreatedAt: m.now()}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
	defer cancel()
	if err := m.alerts.Raise(actx, a); err != nil {
		m.log.Error("raise alert failed", logger.String("code", code), logger.Error(err))
	}
	if level == models.AlertCritical {
		m.log.Error("critical alert", logger.String("code", code), logger.String("message", msg))
	}
	m.notifier.PublishEvent(models.Event{Type: models.EventAlert, Message: msg, Payload: a, At: a.CreatedAt})
}

// ForceExit closes the whole position with reason. It waits for any
// in-flight transition to finish.
func (m *PositionManager) ForceExit(ctx context.Context, reason string) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.stateMu.RLock()
	var qty int
	if m.pos != nil && (m.state == models.StateOpen || m.state == models.StateHalted) {
		qty = m.pos.Quantity
	}
	m.stateMu.RUnlock()
	if qty == 0 {
		return ErrNoPosition
	}
	m.log.Warn("forced exit", logger.String("reason", reason), logger.Int("qty", qty))
	m.close(ctx, ExitDecision{Exit: true, Quantity: qty, Reason: reason})

	m.stateMu.RLock()
	open := m.pos != nil
	m.stateMu.RUnlock()
	if open {
		return fmt.Errorf("%s: position still open", reason)
	}
	return nil
}

// Supervise runs the end-of-day and failsafe checks until ctx is done.
func (m *PositionManager) Supervise(ctx context.Context) {
	t := time.NewTicker(m.cfg.SuperviseInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}

// Check applies the forced-exit rules once.
func (m *PositionManager) Check(ctx context.Context) {
	now := m.now()
	m.rollDay(now)
	reason := m.forcedReason(now)
	if reason == "" {
		return
	}
	if err := m.ForceExit(ctx, reason); err != nil && !errors.Is(err, ErrNoPosition) {
		m.log.Warn("forced exit incomplete", logger.String("reason", reason), logger.Error(err))
	}
}

func (m *PositionManager) forcedReason(now time.Time) string {
	connected := m.health == nil || m.health.IsConnected()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if connected {
		m.downSince = time.Time{}
	} else if m.downSince.IsZero() {
		m.downSince = now
	}
	if m.pos == nil || m.state != models.StateOpen {
		return ""
	}
	switch {
	case m.clock.PastCutoff(now):
		return ReasonEOD
	case !m.downSince.IsZero() && now.Sub(m.downSince) >= m.cfg.FailsafeWindow:
		return ReasonFailsafe
	case m.cfg.StaleTickWindow > 0 && !m.lastTick.IsZero() && now.Sub(m.lastTick) >= m.cfg.StaleTickWindow:
		return ReasonStaleFeed
	}
	return ""
}

func (m *PositionManager) rollDay(now time.Time) {
	day := m.clock.Day(now)
	m.stateMu.Lock()
	if m.daily.Day == day {
		m.stateMu.Unlock()
		return
	}
	prev := m.daily.Day
	m.daily = models.DailyStats{Day: day}
	m.minuteTrades = 0
	m.stateMu.Unlock()
	if prev != "" {
		m.log.Info("new trading day", logger.String("day", day))
	}
	m.metrics.SetDailyPnL(0)
}

// Shutdown flattens any open position within ctx.
func (m *PositionManager) Shutdown(ctx context.Context) error {
	err := m.ForceExit(ctx, ReasonShutdown)
	if errors.Is(err, ErrNoPosition) {
		return nil
	}
	return err
}

// Resume clears a halt after the operator intervened. The held quantity
// is re-read from the broker.
func (m *PositionManager) Resume(ctx context.Context) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.stateMu.RLock()
	halted := m.state == models.StateHalted
	var pos models.Position
	hasPos := m.pos != nil
	if hasPos {
		pos = *m.pos
	}
	m.stateMu.RUnlock()
	if !halted {
		return nil
	}

	held := 0
	if hasPos {
		q, ok := m.brokerQty(ctx, pos.Instrument.Symbol)
		if !ok {
			return fmt.Errorf("resume: broker positions unavailable")
		}
		held = q
	}

	m.stateMu.Lock()
	m.exitAttempts = 0
	if held > 0 {
		m.pos.Quantity = held
		m.state = models.StateOpen
	} else {
		m.pos = nil
		m.state = models.StateFlat
	}
	state := m.state
	m.stateMu.Unlock()
	m.metrics.SetPositionState(string(state))
	m.log.Warn("halt cleared", logger.String("state", string(state)), logger.Int("held", held))
	return nil
}

func (m *PositionManager) setState(s models.PositionState) {
	m.stateMu.Lock()
	m.state = s
	m.stateMu.Unlock()
	m.metrics.SetPositionState(string(s))
}

func (m *PositionManager) SetTradingEnabled(v bool) {
	m.stateMu.Lock()
	m.enabled = v
	m.stateMu.Unlock()
	m.log.Info("trading toggled", logger.Bool("enabled", v))
}

func (m *PositionManager) TradingEnabled() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.enabled
}

func (m *PositionManager) State() models.PositionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Position returns a copy of the open position, if any.
func (m *PositionManager) Position() (models.Position, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.pos == nil {
		return models.Position{}, false
	}
	return *m.pos, true
}

func (m *PositionManager) Daily() models.DailyStats {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.daily
}

// HeldInstrument is the ID of the option held, or "".
func (m *PositionManager) HeldInstrument() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.pos == nil {
		return ""
	}
	return m.pos.Instrument.ID
}
