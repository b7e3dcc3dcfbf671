package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/internal/middleware"
	"OptionPilot/internal/service/indicator"
	"OptionPilot/internal/service/signal"
	"OptionPilot/pkg/logger"
	"OptionPilot/pkg/util"
)

type RouterConfig struct {
	QueueSize         int
	MaxRPS            int
	BootstrapAttempts int
	BootstrapLookback time.Duration
	BootstrapDelay    time.Duration
	ReconnectPause    time.Duration
}

// RouterDeps groups the components a TickRouter drives.
type RouterDeps struct {
	Feed     drepo.MarketDataFeed
	History  drepo.HistoryProvider
	Engine   *indicator.Engine
	State    *MarketState
	Chain    *OptionChain
	Signals  *signal.Coordinator
	BandFlip *signal.TrendBandFlip
	Position *PositionManager
	Notifier drepo.Notifier
	Metrics  drepo.Metrics
	Log      *logger.Logger
}

// TickRouter is the engine's single orchestrator. All tick-driven state
// changes happen on its loop goroutine; sources only enqueue.
type TickRouter struct {
	cfg      RouterConfig
	feed     drepo.MarketDataFeed
	history  drepo.HistoryProvider
	engine   *indicator.Engine
	state    *MarketState
	chain    *OptionChain
	signals  *signal.Coordinator
	flip     *signal.TrendBandFlip
	pm       *PositionManager
	notifier drepo.Notifier
	metrics  drepo.Metrics
	log      *logger.Logger
	pipeline *middleware.TickPipeline

	queue chan models.Tick

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewTickRouter(cfg RouterConfig, d RouterDeps) *TickRouter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BootstrapAttempts <= 0 {
		cfg.BootstrapAttempts = 3
	}
	if cfg.BootstrapDelay <= 0 {
		cfg.BootstrapDelay = time.Second
	}
	if cfg.ReconnectPause <= 0 {
		cfg.ReconnectPause = 30 * time.Second
	}
	r := &TickRouter{
		cfg:      cfg,
		feed:     d.Feed,
		history:  d.History,
		engine:   d.Engine,
		state:    d.State,
		chain:    d.Chain,
		signals:  d.Signals,
		flip:     d.BandFlip,
		pm:       d.Position,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Log,
		queue:    make(chan models.Tick, cfg.QueueSize),
	}
	r.pipeline = middleware.NewTickPipeline(r, d.Metrics, middleware.WithMaxRPS(cfg.MaxRPS))
	r.engine.OnTrendChange(r.onTrend)
	return r
}

// Enqueue hands a tick to the loop without blocking.
func (r *TickRouter) Enqueue(t models.Tick) bool {
	select {
	case r.queue <- t:
		return true
	default:
		r.metrics.RecordTickDropped("router_queue_full")
		return false
	}
}

// Ingest runs a tick from any source through the pipeline.
func (r *TickRouter) Ingest(t models.Tick) error {
	return r.pipeline.Process(t)
}

// Start loads the option chain, seeds indicators from history, connects
// the feed and starts the loop and the position supervisor.
func (r *TickRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	if err := r.chain.Load(ctx); err != nil {
		return fmt.Errorf("load option chain: %w", err)
	}
	r.log.Info("option chain loaded",
		logger.String("underlying", r.chain.Underlying()),
		logger.String("expiry", r.chain.Expiry().Format(time.DateOnly)))
	r.bootstrap(ctx)

	if r.feed != nil {
		if err := r.feed.Connect(ctx); err != nil {
			return fmt.Errorf("connect feed: %w", err)
		}
		if err := r.feed.Subscribe(ctx, []string{r.engine.IndexID()}); err != nil {
			return fmt.Errorf("subscribe index: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.running = true

	r.wg.Add(2)
	go r.loop(runCtx)
	go func() {
		defer r.wg.Done()
		r.pm.Supervise(runCtx)
	}()
	if r.feed != nil {
		r.wg.Add(1)
		go r.runFeed(runCtx)
	}
	r.log.Info("tick router started", logger.String("index", r.engine.IndexID()))
	return nil
}

// Stop ends the loop, the supervisor and the feed.
func (r *TickRouter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	if r.feed != nil {
		if err := r.feed.Close(); err != nil {
			r.log.Warn("close feed", logger.Error(err))
		}
	}
	r.log.Info("tick router stopped")
}

func (r *TickRouter) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-r.queue:
			r.handle(ctx, t)
		}
	}
}

func (r *TickRouter) handle(ctx context.Context, t models.Tick) {
	start := time.Now()
	r.state.Record(t)

	index := r.engine.IndexID()
	closed, boundary := r.engine.OnTick(t.InstrumentID, t.Price, t.Timestamp)
	if t.InstrumentID == index {
		if boundary {
			snap := r.engine.OnMinuteClose(closed)
			r.log.Debug("minute closed",
				logger.Float64("close", snap.Close),
				logger.String("trend", string(r.engine.Trend())),
				logger.Bool("atr_ok", snap.ATR.OK))
		}
		r.shiftWindow(ctx, t.Price)
	}

	switch r.pm.State() {
	case models.StateFlat:
		if r.pm.CanEnter() != nil {
			break
		}
		if sig, ok := r.signals.Evaluate(r.state); ok {
			if err := r.pm.Enter(ctx, sig); err != nil {
				r.log.Info("entry not taken",
					logger.String("strategy", sig.Strategy),
					logger.String("symbol", sig.Instrument.Symbol),
					logger.Error(err))
			}
		}
	case models.StateOpen:
		if t.InstrumentID == r.pm.HeldInstrument() {
			r.pm.OnPriceTick(ctx, t.InstrumentID, t.Price)
		}
	}
	r.metrics.RecordLatency("tick_handle", time.Since(start).Seconds())
}

// shiftWindow re-subscribes the option window when the ATM strike moves.
// The held contract always stays subscribed.
func (r *TickRouter) shiftWindow(ctx context.Context, spot float64) {
	ids, changed := r.chain.Shift(spot)
	if !changed || r.feed == nil {
		return
	}
	all := append([]string{r.engine.IndexID()}, ids...)
	if held := r.pm.HeldInstrument(); held != "" && !contains(all, held) {
		all = append(all, held)
	}
	if err := r.feed.Resubscribe(ctx, all); err != nil {
		r.metrics.RecordError("feed_resubscribe")
		r.log.Warn("resubscribe failed", logger.Error(err))
		return
	}
	r.log.Info("option window updated",
		logger.Float64("atm", r.chain.ATMStrike(spot)),
		logger.Int("instruments", len(all)))
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (r *TickRouter) onTrend(ev models.TrendEvent) {
	if r.flip != nil {
		r.flip.Arm(ev)
	}
	r.log.Info("trend changed",
		logger.String("from", string(ev.From)),
		logger.String("to", string(ev.To)),
		logger.Float64("close", ev.Close))
	r.notifier.PublishEvent(models.Event{
		Type:    models.EventTrend,
		Message: fmt.Sprintf("Trend %s -> %s at %.2f", ev.From, ev.To, ev.Close),
		Payload: ev,
		At:      ev.At,
	})
}

func (r *TickRouter) bootstrap(ctx context.Context) {
	if r.history == nil || r.cfg.BootstrapLookback <= 0 {
		return
	}
	now := time.Now()
	from, to := util.MinuteRange(now.Add(-r.cfg.BootstrapLookback), now)
	for attempt := 1; attempt <= r.cfg.BootstrapAttempts; attempt++ {
		candles, err := r.history.MinuteCandles(ctx, r.engine.IndexID(), from, to)
		if err == nil && len(candles) > 0 {
			// The current minute is still forming.
			if n := len(candles); !candles[n-1].OpenTime.Before(to) {
				candles = candles[:n-1]
			}
			r.engine.Bootstrap(candles)
			r.log.Info("indicators bootstrapped",
				logger.Int("candles", len(candles)),
				logger.String("trend", string(r.engine.Trend())))
			return
		}
		if err == nil {
			err = errors.New("empty history")
		}
		r.log.Warn("history bootstrap failed",
			logger.Int("attempt", attempt),
			logger.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.BootstrapDelay * time.Duration(attempt)):
		}
	}
	r.log.Warn("starting without history; indicators warm up from live ticks")
}

func (r *TickRouter) runFeed(ctx context.Context) {
	defer r.wg.Done()
	for {
		ticks, errs := r.feed.Read(ctx)
		err := r.drain(ctx, ticks, errs)
		if ctx.Err() != nil {
			return
		}
		r.log.Warn("feed interrupted", logger.Error(err))
		r.notifier.PublishEvent(models.Event{Type: models.EventWarning, Message: "Market feed disconnected, reconnecting", At: time.Now()})

		if err := r.feed.Reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.metrics.RecordError("feed_reconnect")
			r.log.Error("feed reconnect attempts exhausted", logger.Error(err))
			r.notifier.PublishEvent(models.Event{Type: models.EventWarning, Message: "Market feed reconnect failed", At: time.Now()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.ReconnectPause):
			}
			continue
		}
		r.log.Info("feed reconnected")
	}
}

func (r *TickRouter) drain(ctx context.Context, ticks <-chan models.Tick, errs <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						return err
					}
				default:
				}
				return errors.New("tick stream closed")
			}
			if err := r.Ingest(t); err != nil {
				r.log.Debug("tick rejected", logger.String("instrument", t.InstrumentID), logger.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return err
		}
	}
}
