package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/domain/repository"
	"OptionPilot/pkg/logger"
	"OptionPilot/pkg/metrics"
)

// ErrFillMismatch means the broker's net position did not move by the
// quantity the executor believes it filled.
var ErrFillMismatch = errors.New("fill mismatch")

type Config struct {
	FreezeLimit        int
	ChaseRetries       int
	BaseTimeout        time.Duration
	MinTimeout         time.Duration
	MaxTimeout         time.Duration
	StatusPollInterval time.Duration
	QuoteRetries       int
	QuoteRetryDelay    time.Duration
	MarketPolls        int
	MarketPollInterval time.Duration
	SliceGap           time.Duration
	VerifyDelay        time.Duration
	TickSize           float64
	StrikeStep         float64
}

func DefaultConfig() Config {
	return Config{
		FreezeLimit:        900,
		ChaseRetries:       3,
		BaseTimeout:        100 * time.Millisecond,
		MinTimeout:         80 * time.Millisecond,
		MaxTimeout:         300 * time.Millisecond,
		StatusPollInterval: 50 * time.Millisecond,
		QuoteRetries:       2,
		QuoteRetryDelay:    50 * time.Millisecond,
		MarketPolls:        10,
		MarketPollInterval: 200 * time.Millisecond,
		SliceGap:           100 * time.Millisecond,
		VerifyDelay:        time.Second,
		TickSize:           0.05,
		StrikeStep:         50,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Executor)

// WithSpotFunc supplies the underlying price used to scale chase timeouts
// by strike distance.
func WithSpotFunc(fn func() float64) Option {
	return func(e *Executor) { e.spot = fn }
}

func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithMetrics(m repository.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// Executor places orders with a limit-chase then market-fallback algorithm
// and reconciles the result against broker positions.
type Executor struct {
	broker  repository.BrokerClient
	cfg     Config
	log     *logger.Logger
	metrics repository.Metrics
	spot    func() float64
	sleep   SleepFunc
}

func NewExecutor(broker repository.BrokerClient, cfg Config, log *logger.Logger, opts ...Option) *Executor {
	if cfg.FreezeLimit <= 0 {
		cfg.FreezeLimit = 900
	}
	if cfg.TickSize <= 0 {
		cfg.TickSize = 0.05
	}
	e := &Executor{
		broker:  broker,
		cfg:     cfg,
		log:     log,
		metrics: metrics.Nop{},
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute buys or sells qty of inst. Entries (buys) that end short or
// unverified are reversed; exits never buy back.
func (e *Executor) Execute(ctx context.Context, inst models.OptionRef, side models.OrderSide, qty int) models.OrderResult {
	start := time.Now()
	res := e.run(ctx, inst, side, qty, e.cfg.ChaseRetries, side == models.Buy)
	e.metrics.RecordLatency("execute", time.Since(start).Seconds())
	e.metrics.RecordOrder(strings.ToLower(string(side)), strings.ToLower(string(res.Status)))
	return res
}

type sliceResult struct {
	filled int
	cost   float64
	ids    []string
	err    error
}

func (e *Executor) run(ctx context.Context, inst models.OptionRef, side models.OrderSide, qty, retries int, cleanup bool) models.OrderResult {
	if qty <= 0 {
		return models.OrderResult{Status: models.Failed, Reason: "non-positive quantity"}
	}

	baseline, err := e.netQty(ctx, inst)
	if err != nil {
		return models.OrderResult{Status: models.Failed, Reason: fmt.Sprintf("position snapshot: %v", err)}
	}

	var (
		filled int
		cost   float64
		ids    []string
		runErr error
	)
	for remaining := qty; remaining > 0; {
		n := min(remaining, e.cfg.FreezeLimit)
		sr := e.slice(ctx, inst, side, n, retries)
		filled += sr.filled
		cost += sr.cost
		ids = append(ids, sr.ids...)
		if sr.err != nil {
			runErr = sr.err
			break
		}
		if sr.filled < n {
			runErr = fmt.Errorf("slice filled %d of %d", sr.filled, n)
			break
		}
		remaining -= n
		if remaining > 0 {
			_ = e.sleep(ctx, e.cfg.SliceGap)
		}
	}

	avg := 0.0
	if filled > 0 {
		avg = models.Round2(cost / float64(filled))
	}
	res := models.OrderResult{FilledQty: filled, AvgPrice: avg, OrderIDs: ids}

	held := filled
	verified := true
	if filled > 0 {
		_ = e.sleep(context.WithoutCancel(ctx), e.cfg.VerifyDelay)
		after, verr := e.netQty(context.WithoutCancel(ctx), inst)
		switch {
		case verr != nil:
			verified = false
			runErr = errors.Join(runErr, fmt.Errorf("verify: %w", verr))
		case (after-baseline)*side.Sign() != filled:
			verified = false
			held = (after - baseline) * side.Sign()
			runErr = errors.Join(runErr, fmt.Errorf("%w: expected %d got %d", ErrFillMismatch, filled, held))
		}
	}

	if filled == qty && verified {
		res.Status = models.Filled
		return res
	}
	if runErr != nil {
		res.Reason = runErr.Error()
	}

	if cleanup {
		res.Status = models.Failed
		switch {
		case held == 0:
			return res
		case held < 0:
			res.Critical = true
			return res
		}
		e.log.Warn("reversing partial entry",
			logger.String("symbol", inst.Symbol),
			logger.Int("held", held),
			logger.Int("requested", qty))
		back := e.run(context.WithoutCancel(ctx), inst, side.Opposite(), held, 0, false)
		res.OrderIDs = append(res.OrderIDs, back.OrderIDs...)
		if back.Status != models.Filled || back.Critical {
			res.Critical = true
			res.Reason = fmt.Sprintf("%s; cleanup failed: %s", res.Reason, back.Reason)
			e.log.Error("entry cleanup failed",
				logger.String("symbol", inst.Symbol),
				logger.Int("held", held),
				logger.String("reason", back.Reason))
		}
		return res
	}

	if !verified {
		res.Critical = true
		res.Status = models.Failed
		return res
	}
	if filled > 0 {
		res.Status = models.PartiallyFilled
	} else {
		res.Status = models.Failed
	}
	return res
}

// slice works one freeze-limited order through the chase and fallback.
func (e *Executor) slice(ctx context.Context, inst models.OptionRef, side models.OrderSide, qty, retries int) sliceResult {
	var sr sliceResult
	mult := e.distanceMultiplier(inst)

	var (
		q    models.Quote
		qerr error
	)
	if retries > 0 {
		q, qerr = e.quote(ctx, inst)
	}
	for attempt := 1; attempt <= retries && sr.filled < qty; attempt++ {
		if ctx.Err() != nil {
			sr.err = ctx.Err()
			return sr
		}
		if qerr != nil {
			break
		}
		price := e.limitPrice(q, side)
		if price <= 0 {
			break
		}
		id, err := e.broker.PlaceOrder(ctx, models.OrderRequest{
			Instrument: inst,
			Side:       side,
			Quantity:   qty - sr.filled,
			Kind:       models.Limit,
			LimitPrice: price,
			Tag:        "chase",
		})
		if err != nil {
			e.metrics.RecordError("place_order")
			e.log.Warn("limit order rejected", logger.String("symbol", inst.Symbol), logger.Int("attempt", attempt), logger.Error(err))
			q, qerr = e.quote(ctx, inst)
			continue
		}
		sr.ids = append(sr.ids, id)

		st, ok := e.await(ctx, id, e.Timeout(attempt, mult))
		if ok && st.State == models.OrderComplete {
			sr.add(st.FilledQty, st.AvgPrice, price)
			break
		}
		if ok && st.State.Terminal() {
			sr.add(st.FilledQty, st.AvgPrice, price)
			q, qerr = e.quote(ctx, inst)
			continue
		}

		// Timed out: cancel while fetching the next quote.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := e.broker.CancelOrder(ctx, id); err != nil {
				e.log.Debug("cancel failed", logger.String("order_id", id), logger.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			q, qerr = e.quote(ctx, inst)
		}()
		wg.Wait()

		if final, err := e.broker.OrderStatus(ctx, id); err == nil {
			st = final
		}
		sr.add(st.FilledQty, st.AvgPrice, price)
	}

	if sr.filled >= qty || ctx.Err() != nil {
		if ctx.Err() != nil && sr.filled < qty {
			sr.err = ctx.Err()
		}
		return sr
	}
	return e.market(ctx, inst, side, qty, sr)
}

func (sr *sliceResult) add(qty int, avg, fallback float64) {
	if qty <= 0 {
		return
	}
	if avg <= 0 {
		avg = fallback
	}
	sr.filled += qty
	sr.cost += avg * float64(qty)
}

func (e *Executor) market(ctx context.Context, inst models.OptionRef, side models.OrderSide, qty int, sr sliceResult) sliceResult {
	remaining := qty - sr.filled
	id, err := e.broker.PlaceOrder(ctx, models.OrderRequest{
		Instrument: inst,
		Side:       side,
		Quantity:   remaining,
		Kind:       models.Market,
		Tag:        "fallback",
	})
	if err != nil {
		e.metrics.RecordError("place_order")
		sr.err = fmt.Errorf("market order: %w", err)
		return sr
	}
	sr.ids = append(sr.ids, id)

	var st models.BrokerOrderStatus
	for i := 0; i < e.cfg.MarketPolls; i++ {
		if err := e.sleep(ctx, e.cfg.MarketPollInterval); err != nil {
			break
		}
		s, err := e.broker.OrderStatus(ctx, id)
		if err != nil {
			continue
		}
		st = s
		if st.State.Terminal() {
			break
		}
	}
	var ref float64
	if q, err := e.broker.Quote(ctx, inst); err == nil {
		ref = e.limitPrice(q, side)
	}
	sr.add(st.FilledQty, st.AvgPrice, ref)
	if st.State != models.OrderComplete {
		state := string(st.State)
		if state == "" {
			state = "status unknown"
		}
		sr.err = fmt.Errorf("market order %s not confirmed: %s", id, state)
	}
	return sr
}

// await polls an order until it is terminal or the timeout elapses.
func (e *Executor) await(ctx context.Context, id string, timeout time.Duration) (models.BrokerOrderStatus, bool) {
	poll := e.cfg.StatusPollInterval
	if poll <= 0 || poll > timeout {
		poll = timeout
	}
	var last models.BrokerOrderStatus
	var seen bool
	for waited := time.Duration(0); waited < timeout; waited += poll {
		if err := e.sleep(ctx, poll); err != nil {
			return last, seen
		}
		st, err := e.broker.OrderStatus(ctx, id)
		if err != nil {
			continue
		}
		last, seen = st, true
		if st.State.Terminal() {
			return st, true
		}
	}
	return last, false
}

func (e *Executor) quote(ctx context.Context, inst models.OptionRef) (models.Quote, error) {
	var lastErr error
	for i := 0; i <= e.cfg.QuoteRetries; i++ {
		if i > 0 {
			if err := e.sleep(ctx, e.cfg.QuoteRetryDelay); err != nil {
				return models.Quote{}, err
			}
		}
		q, err := e.broker.Quote(ctx, inst)
		if err == nil && q.Bid > 0 && q.Ask > 0 {
			return q, nil
		}
		if err == nil {
			err = errors.New("empty book")
		}
		lastErr = err
	}
	e.metrics.RecordError("quote")
	return models.Quote{}, fmt.Errorf("quote %s: %w", inst.Symbol, lastErr)
}

func (e *Executor) limitPrice(q models.Quote, side models.OrderSide) float64 {
	p := q.Ask
	if side == models.Sell {
		p = q.Bid
	}
	return models.RoundToTick(p, e.cfg.TickSize)
}

// Timeout is the chase wait for an attempt, widened for later attempts and
// for strikes far from the money.
func (e *Executor) Timeout(attempt int, mult float64) time.Duration {
	base := float64(e.cfg.BaseTimeout) * (1 + 0.3*float64(attempt-1)) * mult
	d := time.Duration(math.Round(base))
	if e.cfg.MinTimeout > 0 && d < e.cfg.MinTimeout {
		d = e.cfg.MinTimeout
	}
	if e.cfg.MaxTimeout > 0 && d > e.cfg.MaxTimeout {
		d = e.cfg.MaxTimeout
	}
	return d
}

func (e *Executor) distanceMultiplier(inst models.OptionRef) float64 {
	if e.spot == nil || e.cfg.StrikeStep <= 0 {
		return 1
	}
	spot := e.spot()
	if spot <= 0 {
		return 1
	}
	atm := math.Round(spot/e.cfg.StrikeStep) * e.cfg.StrikeStep
	steps := math.Abs(inst.Strike-atm) / e.cfg.StrikeStep
	switch {
	case steps < 0.5:
		return 1
	case steps <= 2:
		return 1.25
	default:
		return 1.5
	}
}

func (e *Executor) netQty(ctx context.Context, inst models.OptionRef) (int, error) {
	positions, err := e.broker.Positions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Symbol == inst.Symbol {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

