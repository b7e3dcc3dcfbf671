package signal

import (
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/domain/repository"
	"OptionPilot/internal/service/ratelimit"
	"OptionPilot/pkg/logger"
)

type Config struct {
	MinCandles  int
	MinATR      float64
	LogThrottle time.Duration
	Gauntlet    GauntletConfig
}

// Coordinator runs strategies in priority order and returns the first
// candidate that passes the gauntlet.
type Coordinator struct {
	cfg        Config
	strategies []Strategy
	gauntlet   *Gauntlet
	log        *logger.Logger
	metrics    repository.Metrics
	throttle   *ratelimit.Limiter
}

func NewCoordinator(cfg Config, strategies []Strategy, log *logger.Logger, m repository.Metrics, throttle *ratelimit.Limiter) *Coordinator {
	if throttle == nil {
		throttle = ratelimit.New()
	}
	return &Coordinator{
		cfg:        cfg,
		strategies: strategies,
		gauntlet:   NewGauntlet(cfg.Gauntlet),
		log:        log,
		metrics:    m,
		throttle:   throttle,
	}
}

// Evaluate produces at most one signal for the current tick.
func (c *Coordinator) Evaluate(v MarketView) (models.Signal, bool) {
	if n := v.CandleCount(); n < c.cfg.MinCandles {
		c.debug("precheck", "waiting for candles", logger.Int("candles", n))
		return models.Signal{}, false
	}
	snaps := v.Snapshots(1)
	if len(snaps) == 0 || !snaps[0].ATR.OK {
		c.debug("precheck", "atr undefined")
		return models.Signal{}, false
	}
	if atr := snaps[0].ATR.Value; atr < c.cfg.MinATR {
		c.debug("precheck", "market too quiet", logger.Float64("atr", atr))
		return models.Signal{}, false
	}

	for _, s := range c.strategies {
		cand, ok := s.Evaluate(v)
		if !ok {
			continue
		}
		opt, ok := v.ATMOption(cand.Side)
		if !ok {
			c.debug(s.Name(), "no option for side", logger.String("side", string(cand.Side)))
			continue
		}
		verdict := c.gauntlet.Check(v, cand, opt)
		if verdict.Note != "" {
			c.debug(s.Name()+"/rs_partial", "relative strength on one side",
				logger.String("reason", cand.Reason),
				logger.String("note", verdict.Note))
		}
		c.metrics.RecordSignal(s.Name(), verdict.Pass)
		if !verdict.Pass {
			c.debug(s.Name()+"/"+verdict.Layer, "candidate rejected",
				logger.String("reason", cand.Reason),
				logger.String("layer", verdict.Layer),
				logger.String("detail", verdict.Detail))
			continue
		}
		if cs, ok := s.(consumer); ok {
			cs.Consume()
		}
		c.log.Info("signal",
			logger.String("strategy", s.Name()),
			logger.String("reason", cand.Reason),
			logger.String("symbol", opt.Symbol))
		return models.Signal{
			Side:       cand.Side,
			Reason:     cand.Reason,
			Strategy:   s.Name(),
			Kind:       cand.Kind,
			Instrument: opt,
			At:         v.Now(),
		}, true
	}
	return models.Signal{}, false
}

func (c *Coordinator) debug(key, msg string, fields ...logger.Field) {
	if c.cfg.LogThrottle > 0 && !c.throttle.Allow("entry/"+key, 1, 1/c.cfg.LogThrottle.Seconds()) {
		return
	}
	c.log.Debug(msg, fields...)
}
