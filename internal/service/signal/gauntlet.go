package signal

import (
	"fmt"

	"OptionPilot/internal/domain/models"
)

// Gauntlet layers, checked in order.
const (
	LayerRelativeStrength = "relative_strength"
	LayerStructure        = "structure"
	LayerMomentum         = "momentum"
)

type GauntletConfig struct {
	RSLookback        int
	RSStrictPct       float64
	RSLoosePct        float64
	MaxChasePct       float64
	MomentumWindow    int
	MinRisingFraction float64
}

// Verdict is the gauntlet outcome. Layer names the failing check. Note
// records a check that ran on incomplete data.
type Verdict struct {
	Pass   bool
	Layer  string
	Detail string
	Note   string
}

func fail(layer, format string, args ...interface{}) Verdict {
	return Verdict{Layer: layer, Detail: fmt.Sprintf(format, args...)}
}

// Gauntlet validates a candidate against the option it would trade.
type Gauntlet struct {
	cfg GauntletConfig
}

func NewGauntlet(cfg GauntletConfig) *Gauntlet {
	if cfg.MomentumWindow < 3 {
		cfg.MomentumWindow = 3
	}
	return &Gauntlet{cfg: cfg}
}

func (g *Gauntlet) Check(v MarketView, cand Candidate, opt models.OptionRef) Verdict {
	rs := g.relativeStrength(v, cand, opt)
	if !rs.Pass {
		return rs
	}
	vd := g.structure(v, opt)
	if vd.Pass {
		vd = g.momentum(v, opt)
	}
	vd.Note = rs.Note
	return vd
}

func (g *Gauntlet) relativeStrength(v MarketView, cand Candidate, opt models.OptionRef) Verdict {
	own, ok := pctChange(v.Ticks(opt.ID, g.cfg.RSLookback))
	if !ok {
		return fail(LayerRelativeStrength, "not enough ticks for %s", opt.Symbol)
	}
	// A missing or thin opposite side counts as unchanged.
	var other float64
	var note string
	if opp, ok := v.ATMOption(cand.Side.Opposite()); !ok {
		note = "no opposite option; its change taken as 0%"
	} else if other, ok = pctChange(v.Ticks(opp.ID, g.cfg.RSLookback)); !ok {
		note = fmt.Sprintf("not enough ticks for %s; its change taken as 0%%", opp.Symbol)
	}
	need := g.cfg.RSStrictPct
	if cand.Kind == models.Reversal {
		need = g.cfg.RSLoosePct
	}
	if spread := own - other; spread <= need {
		vd := fail(LayerRelativeStrength, "spread %.2f%% <= %.2f%%", spread, need)
		vd.Note = note
		return vd
	}
	return Verdict{Pass: true, Note: note}
}

func (g *Gauntlet) structure(v MarketView, opt models.OptionRef) Verdict {
	ltp, ok := v.LastPrice(opt.ID)
	if !ok {
		return fail(LayerStructure, "no price for %s", opt.Symbol)
	}
	open, ok := v.SessionOpen(opt.ID)
	if !ok || ltp <= open {
		return fail(LayerStructure, "ltp %.2f not above session open %.2f", ltp, open)
	}
	prev, ok := v.PrevCandle(opt.ID)
	if !ok {
		return fail(LayerStructure, "no previous candle for %s", opt.Symbol)
	}
	if ltp <= prev.Close {
		return fail(LayerStructure, "ltp %.2f not above previous close %.2f", ltp, prev.Close)
	}
	live, _ := v.LiveCandle(opt.ID)
	brokeHigh := ltp > prev.High
	higherLow := !live.IsZero() && live.Low > prev.Low
	if !brokeHigh && !higherLow {
		return fail(LayerStructure, "no breakout or higher low")
	}
	if prev.Close > 0 {
		if chase := (ltp - prev.Close) / prev.Close * 100; chase > g.cfg.MaxChasePct {
			return fail(LayerStructure, "chase %.2f%% above %.2f%%", chase, g.cfg.MaxChasePct)
		}
	}
	return Verdict{Pass: true}
}

func (g *Gauntlet) momentum(v MarketView, opt models.OptionRef) Verdict {
	ticks := v.Ticks(opt.ID, max(g.cfg.MomentumWindow+1, 4))
	if len(ticks) < 4 {
		return fail(LayerMomentum, "only %d ticks", len(ticks))
	}
	n := len(ticks)
	for i := n - 3; i < n; i++ {
		if ticks[i] <= ticks[i-1] {
			return fail(LayerMomentum, "last 3 ticks not strictly rising")
		}
	}
	if last, prior := ticks[n-1]-ticks[n-2], ticks[n-2]-ticks[n-3]; last <= prior {
		return fail(LayerMomentum, "not accelerating (%.2f <= %.2f)", last, prior)
	}
	rising := 0
	for i := 1; i < n; i++ {
		if ticks[i] > ticks[i-1] {
			rising++
		}
	}
	if frac := float64(rising) / float64(n-1); frac < g.cfg.MinRisingFraction {
		return fail(LayerMomentum, "rising fraction %.2f below %.2f", frac, g.cfg.MinRisingFraction)
	}
	return Verdict{Pass: true}
}

func pctChange(ticks []float64) (float64, bool) {
	if len(ticks) < 2 || ticks[0] <= 0 {
		return 0, false
	}
	return (ticks[len(ticks)-1] - ticks[0]) / ticks[0] * 100, true
}
