package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	svccache "OptionPilot/internal/service/cache"
)

var ErrNoContracts = errors.New("no option contracts for underlying")

// InstrumentSource lists the exchange's instrument master.
type InstrumentSource interface {
	ListInstruments(ctx context.Context, exchange string) ([]models.OptionRef, error)
}

type ChainConfig struct {
	Underlying string
	Exchange   string
	StrikeStep float64
	Width      int
	CacheTTL   time.Duration
	Location   *time.Location
}

type strikeKey struct {
	strike float64
	side   models.OptionSide
}

// OptionChain tracks the nearest-expiry contracts of one underlying and
// the at-the-money window the feed subscribes to.
type OptionChain struct {
	cfg    ChainConfig
	source InstrumentSource
	cache  *svccache.TTLCache
	now    func() time.Time

	mu       sync.RWMutex
	expiry   time.Time
	byStrike map[strikeKey]models.OptionRef
	byID     map[string]models.OptionRef
	atm      float64
}

func NewOptionChain(cfg ChainConfig, source InstrumentSource, cache *svccache.TTLCache) *OptionChain {
	if cfg.StrikeStep <= 0 {
		cfg.StrikeStep = 50
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cache == nil {
		cache = svccache.NewTTLCache()
	}
	return &OptionChain{
		cfg:      cfg,
		source:   source,
		cache:    cache,
		now:      time.Now,
		byStrike: make(map[strikeKey]models.OptionRef),
		byID:     make(map[string]models.OptionRef),
	}
}

// Load fetches the instrument master (cached) and keeps the contracts of
// the nearest expiry that has not passed yet.
func (c *OptionChain) Load(ctx context.Context) error {
	v, err := c.cache.GetOrLoad("instruments:"+c.cfg.Exchange, c.cfg.CacheTTL, func() (any, error) {
		return c.source.ListInstruments(ctx, c.cfg.Exchange)
	})
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}
	all, _ := v.([]models.OptionRef)

	l := c.now().In(c.cfg.Location)
	today := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)

	var contracts []models.OptionRef
	var expiry time.Time
	for _, o := range all {
		if !strings.EqualFold(o.Underlying, c.cfg.Underlying) {
			continue
		}
		exp := time.Date(o.Expiry.Year(), o.Expiry.Month(), o.Expiry.Day(), 0, 0, 0, 0, time.UTC)
		if exp.Before(today) {
			continue
		}
		if expiry.IsZero() || exp.Before(expiry) {
			expiry = exp
		}
		contracts = append(contracts, o)
	}
	if expiry.IsZero() {
		return fmt.Errorf("%w: %s", ErrNoContracts, c.cfg.Underlying)
	}

	byStrike := make(map[strikeKey]models.OptionRef)
	byID := make(map[string]models.OptionRef)
	for _, o := range contracts {
		if !sameDay(o.Expiry, expiry) {
			continue
		}
		byStrike[strikeKey{o.Strike, o.Side}] = o
		byID[o.ID] = o
	}

	c.mu.Lock()
	c.expiry = expiry
	c.byStrike = byStrike
	c.byID = byID
	c.atm = 0
	c.mu.Unlock()
	return nil
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func (c *OptionChain) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

func (c *OptionChain) Underlying() string { return c.cfg.Underlying }

// ATMStrike rounds spot to the nearest listed strike step.
func (c *OptionChain) ATMStrike(spot float64) float64 {
	return math.Round(spot/c.cfg.StrikeStep) * c.cfg.StrikeStep
}

// ATM returns the at-the-money contract for side.
func (c *OptionChain) ATM(side models.OptionSide, spot float64) (models.OptionRef, bool) {
	if spot <= 0 {
		return models.OptionRef{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.byStrike[strikeKey{c.ATMStrike(spot), side}]
	return o, ok
}

func (c *OptionChain) ByID(id string) (models.OptionRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.byID[id]
	return o, ok
}

// Window returns calls and puts from ATM-width to ATM+width strikes,
// ordered by strike.
func (c *OptionChain) Window(spot float64) []models.OptionRef {
	atm := c.ATMStrike(spot)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.OptionRef
	for i := -c.cfg.Width; i <= c.cfg.Width; i++ {
		k := atm + float64(i)*c.cfg.StrikeStep
		for _, side := range []models.OptionSide{models.Call, models.Put} {
			if o, ok := c.byStrike[strikeKey{k, side}]; ok {
				out = append(out, o)
			}
		}
	}
	return out
}

// Shift reports the new window IDs when the ATM strike moved since the
// last call. The first call always reports a shift.
func (c *OptionChain) Shift(spot float64) ([]string, bool) {
	if spot <= 0 {
		return nil, false
	}
	atm := c.ATMStrike(spot)
	c.mu.Lock()
	if atm == c.atm {
		c.mu.Unlock()
		return nil, false
	}
	c.atm = atm
	c.mu.Unlock()

	win := c.Window(spot)
	ids := make([]string, 0, len(win))
	for _, o := range win {
		ids = append(ids, o.ID)
	}
	sort.Strings(ids)
	return ids, true
}
