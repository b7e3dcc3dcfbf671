package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"OptionPilot/internal/domain/models"
)

// PriceBook supplies last traded prices for simulated fills.
type PriceBook interface {
	LastPrice(id string) (float64, bool)
}

// InstrumentLister provides the instrument master in paper mode.
type InstrumentLister interface {
	ListInstruments(ctx context.Context, exchange string) ([]models.OptionRef, error)
}

type PaperConfig struct {
	Capital     float64
	SpreadTicks int
}

// Paper simulates a broker against live prices. Orders at or through the
// touch fill immediately at the touch; resting limits stay open until
// cancelled.
type Paper struct {
	cfg         PaperConfig
	book        PriceBook
	instruments InstrumentLister
	now         func() time.Time

	mu       sync.Mutex
	orders   map[string]*models.BrokerOrderStatus
	net      map[string]int
	avg      map[string]float64
	cashUsed float64
}

func NewPaper(cfg PaperConfig, book PriceBook, instruments InstrumentLister) *Paper {
	if cfg.SpreadTicks < 0 {
		cfg.SpreadTicks = 0
	}
	return &Paper{
		cfg:         cfg,
		book:        book,
		instruments: instruments,
		now:         time.Now,
		orders:      make(map[string]*models.BrokerOrderStatus),
		net:         make(map[string]int),
		avg:         make(map[string]float64),
	}
}

func (p *Paper) Quote(_ context.Context, inst models.OptionRef) (models.Quote, error) {
	ltp, ok := p.book.LastPrice(inst.ID)
	if !ok || ltp <= 0 {
		return models.Quote{}, fmt.Errorf("paper quote %s: no price", inst.Symbol)
	}
	tick := inst.TickSize
	if tick <= 0 {
		tick = 0.05
	}
	half := float64(p.cfg.SpreadTicks) * tick / 2
	bid := math.Max(tick, models.RoundToTick(ltp-half, tick))
	ask := models.RoundToTick(ltp+half, tick)
	return models.Quote{Bid: bid, Ask: ask}, nil
}

func (p *Paper) PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if req.Quantity <= 0 {
		return "", errors.New("paper order: non-positive quantity")
	}
	q, err := p.Quote(ctx, req.Instrument)
	if err != nil {
		return "", err
	}
	touch := q.Ask
	if req.Side == models.Sell {
		touch = q.Bid
	}

	id := uuid.NewString()
	st := &models.BrokerOrderStatus{OrderID: id, State: models.OrderOpen, UpdatedAt: p.now()}

	marketable := req.Kind == models.Market ||
		(req.Side == models.Buy && req.LimitPrice >= touch) ||
		(req.Side == models.Sell && req.LimitPrice <= touch)

	p.mu.Lock()
	defer p.mu.Unlock()
	if marketable {
		if req.Side == models.Buy && p.cfg.Capital > 0 && p.cashUsed+touch*float64(req.Quantity) > p.cfg.Capital {
			st.State = models.OrderRejected
			st.Message = "insufficient funds"
		} else {
			p.fill(req, touch)
			st.State = models.OrderComplete
			st.FilledQty = req.Quantity
			st.AvgPrice = touch
		}
	}
	p.orders[id] = st
	return id, nil
}

func (p *Paper) fill(req models.OrderRequest, price float64) {
	sym := req.Instrument.Symbol
	qty := req.Quantity
	if req.Side == models.Buy {
		prev := p.net[sym]
		if prev+qty != 0 {
			p.avg[sym] = (p.avg[sym]*float64(prev) + price*float64(qty)) / float64(prev+qty)
		}
		p.net[sym] = prev + qty
		p.cashUsed += price * float64(qty)
		return
	}
	p.net[sym] -= qty
	p.cashUsed -= p.avg[sym] * float64(qty)
	if p.net[sym] == 0 {
		delete(p.avg, sym)
		if p.cashUsed < 0 {
			p.cashUsed = 0
		}
	}
}

func (p *Paper) OrderStatus(_ context.Context, orderID string) (models.BrokerOrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[orderID]
	if !ok {
		return models.BrokerOrderStatus{}, fmt.Errorf("paper order %s not found", orderID)
	}
	return *st, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.orders[orderID]
	if !ok {
		return fmt.Errorf("paper order %s not found", orderID)
	}
	if st.State == models.OrderOpen {
		st.State = models.OrderCancelled
		st.UpdatedAt = p.now()
	}
	return nil
}

func (p *Paper) Positions(context.Context) ([]models.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(p.net))
	for sym, q := range p.net {
		out = append(out, models.BrokerPosition{Symbol: sym, Quantity: q, AvgPrice: p.avg[sym]})
	}
	return out, nil
}

func (p *Paper) Margins(context.Context) (models.Margins, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return models.Margins{AvailableCash: math.Max(0, p.cfg.Capital-p.cashUsed)}, nil
}

func (p *Paper) ListInstruments(ctx context.Context, exchange string) ([]models.OptionRef, error) {
	if p.instruments == nil {
		return nil, errors.New("paper broker: no instrument source configured")
	}
	return p.instruments.ListInstruments(ctx, exchange)
}
