package usecase

import (
	"context"
	"time"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
)

// StatusService assembles engine status and pushes it to observers.
type StatusService struct {
	pm       *PositionManager
	state    *MarketState
	chain    *OptionChain
	health   FeedHealth
	notifier drepo.Notifier
	mode     string
	interval time.Duration
	now      func() time.Time
}

func NewStatusService(pm *PositionManager, state *MarketState, chain *OptionChain, health FeedHealth, notifier drepo.Notifier, mode string, interval time.Duration) *StatusService {
	if interval <= 0 {
		interval = time.Second
	}
	return &StatusService{
		pm:       pm,
		state:    state,
		chain:    chain,
		health:   health,
		notifier: notifier,
		mode:     mode,
		interval: interval,
		now:      time.Now,
	}
}

func (s *StatusService) Snapshot() models.StatusSnapshot {
	snap := models.StatusSnapshot{
		Connection:     "kafka",
		Mode:           s.mode,
		Underlying:     s.chain.Underlying(),
		IndexPrice:     s.state.IndexPrice(),
		Trend:          s.state.Trend(),
		State:          s.pm.State(),
		Daily:          s.pm.Daily(),
		TradingEnabled: s.pm.TradingEnabled(),
		At:             s.now(),
	}
	if s.health != nil {
		snap.Connection = "disconnected"
		if s.health.IsConnected() {
			snap.Connection = "connected"
		}
	}
	if pos, ok := s.pm.Position(); ok {
		snap.Position = &pos
		snap.LastPrice, _ = s.state.LastPrice(pos.Instrument.ID)
	}
	return snap
}

// Run publishes a snapshot every interval until ctx is done.
func (s *StatusService) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.notifier.PublishStatus(s.Snapshot())
		}
	}
}
