package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/pkg/logger"
)

// TradeJournal writes each trade record once to every configured sink.
// Writes are serialized; a failing sink does not stop the others.
type TradeJournal struct {
	mu      sync.Mutex
	sinks   []drepo.TradeSink
	query   drepo.TradeQuery
	log     *logger.Logger
	metrics drepo.Metrics

	recent []models.TradeRecord
	keep   int
}

// NewTradeJournal builds a journal. Without a query backend the journal
// answers Recent from the records it wrote during this process.
func NewTradeJournal(sinks []drepo.TradeSink, query drepo.TradeQuery, log *logger.Logger, m drepo.Metrics) *TradeJournal {
	return &TradeJournal{sinks: sinks, query: query, log: log, metrics: m, keep: 500}
}

func (j *TradeJournal) Append(ctx context.Context, rec models.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.recent = append(j.recent, rec)
	if len(j.recent) > j.keep {
		j.recent = append([]models.TradeRecord(nil), j.recent[len(j.recent)-j.keep:]...)
	}

	var errs []error
	for _, s := range j.sinks {
		start := time.Now()
		if err := s.Append(ctx, rec); err != nil {
			j.metrics.RecordError("journal_" + s.Name())
			j.log.Error("trade sink write failed",
				logger.String("sink", s.Name()),
				logger.String("trade_id", rec.TradeID),
				logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		j.metrics.RecordLatency("journal_"+s.Name(), time.Since(start).Seconds())
	}
	return errors.Join(errs...)
}

// Recent returns up to limit records, newest first.
func (j *TradeJournal) Recent(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if j.query != nil {
		return j.query.Recent(ctx, limit)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	n := min(limit, len(j.recent))
	out := make([]models.TradeRecord, 0, n)
	for i := len(j.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.recent[i])
	}
	return out, nil
}

var (
	_ drepo.TradeLogger = (*TradeJournal)(nil)
	_ drepo.TradeQuery  = (*TradeJournal)(nil)
)
