package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"OptionPilot/internal/domain/models"
	"OptionPilot/internal/domain/repository"
	pkgch "OptionPilot/pkg/clickhouse"
	applogger "OptionPilot/pkg/logger"
)

// TradesSchema creates the trade table. ReplacingMergeTree collapses a
// record written twice under the same trade_id.
func TradesSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            trade_id       String,
            instrument     String,
            direction      LowCardinality(String),
            trigger_reason String,
            entry_time     DateTime64(3),
            exit_time      DateTime64(3),
            entry_price    Float64,
            exit_price     Float64,
            quantity       Int32,
            gross_pnl      Float64,
            charges        Float64,
            net_pnl        Float64,
            exit_reason    String,
            trend_at_exit  LowCardinality(String),
            partial        UInt8,
            inserted_at    DateTime DEFAULT now()
        ) ENGINE = ReplacingMergeTree(inserted_at)
        ORDER BY (toDate(exit_time), trade_id)
    `, table)}
}

// ClickHouseTradeStore is the analytical trade sink and the source for the
// trade history endpoint.
type ClickHouseTradeStore struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewClickHouseTradeStore(ch *pkgch.Client, table string, l *applogger.Logger) *ClickHouseTradeStore {
	return &ClickHouseTradeStore{db: ch.DB(), table: table, l: l}
}

func (s *ClickHouseTradeStore) Name() string { return "clickhouse" }

func (s *ClickHouseTradeStore) Append(ctx context.Context, rec models.TradeRecord) error {
	q := fmt.Sprintf(`INSERT INTO %s (trade_id, instrument, direction, trigger_reason, entry_time, exit_time,
        entry_price, exit_price, quantity, gross_pnl, charges, net_pnl, exit_reason, trend_at_exit, partial)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	partial := uint8(0)
	if rec.Partial {
		partial = 1
	}
	_, err := s.db.ExecContext(ctx, q,
		rec.TradeID,
		rec.Instrument,
		string(rec.Direction),
		rec.TriggerReason,
		rec.EntryTime,
		rec.ExitTime,
		rec.EntryPrice,
		rec.ExitPrice,
		int32(rec.Quantity),
		rec.GrossPnL,
		rec.Charges,
		rec.NetPnL,
		rec.ExitReason,
		string(rec.TrendAtExit),
		partial,
	)
	if err != nil {
		s.l.Error("clickhouse trade insert error",
			applogger.String("trade_id", rec.TradeID),
			applogger.Error(err))
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *ClickHouseTradeStore) Recent(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	start := time.Now()
	q := fmt.Sprintf(`SELECT trade_id, instrument, direction, trigger_reason, entry_time, exit_time,
        entry_price, exit_price, quantity, gross_pnl, charges, net_pnl, exit_reason, trend_at_exit, partial
        FROM %s FINAL ORDER BY exit_time DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("recent trades: %w", err)
	}
	defer rows.Close()

	out := make([]models.TradeRecord, 0, limit)
	for rows.Next() {
		var (
			r       models.TradeRecord
			dir, tr string
			qty     int32
			partial uint8
		)
		if err := rows.Scan(&r.TradeID, &r.Instrument, &dir, &r.TriggerReason, &r.EntryTime, &r.ExitTime,
			&r.EntryPrice, &r.ExitPrice, &qty, &r.GrossPnL, &r.Charges, &r.NetPnL, &r.ExitReason, &tr, &partial); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		r.Direction = models.OptionSide(dir)
		r.TrendAtExit = models.TrendState(tr)
		r.Quantity = int(qty)
		r.Partial = partial == 1
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.l.Debug("clickhouse recent trades",
		applogger.Int("rows", len(out)),
		applogger.Duration("took", time.Since(start)))
	return out, nil
}

// MessagePublisher is the subset of the Kafka producer the sinks use.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaTradeSink streams completed trades keyed by instrument.
type KafkaTradeSink struct {
	producer MessagePublisher
	topic    string
}

func NewKafkaTradeSink(producer MessagePublisher, topic string) *KafkaTradeSink {
	return &KafkaTradeSink{producer: producer, topic: topic}
}

func (k *KafkaTradeSink) Name() string { return "kafka" }

func (k *KafkaTradeSink) Append(ctx context.Context, rec models.TradeRecord) error {
	if err := k.producer.Publish(ctx, k.topic, []byte(rec.Instrument), rec); err != nil {
		return fmt.Errorf("publish trade %s: %w", rec.TradeID, err)
	}
	return nil
}

var (
	_ repository.TradeSink  = (*ClickHouseTradeStore)(nil)
	_ repository.TradeQuery = (*ClickHouseTradeStore)(nil)
	_ repository.TradeSink  = (*KafkaTradeSink)(nil)
)
