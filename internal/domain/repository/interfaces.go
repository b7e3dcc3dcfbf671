package repository

import (
	"context"
	"time"

	"OptionPilot/internal/domain/models"
)

// MarketDataFeed delivers ticks for subscribed instruments.
type MarketDataFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, ids []string) error
	Resubscribe(ctx context.Context, ids []string) error
	Read(ctx context.Context) (<-chan models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// BrokerClient is the brokerage surface the engine trades through.
type BrokerClient interface {
	Quote(ctx context.Context, inst models.OptionRef) (models.Quote, error)
	PlaceOrder(ctx context.Context, req models.OrderRequest) (string, error)
	OrderStatus(ctx context.Context, orderID string) (models.BrokerOrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
	Positions(ctx context.Context) ([]models.BrokerPosition, error)
	Margins(ctx context.Context) (models.Margins, error)
	ListInstruments(ctx context.Context, exchange string) ([]models.OptionRef, error)
}

// HistoryProvider is implemented by brokers that serve minute history.
type HistoryProvider interface {
	MinuteCandles(ctx context.Context, instrumentID string, from, to time.Time) ([]models.Candle, error)
}

// TradeLogger persists completed trades. The engine calls Append once per
// record and reports, but does not retry, failures.
type TradeLogger interface {
	Append(ctx context.Context, rec models.TradeRecord) error
}

// TradeSink is a single storage backend behind the trade logger.
type TradeSink interface {
	Name() string
	Append(ctx context.Context, rec models.TradeRecord) error
}

type TradeQuery interface {
	Recent(ctx context.Context, limit int) ([]models.TradeRecord, error)
}

// Notifier receives status snapshots and discrete events. Push only.
type Notifier interface {
	PublishStatus(s models.StatusSnapshot)
	PublishEvent(e models.Event)
}

// AlertStore keeps operator alerts until they are acknowledged.
type AlertStore interface {
	Raise(ctx context.Context, a models.Alert) error
	List(ctx context.Context) ([]models.Alert, error)
	Ack(ctx context.Context, id string) (models.Alert, error)
}

// SessionStore persists per-day engine state across restarts.
type SessionStore interface {
	LoadDaily(ctx context.Context, day string) (models.DailyStats, bool, error)
	SaveDaily(ctx context.Context, stats models.DailyStats) error
	SetCooldown(ctx context.Context, until time.Time) error
	Cooldown(ctx context.Context) (time.Time, bool, error)
}

type Metrics interface {
	RecordTick(instrument string, price float64)
	RecordTickDropped(reason string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordSignal(strategy string, passed bool)
	RecordOrder(kind, result string)
	RecordTrade(reason string, netPnL float64)
	SetPositionState(state string)
	SetDailyPnL(v float64)
	SetConnected(connected bool)
}
