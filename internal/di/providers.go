package di

import (
	"context"
	"fmt"
	"time"

	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/internal/handler/api"
	internalrepo "OptionPilot/internal/repository"
	"OptionPilot/internal/service/broker"
	svccache "OptionPilot/internal/service/cache"
	"OptionPilot/internal/service/execution"
	"OptionPilot/internal/service/feed"
	"OptionPilot/internal/service/indicator"
	"OptionPilot/internal/service/notifier"
	"OptionPilot/internal/service/ratelimit"
	"OptionPilot/internal/service/risk"
	"OptionPilot/internal/service/signal"
	"OptionPilot/internal/usecase"
	"OptionPilot/pkg/cache"
	pkgch "OptionPilot/pkg/clickhouse"
	"OptionPilot/pkg/config"
	xhttp "OptionPilot/pkg/http"
	pkgkafka "OptionPilot/pkg/kafka"
	applogger "OptionPilot/pkg/logger"
	"OptionPilot/pkg/metrics"
	"OptionPilot/pkg/server"
	"OptionPilot/pkg/util"

	"github.com/segmentio/kafka-go"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config) drepo.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and the trades table.
// It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	cc := cfg.ClickHouse
	client, err := pkgch.NewClient(pkgch.Config{
		Host:             cc.Host,
		Port:             cc.Port,
		Database:         cc.Database,
		User:             cc.User,
		Password:         cc.Password,
		UseHTTP:          cc.UseHTTP,
		AsyncInsert:      cc.AsyncInsert,
		WaitForAsync:     cc.WaitForAsync,
		DialTimeout:      cc.DialTimeout,
		ReadTimeout:      cc.ReadTimeout,
		MaxExecutionTime: cc.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.EnsureSchema(ctx, internalrepo.TradesSchema(client.Table(cc.TradesTable))...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is off.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Compression, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the tick consumer when ticks arrive over Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Feed.Source != "kafka" {
		return nil, nil
	}
	cc := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cc.GroupID),
		pkgkafka.WithConsumerStartOffset(cc.StartOffset),
		pkgkafka.WithConsumerDLQ(cc.DLQTopic),
		pkgkafka.WithConsumerFetch(cc.MinBytes, cc.MaxBytes, cc.MaxWait),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideCache returns Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

func ProvideAlertStore(c cache.Service) drepo.AlertStore {
	return internalrepo.NewCacheAlertStore(c)
}

func ProvideSessionStore(c cache.Service) drepo.SessionStore {
	return internalrepo.NewCacheSessionStore(c)
}

// ProvideEventPublisher forwards events and status to Kafka when enabled.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config, l *applogger.Logger) *internalrepo.KafkaEventPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events, cfg.Kafka.Topics.Status, l)
}

func ProvideHub(l *applogger.Logger) *notifier.Hub {
	return notifier.NewHub(l, 64)
}

// ProvideNotifier fans status and events out to the websocket hub and Kafka.
func ProvideNotifier(hub *notifier.Hub, pub *internalrepo.KafkaEventPublisher) drepo.Notifier {
	sinks := notifier.Multi{hub}
	if pub != nil {
		sinks = append(sinks, pub)
	}
	return sinks
}

// ProvideTradeJournal wires the trade sinks. ClickHouse also serves history.
func ProvideTradeJournal(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer, l *applogger.Logger, m drepo.Metrics) *usecase.TradeJournal {
	var sinks []drepo.TradeSink
	var query drepo.TradeQuery
	if ch != nil {
		store := internalrepo.NewClickHouseTradeStore(ch, ch.Table(cfg.ClickHouse.TradesTable), l)
		sinks = append(sinks, store)
		query = store
	}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaTradeSink(producer, cfg.Kafka.Topics.Trades))
	}
	if len(sinks) == 0 {
		l.Warn("no durable trade sink configured; trades are kept in memory only")
	}
	return usecase.NewTradeJournal(sinks, query, l, m)
}

func ProvideSessionClock(cfg *config.Config) (*util.SessionClock, error) {
	return util.NewSessionClock(cfg.Engine.Timezone, cfg.Engine.Lifecycle.EODCutoff)
}

func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideKite creates the REST broker client. It serves instruments and
// history in both modes and orders in live mode.
func ProvideKite(cfg *config.Config, limiter *ratelimit.Limiter, clock *util.SessionClock, l *applogger.Logger) *broker.Kite {
	return broker.NewKite(broker.KiteConfig{
		BaseURL:        cfg.Broker.BaseURL,
		APIKey:         cfg.Broker.APIKey,
		AccessToken:    cfg.Broker.AccessToken,
		Product:        cfg.Broker.Product,
		RateLimit:      cfg.Broker.RateLimit,
		QuoteRateLimit: cfg.Broker.QuoteRateLimit,
		Timeout:        cfg.Broker.Timeout,
		Location:       clock.Location(),
	}, limiter, l)
}

// ProvideBroker selects the order-routing broker for the trading mode.
func ProvideBroker(cfg *config.Config, kite *broker.Kite, state *usecase.MarketState) drepo.BrokerClient {
	if cfg.Broker.Mode == "live" {
		return kite
	}
	return broker.NewPaper(broker.PaperConfig{
		Capital:     cfg.Broker.Paper.Capital,
		SpreadTicks: cfg.Broker.Paper.SpreadTicks,
	}, state, kite)
}

// ProvideFeed returns the websocket ticker, or nil when ticks come from Kafka.
func ProvideFeed(cfg *config.Config, l *applogger.Logger, m drepo.Metrics) drepo.MarketDataFeed {
	if cfg.Feed.Source != "websocket" {
		return nil
	}
	return feed.NewTicker(feed.Config{
		URL:            cfg.Feed.URL,
		APIKey:         cfg.Feed.APIKey,
		AccessToken:    cfg.Feed.AccessToken,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		MaxReconnects:  cfg.Feed.MaxReconnects,
		PingInterval:   cfg.Feed.PingInterval,
		ReadTimeout:    cfg.Feed.ReadTimeout,
		BufferSize:     cfg.Feed.BufferSize,
	}, l, m)
}

// ProvideFeedHealth exposes connectivity for the failsafe. Kafka-sourced
// ticks have no connection to watch; the stale-tick rule covers them.
func ProvideFeedHealth(f drepo.MarketDataFeed) usecase.FeedHealth {
	if f == nil {
		return nil
	}
	return f
}

func ProvideHistory(cfg *config.Config, kite *broker.Kite) drepo.HistoryProvider {
	if cfg.Broker.APIKey == "" {
		return nil
	}
	return kite
}

func ProvideIndicatorEngine(cfg *config.Config, clock *util.SessionClock) *indicator.Engine {
	ic := cfg.Engine.Indicator
	return indicator.NewEngine(cfg.Instrument.IndexID,
		indicator.WithParams(indicator.Params{
			SMAPeriod:         ic.SMAPeriod,
			WMAPeriod:         ic.WMAPeriod,
			RSIPeriod:         ic.RSIPeriod,
			RSISignalPeriod:   ic.RSISignalPeriod,
			ATRPeriod:         ic.ATRPeriod,
			BandPeriod:        ic.BandPeriod,
			BandMultiplier:    ic.BandMultiplier,
			SqueezePeriod:     ic.SqueezePeriod,
			SqueezeMultiplier: ic.SqueezeMultiplier,
		}),
		indicator.WithWindow(ic.Window),
		indicator.WithLocation(clock.Location()),
	)
}

func ProvideTTLCache() *svccache.TTLCache {
	return svccache.NewTTLCache()
}

func ProvideOptionChain(cfg *config.Config, kite *broker.Kite, ttl *svccache.TTLCache, clock *util.SessionClock) *usecase.OptionChain {
	return usecase.NewOptionChain(usecase.ChainConfig{
		Underlying: cfg.Instrument.Underlying,
		Exchange:   cfg.Instrument.Exchange,
		StrikeStep: cfg.Instrument.StrikeStep,
		Width:      cfg.Instrument.ChainWidth,
		CacheTTL:   cfg.Instrument.InstrumentsTTL,
		Location:   clock.Location(),
	}, kite, ttl)
}

func ProvideMarketState(engine *indicator.Engine, chain *usecase.OptionChain, cfg *config.Config) *usecase.MarketState {
	g := cfg.Engine.Signal.Gauntlet
	return usecase.NewMarketState(engine, chain, max(64, g.RSLookback+1, g.MomentumWindow+1))
}

func ProvideExecutor(b drepo.BrokerClient, cfg *config.Config, state *usecase.MarketState, l *applogger.Logger, m drepo.Metrics) *execution.Executor {
	ex := cfg.Engine.Execution
	return execution.NewExecutor(b, execution.Config{
		FreezeLimit:        ex.FreezeLimit,
		ChaseRetries:       ex.ChaseRetries,
		BaseTimeout:        ex.BaseTimeout,
		MinTimeout:         ex.MinTimeout,
		MaxTimeout:         ex.MaxTimeout,
		StatusPollInterval: ex.StatusPollInterval,
		QuoteRetries:       ex.QuoteRetries,
		QuoteRetryDelay:    ex.QuoteRetryDelay,
		MarketPolls:        ex.MarketPolls,
		MarketPollInterval: ex.MarketPollInterval,
		SliceGap:           ex.SliceGap,
		VerifyDelay:        ex.VerifyDelay,
		TickSize:           ex.TickSize,
		StrikeStep:         cfg.Instrument.StrikeStep,
	}, l, execution.WithSpotFunc(state.IndexPrice), execution.WithMetrics(m))
}

func ProvideSizer(cfg *config.Config) *risk.Sizer {
	r := cfg.Engine.Risk
	return risk.NewSizer(risk.Config{
		Capital:      r.Capital,
		RiskPercent:  r.RiskPercent,
		StopPoints:   r.StopPoints,
		StopPercent:  r.StopPercent,
		TrailPoints:  r.TrailPoints,
		TrailPercent: r.TrailPercent,
		MinPrice:     r.MinPrice,
	})
}

func ProvideCharges(cfg *config.Config) *risk.ChargeCalculator {
	c := cfg.Engine.Charges
	return risk.NewChargeCalculator(risk.ChargeRates{
		BrokeragePerOrder: c.BrokeragePerOrder,
		STTSellRate:       c.STTSellRate,
		ExchangeRate:      c.ExchangeRate,
		SEBIPerCrore:      c.SEBIPerCrore,
		StampBuyRate:      c.StampBuyRate,
		GSTRate:           c.GSTRate,
	})
}

func ProvideBandFlip(cfg *config.Config) *signal.TrendBandFlip {
	return signal.NewTrendBandFlip(cfg.Engine.Signal.BandFlipTTL)
}

// ProvideCoordinator registers the strategies in priority order.
func ProvideCoordinator(cfg *config.Config, flip *signal.TrendBandFlip, l *applogger.Logger, m drepo.Metrics) *signal.Coordinator {
	sc := cfg.Engine.Signal
	strategies := []signal.Strategy{
		signal.SqueezeBreakout{},
		flip,
		signal.TrendContinuation{},
		signal.CounterTrend{MinTrendAge: sc.MinTrendAge, DojiTol: sc.DojiTol},
	}
	return signal.NewCoordinator(signal.Config{
		MinCandles:  sc.MinCandles,
		MinATR:      sc.MinATR,
		LogThrottle: sc.LogThrottle,
		Gauntlet: signal.GauntletConfig{
			RSLookback:        sc.Gauntlet.RSLookback,
			RSStrictPct:       sc.Gauntlet.RSStrictPct,
			RSLoosePct:        sc.Gauntlet.RSLoosePct,
			MaxChasePct:       sc.Gauntlet.MaxChasePct,
			MomentumWindow:    sc.Gauntlet.MomentumWindow,
			MinRisingFraction: sc.Gauntlet.MinRisingFraction,
		},
	}, strategies, l, m, ratelimit.New())
}

func ProvidePositionManager(
	cfg *config.Config,
	exec *execution.Executor,
	b drepo.BrokerClient,
	sizer *risk.Sizer,
	charges *risk.ChargeCalculator,
	journal *usecase.TradeJournal,
	alerts drepo.AlertStore,
	session drepo.SessionStore,
	n drepo.Notifier,
	state *usecase.MarketState,
	health usecase.FeedHealth,
	clock *util.SessionClock,
	m drepo.Metrics,
	l *applogger.Logger,
) *usecase.PositionManager {
	lc := cfg.Engine.Lifecycle
	return usecase.NewPositionManager(usecase.LifecycleConfig{
		ProfitTarget:          lc.ProfitTarget,
		BreakevenTriggerPct:   lc.BreakevenTriggerPct,
		PartialProfitPct:      lc.PartialProfitPct,
		PartialExitPct:        lc.PartialExitPct,
		InvalidateOnPattern:   lc.InvalidateOnPattern,
		InvalidateOnRedCandle: lc.InvalidateOnRedCandle,
		Cooldown:              lc.Cooldown,
		MaxTradesPerMinute:    lc.MaxTradesPerMinute,
		DailyStopLoss:         lc.DailyStopLoss,
		DailyProfitTarget:     lc.DailyProfitTarget,
		MaxExitAttempts:       lc.MaxExitAttempts,
		FailsafeWindow:        lc.FailsafeWindow,
		StaleTickWindow:       lc.StaleTickWindow,
		SuperviseInterval:     lc.SuperviseInterval,
		ExitLogThrottle:       lc.ExitLogThrottle,
		TradingEnabled:        lc.TradingEnabled,
	}, usecase.PositionDeps{
		Executor: exec,
		Account:  b,
		Sizer:    sizer,
		Charges:  charges,
		Journal:  journal,
		Alerts:   alerts,
		Session:  session,
		Notifier: n,
		View:     state,
		Health:   health,
		Clock:    clock,
		Metrics:  m,
		Log:      l,
	})
}

func ProvideTickRouter(
	cfg *config.Config,
	f drepo.MarketDataFeed,
	history drepo.HistoryProvider,
	engine *indicator.Engine,
	state *usecase.MarketState,
	chain *usecase.OptionChain,
	coord *signal.Coordinator,
	flip *signal.TrendBandFlip,
	pm *usecase.PositionManager,
	n drepo.Notifier,
	m drepo.Metrics,
	l *applogger.Logger,
) *usecase.TickRouter {
	return usecase.NewTickRouter(usecase.RouterConfig{
		QueueSize:         cfg.Feed.QueueSize,
		MaxRPS:            cfg.Feed.MaxTickRate,
		BootstrapAttempts: 3,
		BootstrapLookback: cfg.Engine.Indicator.BootstrapLookback,
		ReconnectPause:    cfg.Feed.ReconnectPause,
	}, usecase.RouterDeps{
		Feed:     f,
		History:  history,
		Engine:   engine,
		State:    state,
		Chain:    chain,
		Signals:  coord,
		BandFlip: flip,
		Position: pm,
		Notifier: n,
		Metrics:  m,
		Log:      l,
	})
}

func ProvideStatusService(cfg *config.Config, pm *usecase.PositionManager, state *usecase.MarketState, chain *usecase.OptionChain, health usecase.FeedHealth, n drepo.Notifier) *usecase.StatusService {
	return usecase.NewStatusService(pm, state, chain, health, n, cfg.Broker.Mode, cfg.Engine.Lifecycle.StatusInterval)
}

// ProvideKafkaTicksHandler feeds the ticks topic into the router.
func ProvideKafkaTicksHandler(cfg *config.Config, router *usecase.TickRouter, m drepo.Metrics) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.Topics.Ticks, router, m)
}

func ProvideEngineHandler(l *applogger.Logger, pm *usecase.PositionManager, status *usecase.StatusService, journal *usecase.TradeJournal, alerts drepo.AlertStore, hub *notifier.Hub) xhttp.Handler {
	return api.NewEngineHandler(l, pm, status, journal, alerts, hub)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	router *usecase.TickRouter,
	pm *usecase.PositionManager,
	status *usecase.StatusService,
	handler xhttp.Handler,
	hub *notifier.Hub,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	producer *pkgkafka.Producer,
	pub *internalrepo.KafkaEventPublisher,
	ch *pkgch.Client,
	c cache.Service,
) *server.App {
	if pub != nil && cfg.Log.Collect {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Interval,
			CountThreshold: cfg.Log.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      pub,
		})
	}
	app := server.New(cfg, l, router, pm, status, handler)
	app.SetHub(hub)
	app.SetInfra(server.Infra{Producer: producer, ClickHouse: ch, Cache: c})
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.HookFuncs{
			Err: func(_ context.Context, km kafka.Message, err error) {
				l.Debug("tick message rejected",
					applogger.String("topic", km.Topic),
					applogger.Int64("offset", km.Offset),
					applogger.Error(err))
			},
		})
		app.SetConsumer(consumer, kh)
	}
	return app
}
