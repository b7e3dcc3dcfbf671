package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OptionPilot/internal/service/notifier"
	"OptionPilot/internal/usecase"
	"OptionPilot/pkg/cache"
	pkgch "OptionPilot/pkg/clickhouse"
	"OptionPilot/pkg/config"
	xhttp "OptionPilot/pkg/http"
	pkgkafka "OptionPilot/pkg/kafka"
	applogger "OptionPilot/pkg/logger"
)

// Infra holds the clients the app closes on shutdown. Any may be nil.
type Infra struct {
	Producer   *pkgkafka.Producer
	ClickHouse *pkgch.Client
	Cache      cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	router     *usecase.TickRouter
	pm         *usecase.PositionManager
	status     *usecase.StatusService
	handler    xhttp.Handler
	hub        *notifier.Hub
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	infra      Infra
	httpServer *xhttp.Server
	stopStatus context.CancelFunc
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	router *usecase.TickRouter,
	pm *usecase.PositionManager,
	status *usecase.StatusService,
	handler xhttp.Handler,
) *App {
	return &App{
		cfg:     cfg,
		log:     l,
		router:  router,
		pm:      pm,
		status:  status,
		handler: handler,
	}
}

func (a *App) SetHub(h *notifier.Hub) { a.hub = h }

func (a *App) SetInfra(i Infra) { a.infra = i }

// SetConsumer enables Kafka tick ingestion.
func (a *App) SetConsumer(c *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.consumer = c
	a.kh = kh
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.log.Error("startup failed", applogger.Error(err))
		_ = a.shutdown()
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// Start brings up the engine, then ingestion, then HTTP.
func (a *App) Start(ctx context.Context) error {
	restoreCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.pm.Restore(restoreCtx)
	cancel()
	if err != nil {
		a.log.Warn("session state not restored", applogger.Error(err))
	}

	if err := a.router.Start(ctx); err != nil {
		return err
	}

	statusCtx, stopStatus := context.WithCancel(context.Background())
	a.stopStatus = stopStatus
	go a.status.Run(statusCtx)

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka tick consumer started", applogger.String("topic", a.kh.Topic()))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout),
		xhttp.WithSlowThreshold(a.cfg.Server.SlowThreshold),
		xhttp.WithCORS(a.cfg.Server.CORS),
		xhttp.WithLogger(a.log),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}

	a.log.Info("engine running",
		applogger.String("mode", a.cfg.Broker.Mode),
		applogger.String("feed", a.cfg.Feed.Source),
		applogger.String("underlying", a.cfg.Instrument.Underlying))
	return nil
}

// shutdown flattens the position first, then stops the engine, HTTP and
// infrastructure in that order.
func (a *App) shutdown() error {
	a.log.Info("shutting down...")

	// No new entries once shutdown begins.
	a.pm.SetTradingEnabled(false)
	flattenCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Engine.Lifecycle.ShutdownTimeout)
	flattenErr := a.pm.Shutdown(flattenCtx)
	cancel()
	if flattenErr != nil {
		a.log.Error("position not flat at shutdown; manual intervention required", applogger.Error(flattenErr))
	}

	a.router.Stop()
	if a.stopStatus != nil {
		a.stopStatus()
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.log.RemoveCollector()
	if a.infra.Producer != nil {
		if err := a.infra.Producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if a.infra.ClickHouse != nil {
		if err := a.infra.ClickHouse.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	if c, ok := a.infra.Cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("cache close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	if flattenErr != nil && !errors.Is(flattenErr, usecase.ErrNoPosition) {
		return flattenErr
	}
	return nil
}
