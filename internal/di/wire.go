//go:build wireinject
// +build wireinject

package di

import (
	"OptionPilot/pkg/config"
	"OptionPilot/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,
		ProvideSessionClock,
		ProvideRateLimiter,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCache,

		// Repositories
		ProvideAlertStore,
		ProvideSessionStore,
		ProvideEventPublisher,
		ProvideTradeJournal,

		// Market data and brokerage
		ProvideKite,
		ProvideHistory,
		ProvideFeed,
		ProvideFeedHealth,
		ProvideTTLCache,
		ProvideOptionChain,
		ProvideIndicatorEngine,
		ProvideMarketState,
		ProvideBroker,
		ProvideExecutor,

		// Engine
		ProvideSizer,
		ProvideCharges,
		ProvideBandFlip,
		ProvideCoordinator,
		ProvideHub,
		ProvideNotifier,
		ProvidePositionManager,
		ProvideTickRouter,
		ProvideStatusService,
		ProvideKafkaTicksHandler,

		// HTTP and application server
		ProvideEngineHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
