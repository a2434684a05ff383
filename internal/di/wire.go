//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Market core
		ProvideStore,
		ProvideBus,
		ProvideEngine,
		ProvideHistoryCache,
		ProvideLimiter,

		// Outbound sinks
		ProvidePublishers,
		ProvideSinkPipeline,

		// Transport
		ProvideWSServer,
		ProvideMarketHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
