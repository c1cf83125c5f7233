//go:build wireinject
// +build wireinject

package di

import (
	"MarketLens/pkg/config"
	"MarketLens/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Upstream and caching
		ProvideFetcher,
		ProvideGateway,
		ProvideCache,

		// Archive backends
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideTickPipeline,

		// Live stream and charts
		ProvideStreamFactory,
		ProvideChartManager,

		// HTTP surface
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
