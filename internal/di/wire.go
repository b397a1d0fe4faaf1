//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"SessionScan/pkg/config"
	"SessionScan/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideRedisClient,
	ProvideCache,
	ProvideStore,
	ProvideSheets,
	ProvideSymbolSource,
	ProvideClickHouseClient,
	ProvideResultSink,
	ProvideEventPublisher,
	ProvideFetcher,
	ProvideItemProcessor,
	ProvideOrchestrator,
)

// InitializeApp wires the long-running service.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		ProvideScheduler,
		ProvideWatchdog,
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeRunner wires the one-shot runner used by the CLI.
func InitializeRunner(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		infraSet,
		ProvideManualScheduler,
		ProvideRunner,
	)
	return nil, nil, nil
}
