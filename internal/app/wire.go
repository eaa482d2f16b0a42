//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters"
	"github.com/trebuchet-org/treb-upgrade/internal/config"
	"github.com/trebuchet-org/treb-upgrade/internal/logging"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// InitApp creates a fully wired App instance
func InitApp(v *viper.Viper, sink usecase.ProgressSink) (*App, error) {
	wire.Build(
		// Configuration
		config.Provider,
		logging.LoggingSet,

		// Adapters
		adapters.AllAdapters,

		// Use cases
		usecase.NewUpgradeProxy,
		usecase.NewReconcileUpgrades,
		usecase.NewRegisterProxy,
		usecase.NewCheckCompatibility,
		usecase.NewShowLayout,
		usecase.NewListProxies,
		usecase.NewShowHistory,
		usecase.NewApplyPlan,

		// App
		NewApp,
	)
	return nil, nil
}
