package app

import (
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/blockchain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// App is the main application container that holds all use cases
type App struct {
	// Configuration
	Config *config.RuntimeConfig

	// Use cases
	UpgradeProxy       *usecase.UpgradeProxy
	ReconcileUpgrades  *usecase.ReconcileUpgrades
	RegisterProxy      *usecase.RegisterProxy
	CheckCompatibility *usecase.CheckCompatibility
	ShowLayout         *usecase.ShowLayout
	ListProxies        *usecase.ListProxies
	ShowHistory        *usecase.ShowHistory
	ApplyPlan          *usecase.ApplyPlan

	// Dialer keeps one client per network for the lifetime of a command
	Dialer *blockchain.Dialer
}

// NewApp creates a new application instance with all use cases
func NewApp(
	cfg *config.RuntimeConfig,
	upgradeProxy *usecase.UpgradeProxy,
	reconcileUpgrades *usecase.ReconcileUpgrades,
	registerProxy *usecase.RegisterProxy,
	checkCompatibility *usecase.CheckCompatibility,
	showLayout *usecase.ShowLayout,
	listProxies *usecase.ListProxies,
	showHistory *usecase.ShowHistory,
	applyPlan *usecase.ApplyPlan,
	dialer *blockchain.Dialer,
) (*App, error) {
	return &App{
		Config:             cfg,
		UpgradeProxy:       upgradeProxy,
		ReconcileUpgrades:  reconcileUpgrades,
		RegisterProxy:      registerProxy,
		CheckCompatibility: checkCompatibility,
		ShowLayout:         showLayout,
		ListProxies:        listProxies,
		ShowHistory:        showHistory,
		ApplyPlan:          applyPlan,
		Dialer:             dialer,
	}, nil
}

// Close releases network connections
func (a *App) Close() {
	if a.Dialer != nil {
		a.Dialer.Close()
	}
}
