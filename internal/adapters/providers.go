package adapters

import (
	"github.com/google/wire"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/artifacts"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/blockchain"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/fs"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/interactive"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/locks"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/registry"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/senders"
	"github.com/trebuchet-org/treb-upgrade/internal/layout"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// FSSet provides filesystem-based implementations
var FSSet = wire.NewSet(
	artifacts.NewStore,
	wire.Bind(new(usecase.ArtifactStore), new(*artifacts.Store)),

	fs.NewUpgradeJournalAdapter,
	wire.Bind(new(registry.Journal), new(*fs.UpgradeJournalAdapter)),
)

// RegistrySet provides the proxy registry on top of the journal
var RegistrySet = wire.NewSet(
	registry.NewRegistry,
	wire.Bind(new(usecase.ProxyRegistry), new(*registry.Registry)),

	locks.NewKeyedMutex,
	wire.Bind(new(usecase.ProxyLocker), new(*locks.KeyedMutex)),
)

// LayoutSet provides layout extraction and compatibility checking
var LayoutSet = wire.NewSet(
	layout.NewAnalyzer,
	wire.Bind(new(usecase.LayoutAnalyzer), new(*layout.Analyzer)),

	layout.NewChecker,
	wire.Bind(new(usecase.CompatibilityChecker), new(*layout.Checker)),
)

// BlockchainSet provides network access and signing
var BlockchainSet = wire.NewSet(
	blockchain.NewDialer,
	wire.Bind(new(usecase.NetworkDialer), new(*blockchain.Dialer)),

	senders.NewService,
	wire.Bind(new(usecase.SignerProvider), new(*senders.Service)),
)

// InteractiveSet provides interactive implementations
var InteractiveSet = wire.NewSet(
	interactive.NewSelectorAdapter,
	wire.Bind(new(usecase.UpgradeConfirmer), new(*interactive.SelectorAdapter)),
	wire.Bind(new(usecase.ArtifactSelector), new(*interactive.SelectorAdapter)),
)

// AllAdapters includes all adapter sets
var AllAdapters = wire.NewSet(
	FSSet,
	RegistrySet,
	LayoutSet,
	BlockchainSet,
	InteractiveSet,
)
