package usecase

import (
	"context"
	"log/slog"

	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// ListProxiesParams filters the registry listing
type ListProxiesParams struct {
	Network     string // all networks when empty
	PendingOnly bool
}

// ProxyListing pairs a record with the artifact of its current implementation
type ProxyListing struct {
	Record   *models.ProxyRecord
	Artifact string
}

// ListProxies lists registered proxies. It reads only the registry.
type ListProxies struct {
	config   *config.RuntimeConfig
	registry ProxyRegistry
	log      *slog.Logger
}

// NewListProxies creates a new ListProxies use case
func NewListProxies(cfg *config.RuntimeConfig, registry ProxyRegistry, log *slog.Logger) *ListProxies {
	return &ListProxies{
		config:   cfg,
		registry: registry,
		log:      log.With("component", "ListProxies"),
	}
}

// Run returns matching records sorted by network and address
func (uc *ListProxies) Run(ctx context.Context, params ListProxiesParams) ([]ProxyListing, error) {
	records, err := uc.registry.List(ctx, params.Network)
	if err != nil {
		return nil, err
	}
	if params.PendingOnly {
		records = lo.Filter(records, func(r *models.ProxyRecord, _ int) bool { return r.IsPending() })
	}
	return lo.Map(records, func(r *models.ProxyRecord, _ int) ProxyListing {
		listing := ProxyListing{Record: r}
		if ref, ok := uc.registry.ArtifactFor(ctx, r.Network, r.CurrentImplementation); ok {
			listing.Artifact = ref.ArtifactKey
		}
		return listing
	}), nil
}

// ShowHistoryParams names the proxy whose journal to show
type ShowHistoryParams struct {
	Network string
	Proxy   string
}

// ShowHistoryResult is a proxy's record and its journal, oldest first
type ShowHistoryResult struct {
	Record  *models.ProxyRecord
	Entries []models.JournalEntry
}

// ShowHistory returns the upgrade journal of one proxy
type ShowHistory struct {
	config   *config.RuntimeConfig
	registry ProxyRegistry
}

// NewShowHistory creates a new ShowHistory use case
func NewShowHistory(cfg *config.RuntimeConfig, registry ProxyRegistry) *ShowHistory {
	return &ShowHistory{config: cfg, registry: registry}
}

// Run resolves the proxy and loads its history
func (uc *ShowHistory) Run(ctx context.Context, params ShowHistoryParams) (*ShowHistoryResult, error) {
	network, err := resolveNetwork(uc.config, params.Network)
	if err != nil {
		return nil, err
	}
	proxy, err := resolveProxy(ctx, uc.registry, network, params.Proxy)
	if err != nil {
		return nil, err
	}
	record, err := uc.registry.Lookup(ctx, network, proxy)
	if err != nil {
		return nil, err
	}
	entries, err := uc.registry.History(ctx, network, proxy)
	if err != nil {
		return nil, err
	}
	return &ShowHistoryResult{Record: record, Entries: entries}, nil
}
