package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// resolveNetwork picks the explicit network, then the command line one,
// then the config file default.
func resolveNetwork(cfg *config.RuntimeConfig, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if cfg != nil && cfg.Network != nil && cfg.Network.Name != "" {
		return cfg.Network.Name, nil
	}
	if cfg != nil && cfg.UpgradeConfig != nil && cfg.UpgradeConfig.DefaultNetwork != "" {
		return cfg.UpgradeConfig.DefaultNetwork, nil
	}
	return "", fmt.Errorf("%w: no network selected (use --network or set default_network)", domain.ErrUnknownNetwork)
}

// resolveProxy accepts an address or the label of a registered proxy
func resolveProxy(ctx context.Context, registry ProxyRegistry, network, ref string) (common.Address, error) {
	if common.IsHexAddress(ref) {
		return common.HexToAddress(ref), nil
	}
	if strings.HasPrefix(ref, "0x") {
		return common.Address{}, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, ref)
	}

	records, err := registry.List(ctx, network)
	if err != nil {
		return common.Address{}, err
	}
	matches := lo.Filter(records, func(r *models.ProxyRecord, _ int) bool {
		return strings.EqualFold(r.Label, ref)
	})
	switch len(matches) {
	case 1:
		return matches[0].ProxyAddress, nil
	case 0:
		labels := lo.Uniq(lo.FilterMap(records, func(r *models.ProxyRecord, _ int) (string, bool) {
			return r.Label, r.Label != ""
		}))
		sort.Strings(labels)
		if found := fuzzy.Find(ref, labels); len(found) > 0 {
			return common.Address{}, fmt.Errorf("%w: no proxy labelled %q on %s, did you mean %q?", domain.ErrProxyNotFound, ref, network, found[0].Str)
		}
		return common.Address{}, fmt.Errorf("%w: no proxy labelled %q on %s", domain.ErrProxyNotFound, ref, network)
	default:
		return common.Address{}, fmt.Errorf("label %q matches %d proxies on %s; use the address", ref, len(matches), network)
	}
}

// readImplementation reads the EIP-1967 implementation slot
func readImplementation(ctx context.Context, client NetworkClient, proxy common.Address) (common.Address, error) {
	value, err := client.ReadStorageSlot(ctx, proxy, models.ImplementationSlot)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(value.Bytes()), nil
}

// readAdmin reads the EIP-1967 admin slot
func readAdmin(ctx context.Context, client NetworkClient, proxy common.Address) (common.Address, error) {
	value, err := client.ReadStorageSlot(ctx, proxy, models.AdminSlot)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(value.Bytes()), nil
}
