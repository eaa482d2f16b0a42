package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/bindings"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// RegisterProxyParams contains parameters for importing a proxy
type RegisterProxyParams struct {
	Network     string
	Proxy       string
	Label       string
	Kind        models.ProxyKind // detected when empty
	Admin       string           // overrides the detected admin
	ArtifactRef string           // artifact the current implementation was built from
}

// RegisterProxyResult is the imported record
type RegisterProxyResult struct {
	Record   *models.ProxyRecord
	Artifact string
}

// RegisterProxy imports an existing EIP-1967 proxy into the registry. Only
// chain state is trusted: the implementation and admin come from the proxy's
// storage slots.
type RegisterProxy struct {
	config    *config.RuntimeConfig
	registry  ProxyRegistry
	dialer    NetworkDialer
	artifacts ArtifactStore
	log       *slog.Logger
}

// NewRegisterProxy creates a new RegisterProxy use case
func NewRegisterProxy(
	cfg *config.RuntimeConfig,
	registry ProxyRegistry,
	dialer NetworkDialer,
	artifacts ArtifactStore,
	log *slog.Logger,
) *RegisterProxy {
	return &RegisterProxy{
		config:    cfg,
		registry:  registry,
		dialer:    dialer,
		artifacts: artifacts,
		log:       log.With("component", "RegisterProxy"),
	}
}

// Run reads the proxy slots and records the proxy
func (uc *RegisterProxy) Run(ctx context.Context, params RegisterProxyParams) (*RegisterProxyResult, error) {
	network, err := resolveNetwork(uc.config, params.Network)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(params.Proxy) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, params.Proxy)
	}
	proxy := common.HexToAddress(params.Proxy)

	client, err := uc.dialer.Dial(ctx, network)
	if err != nil {
		return nil, err
	}

	impl, err := readImplementation(ctx, client, proxy)
	if err != nil {
		return nil, err
	}
	if impl == (common.Address{}) {
		return nil, fmt.Errorf("%s on %s has an empty implementation slot; not an EIP-1967 proxy", proxy.Hex(), network)
	}

	record := &models.ProxyRecord{
		ProxyAddress:          proxy,
		Network:               network,
		Label:                 params.Label,
		Kind:                  params.Kind,
		CurrentImplementation: impl,
	}
	if err := uc.detectAdmin(ctx, client, record); err != nil {
		return nil, err
	}
	if params.Admin != "" {
		if !common.IsHexAddress(params.Admin) {
			return nil, fmt.Errorf("%w: admin %q", domain.ErrInvalidAddress, params.Admin)
		}
		record.Admin = common.HexToAddress(params.Admin)
	}
	if record.Admin == (common.Address{}) {
		return nil, fmt.Errorf("could not determine the admin of %s; pass --admin", proxy.Hex())
	}

	var artifact *models.Artifact
	if params.ArtifactRef != "" {
		if artifact, err = uc.artifacts.Get(ctx, params.ArtifactRef); err != nil {
			return nil, err
		}
	}

	if err := uc.registry.Register(ctx, record); err != nil {
		return nil, err
	}

	result := &RegisterProxyResult{Record: record}
	if artifact != nil {
		if err := uc.artifacts.Put(ctx, artifact); err != nil {
			return nil, err
		}
		err = uc.registry.RecordImplementation(ctx, network, models.ImplementationRef{
			Address:        impl,
			BytecodeDigest: artifact.BytecodeDigest(),
			ArtifactKey:    artifact.Key(),
			LayoutHash:     artifact.SourceLayoutHash,
		})
		if err != nil {
			return nil, err
		}
		result.Artifact = artifact.Key()
	}

	uc.log.Info("registered proxy", "network", network, "proxy", proxy.Hex(), "implementation", impl.Hex(), "kind", record.Kind)
	return result, nil
}

// detectAdmin fills Kind, Admin and AdminContract. A non-empty admin slot is
// a transparent proxy, whose admin is either an account or a ProxyAdmin
// contract owned by one. An empty admin slot means UUPS: the owner is asked
// through the proxy.
func (uc *RegisterProxy) detectAdmin(ctx context.Context, client NetworkClient, record *models.ProxyRecord) error {
	admin, err := readAdmin(ctx, client, record.ProxyAddress)
	if err != nil {
		return err
	}

	if admin == (common.Address{}) {
		if record.Kind == "" {
			record.Kind = models.UUPSProxy
		}
		if owner, ok := uc.owner(ctx, client, record.ProxyAddress); ok {
			record.Admin = owner
		}
		return nil
	}

	if record.Kind == "" {
		record.Kind = models.TransparentProxy
	}
	code, err := client.CodeAt(ctx, admin)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		record.Admin = admin
		return nil
	}
	owner, ok := uc.owner(ctx, client, admin)
	if !ok {
		return fmt.Errorf("admin %s of %s is a contract without owner()", admin.Hex(), record.ProxyAddress.Hex())
	}
	record.Admin = owner
	record.AdminContract = &admin
	return nil
}

func (uc *RegisterProxy) owner(ctx context.Context, client NetworkClient, target common.Address) (common.Address, bool) {
	out, err := client.Call(ctx, target, bindings.EncodeOwner())
	if err != nil {
		uc.log.Debug("owner() call failed", "target", target.Hex(), "error", err)
		return common.Address{}, false
	}
	owner, err := bindings.DecodeOwner(out)
	if err != nil || owner == (common.Address{}) {
		return common.Address{}, false
	}
	return owner, true
}
