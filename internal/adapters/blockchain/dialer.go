package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// well-known explorers, used when a network does not configure one
var defaultExplorers = map[uint64]string{
	1:        "https://etherscan.io",
	11155111: "https://sepolia.etherscan.io",
	10:       "https://optimistic.etherscan.io",
	42161:    "https://arbiscan.io",
	137:      "https://polygonscan.com",
	8453:     "https://basescan.org",
	5000:     "https://explorer.mantle.xyz",
}

// DialFunc opens a backend for an RPC endpoint
type DialFunc func(ctx context.Context, rpcURL string) (Backend, func(), error)

// DialEthClient connects with go-ethereum's ethclient
func DialEthClient(ctx context.Context, rpcURL string) (Backend, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return client, client.Close, nil
}

// Dialer resolves configured networks and caches one client per network
type Dialer struct {
	cfg  *config.RuntimeConfig
	dial DialFunc
	log  *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
	closers []func()
}

// NewDialer creates a dialer backed by ethclient
func NewDialer(cfg *config.RuntimeConfig, log *slog.Logger) *Dialer {
	return NewDialerWith(cfg, DialEthClient, log)
}

// NewDialerWith creates a dialer with a custom backend factory
func NewDialerWith(cfg *config.RuntimeConfig, dial DialFunc, log *slog.Logger) *Dialer {
	return &Dialer{
		cfg:     cfg,
		dial:    dial,
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Dial returns the client for network, connecting on first use
func (d *Dialer) Dial(ctx context.Context, network string) (usecase.NetworkClient, error) {
	net, err := d.Resolve(network)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[net.Name]; ok {
		return client, nil
	}
	if net.RPCURL == "" {
		return nil, fmt.Errorf("%w: %s has no rpc_url", domain.ErrUnknownNetwork, net.Name)
	}

	backend, closer, err := d.dial(ctx, net.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("network %s: %w", net.Name, err)
	}
	client, err := NewClient(ctx, net, backend, d.log)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, err
	}
	if net.ChainID == 0 {
		net.ChainID, _ = client.ChainID(ctx)
	}
	if net.ExplorerURL == "" {
		net.ExplorerURL = defaultExplorers[net.ChainID]
	}

	d.clients[net.Name] = client
	if closer != nil {
		d.closers = append(d.closers, closer)
	}
	d.log.Debug("connected to network", "network", net.Name, "chainId", net.ChainID)
	return client, nil
}

// Resolve looks a network up by name (case-insensitive). The network
// selected on the command line takes precedence over the config file.
func (d *Dialer) Resolve(name string) (*config.Network, error) {
	if name == "" {
		if d.cfg.Network != nil {
			return d.cfg.Network, nil
		}
		return nil, fmt.Errorf("%w: network not specified", domain.ErrUnknownNetwork)
	}
	if d.cfg.Network != nil && strings.EqualFold(d.cfg.Network.Name, name) {
		return d.cfg.Network, nil
	}

	if d.cfg.UpgradeConfig != nil {
		for key, nc := range d.cfg.UpgradeConfig.Networks {
			if !strings.EqualFold(key, name) {
				continue
			}
			return &config.Network{
				Name:          key,
				ChainID:       nc.ChainID,
				RPCURL:        nc.RPCURL,
				Confirmations: nc.Confirmations,
				ExplorerURL:   nc.ExplorerURL,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, name)
}

// Networks lists configured network names
func (d *Dialer) Networks() []string {
	var names []string
	if d.cfg.UpgradeConfig != nil {
		names = lo.Keys(d.cfg.UpgradeConfig.Networks)
	}
	if d.cfg.Network != nil && !lo.Contains(names, d.cfg.Network.Name) {
		names = append(names, d.cfg.Network.Name)
	}
	sort.Strings(names)
	return names
}

// Close closes all open connections
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.closers {
		c()
	}
	d.closers = nil
	d.clients = make(map[string]*Client)
}

// Ensure Dialer implements NetworkDialer
var _ usecase.NetworkDialer = (*Dialer)(nil)
