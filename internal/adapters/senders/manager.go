package senders

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// KeySigner signs with an in-memory private key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key, with or without 0x prefix
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key format")
	}
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// Service resolves [signers.<name>] entries from the config file
type Service struct {
	cfg *config.RuntimeConfig

	mu      sync.Mutex
	signers map[string]usecase.Signer
}

// NewService creates a new signer service
func NewService(cfg *config.RuntimeConfig) *Service {
	return &Service{
		cfg:     cfg,
		signers: make(map[string]usecase.Signer),
	}
}

// Signer returns the named signer. An empty name selects the signer chosen
// on the command line, then the configured default.
func (s *Service) Signer(name string) (usecase.Signer, error) {
	if name == "" {
		name = s.cfg.Signer
	}
	configs := s.configs()
	if name == "" {
		var err error
		if name, err = defaultSigner(s.cfg.UpgradeConfig, configs); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if signer, ok := s.signers[name]; ok {
		return signer, nil
	}

	sc, key, err := lookup(configs, name)
	if err != nil {
		return nil, err
	}
	signer, err := build(key, sc)
	if err != nil {
		return nil, fmt.Errorf("signer %s: %w", key, err)
	}
	s.signers[name] = signer
	return signer, nil
}

func (s *Service) configs() map[string]config.SignerConfig {
	if s.cfg.UpgradeConfig == nil {
		return nil
	}
	return s.cfg.UpgradeConfig.Signers
}

func lookup(configs map[string]config.SignerConfig, name string) (config.SignerConfig, string, error) {
	if sc, ok := configs[name]; ok {
		return sc, name, nil
	}
	for key, sc := range configs {
		if strings.EqualFold(key, name) {
			return sc, key, nil
		}
	}
	return config.SignerConfig{}, "", fmt.Errorf("signer '%s' not found", name)
}

func defaultSigner(fc *config.UpgradeFileConfig, configs map[string]config.SignerConfig) (string, error) {
	if fc != nil && fc.DefaultSigner != "" {
		return fc.DefaultSigner, nil
	}
	if _, ok := configs["default"]; ok {
		return "default", nil
	}
	if len(configs) == 1 {
		for name := range configs {
			return name, nil
		}
	}
	return "", fmt.Errorf("no default signer configured")
}

func build(name string, sc config.SignerConfig) (usecase.Signer, error) {
	switch sc.Type {
	case config.SignerTypePrivateKey, "":
		if sc.PrivateKey == "" {
			return nil, fmt.Errorf("private key not configured")
		}
		signer, err := NewKeySigner(sc.PrivateKey)
		if err != nil {
			return nil, err
		}
		if sc.Address != "" {
			if !common.IsHexAddress(sc.Address) {
				return nil, fmt.Errorf("invalid address %q", sc.Address)
			}
			if common.HexToAddress(sc.Address) != signer.Address() {
				return nil, fmt.Errorf("private key does not match address %s", sc.Address)
			}
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported signer type: %s", sc.Type)
	}
}

// Ensure Service implements SignerProvider
var _ usecase.SignerProvider = (*Service)(nil)
