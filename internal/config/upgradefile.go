package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
)

// UpgradeFileName is the project configuration file
const UpgradeFileName = "treb-upgrade.toml"

// loadUpgradeConfig loads and parses treb-upgrade.toml if it exists.
// Returns (nil, nil) when the file does not exist.
func loadUpgradeConfig(projectRoot string) (*config.UpgradeFileConfig, error) {
	path := filepath.Join(projectRoot, UpgradeFileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var cfg config.UpgradeFileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", UpgradeFileName, err)
	}

	// Expand environment variables in endpoints and credentials
	for name, nc := range cfg.Networks {
		nc.RPCURL = os.ExpandEnv(nc.RPCURL)
		nc.ExplorerURL = os.ExpandEnv(nc.ExplorerURL)
		cfg.Networks[name] = nc
	}
	for name, sc := range cfg.Signers {
		sc.PrivateKey = os.ExpandEnv(sc.PrivateKey)
		sc.Address = os.ExpandEnv(sc.Address)
		cfg.Signers[name] = sc
	}

	if err := validateUpgradeConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", UpgradeFileName, err)
	}
	return &cfg, nil
}

func validateUpgradeConfig(cfg *config.UpgradeFileConfig) error {
	if cfg.DefaultNetwork != "" {
		if _, ok := cfg.Networks[cfg.DefaultNetwork]; !ok {
			return fmt.Errorf("default_network %q has no [networks.%s] section", cfg.DefaultNetwork, cfg.DefaultNetwork)
		}
	}
	if cfg.DefaultSigner != "" {
		if _, ok := cfg.Signers[cfg.DefaultSigner]; !ok {
			return fmt.Errorf("default_signer %q has no [signers.%s] section", cfg.DefaultSigner, cfg.DefaultSigner)
		}
	}
	for name, sc := range cfg.Signers {
		switch sc.Type {
		case config.SignerTypePrivateKey, "":
		default:
			return fmt.Errorf("signer %s: unsupported type %q", name, sc.Type)
		}
	}
	return nil
}

// mergeFoundryConfig fills what treb-upgrade.toml leaves out from foundry.toml
func mergeFoundryConfig(cfg, foundry *config.UpgradeFileConfig) *config.UpgradeFileConfig {
	if foundry == nil {
		return cfg
	}
	if cfg == nil {
		return foundry
	}
	if cfg.Networks == nil {
		cfg.Networks = make(map[string]config.NetworkConfig)
	}
	for name, nc := range foundry.Networks {
		if _, ok := cfg.Networks[name]; !ok {
			cfg.Networks[name] = nc
		}
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = foundry.ArtifactsDir
	}
	if len(cfg.Compilers) == 0 {
		cfg.Compilers = foundry.Compilers
	}
	return cfg
}
