package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
)

// FoundryTOML is the part of foundry.toml the orchestrator reads
type FoundryTOML struct {
	RpcEndpoints map[string]string            `toml:"rpc_endpoints"`
	Etherscan    map[string]map[string]string `toml:"etherscan"`
	Profile      map[string]FoundryProfile    `toml:"profile"`
}

// FoundryProfile holds the compiler settings of one profile
type FoundryProfile struct {
	Out           string `toml:"out"`
	SolcVersion   string `toml:"solc_version"`
	Solc          string `toml:"solc"`
	Optimizer     bool   `toml:"optimizer"`
	OptimizerRuns int    `toml:"optimizer_runs"`
}

// loadEnvFiles loads .env files so ${VAR} references can be expanded
func loadEnvFiles(projectRoot string) {
	envFiles := []string{
		filepath.Join(projectRoot, ".env"),
		filepath.Join(projectRoot, ".env.local"),
	}

	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				// Log warning but don't fail
				fmt.Fprintf(os.Stderr, "Warning: Failed to load %s: %v\n", envFile, err)
			}
		}
	}
}

// loadFoundryConfig derives an upgrade config from foundry.toml. Returns
// (nil, nil) when foundry.toml does not exist.
func loadFoundryConfig(projectRoot string) (*config.UpgradeFileConfig, error) {
	foundryPath := filepath.Join(projectRoot, "foundry.toml")
	if _, err := os.Stat(foundryPath); os.IsNotExist(err) {
		return nil, nil
	}

	var raw FoundryTOML
	if _, err := toml.DecodeFile(foundryPath, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse foundry.toml: %w", err)
	}

	cfg := &config.UpgradeFileConfig{
		Networks: make(map[string]config.NetworkConfig),
		Signers:  make(map[string]config.SignerConfig),
	}

	for name, url := range raw.RpcEndpoints {
		nc := config.NetworkConfig{RPCURL: os.ExpandEnv(url)}
		if es, ok := raw.Etherscan[name]; ok {
			nc.ExplorerURL = os.ExpandEnv(es["url"])
		}
		cfg.Networks[name] = nc
	}

	if profile, ok := raw.Profile["default"]; ok {
		if profile.Out != "" {
			cfg.ArtifactsDir = profile.Out
		}
		version := profile.SolcVersion
		if version == "" {
			version = profile.Solc
		}
		if version != "" {
			cfg.Compilers = append(cfg.Compilers, config.CompilerConfig{
				Version:   version,
				Optimizer: profile.Optimizer,
				Runs:      profile.OptimizerRuns,
			})
		}
	}

	return cfg, nil
}
