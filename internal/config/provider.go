package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
)

// Provider creates RuntimeConfig for Wire dependency injection
func Provider(v *viper.Viper) (*config.RuntimeConfig, error) {
	// Get project root from viper
	projectRoot := v.GetString("project_root")
	if projectRoot == "" {
		// Try to find project root
		var err error
		projectRoot, err = FindProjectRoot()
		if err != nil {
			return nil, fmt.Errorf("failed to find project root: %w", err)
		}
	}

	cfg := &config.RuntimeConfig{
		ProjectRoot:    projectRoot,
		DataDir:        filepath.Join(projectRoot, ".treb"),
		Signer:         v.GetString("signer"),
		Debug:          v.GetBool("debug"),
		NonInteractive: v.GetBool("non_interactive"),
		JSON:           v.GetBool("json"),
		Timeout:        v.GetDuration("timeout"),
		Concurrency:    v.GetInt("concurrency"),
		DryRun:         v.GetBool("dry_run"),
	}

	loadEnvFiles(projectRoot)

	upgradeConfig, err := loadUpgradeConfig(projectRoot)
	if err != nil {
		return nil, err
	}
	foundryConfig, err := loadFoundryConfig(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to load foundry config: %w", err)
	}
	switch {
	case upgradeConfig != nil:
		cfg.ConfigSource = UpgradeFileName
	case foundryConfig != nil:
		cfg.ConfigSource = "foundry.toml"
	}
	cfg.UpgradeConfig = mergeFoundryConfig(upgradeConfig, foundryConfig)
	if cfg.UpgradeConfig == nil {
		cfg.UpgradeConfig = &config.UpgradeFileConfig{}
	}

	artifactsDir := v.GetString("artifacts")
	if artifactsDir == "" {
		artifactsDir = cfg.UpgradeConfig.ArtifactsDir
	}
	if artifactsDir == "" {
		artifactsDir = "out"
	}
	if !filepath.IsAbs(artifactsDir) {
		artifactsDir = filepath.Join(projectRoot, artifactsDir)
	}
	cfg.ArtifactsDir = artifactsDir

	// Resolve network if specified, falling back to the configured default
	networkName := v.GetString("network")
	explicit := networkName != ""
	if !explicit {
		networkName = cfg.UpgradeConfig.DefaultNetwork
	}
	if networkName != "" {
		network, ok := resolveNetwork(cfg.UpgradeConfig, networkName)
		if !ok && explicit {
			return nil, fmt.Errorf("failed to resolve network %s: %w", networkName, domain.ErrUnknownNetwork)
		}
		cfg.Network = network
	}

	return cfg, nil
}

// resolveNetwork looks a network up case-insensitively
func resolveNetwork(fc *config.UpgradeFileConfig, name string) (*config.Network, bool) {
	for key, nc := range fc.Networks {
		if strings.EqualFold(key, name) {
			return &config.Network{
				Name:          key,
				ChainID:       nc.ChainID,
				RPCURL:        nc.RPCURL,
				Confirmations: nc.Confirmations,
				ExplorerURL:   nc.ExplorerURL,
			}, true
		}
	}
	return nil, false
}

// FindProjectRoot walks up from current directory to find treb-upgrade.toml
// or foundry.toml
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findProjectRoot(dir)
}

func findProjectRoot(dir string) (string, error) {
	for {
		for _, marker := range []string{UpgradeFileName, "foundry.toml"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root without finding a marker
			return "", fmt.Errorf("not in a project (%s or foundry.toml not found)", UpgradeFileName)
		}
		dir = parent
	}
}

// SetupViper creates and configures a viper instance
func SetupViper(projectRoot string, cmd *cobra.Command) *viper.Viper {
	v := viper.New()

	// Set up config file
	v.SetConfigName("config.local")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(projectRoot, ".treb"))

	// Set up environment variables
	v.SetEnvPrefix("TREB")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Set defaults
	v.SetDefault("timeout", "5m")
	v.SetDefault("concurrency", 4)
	v.SetDefault("debug", false)
	v.SetDefault("non_interactive", false)
	v.SetDefault("project_root", projectRoot)

	// Try to read config file (ignore error if not found)
	_ = v.ReadInConfig()

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	})

	return v
}
