package config

import (
	"time"
)

// RuntimeConfig represents the complete runtime configuration
// This is injected into use cases and contains all resolved settings
type RuntimeConfig struct {
	// Core settings
	ProjectRoot  string
	DataDir      string
	ArtifactsDir string

	// Context settings
	Network *Network // nil if not specified
	Signer  string   // name of a [signers.<name>] entry

	// Execution settings
	Debug          bool
	NonInteractive bool
	JSON           bool // Output in JSON format
	Timeout        time.Duration
	Concurrency    int

	// Command-specific settings (only populated for relevant commands)
	DryRun bool

	// Config source tracking
	ConfigSource string // "treb-upgrade.toml" or "foundry.toml"

	// Resolved configuration file
	UpgradeConfig *UpgradeFileConfig
}

// Network represents network configuration
type Network struct {
	Name          string `json:"name"`
	ChainID       uint64 `json:"chainId"`
	RPCURL        string `json:"rpcUrl"`
	Confirmations uint64 `json:"confirmations,omitempty"`
	ExplorerURL   string `json:"explorerUrl,omitempty"`
}
