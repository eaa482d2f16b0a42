package config

// UpgradeFileConfig represents the treb-upgrade.toml configuration file
type UpgradeFileConfig struct {
	DefaultNetwork string                   `toml:"default_network,omitempty"`
	DefaultSigner  string                   `toml:"default_signer,omitempty"`
	ArtifactsDir   string                   `toml:"artifacts_dir,omitempty"`
	Networks       map[string]NetworkConfig `toml:"networks"`
	Signers        map[string]SignerConfig  `toml:"signers"`
	Compilers      []CompilerConfig         `toml:"compilers"`
}

// NetworkConfig represents a [networks.<name>] section
type NetworkConfig struct {
	RPCURL        string `toml:"rpc_url"`
	ChainID       uint64 `toml:"chain_id,omitempty"` // fetched from the endpoint when omitted
	Confirmations uint64 `toml:"confirmations,omitempty"`
	ExplorerURL   string `toml:"explorer_url,omitempty"`
}

type SignerType string

var (
	SignerTypePrivateKey SignerType = "private_key"
)

// SignerConfig represents a [signers.<name>] section
type SignerConfig struct {
	Type       SignerType `toml:"type"`
	PrivateKey string     `toml:"private_key,omitempty"` //nolint:gosec // holds env var reference, not a literal secret
	Address    string     `toml:"address,omitempty"`     // optional; checked against the key
}

// CompilerConfig represents one [[compilers]] entry. Artifacts are produced
// by an external pipeline; the list is used to flag unexpected compilers.
type CompilerConfig struct {
	Version   string `toml:"version"`
	Optimizer bool   `toml:"optimizer,omitempty"`
	Runs      int    `toml:"runs,omitempty"`
}
