package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
)

const upgradeToml = `
default_network = "sepolia"
default_signer = "deployer"
artifacts_dir = "build/out"

[networks.sepolia]
rpc_url = "${TREB_UPGRADE_TEST_RPC}"
chain_id = 11155111
confirmations = 2

[networks.anvil]
rpc_url = "http://localhost:8545"

[signers.deployer]
type = "private_key"
private_key = "${TREB_UPGRADE_TEST_KEY}"

[[compilers]]
version = "0.8.20"
optimizer = true
runs = 200
`

const foundryToml = `
[profile.default]
out = "out"
solc_version = "0.8.24"
optimizer = true
optimizer_runs = 1000

[rpc_endpoints]
mainnet = "${TREB_UPGRADE_TEST_MAINNET}"
anvil = "http://127.0.0.1:9999"

[etherscan]
mainnet = { key = "abc", url = "https://api.etherscan.io/api" }
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func unsetAfter(t *testing.T, keys ...string) {
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func newViper(dir string) *viper.Viper {
	v := viper.New()
	v.Set("project_root", dir)
	v.Set("timeout", "90s")
	return v
}

func TestProvider_UpgradeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, UpgradeFileName, upgradeToml)
	writeFile(t, dir, ".env", "TREB_UPGRADE_TEST_RPC=https://rpc.sepolia.example\nTREB_UPGRADE_TEST_KEY=0xabc\n")
	unsetAfter(t, "TREB_UPGRADE_TEST_RPC", "TREB_UPGRADE_TEST_KEY")

	cfg, err := Provider(newViper(dir))
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, ".treb"), cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "build/out"), cfg.ArtifactsDir)
	assert.Equal(t, UpgradeFileName, cfg.ConfigSource)
	assert.Equal(t, 90*time.Second, cfg.Timeout)

	require.NotNil(t, cfg.Network)
	assert.Equal(t, "sepolia", cfg.Network.Name)
	assert.Equal(t, "https://rpc.sepolia.example", cfg.Network.RPCURL)
	assert.Equal(t, uint64(11155111), cfg.Network.ChainID)
	assert.Equal(t, uint64(2), cfg.Network.Confirmations)

	assert.Equal(t, "0xabc", cfg.UpgradeConfig.Signers["deployer"].PrivateKey)
	assert.Equal(t, config.SignerTypePrivateKey, cfg.UpgradeConfig.Signers["deployer"].Type)
	require.Len(t, cfg.UpgradeConfig.Compilers, 1)
	assert.Equal(t, 200, cfg.UpgradeConfig.Compilers[0].Runs)
}

func TestProvider_ExplicitNetwork(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, UpgradeFileName, upgradeToml)

	v := newViper(dir)
	v.Set("network", "ANVIL")
	cfg, err := Provider(v)
	require.NoError(t, err)
	assert.Equal(t, "anvil", cfg.Network.Name)

	v.Set("network", "mainnet")
	_, err = Provider(v)
	assert.True(t, errors.Is(err, domain.ErrUnknownNetwork))
}

func TestProvider_FoundryFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "foundry.toml", foundryToml)
	t.Setenv("TREB_UPGRADE_TEST_MAINNET", "https://eth.example")

	cfg, err := Provider(newViper(dir))
	require.NoError(t, err)

	assert.Equal(t, "foundry.toml", cfg.ConfigSource)
	assert.Equal(t, filepath.Join(dir, "out"), cfg.ArtifactsDir)
	assert.Nil(t, cfg.Network)

	mainnet := cfg.UpgradeConfig.Networks["mainnet"]
	assert.Equal(t, "https://eth.example", mainnet.RPCURL)
	assert.Equal(t, "https://api.etherscan.io/api", mainnet.ExplorerURL)
	require.Len(t, cfg.UpgradeConfig.Compilers, 1)
	assert.Equal(t, "0.8.24", cfg.UpgradeConfig.Compilers[0].Version)
	assert.Equal(t, 1000, cfg.UpgradeConfig.Compilers[0].Runs)
}

func TestProvider_UpgradeFileWinsOverFoundry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, UpgradeFileName, upgradeToml)
	writeFile(t, dir, "foundry.toml", foundryToml)

	cfg, err := Provider(newViper(dir))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.UpgradeConfig.Networks["anvil"].RPCURL)
	assert.Contains(t, cfg.UpgradeConfig.Networks, "mainnet")
	assert.Equal(t, "0.8.20", cfg.UpgradeConfig.Compilers[0].Version)
}

func TestProvider_NoConfigFiles(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Provider(newViper(dir))
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigSource)
	assert.NotNil(t, cfg.UpgradeConfig)
	assert.Equal(t, filepath.Join(dir, "out"), cfg.ArtifactsDir)
}

func TestLoadUpgradeConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad toml", "default_network = ", "failed to parse"},
		{"unknown default network", "default_network = \"mainnet\"\n", "default_network \"mainnet\""},
		{"unknown default signer", "default_signer = \"ops\"\n", "default_signer \"ops\""},
		{"unsupported signer", "[signers.hw]\ntype = \"ledger\"\n", "unsupported type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, UpgradeFileName, tt.content)
			_, err := loadUpgradeConfig(dir)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, UpgradeFileName, "")
	nested := filepath.Join(root, "contracts", "src")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := findProjectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)

	_, err = findProjectRoot(t.TempDir())
	assert.Error(t, err)
}

func TestSetupViper_BindsFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("network", "", "")
	cmd.Flags().Bool("non-interactive", false, "")
	cmd.Flags().Bool("dry-run", false, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--network", "anvil", "--non-interactive", "--dry-run"}))

	v := SetupViper(t.TempDir(), cmd)
	assert.Equal(t, "anvil", v.GetString("network"))
	assert.True(t, v.GetBool("non_interactive"))
	assert.True(t, v.GetBool("dry_run"))
	assert.Equal(t, 4, v.GetInt("concurrency"))
	assert.Equal(t, 5*time.Minute, v.GetDuration("timeout"))
}
