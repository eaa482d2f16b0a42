package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/layout/layouttest"
)

const projectToml = `
default_network = "anvil"
artifacts_dir = "out"

[networks.anvil]
rpc_url = "http://127.0.0.1:8545"
chain_id = 31337
`

// writeArtifact writes a forge style artifact under out/<Name>.sol/
func writeArtifact(t *testing.T, root, name string, layout *models.LayoutMetadata) {
	t.Helper()
	code := hexutil.Encode([]byte{0x60, 0x80, byte(len(name))})
	doc := map[string]any{
		"bytecode":         map[string]any{"object": code},
		"deployedBytecode": map[string]any{"object": code},
		"metadata": map[string]any{
			"compiler": map[string]any{"version": "0.8.24+commit.e11b9ed9"},
			"settings": map[string]any{"compilationTarget": map[string]string{"src/" + name + ".sol": name}},
		},
		"storageLayout": layout,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	dir := filepath.Join(root, "out", name+".sol")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0644))
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, config.UpgradeFileName), []byte(projectToml), 0644))

	writeArtifact(t, root, "PoolManager", layouttest.New("PoolManager").
		Var("owner", "address").Var("fee", "uint256").Metadata())
	writeArtifact(t, root, "PoolManagerV2", layouttest.New("PoolManagerV2").
		Var("owner", "address").Var("fee", "uint256").Var("paused", "bool").Metadata())
	writeArtifact(t, root, "PoolManagerBroken", layouttest.New("PoolManagerBroken").
		Var("fee", "uint256").Var("owner", "address").Metadata())

	t.Chdir(root)
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--non-interactive"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	root := NewRootCmd()

	groups := map[string]string{
		"upgrade":   "upgrade",
		"apply":     "upgrade",
		"reconcile": "upgrade",
		"check":     "inspect",
		"layout":    "inspect",
		"register":  "registry",
		"proxies":   "registry",
		"history":   "registry",
		"version":   "",
	}
	for name, group := range groups {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
		assert.Equal(t, group, cmd.GroupID, name)
	}

	for _, flag := range []string{"network", "signer", "timeout", "json", "non-interactive", "debug", "artifacts"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}

	for _, name := range []string{"upgrade", "apply"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.NotNil(t, cmd.Flags().Lookup("no-wait"), name)
	}
}

func TestVersionCmd(t *testing.T) {
	config.SetBuildFlags("1.2.3", "abc123", "2026-01-01")
	t.Cleanup(func() { config.SetBuildFlags("dev", "unknown", "unknown") })

	// runs without a project
	t.Chdir(t.TempDir())
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "treb-upgrade version 1.2.3 (commit abc123")
}

func TestCheckCmd(t *testing.T) {
	newProject(t)

	out, err := execute(t, "check", "PoolManager", "PoolManagerV2")
	require.NoError(t, err)
	assert.Contains(t, out, "PoolManager@0.8.24+commit.e11b9ed9 → PoolManagerV2@0.8.24+commit.e11b9ed9")
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "Compatible")

	out, err = execute(t, "check", "PoolManager", "PoolManagerBroken")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrIncompatibleUpgrade))
	assert.Contains(t, out, "owner")
}

func TestCheckCmd_JSON(t *testing.T) {
	newProject(t)

	out, err := execute(t, "check", "PoolManager", "PoolManagerBroken", "--json")
	require.Error(t, err)

	var verdict models.CompatibilityVerdict
	require.NoError(t, json.Unmarshal([]byte(out), &verdict))
	assert.False(t, verdict.Compatible)
	assert.NotEmpty(t, verdict.Violations)
}

func TestCheckCmd_Args(t *testing.T) {
	newProject(t)

	_, err := execute(t, "check", "PoolManager")
	assert.Error(t, err)

	_, err = execute(t, "check", "PoolManager", "PoolManagerV2", "--proxy", "PoolManager")
	assert.Error(t, err)
}

func TestLayoutCmd(t *testing.T) {
	newProject(t)

	out, err := execute(t, "layout", "PoolManagerV2")
	require.NoError(t, err)
	assert.Contains(t, out, "owner")
	assert.Contains(t, out, "paused")

	out, err = execute(t, "layout", "PoolManagerV2", "--json")
	require.NoError(t, err)
	var layout models.StorageLayout
	require.NoError(t, json.Unmarshal([]byte(out), &layout))
	require.Len(t, layout.Slots, 3)
	assert.Equal(t, "paused", layout.Slots[2].Label)

	_, err = execute(t, "layout", "PoolManagr")
	assert.True(t, errors.Is(err, domain.ErrArtifactNotFound))
}

func TestProxiesCmd_EmptyRegistry(t *testing.T) {
	newProject(t)

	out, err := execute(t, "proxies")
	require.NoError(t, err)
	assert.Contains(t, out, "No proxies registered")

	out, err = execute(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "No proxies to reconcile")
}

func TestUpgradeCmd_InvalidCallData(t *testing.T) {
	newProject(t)

	_, err := execute(t, "upgrade", "PoolManager", "PoolManagerV2", "--call", "nothex")
	assert.ErrorContains(t, err, "invalid --call data")
}

func TestRegisterCmd_InvalidKind(t *testing.T) {
	newProject(t)

	_, err := execute(t, "register", "0x00000000000000000000000000000000000000a1", "--kind", "beacon")
	assert.ErrorContains(t, err, "invalid proxy kind")
}

func TestApplyCmd_NeedsConfirmation(t *testing.T) {
	root := newProject(t)
	plan := filepath.Join(root, "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte("upgrades:\n  - proxy: PoolManager\n    artifact: PoolManagerV2\n"), 0644))

	_, err := execute(t, "apply", plan)
	assert.ErrorContains(t, err, "pass --yes")
}

func TestCommands_RequireProject(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "proxies")
	assert.ErrorContains(t, err, "not in a project")
}
