package usecase_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPlan(t *testing.T) {
	path := writePlan(t, `
network: anvil
signer: admin
timeout: 2m
upgrades:
  - proxy: PoolManager
    artifact: PoolV2
  - proxy: "0x2000000000000000000000000000000000000002"
    artifact: PoolV2@0.8.20
    call: "0x8129fc1c"
`)
	plan, err := usecase.LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, "anvil", plan.Network)
	assert.Equal(t, "admin", plan.Signer)
	assert.Equal(t, 2*time.Minute, plan.Timeout)
	require.Len(t, plan.Upgrades, 2)
	assert.Equal(t, "0x8129fc1c", plan.Upgrades[1].Call)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", "network: anvil\n", "no upgrades"},
		{"missing artifact", "upgrades:\n  - proxy: PoolManager\n", "needs proxy and artifact"},
		{"bad calldata", "upgrades:\n  - proxy: PoolManager\n    artifact: PoolV2\n    call: nothex\n", "invalid call data"},
		{"bad yaml", "upgrades: [", "failed to parse plan"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := usecase.LoadPlan(writePlan(t, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestApplyPlan_RunsItemsIndependently(t *testing.T) {
	h := newHarness(t, poolV1(), poolV2(), poolBroken())
	ctx := context.Background()

	second := common.HexToAddress("0x2000000000000000000000000000000000000002")
	h.client.setSlot(second, models.ImplementationSlot, implV1)
	require.NoError(t, h.registry.Register(ctx, &models.ProxyRecord{
		ProxyAddress:          second,
		Network:               "anvil",
		CurrentImplementation: implV1,
		Admin:                 adminAddr,
	}))

	plan := &usecase.UpgradePlan{
		Network: "anvil",
		Upgrades: []usecase.UpgradePlanItem{
			{Proxy: "PoolManager", Artifact: "PoolV2"},
			{Proxy: second.Hex(), Artifact: "PoolBroken"},
		},
	}
	res, err := usecase.NewApplyPlan(h.cfg, h.upgrader(t), discardLogger()).Run(ctx, usecase.ApplyPlanParams{Plan: plan, Concurrency: 2})
	assert.ErrorContains(t, err, "1 of 2 upgrades failed")
	require.Len(t, res.Items, 2)
	assert.Equal(t, 1, res.Failed)

	require.NoError(t, res.Items[0].Err)
	assert.Equal(t, models.StateCommitted, res.Items[0].Result.State)
	assert.True(t, errors.Is(res.Items[1].Err, domain.ErrIncompatibleUpgrade))
	assert.Equal(t, 1, h.client.sendCount())
}

func TestApplyPlan_DryRun(t *testing.T) {
	h := newHarness(t, poolV1(), poolV2())
	plan := &usecase.UpgradePlan{Upgrades: []usecase.UpgradePlanItem{{Proxy: "PoolManager", Artifact: "PoolV2"}}}

	res, err := usecase.NewApplyPlan(h.cfg, h.upgrader(t), discardLogger()).Run(context.Background(), usecase.ApplyPlanParams{Plan: plan, DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.Items[0].Result.DryRun)
	assert.Equal(t, 0, h.client.sendCount())
}
