package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

func TestListProxies(t *testing.T) {
	h := newHarness(t, poolV1(), poolV2())
	ctx := context.Background()
	list := usecase.NewListProxies(h.cfg, h.registry, discardLogger())

	listings, err := list.Run(ctx, usecase.ListProxiesParams{})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Empty(t, listings[0].Artifact)

	_, err = h.upgrader(t).Run(ctx, upgradeParams("PoolV2"))
	require.NoError(t, err)

	listings, err = list.Run(ctx, usecase.ListProxiesParams{Network: "anvil"})
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "PoolV2@0.8.20", listings[0].Artifact)

	pending, err := list.Run(ctx, usecase.ListProxiesParams{PendingOnly: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	other, err := list.Run(ctx, usecase.ListProxiesParams{Network: "sepolia"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestShowHistory(t *testing.T) {
	h := newHarness(t, poolV1(), poolV2())
	ctx := context.Background()

	_, err := h.upgrader(t).Run(ctx, upgradeParams("PoolV2"))
	require.NoError(t, err)

	res, err := usecase.NewShowHistory(h.cfg, h.registry).Run(ctx, usecase.ShowHistoryParams{Proxy: "poolmanager"})
	require.NoError(t, err)
	assert.Equal(t, proxyAddr, res.Record.ProxyAddress)

	var statuses []models.UpgradeStatus
	for _, e := range res.Entries {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []models.UpgradeStatus{
		models.StatusRegistered,
		models.StatusPending,
		models.StatusSubmitted,
		models.StatusConfirmed,
	}, statuses)

	_, err = usecase.NewShowHistory(h.cfg, h.registry).Run(ctx, usecase.ShowHistoryParams{Proxy: "Vault"})
	assert.True(t, errors.Is(err, domain.ErrProxyNotFound))
}
