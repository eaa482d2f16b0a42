package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/layout"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

func (h *harness) checker(t *testing.T) *usecase.CheckCompatibility {
	t.Helper()
	analyzer, err := layout.NewAnalyzer(discardLogger())
	require.NoError(t, err)
	return usecase.NewCheckCompatibility(h.cfg, h.artifacts, analyzer, layout.NewChecker(), h.registry, fakeDialer{"anvil": h.client}, discardLogger())
}

func TestCheckCompatibility_Artifacts(t *testing.T) {
	h := newHarness(t, poolV1(), poolV2(), poolBroken())
	ctx := context.Background()

	res, err := h.checker(t).Run(ctx, usecase.CheckCompatibilityParams{Old: "PoolV1", New: "PoolV2"})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Compatible)
	assert.Len(t, res.OldLayout.Slots, 2)
	assert.Len(t, res.NewLayout.Slots, 3)

	res, err = h.checker(t).Run(ctx, usecase.CheckCompatibilityParams{Old: "PoolV1", New: "PoolBroken"})
	require.NoError(t, err)
	assert.False(t, res.Verdict.Compatible)
	assert.NotEmpty(t, res.Verdict.Violations)

	_, err = h.checker(t).Run(ctx, usecase.CheckCompatibilityParams{Old: "PoolV1", New: "Missing"})
	assert.True(t, errors.Is(err, domain.ErrArtifactNotFound))
}

func TestCheckCompatibility_AgainstDeployedProxy(t *testing.T) {
	h := newHarness(t, poolV1(), poolV2())

	res, err := h.checker(t).Run(context.Background(), usecase.CheckCompatibilityParams{Proxy: "PoolManager", New: "PoolV2"})
	require.NoError(t, err)
	assert.Equal(t, "PoolV1@0.8.20", res.Old.Key())
	assert.True(t, res.Verdict.Compatible)
	assert.Equal(t, 0, h.client.sendCount())
}

func TestShowLayout(t *testing.T) {
	h := newHarness(t, poolV1())
	analyzer, err := layout.NewAnalyzer(discardLogger())
	require.NoError(t, err)

	artifact, l, err := usecase.NewShowLayout(h.artifacts, analyzer).Run(context.Background(), usecase.ShowLayoutParams{Artifact: "PoolV1"})
	require.NoError(t, err)
	assert.Equal(t, "PoolV1", artifact.Name)
	require.Len(t, l.Slots, 2)
	assert.Equal(t, "balance", l.Slots[0].Label)
	assert.Equal(t, "owner", l.Slots[1].Label)
}
