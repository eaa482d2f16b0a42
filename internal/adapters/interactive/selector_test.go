package interactive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

func TestFuzzySearch(t *testing.T) {
	items := []string{"PoolManager@0.8.20", "PoolManagerV2@0.8.24", "Vault@0.8.20"}
	search := createFuzzySearchFunc(items)

	assert.True(t, search("", 2))
	assert.True(t, search("vault", 2))
	assert.True(t, search("pmv2", 1))
	assert.False(t, search("vault", 0))
}

func TestSelectorAdapter_NonInteractive(t *testing.T) {
	s := NewSelectorAdapter(&config.RuntimeConfig{NonInteractive: true})
	ctx := context.Background()

	_, err := s.SelectArtifact(ctx, []string{"A", "B"}, "Pick")
	assert.Error(t, err)

	ok, err := s.ConfirmUpgrade(ctx, &usecase.UpgradePlanSummary{Proxy: &models.ProxyRecord{}})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSelectorAdapter_SingleChoice(t *testing.T) {
	s := NewSelectorAdapter(&config.RuntimeConfig{})
	ref, err := s.SelectArtifact(context.Background(), []string{"Vault@0.8.20"}, "Pick")
	require.NoError(t, err)
	assert.Equal(t, "Vault@0.8.20", ref)
}
