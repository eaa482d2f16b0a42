package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
)

// CheckCompatibilityParams names the two artifacts to compare. When Proxy
// is set the baseline is the proxy's deployed implementation instead of Old.
type CheckCompatibilityParams struct {
	Old     string
	New     string
	Network string
	Proxy   string
}

// CheckCompatibilityResult holds the verdict and both layouts
type CheckCompatibilityResult struct {
	Old       *models.Artifact
	New       *models.Artifact
	OldLayout *models.StorageLayout
	NewLayout *models.StorageLayout
	Verdict   *models.CompatibilityVerdict
}

// CheckCompatibility compares storage layouts without sending anything
type CheckCompatibility struct {
	config    *config.RuntimeConfig
	artifacts ArtifactStore
	analyzer  LayoutAnalyzer
	checker   CompatibilityChecker
	registry  ProxyRegistry
	dialer    NetworkDialer
	log       *slog.Logger
}

// NewCheckCompatibility creates a new CheckCompatibility use case
func NewCheckCompatibility(
	cfg *config.RuntimeConfig,
	artifacts ArtifactStore,
	analyzer LayoutAnalyzer,
	checker CompatibilityChecker,
	registry ProxyRegistry,
	dialer NetworkDialer,
	log *slog.Logger,
) *CheckCompatibility {
	return &CheckCompatibility{
		config:    cfg,
		artifacts: artifacts,
		analyzer:  analyzer,
		checker:   checker,
		registry:  registry,
		dialer:    dialer,
		log:       log.With("component", "CheckCompatibility"),
	}
}

// Run resolves both artifacts and checks them
func (uc *CheckCompatibility) Run(ctx context.Context, params CheckCompatibilityParams) (*CheckCompatibilityResult, error) {
	var (
		old *models.Artifact
		err error
	)
	if params.Proxy != "" {
		old, err = uc.deployedArtifact(ctx, params.Network, params.Proxy)
	} else {
		old, err = uc.artifacts.Get(ctx, params.Old)
	}
	if err != nil {
		return nil, err
	}
	upd, err := uc.artifacts.Get(ctx, params.New)
	if err != nil {
		return nil, err
	}

	oldLayout, err := uc.analyzer.ExtractLayout(old)
	if err != nil {
		return nil, err
	}
	newLayout, err := uc.analyzer.ExtractLayout(upd)
	if err != nil {
		return nil, err
	}

	verdict := uc.checker.Check(oldLayout, newLayout)
	uc.log.Debug("checked layouts", "old", old.Key(), "new", upd.Key(), "compatible", verdict.Compatible, "violations", len(verdict.Violations))
	return &CheckCompatibilityResult{
		Old:       old,
		New:       upd,
		OldLayout: oldLayout,
		NewLayout: newLayout,
		Verdict:   verdict,
	}, nil
}

func (uc *CheckCompatibility) deployedArtifact(ctx context.Context, network, ref string) (*models.Artifact, error) {
	network, err := resolveNetwork(uc.config, network)
	if err != nil {
		return nil, err
	}
	proxy, err := resolveProxy(ctx, uc.registry, network, ref)
	if err != nil {
		return nil, err
	}
	record, err := uc.registry.Lookup(ctx, network, proxy)
	if err != nil {
		return nil, err
	}
	client, err := uc.dialer.Dial(ctx, network)
	if err != nil {
		return nil, err
	}
	artifact, err := resolveBaseline(ctx, uc.artifacts, uc.registry, client, record)
	if err != nil {
		return nil, fmt.Errorf("resolving deployed implementation of %s: %w", record.DisplayName(), err)
	}
	return artifact, nil
}

// ShowLayoutParams names the artifact whose layout to print
type ShowLayoutParams struct {
	Artifact string
}

// ShowLayout extracts one artifact's storage layout
type ShowLayout struct {
	artifacts ArtifactStore
	analyzer  LayoutAnalyzer
}

// NewShowLayout creates a new ShowLayout use case
func NewShowLayout(artifacts ArtifactStore, analyzer LayoutAnalyzer) *ShowLayout {
	return &ShowLayout{artifacts: artifacts, analyzer: analyzer}
}

// Run returns the artifact and its layout
func (uc *ShowLayout) Run(ctx context.Context, params ShowLayoutParams) (*models.Artifact, *models.StorageLayout, error) {
	artifact, err := uc.artifacts.Get(ctx, params.Artifact)
	if err != nil {
		return nil, nil, err
	}
	layout, err := uc.analyzer.ExtractLayout(artifact)
	if err != nil {
		return nil, nil, err
	}
	return artifact, layout, nil
}
