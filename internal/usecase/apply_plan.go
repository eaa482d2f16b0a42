package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/config"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// UpgradePlan is a batch of independent upgrades read from YAML
type UpgradePlan struct {
	Network  string            `yaml:"network"`
	Signer   string            `yaml:"signer"`
	Timeout  time.Duration     `yaml:"timeout"`
	Upgrades []UpgradePlanItem `yaml:"upgrades"`
}

// UpgradePlanItem is one upgrade; empty fields fall back to the plan's
type UpgradePlanItem struct {
	Proxy    string `yaml:"proxy"`
	Artifact string `yaml:"artifact"`
	Network  string `yaml:"network,omitempty"`
	Signer   string `yaml:"signer,omitempty"`
	Call     string `yaml:"call,omitempty"` // hex calldata run after the upgrade
}

// ApplyPlanParams contains parameters for applying a plan
type ApplyPlanParams struct {
	Plan        *UpgradePlan
	DryRun      bool
	Concurrency int
	NoWait      bool
}

// PlanItemResult is the outcome of one plan item
type PlanItemResult struct {
	Item   UpgradePlanItem
	Result *UpgradeResult
	Err    error
}

// ApplyPlanResult holds results in plan order
type ApplyPlanResult struct {
	Items  []PlanItemResult
	Failed int
}

// ApplyPlan runs the upgrades of a plan concurrently. Items are
// independent: one failing does not stop the others.
type ApplyPlan struct {
	config   *config.RuntimeConfig
	upgrader *UpgradeProxy
	log      *slog.Logger
}

// NewApplyPlan creates a new ApplyPlan use case
func NewApplyPlan(cfg *config.RuntimeConfig, upgrader *UpgradeProxy, log *slog.Logger) *ApplyPlan {
	return &ApplyPlan{
		config:   cfg,
		upgrader: upgrader,
		log:      log.With("component", "ApplyPlan"),
	}
}

// LoadPlan reads and validates a plan file
func LoadPlan(path string) (*UpgradePlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var plan UpgradePlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if len(plan.Upgrades) == 0 {
		return nil, fmt.Errorf("plan %s has no upgrades", path)
	}
	for i, item := range plan.Upgrades {
		if item.Proxy == "" || item.Artifact == "" {
			return nil, fmt.Errorf("plan %s: upgrade %d needs proxy and artifact", path, i+1)
		}
		if item.Call != "" {
			if _, err := hexutil.Decode(item.Call); err != nil {
				return nil, fmt.Errorf("plan %s: upgrade %d has invalid call data: %w", path, i+1, err)
			}
		}
	}
	return &plan, nil
}

// Run applies every item, at most Concurrency at a time
func (uc *ApplyPlan) Run(ctx context.Context, params ApplyPlanParams) (*ApplyPlanResult, error) {
	plan := params.Plan
	if plan == nil {
		return nil, fmt.Errorf("no plan")
	}
	limit := params.Concurrency
	if limit <= 0 && uc.config != nil {
		limit = uc.config.Concurrency
	}
	if limit <= 0 {
		limit = 4
	}

	result := &ApplyPlanResult{Items: make([]PlanItemResult, len(plan.Upgrades))}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range plan.Upgrades {
		g.Go(func() error {
			res, err := uc.apply(ctx, plan, item, params)
			mu.Lock()
			defer mu.Unlock()
			result.Items[i] = PlanItemResult{Item: item, Result: res, Err: err}
			if err != nil {
				result.Failed++
				uc.log.Warn("plan item failed", "proxy", item.Proxy, "artifact", item.Artifact, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if result.Failed > 0 {
		return result, fmt.Errorf("%d of %d upgrades failed", result.Failed, len(plan.Upgrades))
	}
	return result, nil
}

func (uc *ApplyPlan) apply(ctx context.Context, plan *UpgradePlan, item UpgradePlanItem, run ApplyPlanParams) (*UpgradeResult, error) {
	params := UpgradeProxyParams{
		Network:     plan.Network,
		Proxy:       item.Proxy,
		ArtifactRef: item.Artifact,
		SignerName:  plan.Signer,
		Timeout:     plan.Timeout,
		DryRun:      run.DryRun,
		Yes:         true,
		NoWait:      run.NoWait,
	}
	if item.Network != "" {
		params.Network = item.Network
	}
	if item.Signer != "" {
		params.SignerName = item.Signer
	}
	if item.Call != "" {
		data, err := hexutil.Decode(item.Call)
		if err != nil {
			return nil, err
		}
		params.CallData = data
	}
	return uc.upgrader.Run(ctx, params)
}
