package render

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// ReconcileRenderer renders reconciliation outcomes
type ReconcileRenderer struct {
	out   io.Writer
	color bool
}

// NewReconcileRenderer creates a new reconcile renderer
func NewReconcileRenderer(out io.Writer, color bool) *ReconcileRenderer {
	return &ReconcileRenderer{out: out, color: color}
}

// Render prints one row per reconciled proxy
func (r *ReconcileRenderer) Render(results []*usecase.ReconcileResult) error {
	if len(results) == 0 {
		fmt.Fprintln(r.out, "No proxies to reconcile")
		return nil
	}

	t := newTable(r.out, table.Row{"Network", "Proxy", "Outcome", "Implementation", "Detail"})
	for _, res := range results {
		name := res.Label
		if name == "" {
			name = res.Proxy.Hex()
		}
		t.AppendRow(table.Row{
			res.Network,
			paint(r.color, labelStyle, name),
			r.outcome(res.Outcome),
			formatAddress(res.Implementation),
			res.Reason,
		})
	}
	t.Render()
	return nil
}

func (r *ReconcileRenderer) outcome(o usecase.ReconcileOutcome) string {
	label := title(string(o))
	switch o {
	case usecase.ReconcileCommitted, usecase.ReconcileInSync:
		return paint(r.color, successStyle, label)
	case usecase.ReconcileCleared, usecase.ReconcileDrifted:
		return paint(r.color, failureStyle, label)
	default:
		return paint(r.color, pendingStyle, label)
	}
}

// PlanRenderer renders the items of an applied plan
type PlanRenderer struct {
	out   io.Writer
	color bool
}

// NewPlanRenderer creates a new plan renderer
func NewPlanRenderer(out io.Writer, color bool) *PlanRenderer {
	return &PlanRenderer{out: out, color: color}
}

// RenderPlan prints what a plan is about to do
func (r *PlanRenderer) RenderPlan(plan *usecase.UpgradePlan, defaultNetwork string) {
	fmt.Fprintln(r.out, paint(r.color, headerStyle, fmt.Sprintf("Plan: %d upgrade(s)", len(plan.Upgrades))))
	t := newTable(r.out, table.Row{"#", "Network", "Proxy", "Artifact", "Call"})
	for i, item := range plan.Upgrades {
		network := item.Network
		if network == "" {
			network = plan.Network
		}
		if network == "" {
			network = defaultNetwork
		}
		call := "-"
		if item.Call != "" {
			call = "yes"
		}
		t.AppendRow(table.Row{i + 1, network, item.Proxy, item.Artifact, call})
	}
	t.Render()
	fmt.Fprintln(r.out)
}

// Render prints one row per plan item in plan order
func (r *PlanRenderer) Render(result *usecase.ApplyPlanResult) error {
	t := newTable(r.out, table.Row{"#", "Proxy", "Artifact", "State", "Implementation", "Error"})
	for i, item := range result.Items {
		state, impl, errMsg := "-", "-", ""
		if item.Result != nil {
			state = r.state(item.Result)
			impl = formatAddress(item.Result.NewImplementation)
		}
		if item.Err != nil {
			errMsg = paint(r.color, failureStyle, item.Err.Error())
		}
		t.AppendRow(table.Row{i + 1, item.Item.Proxy, item.Item.Artifact, state, impl, errMsg})
	}
	t.Render()
	fmt.Fprintln(r.out)

	if result.Failed == 0 {
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("%d upgrade(s) applied", len(result.Items))))
	} else {
		fmt.Fprintln(r.out, FormatError(fmt.Sprintf("%d of %d upgrades failed", result.Failed, len(result.Items))))
	}
	return nil
}

func (r *PlanRenderer) state(res *usecase.UpgradeResult) string {
	switch {
	case res.DryRun:
		return paint(r.color, successStyle, "Dry Run")
	case res.AlreadyUpgraded:
		return paint(r.color, successStyle, "Already Upgraded")
	case res.State == models.StateCommitted:
		return paint(r.color, successStyle, title(string(res.State)))
	case res.State == models.StateFailed:
		return paint(r.color, failureStyle, title(string(res.State)))
	default:
		return paint(r.color, pendingStyle, title(string(res.State)))
	}
}
