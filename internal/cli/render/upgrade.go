package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/samber/lo"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// UpgradeRenderer renders the outcome of an upgrade
type UpgradeRenderer struct {
	out   io.Writer
	color bool
}

// NewUpgradeRenderer creates a new upgrade renderer
func NewUpgradeRenderer(out io.Writer, color bool) *UpgradeRenderer {
	return &UpgradeRenderer{out: out, color: color}
}

// Render prints what happened to the proxy. It is also used for failed
// upgrades so the operator sees how far the attempt got.
func (r *UpgradeRenderer) Render(result *usecase.UpgradeResult) error {
	if result == nil {
		return nil
	}

	name := result.Proxy.Hex()
	if result.Record != nil {
		name = result.Record.DisplayName()
	}
	fmt.Fprintf(r.out, "%s %s on %s\n", paint(r.color, headerStyle, "Upgrade"), paint(r.color, labelStyle, name), result.Network)
	if result.Baseline != "" {
		fmt.Fprintf(r.out, "  from      %s (%s)\n", formatAddress(result.OldImplementation), result.Baseline)
	}
	if result.Artifact != "" {
		to := "new deployment"
		if result.NewImplementation.Hex() != zeroAddressHex {
			to = result.NewImplementation.Hex()
			if result.ImplementationReused {
				to += " (reused)"
			}
		}
		fmt.Fprintf(r.out, "  to        %s (%s)\n", to, result.Artifact)
	}
	if result.DeployTx != nil {
		fmt.Fprintf(r.out, "  deploy tx %s\n", result.DeployTx.Hash.Hex())
	}
	if result.UpgradeTx != nil {
		fmt.Fprintf(r.out, "  tx        %s\n", result.UpgradeTx.Hash.Hex())
	}
	if result.Confirmation != nil && result.Confirmation.BlockNumber > 0 {
		fmt.Fprintf(r.out, "  block     %d (gas %d)\n", result.Confirmation.BlockNumber, result.Confirmation.GasUsed)
	}
	if len(result.Transitions) > 0 {
		states := lo.Map(result.Transitions, func(s models.UpgradeState, _ int) string { return title(string(s)) })
		fmt.Fprintf(r.out, "  %s\n", paint(r.color, faintStyle, strings.Join(states, " → ")))
	}
	fmt.Fprintln(r.out)

	if result.Verdict != nil && (len(result.Verdict.Violations) > 0 || len(result.Verdict.Warnings) > 0) {
		NewVerdictRenderer(r.out, r.color).RenderVerdict(result.Verdict)
		fmt.Fprintln(r.out)
	}

	switch {
	case result.DryRun:
		fmt.Fprintln(r.out, FormatSuccess("Dry run: layout is compatible, no transaction sent"))
		if result.Call != nil {
			fmt.Fprintf(r.out, "  would call %s on %s\n", result.Call.Method, result.Call.To.Hex())
			fmt.Fprintf(r.out, "  data %s\n", paint(r.color, faintStyle, hexutil.Encode(result.Call.Data)))
		}
	case result.AlreadyUpgraded:
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Already upgraded to %s", result.NewImplementation.Hex())))
	case result.State == models.StateCommitted:
		fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Upgraded %s to %s", name, result.NewImplementation.Hex())))
	case result.State == models.StatePendingOnChain:
		fmt.Fprintln(r.out, FormatWarning("Upgrade is pending on chain; run `treb-upgrade reconcile` once the transaction is mined"))
	case result.State == models.StateFailed && result.Reason != "":
		fmt.Fprintln(r.out, FormatError(result.Reason))
	}
	return nil
}

// RegisterRenderer renders an imported proxy
type RegisterRenderer struct {
	out   io.Writer
	color bool
}

// NewRegisterRenderer creates a new register renderer
func NewRegisterRenderer(out io.Writer, color bool) *RegisterRenderer {
	return &RegisterRenderer{out: out, color: color}
}

// Render prints the record as registered
func (r *RegisterRenderer) Render(result *usecase.RegisterProxyResult) error {
	rec := result.Record
	fmt.Fprintln(r.out, FormatSuccess(fmt.Sprintf("Registered %s on %s", rec.DisplayName(), rec.Network)))
	fmt.Fprintf(r.out, "  proxy           %s (%s)\n", rec.ProxyAddress.Hex(), rec.Kind)
	fmt.Fprintf(r.out, "  implementation  %s\n", rec.CurrentImplementation.Hex())
	if result.Artifact != "" {
		fmt.Fprintf(r.out, "  artifact        %s\n", result.Artifact)
	}
	fmt.Fprintf(r.out, "  admin           %s\n", formatAddress(rec.Admin))
	if rec.AdminContract != nil {
		fmt.Fprintf(r.out, "  proxy admin     %s\n", rec.AdminContract.Hex())
	}
	return nil
}
