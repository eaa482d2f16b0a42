package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-upgrade/internal/cli/render"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// NewReconcileCmd creates the reconcile command
func NewReconcileCmd() *cobra.Command {
	var abandon bool

	cmd := &cobra.Command{
		Use:   "reconcile [proxy]",
		Short: "Settle pending upgrades against chain state",
		Long: `Resolve upgrades left pending by a timeout or an interrupted run.

For each pending proxy the implementation slot and the upgrade transaction
are checked: confirmed upgrades are committed, reverted ones are cleared and
unmined ones stay pending. Proxies whose slot no longer matches the registry
are reported as drifted and left untouched.

A pending upgrade that never got a transaction hash can only be cleared with
--abandon.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			params := usecase.ReconcileUpgradesParams{Abandon: abandon}
			if len(args) == 1 {
				params.Proxy = args[0]
			}

			results, err := app.ReconcileUpgrades.Run(cmd.Context(), params)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				if err := render.RenderJSON(cmd.OutOrStdout(), results); err != nil {
					return err
				}
			} else if err := render.NewReconcileRenderer(cmd.OutOrStdout(), useColor()).Render(results); err != nil {
				return err
			}

			drifted := lo.CountBy(results, func(r *usecase.ReconcileResult) bool {
				return r.Outcome == usecase.ReconcileDrifted
			})
			if drifted > 0 {
				return fmt.Errorf("%d proxy(s) drifted from the registry", drifted)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&abandon, "abandon", false, "Clear pending upgrades that have no transaction to check")

	return cmd
}
