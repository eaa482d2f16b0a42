package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-upgrade/internal/cli/render"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// NewApplyCmd creates the apply command
func NewApplyCmd() *cobra.Command {
	var (
		concurrency int
		yes         bool
		noWait      bool
	)

	cmd := &cobra.Command{
		Use:   "apply <plan.yaml>",
		Short: "Apply a plan of independent upgrades concurrently",
		Long: `Apply every upgrade listed in a YAML plan. Items run concurrently, at most
--concurrency at a time, and upgrades of the same proxy are serialized. A
failing item does not stop the others.

  network: sepolia
  signer: deployer
  timeout: 10m
  upgrades:
    - proxy: PoolManager
      artifact: PoolManagerV2
    - proxy: 0x1234...
      artifact: Vault@0.8.24
      call: 0x6c2eb350`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			plan, err := usecase.LoadPlan(args[0])
			if err != nil {
				return err
			}

			defaultNetwork := ""
			if app.Config.Network != nil {
				defaultNetwork = app.Config.Network.Name
			}
			planRenderer := render.NewPlanRenderer(cmd.OutOrStdout(), useColor())
			if !app.Config.JSON {
				planRenderer.RenderPlan(plan, defaultNetwork)
			}

			// Items run without per-upgrade prompts, so the plan is confirmed as a whole
			if !yes && !app.Config.DryRun {
				if app.Config.NonInteractive {
					return fmt.Errorf("plan needs confirmation; pass --yes in non-interactive mode")
				}
				prompt := promptui.Prompt{
					Label:     fmt.Sprintf("Apply %d upgrade(s)", len(plan.Upgrades)),
					IsConfirm: true,
				}
				if _, err := prompt.Run(); err != nil {
					if errors.Is(err, promptui.ErrAbort) {
						return domain.ErrCancelled
					}
					return err
				}
			}

			result, runErr := app.ApplyPlan.Run(cmd.Context(), usecase.ApplyPlanParams{
				Plan:        plan,
				DryRun:      app.Config.DryRun,
				Concurrency: concurrency,
				NoWait:      noWait,
			})
			if result == nil {
				return runErr
			}

			if app.Config.JSON {
				if err := render.RenderJSON(cmd.OutOrStdout(), planJSON(result)); err != nil {
					return err
				}
				return runErr
			}
			if err := planRenderer.Render(result); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().Bool("dry-run", false, "Check and encode every upgrade without sending transactions")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum upgrades in flight (default 4)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Fail items whose proxy is already being upgraded instead of waiting")

	return cmd
}

// planJSON replaces errors, which do not marshal, with their messages
func planJSON(result *usecase.ApplyPlanResult) []map[string]any {
	out := make([]map[string]any, 0, len(result.Items))
	for _, item := range result.Items {
		entry := map[string]any{"item": item.Item, "result": item.Result}
		if item.Err != nil {
			entry["error"] = item.Err.Error()
		}
		out = append(out, entry)
	}
	return out
}
