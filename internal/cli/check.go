package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-upgrade/internal/cli/render"
	"github.com/trebuchet-org/treb-upgrade/internal/domain"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// NewCheckCmd creates the check command
func NewCheckCmd() *cobra.Command {
	var proxy string

	cmd := &cobra.Command{
		Use:   "check <old-artifact> <new-artifact>",
		Short: "Check whether one storage layout can replace another",
		Long: `Compare the storage layouts of two artifacts without touching any network.

With --proxy the baseline is the implementation currently live behind that
proxy and only <new-artifact> is given. The command exits non-zero when the
layouts are incompatible.`,
		Example: `  treb-upgrade check PoolManager PoolManagerV2
  treb-upgrade check PoolManagerV2 --proxy PoolManager --network sepolia`,
		Args: func(cmd *cobra.Command, args []string) error {
			if proxy != "" {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			params := usecase.CheckCompatibilityParams{Proxy: proxy}
			if proxy != "" {
				params.New = args[0]
			} else {
				params.Old, params.New = args[0], args[1]
			}

			result, err := app.CheckCompatibility.Run(cmd.Context(), params)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				if err := render.RenderJSON(cmd.OutOrStdout(), result.Verdict); err != nil {
					return err
				}
			} else if err := render.NewVerdictRenderer(cmd.OutOrStdout(), useColor()).Render(result); err != nil {
				return err
			}

			if !result.Verdict.Compatible {
				return fmt.Errorf("%w: %s cannot replace %s", domain.ErrIncompatibleUpgrade, result.New.Key(), result.Old.Key())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&proxy, "proxy", "", "Use the implementation live behind this proxy as the baseline")

	return cmd
}

// NewLayoutCmd creates the layout command
func NewLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout <artifact>",
		Short: "Print the storage layout of an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			artifact, layout, err := app.ShowLayout.Run(cmd.Context(), usecase.ShowLayoutParams{Artifact: args[0]})
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return render.RenderJSON(cmd.OutOrStdout(), layout)
			}
			return render.NewLayoutRenderer(cmd.OutOrStdout(), useColor()).Render(artifact, layout)
		},
	}
}
