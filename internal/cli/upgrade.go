package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-upgrade/internal/cli/render"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// NewUpgradeCmd creates the upgrade command
func NewUpgradeCmd() *cobra.Command {
	var (
		callData string
		yes      bool
		noWait   bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade <proxy> <artifact>",
		Short: "Upgrade a registered proxy to a new implementation",
		Long: `Upgrade a registered proxy to the implementation built from <artifact>.

<proxy> is the proxy address or its registered label. <artifact> is a
contract name, optionally pinned to a compiler version ("Name@0.8.24").

The storage layout of the implementation currently live on chain is compared
with the new artifact before anything is deployed. Incompatible layouts are
refused. The registry records the upgrade as pending once it is submitted and
as current only after the proxy's implementation slot shows it.`,
		Example: `  # Upgrade the PoolManager proxy on the default network
  treb-upgrade upgrade PoolManager PoolManagerV2

  # Check and encode without sending anything
  treb-upgrade upgrade 0x1234... PoolManagerV2 --network sepolia --dry-run

  # Call a reinitializer after the upgrade
  treb-upgrade upgrade PoolManager PoolManagerV2 --call 0x6c2eb350`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			params := usecase.UpgradeProxyParams{
				Proxy:       args[0],
				ArtifactRef: args[1],
				DryRun:      app.Config.DryRun,
				Yes:         yes,
				NoWait:      noWait,
			}
			if callData != "" {
				data, err := hexutil.Decode(callData)
				if err != nil {
					return fmt.Errorf("invalid --call data: %w", err)
				}
				params.CallData = data
			}

			result, runErr := app.UpgradeProxy.Run(cmd.Context(), params)
			if app.Config.JSON {
				if result != nil {
					if err := render.RenderJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				}
				return runErr
			}

			if err := render.NewUpgradeRenderer(cmd.OutOrStdout(), useColor()).Render(result); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&callData, "call", "", "Hex calldata to run on the new implementation as part of the upgrade")
	cmd.Flags().Bool("dry-run", false, "Check compatibility and encode the upgrade without sending transactions")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Fail if another upgrade of the proxy is in progress instead of waiting")

	return cmd
}
