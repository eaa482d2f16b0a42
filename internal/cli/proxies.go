package cli

import (
	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-upgrade/internal/cli/render"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// NewProxiesCmd creates the proxies command
func NewProxiesCmd() *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:     "proxies",
		Aliases: []string{"ls", "list"},
		Short:   "List registered proxies",
		Long: `List the proxies in the registry with their current implementation.

All networks are listed unless --network is given. The registry is read as
recorded; use reconcile to compare it with chain state.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			params := usecase.ListProxiesParams{PendingOnly: pending}
			if cmd.Flags().Changed("network") && app.Config.Network != nil {
				params.Network = app.Config.Network.Name
			}

			listings, err := app.ListProxies.Run(cmd.Context(), params)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				records := make([]any, 0, len(listings))
				for _, l := range listings {
					records = append(records, map[string]any{"record": l.Record, "artifact": l.Artifact})
				}
				return render.RenderJSON(cmd.OutOrStdout(), records)
			}
			return render.NewProxiesRenderer(cmd.OutOrStdout(), useColor()).Render(listings)
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "Only list proxies with a pending upgrade")

	return cmd
}

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <proxy>",
		Short: "Show the upgrade journal of a proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			result, err := app.ShowHistory.Run(cmd.Context(), usecase.ShowHistoryParams{Proxy: args[0]})
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return render.RenderJSON(cmd.OutOrStdout(), result)
			}
			return render.NewHistoryRenderer(cmd.OutOrStdout(), useColor()).Render(result)
		},
	}
}
