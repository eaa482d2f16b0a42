package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/trebuchet-org/treb-upgrade/internal/cli/render"
	"github.com/trebuchet-org/treb-upgrade/internal/domain/models"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// NewRegisterCmd creates the register command
func NewRegisterCmd() *cobra.Command {
	var (
		label    string
		kind     string
		admin    string
		artifact string
	)

	cmd := &cobra.Command{
		Use:   "register <proxy>",
		Short: "Import an existing EIP-1967 proxy into the registry",
		Long: `Import a proxy that was deployed outside of treb-upgrade.

The current implementation and admin are read from the proxy's EIP-1967
storage slots. A proxy without an admin slot is treated as UUPS. When the
admin slot holds a contract, it is treated as a ProxyAdmin and its owner
becomes the admin allowed to upgrade.

Pass --artifact to record which artifact the current implementation was built
from. Without it the deployed code is matched against the artifacts
directory when the proxy is first checked or upgraded.`,
		Example: `  treb-upgrade register 0x1234... --label PoolManager --network sepolia
  treb-upgrade register 0x1234... --label Vault --kind uups --artifact Vault@0.8.24`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := getApp(cmd)
			if err != nil {
				return err
			}

			params := usecase.RegisterProxyParams{
				Proxy:       args[0],
				Label:       label,
				Admin:       admin,
				ArtifactRef: artifact,
			}
			switch strings.ToLower(kind) {
			case "":
			case string(models.TransparentProxy):
				params.Kind = models.TransparentProxy
			case string(models.UUPSProxy):
				params.Kind = models.UUPSProxy
			default:
				return fmt.Errorf("invalid proxy kind: %s (valid: transparent, uups)", kind)
			}

			result, err := app.RegisterProxy.Run(cmd.Context(), params)
			if err != nil {
				return err
			}

			if app.Config.JSON {
				return render.RenderJSON(cmd.OutOrStdout(), result.Record)
			}
			return render.NewRegisterRenderer(cmd.OutOrStdout(), useColor()).Render(result)
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Label to refer to the proxy by")
	cmd.Flags().StringVar(&kind, "kind", "", "Proxy kind (transparent, uups); detected when omitted")
	cmd.Flags().StringVar(&admin, "admin", "", "Admin address allowed to upgrade; detected when omitted")
	cmd.Flags().StringVar(&artifact, "artifact", "", "Artifact the current implementation was built from")

	return cmd
}
