package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/trebuchet-org/treb-upgrade/internal/adapters/progress"
	"github.com/trebuchet-org/treb-upgrade/internal/app"
	"github.com/trebuchet-org/treb-upgrade/internal/config"
	"github.com/trebuchet-org/treb-upgrade/internal/usecase"
)

// contextKey is the type for context keys
type contextKey string

const (
	// appKey is the context key for the app instance
	appKey contextKey = "app"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var stop context.CancelFunc

	rootCmd := &cobra.Command{
		Use:   "treb-upgrade",
		Short: "Storage-safe upgrades for EIP-1967 proxies",
		Long: `treb-upgrade upgrades transparent and UUPS proxies. Every upgrade is checked
against the storage layout of the implementation that is live on chain before
a transaction is built, and the local registry only moves a proxy to its new
implementation once the chain confirms it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip for help/version commands
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			projectRoot, err := config.FindProjectRoot()
			if err != nil {
				return err
			}

			v := config.SetupViper(projectRoot, cmd)

			appInstance, err := app.InitApp(v, progressSink(v))
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}

			// Interrupts cancel in-flight network calls; the registry keeps
			// whatever pending state was already journaled.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a, err := getApp(cmd); err == nil {
				a.Close()
			}
			if stop != nil {
				stop()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	rootCmd.PersistentFlags().Bool("non-interactive", false, "Disable interactive prompts")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringP("network", "n", "", "Network to use (defaults to default_network)")
	rootCmd.PersistentFlags().String("signer", "", "Signer to send transactions with (defaults to default_signer)")
	rootCmd.PersistentFlags().Duration("timeout", 0, "How long to wait for a transaction to be mined (default 5m)")
	rootCmd.PersistentFlags().String("artifacts", "", "Compiled artifacts directory (defaults to artifacts_dir or foundry's out)")

	// Add command groups
	rootCmd.AddGroup(&cobra.Group{
		ID:    "upgrade",
		Title: "Upgrade Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "inspect",
		Title: "Inspection Commands",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "registry",
		Title: "Registry Commands",
	})

	for _, c := range []*cobra.Command{NewUpgradeCmd(), NewApplyCmd(), NewReconcileCmd()} {
		c.GroupID = "upgrade"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{NewCheckCmd(), NewLayoutCmd()} {
		c.GroupID = "inspect"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{NewRegisterCmd(), NewProxiesCmd(), NewHistoryCmd()} {
		c.GroupID = "registry"
		rootCmd.AddCommand(c)
	}

	// Version command
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// progressSink shows a spinner on interactive terminals only
func progressSink(v *viper.Viper) usecase.ProgressSink {
	if v.GetBool("json") || v.GetBool("non_interactive") || color.NoColor {
		return progress.NewNopSink()
	}
	return progress.NewSpinnerProgressReporter()
}

// getApp retrieves the app instance from the command context
func getApp(cmd *cobra.Command) (*app.App, error) {
	if cmd.Context() == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	appInstance := cmd.Context().Value(appKey)
	if appInstance == nil {
		return nil, fmt.Errorf("app not initialized")
	}

	a, ok := appInstance.(*app.App)
	if !ok {
		return nil, fmt.Errorf("invalid app instance")
	}

	return a, nil
}

// useColor reports whether renderers should emit ANSI colors
func useColor() bool {
	return !color.NoColor
}
