package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideamans/bsnlink/pkg/gate/config"
)

// checkConfigCmd represents the check-config command
var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file without starting the server.

Environment references are expanded first, so unset variables are reported
as well. If the configuration is valid, the command exits with status 0.
If there are validation errors, the command exits with status 1.`,
	RunE: runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checking configuration file: %s\n", cfgFile)

	cfg, err := config.NewFileLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "✓ Configuration is valid")
	fmt.Fprintln(out, "\nConfiguration Summary:")
	fmt.Fprintf(out, "  Base URL: %s\n", cfg.Server.BaseURL)
	fmt.Fprintf(out, "  Redirect URL: %s\n", cfg.Server.RedirectURL())
	fmt.Fprintf(out, "  OIDC Provider: %s (discovery: %t)\n", cfg.OIDC.AuthURLBase, cfg.OIDC.Discovery)
	fmt.Fprintf(out, "  OIDC Client: %s\n", cfg.OIDC.ClientID)

	storeType := cfg.Session.Store.Type
	if storeType == "" {
		storeType = "memory"
	}
	fmt.Fprintf(out, "  Session Store: %s (namespace: %s, ttl: %s)\n", storeType, cfg.Session.Store.Namespace, cfg.Session.TTL)

	if cfg.BRP.FixturesDir != "" {
		fmt.Fprintf(out, "  Registry: fixtures in %s\n", cfg.BRP.FixturesDir)
	} else {
		fmt.Fprintf(out, "  Registry: %s (mutual TLS: %t)\n", cfg.BRP.Endpoint, cfg.BRP.CertFile != "")
	}
	fmt.Fprintf(out, "  CRM: %s\n", cfg.Tribe.BaseURL)
	return nil
}
