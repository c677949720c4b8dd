package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ideamans/bsnlink/cmd/bsnlink/cmd/server"
	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bsnlink server",
	Long: `Start the bsnlink server with the specified configuration.

The server will:
- Load and validate the configuration file
- Open the session store (memory, LevelDB or Redis)
- Resolve the OIDC client secret
- Serve /login, /auth, /, /linkuser and /logout
- Reload the configuration when the file changes
- Drain and shut down gracefully on SIGTERM/SIGINT`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	return server.Run(cmd.Context(), server.Config{
		ConfigPath: cfgFile,
		Host:       host,
		Port:       port,
		HostSet:    cmd.Flags().Changed("host"),
		PortSet:    cmd.Flags().Changed("port"),
		Logger:     logger,
		Version:    version,
	})
}

// newLogger builds the process logger from the logging section of the
// configuration. An unreadable configuration yields an info logger so the
// server can report the actual problem.
func newLogger(path string) (logging.Logger, error) {
	cfg, err := config.NewFileLoader(path).Load()
	if err != nil {
		return logging.NewLogger("main", logging.LevelInfo, true), nil
	}
	return logging.NewLoggerWithFile("main", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Color, cfg.Logging.File.Rotation())
}
