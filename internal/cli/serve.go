package cli

import (
	"github.com/spf13/cobra"

	"github.com/iudanet/tripsync/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sync server",
		Long: `Run the HTTP sync server until SIGINT or SIGTERM.

Configuration is layered: defaults, then the --config file,
then TRIPSYNC_* environment variables, then command line flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}

			log, closer, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			log.Info("Starting tripsync server",
				"version", opts.Build.Version,
				"commit", opts.Build.GitCommit,
				"addr", cfg.Server.Addr)

			srv, err := server.New(cmd.Context(), cfg, log, opts.Build.Version)
			if err != nil {
				return err
			}
			defer func() {
				if err := srv.Close(); err != nil {
					log.Error("Failed to close server resources", "error", err)
				}
			}()

			if err := srv.Run(cmd.Context()); err != nil {
				return err
			}

			log.Info("Server stopped")
			return nil
		},
	}
}
