package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/tripsync/internal/server/storage/sqlite"
)

// NewTombstonesCommand creates the tombstones command group.
func NewTombstonesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tombstones",
		Short: "Maintain deletion markers",
	}
	cmd.AddCommand(newTombstonesPruneCommand(opts))
	return cmd
}

func newTombstonesPruneCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete tombstones older than sync.tombstone_retention",
		Long: `Delete tombstones older than sync.tombstone_retention.

Clients whose watermark is older than the retention horizon
receive a full resync on their next incremental sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd)
			if err != nil {
				return err
			}
			if cfg.Sync.TombstoneRetention <= 0 {
				return fmt.Errorf("sync.tombstone_retention must be positive")
			}

			log, closer, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closer.Close()

			store, err := sqlite.New(cmd.Context(), cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			before := time.Now().Add(-cfg.Sync.TombstoneRetention)
			n, err := store.PruneTombstones(cmd.Context(), before)
			if err != nil {
				return err
			}

			log.Info("Tombstones pruned", "count", n, "before", before)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pruned %d tombstones\n", n)
			return err
		},
	}
}
