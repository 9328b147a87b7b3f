package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/ui"
)

// newIndexCmd creates the index command: one indexing pass from the CLI.
func newIndexCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the knowledge base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			services, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			stats, err := services.Pipeline.Run(cmd.Context(), cfg.SourcePath, force, cfg.IndexName)
			if err != nil {
				return err
			}

			if stats.NoOp {
				fmt.Println(ui.Success("Index already up to date."))
				return nil
			}
			fmt.Println(ui.Success(fmt.Sprintf(
				"Indexed %d changed and removed %d deleted files (%d chunks) in %s.",
				stats.FilesChanged, stats.FilesDeleted, stats.ChunksWritten,
				stats.Duration.Round(time.Millisecond))))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild the whole index, ignoring saved state")

	return cmd
}
