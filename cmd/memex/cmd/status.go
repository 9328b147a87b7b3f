package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/status"
	"github.com/memexhq/memex/internal/ui"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index health",
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

			report := status.Build(cmd.Context(), services.Read,
				cfg.SourcePath, cfg.Provider, cfg.IndexName)

			if report.ChunkCount == 0 {
				fmt.Println(ui.Warn(report.String()))
			} else {
				fmt.Println(report.String())
			}
			return nil
		},
	}
}
