package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/configs"
	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/ui"
)

// newInitCmd creates the init command: write the embedded configuration
// template into the knowledge-base root.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a .memex.yaml configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			dir := flagSource
			if dir == "" {
				dir = "."
			}

			path := filepath.Join(dir, config.ConfigFileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return err
			}

			fmt.Println(ui.Success("Wrote " + path))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")

	return cmd
}
