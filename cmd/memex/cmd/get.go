package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/mcp"
)

// newGetCmd creates the get command: fetch one knowledge file by its
// relative path, with the same traversal guard as the get_file tool.
func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <relative-path>",
		Short: "Print a knowledge file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			reader, err := mcp.NewFileReader(cfg.SourcePath)
			if err != nil {
				return err
			}

			content, err := reader.Read(args[0])
			if err != nil {
				return err
			}

			fmt.Print(content)
			return nil
		},
	}
}
