package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newSearchCmd creates the search command: one-shot query from the CLI,
// sharing the server's orchestrator path.
func newSearchCmd() *cobra.Command {
	var currentFile string
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			services, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			query := strings.Join(args, " ")
			text, err := services.Orchestrator.Search(cmd.Context(), query, currentFile, topK)
			if err != nil {
				return err
			}

			fmt.Println(text)
			return nil
		},
	}

	cmd.Flags().StringVar(&currentFile, "current-file", "", "Code file path for domain-aware boosting")
	cmd.Flags().IntVar(&topK, "top", 0, "Maximum number of results (1-10, default 5)")

	return cmd
}
