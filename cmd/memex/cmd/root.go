// Package cmd provides the CLI commands for memex.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/logging"
	"github.com/memexhq/memex/pkg/version"
)

// Flags shared across subcommands.
var (
	flagSource    string
	flagProvider  string
	flagIndexName string
	flagDatabase  string
	flagModel     string
	flagDebug     bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the memex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memex",
		Short: "Hybrid-searchable Markdown knowledge base for AI coding assistants",
		Long: `memex turns a directory tree of Markdown knowledge files into a
hybrid-searchable corpus (BM25 + semantic, fused with RRF) and exposes it
to AI coding assistants over MCP stdio.

Run 'memex serve' in your knowledge-base directory to get started.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("memex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagSource, "source", "", "Knowledge-base root directory")
	cmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Provider: local, azure, or static")
	cmd.PersistentFlags().StringVar(&flagIndexName, "index-name", "", "Logical index name")
	cmd.PersistentFlags().StringVar(&flagDatabase, "db", "", "Local store file path")
	cmd.PersistentFlags().StringVar(&flagModel, "model", "", "Embedding model file path")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	defer func() {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}()

	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig builds the configuration snapshot with flag overrides applied,
// then initializes logging.
func loadConfig(mirrorToStderr bool) (*config.Config, error) {
	dir := flagSource
	if dir == "" {
		dir = "."
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	if flagSource != "" {
		cfg.SourcePath = flagSource
	}
	if cfg.SourcePath == "" {
		// Default to the working directory, the common serve-in-place case.
		if wd, err := os.Getwd(); err == nil {
			cfg.SourcePath = wd
		}
	}
	if flagProvider != "" {
		cfg.Provider = flagProvider
	}
	if flagIndexName != "" {
		cfg.IndexName = flagIndexName
	}
	if flagDatabase != "" {
		cfg.DatabasePath = flagDatabase
	}
	if flagModel != "" {
		cfg.ModelPath = flagModel
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}
	cfg.Finalize()

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: mirrorToStderr,
	}
	if logCfg.FilePath == "" && cfg.SourcePath != "" {
		logCfg.FilePath = logging.DefaultLogPath(cfg.SourcePath)
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return nil, err
	}
	loggingCleanup = cleanup

	return cfg, nil
}
