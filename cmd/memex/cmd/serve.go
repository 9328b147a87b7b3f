package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memexhq/memex/internal/mcp"
	"github.com/memexhq/memex/internal/watcher"
)

// newServeCmd creates the serve command: the MCP stdio server, optionally
// with a startup indexing pass and the watch loop.
func newServeCmd() *cobra.Command {
	var buildIndex bool
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the knowledge base to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// stdout carries the protocol; logs go to file only.
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			if buildIndex {
				cfg.BuildIndex = true
			}
			if watch {
				cfg.Watch = true
				cfg.BuildIndex = true
			}

			services, err := buildServices(cfg)
			if err != nil {
				return err
			}
			defer services.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := mcp.NewServer(services.Orchestrator, services.Files,
				services.Read, cfg.Provider, cfg.IndexName, services.Logger)
			if err != nil {
				return err
			}

			runPass := func(ctx context.Context, forceFull bool) error {
				_, err := services.Pipeline.Run(ctx, cfg.SourcePath, forceFull, cfg.IndexName)
				return err
			}

			group, groupCtx := errgroup.WithContext(ctx)

			switch {
			case cfg.Watch:
				w := watcher.New(cfg.SourcePath, runPass,
					watcher.Options{Debounce: cfg.Debounce()}, services.Logger)
				group.Go(func() error { return w.Run(groupCtx) })
			case cfg.BuildIndex:
				if err := runPass(groupCtx, false); err != nil {
					services.Logger.Error("startup indexing failed",
						slog.String("error", err.Error()))
					return err
				}
			}

			group.Go(func() error { return server.Run(groupCtx) })

			err = group.Wait()
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&buildIndex, "build-index", false, "Run one indexing pass before serving")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the source tree and re-index on changes")

	return cmd
}
