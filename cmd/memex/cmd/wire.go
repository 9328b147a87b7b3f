package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memexhq/memex/internal/config"
	"github.com/memexhq/memex/internal/embed"
	memexerrors "github.com/memexhq/memex/internal/errors"
	"github.com/memexhq/memex/internal/index"
	"github.com/memexhq/memex/internal/mcp"
	"github.com/memexhq/memex/internal/routing"
	"github.com/memexhq/memex/internal/scanner"
	"github.com/memexhq/memex/internal/search"
	"github.com/memexhq/memex/internal/store"
)

// Services is the startup-assembled object graph. Wiring is explicit and
// side-effect-free once built: nothing starts until a command runs it.
type Services struct {
	Config       *config.Config
	Embedder     embed.Embedder
	Write        store.WriteIndex
	Read         store.ReadIndex
	Routing      *routing.Holder
	Pipeline     *index.Pipeline
	Orchestrator *search.Orchestrator
	Files        *mcp.FileReader
	Logger       *slog.Logger

	closers []func() error
}

// buildServices instantiates the provider capabilities plus the pipeline,
// orchestrator, and file reader from a validated configuration snapshot.
func buildServices(cfg *config.Config) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Services{
		Config:  cfg,
		Routing: &routing.Holder{},
		Logger:  slog.Default(),
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	s.Embedder = embed.NewCachedEmbedder(embedder, cfg.EmbeddingCacheSize)
	s.closers = append(s.closers, s.Embedder.Close)

	if err := s.buildIndexes(cfg); err != nil {
		s.Close()
		return nil, err
	}

	files, err := mcp.NewFileReader(cfg.SourcePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Files = files

	sc := scanner.New(cfg.ExcludePatterns)
	s.Pipeline = index.New(s.Write, s.Embedder, sc, s.Routing, s.Logger)
	s.Orchestrator = search.New(s.Embedder, s.Read, s.Routing, cfg.SourcePath, s.Logger)

	// Preload the routing map so searches before the first indexing pass
	// still get domain boosts.
	s.loadRoutingMap()

	return s, nil
}

// buildEmbedder selects the embedder for the configured provider.
func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderLocal:
		return embed.NewLocalEmbedder(embed.LocalConfig{ModelPath: cfg.ModelPath}), nil
	case config.ProviderStatic:
		return embed.NewStaticEmbedder(), nil
	case config.ProviderAzure:
		return embed.NewRemoteEmbedder(embed.RemoteConfig{
			Endpoint:   cfg.Azure.EmbeddingEndpoint,
			APIKey:     cfg.Azure.EmbeddingKey,
			Deployment: cfg.Azure.EmbeddingDeployment,
		})
	default:
		return nil, memexerrors.ConfigError("unknown provider: "+cfg.Provider, nil)
	}
}

// buildIndexes selects the write/read index pair for the provider.
func (s *Services) buildIndexes(cfg *config.Config) error {
	if cfg.Provider == config.ProviderAzure {
		remote, err := store.NewRemoteIndex(store.RemoteIndexConfig{
			Endpoint:   cfg.Azure.SearchEndpoint,
			APIKey:     cfg.Azure.SearchKey,
			IndexName:  cfg.Azure.SearchIndexName,
			Dimensions: s.Embedder.Dimensions(),
		})
		if err != nil {
			return err
		}
		s.Write = remote
		s.Read = remote
		s.closers = append(s.closers, remote.Close)
		return nil
	}

	local, err := store.NewLocalIndex(cfg.DatabasePath)
	if err != nil {
		return err
	}

	if cfg.KeywordBackend == config.KeywordBackendBleve {
		blevePath := ""
		if cfg.DatabasePath != "" {
			blevePath = cfg.DatabasePath + ".bleve"
		}
		keyword, err := store.NewBleveKeywordIndex(blevePath)
		if err != nil {
			_ = local.Close()
			return err
		}
		local.SetKeywordIndex(keyword)
	}

	s.Write = local
	s.Read = local
	s.closers = append(s.closers, local.Close)
	return nil
}

// loadRoutingMap parses the management file if present.
func (s *Services) loadRoutingMap() {
	path := filepath.Join(s.Config.SourcePath, index.ManagementFileName)
	if _, err := os.Stat(path); err != nil {
		return
	}

	m, err := routing.Load(path)
	if err != nil {
		s.Logger.Warn("management file unparseable, domain routing disabled",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	s.Routing.Store(m)
}

// Close releases all held resources in reverse construction order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}
