// Package mcp exposes the knowledge base to AI coding assistants over the
// Model Context Protocol's line-delimited stdio transport.
package mcp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	memexerrors "github.com/memexhq/memex/internal/errors"
	"github.com/memexhq/memex/internal/search"
	"github.com/memexhq/memex/internal/status"
	"github.com/memexhq/memex/internal/store"
	"github.com/memexhq/memex/pkg/version"
)

// Server bridges MCP clients with the search orchestrator and file reader.
type Server struct {
	mcp          *mcp.Server
	orchestrator *search.Orchestrator
	files        *FileReader
	read         store.ReadIndex
	provider     string
	indexName    string
	logger       *slog.Logger
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query           string `json:"query" jsonschema:"the search query to execute"`
	CurrentFilePath string `json:"currentFilePath,omitempty" jsonschema:"path of the code file being edited, used for domain-aware boosting"`
	TopK            int    `json:"topK,omitempty" jsonschema:"maximum number of results (1-10, default 5)"`
}

// GetFileInput defines the input schema for the get_file tool.
type GetFileInput struct {
	FilePath string `json:"filePath" jsonschema:"relative path of the knowledge file to fetch"`
}

// StatusInput defines the input schema for the status tool (no parameters).
type StatusInput struct{}

// NewServer creates the MCP server and registers its tools.
func NewServer(orchestrator *search.Orchestrator, files *FileReader, read store.ReadIndex, provider, indexName string, logger *slog.Logger) (*Server, error) {
	if orchestrator == nil {
		return nil, memexerrors.Newf(memexerrors.ErrCodeInternal, "search orchestrator is required")
	}
	if files == nil {
		return nil, memexerrors.Newf(memexerrors.ErrCodeInternal, "file reader is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orchestrator: orchestrator,
		files:        files,
		read:         read,
		provider:     provider,
		indexName:    indexName,
		logger:       logger,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "memex",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// registerTools registers the search, get_file, and status tools.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Search the team knowledge base with hybrid keyword + semantic ranking. Pass currentFilePath so guidance for the code area you are editing ranks first.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file",
		Description: "Fetch the full contents of a knowledge file by its relative path, e.g. one returned by search.",
	}, s.handleGetFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Report index health: chunk and file counts plus the last indexing time.",
	}, s.handleStatus)

	s.logger.Debug("mcp tools registered", slog.Int("count", 3))
}

// Run serves the stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started",
		slog.String("version", version.Version),
		slog.String("provider", s.provider))
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// handleSearch is the MCP handler for the search tool.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, nil, memexerrors.Newf(memexerrors.ErrCodeInvalidInput,
			"query parameter is required and must be non-empty")
	}

	start := time.Now()
	text, err := s.orchestrator.Search(ctx, input.Query, input.CurrentFilePath, input.TopK)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("query", input.Query),
			slog.String("error", err.Error()))
		return nil, nil, err
	}

	s.logger.Info("search served",
		slog.String("query", input.Query),
		slog.Duration("duration", time.Since(start)))

	return textResult(text), nil, nil
}

// handleGetFile is the MCP handler for the get_file tool. Traversal
// attempts come back as an error string, not a protocol failure.
func (s *Server) handleGetFile(_ context.Context, _ *mcp.CallToolRequest, input GetFileInput) (*mcp.CallToolResult, any, error) {
	content, err := s.files.Read(input.FilePath)
	if err != nil {
		s.logger.Warn("get_file rejected",
			slog.String("path", input.FilePath),
			slog.String("error", err.Error()))
		return textResult("Error: " + err.Error()), nil, nil
	}
	return textResult(content), nil, nil
}

// handleStatus is the MCP handler for the status tool.
func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, any, error) {
	report := status.Build(ctx, s.read, s.files.Root(), s.provider, s.indexName)
	return textResult(report.String()), nil, nil
}

// textResult wraps plain text as a tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
