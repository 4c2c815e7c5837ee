// Package mcp exposes quiver's search over the Model Context Protocol,
// so agent runtimes can query knowledge bases as tools. The server
// speaks the official SDK and typically runs over stdio via the
// `quiver mcp` command.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quiverhq/quiver/internal/apperr"
	"github.com/quiverhq/quiver/internal/kb"
	"github.com/quiverhq/quiver/internal/search"
)

// Server wraps the MCP SDK server around quiver's search engine.
type Server struct {
	mcpServer *mcp.Server
	engine    *search.Engine
	registry  *kb.Registry
	logger    *slog.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name     string
	Version  string
	Engine   *search.Engine
	Registry *kb.Registry
	Logger   *slog.Logger
}

// NewServer creates an MCP server with the search tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("knowledge base registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		engine:   cfg.Engine,
		registry: cfg.Registry,
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}
	return s, nil
}

// Run serves MCP on the given transport until ctx is canceled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// SearchChunksInput is the input schema for the search_chunks tool.
type SearchChunksInput struct {
	KnowledgeBaseID string `json:"knowledge_base_id" jsonschema:"The UUID of the knowledge base to search"`
	Query           string `json:"query" jsonschema:"The natural-language search query"`
	TopK            int    `json:"top_k,omitempty" jsonschema:"Maximum number of results to return (default 10)"`
}

// ListKnowledgeBasesInput is the input schema for list_knowledge_bases.
type ListKnowledgeBasesInput struct {
	NameContains string `json:"name_contains,omitempty" jsonschema:"Optional substring filter on knowledge base names"`
}

func (s *Server) registerTools() error {
	searchSchema, err := jsonschema.For[SearchChunksInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search_chunks: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "search_chunks",
		Description: "Search a knowledge base for chunks relevant to a query using " +
			"semantic similarity plus reranking. Returns chunk text with relevance scores.",
		InputSchema: searchSchema,
	}, s.searchChunks)

	listSchema, err := jsonschema.For[ListKnowledgeBasesInput](nil)
	if err != nil {
		return fmt.Errorf("schema for list_knowledge_bases: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "list_knowledge_bases",
		Description: "List available knowledge bases with their ids, names and statuses. " +
			"Only enabled knowledge bases are searchable.",
		InputSchema: listSchema,
	}, s.listKnowledgeBases)

	return nil
}

// searchChunks handles the search_chunks tool call. Domain errors come
// back as error results so the agent can react; transport failures
// propagate as protocol errors.
func (s *Server) searchChunks(ctx context.Context, _ *mcp.CallToolRequest, in SearchChunksInput) (*mcp.CallToolResult, any, error) {
	kbID, err := uuid.Parse(in.KnowledgeBaseID)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid knowledge_base_id %q: must be a UUID", in.KnowledgeBaseID)), nil, nil
	}
	topK := in.TopK
	if topK == 0 {
		topK = 10
	}

	results, err := s.engine.Search(ctx, kbID, in.Query, topK)
	if err != nil {
		if appErr := apperr.As(err); appErr != nil {
			return errorResult(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message)), nil, nil
		}
		return nil, nil, fmt.Errorf("search failed: %w", err)
	}

	return jsonResult(results)
}

// listKnowledgeBases handles the list_knowledge_bases tool call.
func (s *Server) listKnowledgeBases(ctx context.Context, _ *mcp.CallToolRequest, in ListKnowledgeBasesInput) (*mcp.CallToolResult, any, error) {
	items, total, err := s.registry.List(ctx, kb.ListFilter{
		Page:         1,
		PageSize:     100,
		NameContains: in.NameContains,
	})
	if err != nil {
		if appErr := apperr.As(err); appErr != nil {
			return errorResult(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message)), nil, nil
		}
		return nil, nil, fmt.Errorf("listing knowledge bases: %w", err)
	}

	return jsonResult(map[string]any{"items": items, "total": total})
}

func jsonResult(data any) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}
