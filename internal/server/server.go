// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package server wires the engine together and exposes it over MCP.
package server

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/tejzpr/munin-mcp/internal/auth"
	"github.com/tejzpr/munin-mcp/internal/compression"
	"github.com/tejzpr/munin-mcp/internal/config"
	"github.com/tejzpr/munin-mcp/internal/contradiction"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/embeddings"
	"github.com/tejzpr/munin-mcp/internal/export"
	"github.com/tejzpr/munin-mcp/internal/graph"
	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/locking"
	"github.com/tejzpr/munin-mcp/internal/privacy"
	"github.com/tejzpr/munin-mcp/internal/retrieval"
	"github.com/tejzpr/munin-mcp/internal/session"
	"github.com/tejzpr/munin-mcp/internal/store"
	"github.com/tejzpr/munin-mcp/internal/tools"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MCPServer wraps the mcp-go server with the assembled engine
type MCPServer struct {
	mcpServer    *server.MCPServer
	config       *config.Config
	db           *gorm.DB
	store        *store.Store
	toolCtx      *tools.ToolContext
	tokenManager *auth.TokenManager
	engine       *compression.Engine
	logger       *zap.Logger
}

// NewMCPServer assembles the full engine behind an MCP server. The
// cipher may be nil, in which case content is stored in the clear.
func NewMCPServer(cfg *config.Config, db *gorm.DB, cipher store.Cipher, logger *zap.Logger) (*MCPServer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		"Munin",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	var st *store.Store
	if cipher != nil {
		st = store.NewEncrypted(db, cipher)
	} else {
		st = store.New(db)
	}

	thresholds := gravity.ThresholdsFromConfig(cfg.Thresholds)
	decay := gravity.DecayParamsFromConfig(cfg.Decay)

	embService, err := buildEmbeddingService(cfg, db)
	if err != nil {
		return nil, err
	}

	if err := locking.MigrateLocks(db); err != nil {
		return nil, fmt.Errorf("failed to migrate graph locks: %w", err)
	}
	locker := locking.NewLocker(db)
	engine := compression.NewEngine(st, embService, locker, thresholds, decay, cfg.Compression.MaxClusterSize, logger)

	toolCtx := tools.NewToolContext(st, logger)
	toolCtx.Retriever = retrieval.NewRetriever(st, embService, thresholds, decay, cfg.Context.LedgerCutoff, logger)
	toolCtx.Engine = engine
	toolCtx.Resolver = contradiction.NewResolver(st)
	toolCtx.Sessions = session.NewManager(st, logger)
	toolCtx.Traverser = graph.NewTraverser(st, decay)
	toolCtx.Exporter = export.NewExporter(st, cfg.Export.ArchiveDir, logger)
	toolCtx.Supervision = privacy.NewSummarizer(st, decay)

	return &MCPServer{
		mcpServer:    mcpServer,
		config:       cfg,
		db:           db,
		store:        st,
		toolCtx:      toolCtx,
		tokenManager: auth.NewTokenManager(db, cfg.Security.TokenTTL),
		engine:       engine,
		logger:       logger,
	}, nil
}

// buildEmbeddingService constructs the embedding service when enabled.
// Returns nil when embeddings are off; retrieval and compression both
// degrade gracefully without it.
func buildEmbeddingService(cfg *config.Config, db *gorm.DB) (*embeddings.Service, error) {
	if !cfg.Embeddings.Enabled {
		return nil, nil
	}

	apiKey := os.Getenv(cfg.Embeddings.APIKeyEnv)
	if apiKey == "" && cfg.Embeddings.Provider != config.EmbeddingProviderLocal {
		return nil, fmt.Errorf("embeddings enabled but %s is not set", cfg.Embeddings.APIKeyEnv)
	}

	if err := embeddings.MigrateEmbeddings(db); err != nil {
		return nil, fmt.Errorf("failed to migrate embeddings: %w", err)
	}

	client := embeddings.NewOpenAIClient(cfg.Embeddings.BaseURL, apiKey, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
	return embeddings.NewService(db, client, cfg.Embeddings.Model, "1", cfg.Embeddings.Dimensions), nil
}

// RegisterToolsForUser registers the MCP tool surface for a principal.
// Which tools succeed at call time is decided by the privacy guard, not
// by registration: everyone sees the same surface, the boundary answers.
func (s *MCPServer) RegisterToolsForUser(user *database.MuninUser) error {
	tc := s.toolCtx

	s.mcpServer.AddTool(tools.NewContextTool(), tools.ContextHandler(tc, user, s.config.Context.DefaultTokenBudget))
	s.mcpServer.AddTool(tools.NewRecordTool(), tools.RecordHandler(tc, user))
	s.mcpServer.AddTool(tools.NewLedgerTool(), tools.LedgerHandler(tc, user))
	s.mcpServer.AddTool(tools.NewNegotiateTool(), tools.NegotiateHandler(tc, user))
	s.mcpServer.AddTool(tools.NewResolveTool(), tools.ResolveHandler(tc, user))
	s.mcpServer.AddTool(tools.NewContradictionsTool(), tools.ContradictionsHandler(tc, user))
	s.mcpServer.AddTool(tools.NewRelatedTool(), tools.RelatedHandler(tc, user))
	s.mcpServer.AddTool(tools.NewCompressTool(), tools.CompressHandler(tc, user))
	s.mcpServer.AddTool(tools.NewVerifyTool(), tools.VerifyHandler(tc, user))
	s.mcpServer.AddTool(tools.NewSupervisionTool(), tools.SupervisionHandler(tc, user))
	s.mcpServer.AddTool(tools.NewSessionTool(), tools.SessionHandler(tc, user))
	s.mcpServer.AddTool(tools.NewExportTool(), tools.ExportHandler(tc, user))

	return nil
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// GetTokenManager returns the token manager
func (s *MCPServer) GetTokenManager() *auth.TokenManager {
	return s.tokenManager
}

// Engine returns the compression engine, for the background scheduler
func (s *MCPServer) Engine() *compression.Engine {
	return s.engine
}

// Store returns the graph store
func (s *MCPServer) Store() *store.Store {
	return s.store
}

// HasEmbeddings reports whether semantic features are available
func (s *MCPServer) HasEmbeddings() bool {
	return s.toolCtx.Retriever != nil && s.config.Embeddings.Enabled
}
