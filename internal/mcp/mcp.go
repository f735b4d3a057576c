// Package mcp implements the Model Context Protocol server for the document
// consolidator.
//
// The server exposes two tools, ingest_document and consolidate_documents,
// over stdio by default; an optional SSE transport mirrors the same tool
// set for network clients.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/veridocs/consolidator/internal/consolidate"
	"github.com/veridocs/consolidator/internal/ingest"
	"github.com/veridocs/consolidator/internal/storage"
)

const serverInstructions = `You have access to a document consolidation server.

TOOLS:
- ingest_document: parse raw content into sections, persist it, optionally
  extract atomic claims, embed content, and link mentioned entities.
- consolidate_documents: merge two or more previously ingested documents
  into one synthesized document, detecting and resolving factual conflicts
  between them.

Call ingest_document once per source document before consolidating. Pick a
consolidation strategy deliberately: "smart" asks an LLM to adjudicate each
conflict, "newest_wins"/"authority_wins" are deterministic, "flag_all" never
auto-resolves and leaves every conflict for a human.`

// Server wraps the MCP server with the consolidator's orchestration layer.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	db          *storage.DB
	ingestOrch  *ingest.Orchestrator
	consolidate *consolidate.Orchestrator
	logger      *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, ingestOrch *ingest.Orchestrator, consolidateOrch *consolidate.Orchestrator, logger *slog.Logger, version string) *Server {
	s := &Server{
		db:          db,
		ingestOrch:  ingestOrch,
		consolidate: consolidateOrch,
		logger:      logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"consolidator",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
