// Package mcp implements the Model Context Protocol server for Beacon.
//
// The MCP server exposes the live fleet state through MCP tools, allowing
// MCP-compatible AI agents to inspect agent health, metrics, and traces.
package mcp

import (
	"log/slog"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/openfleet/beacon/internal/ingest"
)

// Server wraps the MCP server with Beacon's in-memory state.
type Server struct {
	mcpServer *mcpserver.MCPServer
	registry  *ingest.Registry
	assembler *ingest.Assembler
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools.
func New(registry *ingest.Registry, assembler *ingest.Assembler, logger *slog.Logger, version string) *Server {
	s := &Server{
		registry:  registry,
		assembler: assembler,
		logger:    logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"beacon",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
