// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes the store's read-only query surface as typed tools over stdio
// JSON-RPC.
package mcpserver

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/skillwatch/internal/config"
	"github.com/joestump/skillwatch/internal/store"
)

// Server answers tool calls from the store.
type Server struct {
	store *store.Store
}

// NewServer creates an MCP server backed by st.
func NewServer(st *store.Store) *Server {
	return &Server{store: st}
}

// Tools returns every tool with its handler.
func (s *Server) Tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: recentChangesTool(), Handler: s.handleRecentChanges},
		{Tool: skillFreshnessTool(), Handler: s.handleSkillFreshness},
		{Tool: skillBudgetTool(), Handler: s.handleSkillBudget},
		{Tool: skillBudgetTrendTool(), Handler: s.handleSkillBudgetTrend},
		{Tool: latestWatermarkTool(), Handler: s.handleLatestWatermark},
		{Tool: pageFingerprintsTool(), Handler: s.handlePageFingerprints},
		{Tool: recentValidationsTool(), Handler: s.handleRecentValidations},
		{Tool: sessionActivityTool(), Handler: s.handleSessionActivity},
	}
}

// Run serves the tools over in/out until ctx is cancelled or in is closed.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	mcpServer := server.NewMCPServer(
		"skillwatch",
		config.Version,
		server.WithToolCapabilities(true),
	)
	mcpServer.AddTools(s.Tools()...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, in, out)
}
