package tools

import (
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Registration pairs an MCP tool definition with its handler.
type Registration struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// RegisterAll adds every registration to s.
func RegisterAll(s *server.MCPServer, registrations []Registration) {
	for _, r := range registrations {
		s.AddTool(r.Tool, r.Handler)
	}
}

// NewServer builds an MCP server exposing the given tool groups.
func NewServer(name, version string, groups ...[]Registration) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, g := range groups {
		RegisterAll(s, g)
	}
	return s
}

// Handler serves s over streamable HTTP at path.
func Handler(s *server.MCPServer, path string) http.Handler {
	return server.NewStreamableHTTPServer(s, server.WithEndpointPath(path))
}
