package network

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/tools"
)

// Lister is what the network tools need.
type Lister interface {
	Networks(ctx context.Context) ([]string, error)
	Interfaces(ctx context.Context) ([]json.RawMessage, error)
}

// NetworkTools returns the MCP tools for networks and host interfaces.
func NetworkTools(l Lister, env tools.Env) []tools.Registration {
	return []tools.Registration{
		networkList(l, env),
		interfaceList(l, env),
	}
}

func networkList(l Lister, env tools.Env) tools.Registration {
	const toolName = "network_list"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List the names of the active libvirt virtual networks."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		names, err := l.Networks(ctx)
		if err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, "", nil, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, "", nil, "ok", start)
		return tools.JSONResult(names), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func interfaceList(l Lister, env tools.Env) tools.Registration {
	const toolName = "interface_list"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Describe the active host network interfaces; each entry is the interface XML converted to JSON."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		descs, err := l.Interfaces(ctx)
		if err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, "", nil, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, "", nil, "ok", start)
		return tools.JSONResult(descs), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
