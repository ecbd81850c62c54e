package storage

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/tools"
)

// Lister is what the storage tools need.
type Lister interface {
	List(ctx context.Context, pool string) ([]Volume, error)
}

// StorageTools returns the MCP tools for storage volumes.
func StorageTools(l Lister, env tools.Env) []tools.Registration {
	return []tools.Registration{volumeList(l, env)}
}

func volumeList(l Lister, env tools.Env) tools.Registration {
	const toolName = "volume_list"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List the volumes of a storage pool with path, type code, capacity and allocation in bytes."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("pool",
			mcp.Description("Storage pool name; the configured default pool when omitted"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		pool := req.GetString("pool", "")
		params := map[string]any{"pool": pool}

		vols, err := l.List(ctx, pool)
		if err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, pool, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, pool, params, "ok", start)
		return tools.JSONResult(vols), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
