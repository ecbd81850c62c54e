package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/tools"
)

// DestructiveTools need a confirmation token before they run.
var DestructiveTools = []string{
	"vm_delete",
	"vm_define",
}

// VMTools returns the MCP tools for domain listing and lifecycle actions.
func VMTools(svc Service, env tools.Env) []tools.Registration {
	return []tools.Registration{
		vmList(svc, env),
		vmTransition(env, ActionStart, "Start a defined virtual machine. Starting a running VM is a no-op.", svc.Start),
		vmTransition(env, ActionSuspend, "Pause a running virtual machine's vCPUs.", svc.Suspend),
		vmTransition(env, ActionResume, "Resume a suspended virtual machine.", svc.Resume),
		vmDelete(svc, env),
		vmDefine(svc, env),
	}
}

func vmList(svc Service, env tools.Env) tools.Registration {
	const toolName = "vm_list"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("List all virtual machines with their runtime id and whether they are active."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()

		vms, err := svc.List(ctx)
		if err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, "", nil, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, "", nil, "ok", start)
		return tools.JSONResult(vms), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func vmTransition(env tools.Env, action Action, desc string, fn func(context.Context, string) error) tools.Registration {
	toolName := "vm_" + string(action)

	tool := mcp.NewTool(toolName,
		mcp.WithDescription(desc),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("VM name"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		name := req.GetString("name", "")
		if name == "" {
			return tools.ErrorResult("name is required"), nil
		}

		if !env.Filter.IsAllowed(name) {
			env.Audit.Record(safety.SourceMCP, toolName, name, nil, "denied", start)
			return tools.Denied(name), nil
		}

		if err := fn(ctx, name); err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, name, nil, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, name, nil, "ok", start)
		return mcp.NewToolResultText(fmt.Sprintf("VM %q %s: ok", name, action)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func vmDelete(svc Service, env tools.Env) tools.Registration {
	const toolName = "vm_delete"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Force-stop a virtual machine, optionally removing its definition. Requires confirmation."),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("VM name"),
		),
		mcp.WithBoolean("undefine",
			mcp.Description("Also remove the VM definition"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		name := req.GetString("name", "")
		undefine := req.GetBool("undefine", false)
		token := req.GetString("confirmation_token", "")
		params := map[string]any{"undefine": undefine}
		if name == "" {
			return tools.ErrorResult("name is required"), nil
		}

		if !env.Filter.IsAllowed(name) {
			env.Audit.Record(safety.SourceMCP, toolName, name, params, "denied", start)
			return tools.Denied(name), nil
		}

		if !env.Confirmed(toolName, name, token) {
			desc := fmt.Sprintf("This will force-stop VM %q.", name)
			if undefine {
				desc = fmt.Sprintf("This will force-stop VM %q and remove its definition.", name)
			}
			return env.ConfirmPrompt(toolName, name, desc), nil
		}

		if err := svc.Delete(ctx, name, undefine); err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, name, params, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, name, params, "ok", start)
		return mcp.NewToolResultText(fmt.Sprintf("VM %q deleted", name)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func vmDefine(svc Service, env tools.Env) tools.Registration {
	const toolName = "vm_define"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Define a persistent virtual machine from libvirt domain XML. Requires confirmation."),
		mcp.WithString("xml",
			mcp.Required(),
			mcp.Description("libvirt domain XML"),
		),
		mcp.WithString("confirmation_token",
			mcp.Description("Confirmation token returned by a prior call to this tool"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		xml := req.GetString("xml", "")
		token := req.GetString("confirmation_token", "")

		name, err := DomainName(xml)
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}

		if !env.Filter.IsAllowed(name) {
			env.Audit.Record(safety.SourceMCP, toolName, name, nil, "denied", start)
			return tools.Denied(name), nil
		}

		if !env.Confirmed(toolName, name, token) {
			desc := fmt.Sprintf("This will define VM %q, replacing any existing definition with that name.", name)
			return env.ConfirmPrompt(toolName, name, desc), nil
		}

		sum, err := svc.Define(ctx, xml)
		if err != nil {
			env.Audit.Record(safety.SourceMCP, toolName, name, nil, "error: "+err.Error(), start)
			return tools.ErrorResult(err.Error()), nil
		}

		env.Audit.Record(safety.SourceMCP, toolName, name, nil, "ok", start)
		return tools.JSONResult(sum), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
