// Package tools holds the plumbing shared by the MCP tool handlers: result
// helpers, the safety environment handed to every handler, and server setup.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/virtweb/internal/safety"
)

// Env carries the safety components tool handlers consult. Every field may
// be nil: a nil filter allows everything, a nil tracker confirms nothing,
// and a nil audit logger drops entries.
type Env struct {
	Filter  *safety.Filter
	Confirm *safety.ConfirmationTracker
	Audit   *safety.AuditLogger
}

// JSONResult marshals v to indented JSON.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult returns a tool result flagged as an error.
func ErrorResult(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError("error: " + msg)
}

// Denied returns the result for a call rejected by the vm filter.
func Denied(name string) *mcp.CallToolResult {
	return ErrorResult(fmt.Sprintf("access to VM %q is not allowed", name))
}

// Confirmed reports whether token confirms tool on target. Without a tracker
// nothing is destructive and every call proceeds.
func (e Env) Confirmed(tool, target, token string) bool {
	if e.Confirm == nil || !e.Confirm.NeedsConfirmation(tool) {
		return true
	}
	return e.Confirm.Confirm(token, tool, target)
}

// ConfirmPrompt issues a token for tool on target and returns the prompt
// asking the caller to repeat the call with it.
func (e Env) ConfirmPrompt(tool, target, description string) *mcp.CallToolResult {
	token := e.Confirm.RequestConfirmation(tool, target)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Confirmation required for %s on %q.\n\n%s\n\nTo proceed, call %s again with confirmation_token=%q.",
		tool, target, description, tool, token,
	))
}
