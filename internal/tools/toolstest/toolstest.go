// Package toolstest has helpers for exercising MCP tool handlers in tests.
package toolstest

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/tools"
)

var tokenPattern = regexp.MustCompile(`confirmation_token="([0-9a-f]+)"`)

// NewRequest builds a CallToolRequest for name with args.
func NewRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// Find returns the registration named name, failing the test if absent.
func Find(t *testing.T, regs []tools.Registration, name string) tools.Registration {
	t.Helper()
	for _, r := range regs {
		if r.Tool.Name == name {
			return r
		}
	}
	t.Fatalf("tool %q not registered", name)
	return tools.Registration{}
}

// Call invokes the named tool and returns its result.
func Call(t *testing.T, regs []tools.Registration, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	r := Find(t, regs, name)
	res, err := r.Handler(context.Background(), NewRequest(name, args))
	if err != nil {
		t.Fatalf("%s handler returned error: %v", name, err)
	}
	return res
}

// Text extracts the text of the first content entry.
func Text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	if len(result.Content) == 0 {
		t.Fatal("result has no content entries")
	}
	tc, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("first content entry is not TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

// Token extracts the confirmation token from a confirmation prompt.
func Token(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	m := tokenPattern.FindStringSubmatch(Text(t, result))
	if m == nil {
		t.Fatalf("no confirmation token in %q", Text(t, result))
	}
	return m[1]
}

// AuditLogger returns an audit logger writing to the returned buffer.
func AuditLogger() (*safety.AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return safety.NewAuditLogger(&buf), &buf
}
