package tools_test

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/jamesprial/virtweb/internal/safety"
	"github.com/jamesprial/virtweb/internal/tools"
	"github.com/jamesprial/virtweb/internal/tools/toolstest"
)

// ---------------------------------------------------------------------------
// Result helpers
// ---------------------------------------------------------------------------

func Test_JSONResult_Cases(t *testing.T) {
	type summary struct {
		ID   uint32 `json:"id"`
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		input   any
		want    string
		wantErr bool
	}{
		{
			name:  "struct is indented",
			input: summary{ID: 1, Name: "web"},
			want:  "{\n  \"id\": 1,\n  \"name\": \"web\"\n}",
		},
		{
			name:  "empty slice stays an array",
			input: []summary{},
			want:  "[]",
		},
		{
			name:    "unmarshalable value is an error result",
			input:   math.Inf(1),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tools.JSONResult(tt.input)
			text := toolstest.Text(t, res)
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.HasPrefix(text, "error: ") {
					t.Errorf("text = %q, want error prefix", text)
				}
				return
			}
			if text != tt.want {
				t.Errorf("text = %q, want %q", text, tt.want)
			}
			if !json.Valid([]byte(text)) {
				t.Errorf("text %q is not valid JSON", text)
			}
		})
	}
}

func Test_ErrorResult(t *testing.T) {
	res := tools.ErrorResult("boom")
	if !res.IsError {
		t.Error("IsError = false, want true")
	}
	if got := toolstest.Text(t, res); got != "error: boom" {
		t.Errorf("text = %q, want %q", got, "error: boom")
	}
}

func Test_Denied(t *testing.T) {
	got := toolstest.Text(t, tools.Denied("web"))
	if !strings.Contains(got, `"web"`) || !strings.Contains(got, "not allowed") {
		t.Errorf("unexpected denial text %q", got)
	}
}

// ---------------------------------------------------------------------------
// Confirmation
// ---------------------------------------------------------------------------

func Test_Env_Confirmed_Cases(t *testing.T) {
	tracker := safety.NewConfirmationTracker([]string{"vm_delete"}, 0)
	env := tools.Env{Confirm: tracker}

	valid := tracker.RequestConfirmation("vm_delete", "web")

	tests := []struct {
		name   string
		env    tools.Env
		tool   string
		target string
		token  string
		want   bool
	}{
		{name: "no tracker confirms everything", env: tools.Env{}, tool: "vm_delete", target: "web", want: true},
		{name: "non-destructive tool", env: env, tool: "vm_start", target: "web", want: true},
		{name: "destructive without token", env: env, tool: "vm_delete", target: "web", want: false},
		{name: "destructive with bogus token", env: env, tool: "vm_delete", target: "web", token: "deadbeef", want: false},
		{name: "destructive with issued token", env: env, tool: "vm_delete", target: "web", token: valid, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.Confirmed(tt.tool, tt.target, tt.token); got != tt.want {
				t.Errorf("Confirmed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_Env_ConfirmPrompt(t *testing.T) {
	tracker := safety.NewConfirmationTracker([]string{"vm_delete"}, 0)
	env := tools.Env{Confirm: tracker}

	res := env.ConfirmPrompt("vm_delete", "web", "This will force-stop VM \"web\".")
	text := toolstest.Text(t, res)
	for _, want := range []string{"vm_delete", `"web"`, "force-stop"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt %q missing %q", text, want)
		}
	}

	token := toolstest.Token(t, res)
	if !env.Confirmed("vm_delete", "web", token) {
		t.Error("token from prompt did not confirm")
	}
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

func Test_NewServer(t *testing.T) {
	s := tools.NewServer("virtweb", "test")
	if s == nil {
		t.Fatal("NewServer() returned nil")
	}
	if h := tools.Handler(s, "/mcp"); h == nil {
		t.Fatal("Handler() returned nil")
	}
}
