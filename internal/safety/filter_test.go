package safety

import (
	"errors"
	"testing"
)

func Test_Filter_IsAllowed_Cases(t *testing.T) {
	tests := []struct {
		name      string
		allowlist []string
		denylist  []string
		vm        string
		want      bool
	}{
		{
			name: "nil lists allow everything",
			vm:   "web",
			want: true,
		},
		{
			name:      "in allowlist is allowed",
			allowlist: []string{"web", "db"},
			vm:        "db",
			want:      true,
		},
		{
			name:      "not in allowlist is denied",
			allowlist: []string{"web", "db"},
			vm:        "backup",
			want:      false,
		},
		{
			name:     "in denylist is denied",
			denylist: []string{"backup"},
			vm:       "backup",
			want:     false,
		},
		{
			name:      "denylist wins over allowlist",
			allowlist: []string{"*"},
			denylist:  []string{"prod-*"},
			vm:        "prod-db",
			want:      false,
		},
		{
			name:      "glob allowlist matches",
			allowlist: []string{"dev-*"},
			vm:        "dev-web",
			want:      true,
		},
		{
			name:     "malformed pattern never matches",
			denylist: []string{"[web"},
			vm:       "[web",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.allowlist, tt.denylist)
			if got := f.IsAllowed(tt.vm); got != tt.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.vm, got, tt.want)
			}
		})
	}
}

func Test_Filter_NilAllowsEverything(t *testing.T) {
	var f *Filter
	if !f.IsAllowed("anything") {
		t.Error("nil filter should allow everything")
	}
	if err := f.Check("anything"); err != nil {
		t.Errorf("nil filter Check() = %v, want nil", err)
	}
}

func Test_Filter_Check(t *testing.T) {
	f := NewFilter(nil, []string{"backup"})

	if err := f.Check("web"); err != nil {
		t.Errorf("Check(web) = %v, want nil", err)
	}
	err := f.Check("backup")
	if !errors.Is(err, ErrDenied) {
		t.Errorf("Check(backup) = %v, want ErrDenied", err)
	}
}

func Test_ValidatePatterns(t *testing.T) {
	if err := ValidatePatterns([]string{"web", "dev-*", "db?"}); err != nil {
		t.Errorf("ValidatePatterns(valid) = %v", err)
	}
	if err := ValidatePatterns([]string{"ok", "[bad"}); err == nil {
		t.Error("ValidatePatterns([bad) = nil, want error")
	}
}
