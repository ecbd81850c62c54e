// Package safety gates state-changing VM operations: a name filter decides
// which domains may be acted on, destructive MCP tools need a single-use
// confirmation token, and every action is written to an audit log.
package safety

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrDenied is wrapped by Filter.Check when a name is not permitted.
var ErrDenied = errors.New("operation not permitted by vm filter")

// Filter decides which domain names actions may target, using glob
// allow/deny lists (filepath.Match syntax).
//
// Rules:
//   - With both lists empty every name is allowed.
//   - The denylist is checked first and always wins.
//   - A non-empty allowlist must match for the name to pass.
//
// A nil *Filter allows everything.
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter returns a Filter for the given pattern lists. Either may be nil.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: append([]string(nil), allowlist...),
		denylist:  append([]string(nil), denylist...),
	}
}

// IsAllowed reports whether actions on name are permitted.
func (f *Filter) IsAllowed(name string) bool {
	if f == nil {
		return true
	}
	for _, pattern := range f.denylist {
		if matchGlob(pattern, name) {
			return false
		}
	}
	if len(f.allowlist) == 0 {
		return true
	}
	for _, pattern := range f.allowlist {
		if matchGlob(pattern, name) {
			return true
		}
	}
	return false
}

// Check returns an error wrapping ErrDenied when name is not allowed.
func (f *Filter) Check(name string) error {
	if f.IsAllowed(name) {
		return nil
	}
	return fmt.Errorf("vm %q: %w", name, ErrDenied)
}

// matchGlob treats malformed patterns as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	return err == nil && matched
}

// ValidatePatterns reports the first malformed pattern in patterns.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid vm pattern %q: %w", p, err)
		}
	}
	return nil
}
