package hypervisor

import (
	"fmt"
	"strings"
)

// ItemPolicy decides what a listing does when the detail queries for one
// item fail.
type ItemPolicy string

const (
	// PolicyDegrade keeps the item, filling the failed fields with defaults.
	PolicyDegrade ItemPolicy = "degrade"
	// PolicyFail aborts the whole listing on the first failed item.
	PolicyFail ItemPolicy = "fail"
)

// ParsePolicy parses a policy name. The empty string yields def.
func ParsePolicy(s string, def ItemPolicy) (ItemPolicy, error) {
	switch ItemPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case PolicyDegrade:
		return PolicyDegrade, nil
	case PolicyFail:
		return PolicyFail, nil
	}
	return "", fmt.Errorf("unknown listing policy %q (want %q or %q)", s, PolicyDegrade, PolicyFail)
}
