// Package vm lists libvirt domains and drives their lifecycle transitions.
package vm

import (
	"context"
)

// NoName is reported for a domain whose name could not be read.
const NoName = "no-name"

// Summary is the listing record for one domain.
type Summary struct {
	// ID is the hypervisor's runtime id; 0 when the domain is not running.
	ID     uint32 `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Action names a lifecycle transition.
type Action string

const (
	ActionStart   Action = "start"
	ActionSuspend Action = "suspend"
	ActionResume  Action = "resume"
	ActionDelete  Action = "delete"
	ActionDefine  Action = "define"
)

// Service is what the HTTP and MCP surfaces need from the vm package.
type Service interface {
	List(ctx context.Context) ([]Summary, error)
	Start(ctx context.Context, name string) error
	Suspend(ctx context.Context, name string) error
	Resume(ctx context.Context, name string) error
	Delete(ctx context.Context, name string, undefine bool) error
	Define(ctx context.Context, xml string) (*Summary, error)
}
