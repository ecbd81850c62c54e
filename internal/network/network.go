// Package network lists libvirt virtual networks and host interfaces.
package network

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/hashicorp/go-hclog"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/jamesprial/virtweb/internal/hypervisor"
	"github.com/jamesprial/virtweb/internal/xmljson"
)

// Manager reads networks and interfaces through a hypervisor.Client.
type Manager struct {
	client *hypervisor.Client
	policy hypervisor.ItemPolicy
	log    hclog.Logger
}

// NewManager returns a Manager. policy governs Interfaces when one
// interface cannot be described; the empty policy means PolicyFail.
func NewManager(client *hypervisor.Client, policy hypervisor.ItemPolicy, logger hclog.Logger) *Manager {
	if policy == "" {
		policy = hypervisor.PolicyFail
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{client: client, policy: policy, log: logger}
}

// Networks returns the names of the active virtual networks.
func (m *Manager) Networks(ctx context.Context) ([]string, error) {
	const op = "list networks"

	var names []string
	err := m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		var err error
		names, err = hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) ([]string, error) {
			return b.ConnectListNetworks(hypervisor.MaxNames)
		})
		return hypervisor.Wrap(hypervisor.KindBackend, op, err)
	})
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Interfaces returns the active host interfaces, each described by its XML
// definition projected through xmljson. Order follows the backend.
func (m *Manager) Interfaces(ctx context.Context) ([]json.RawMessage, error) {
	const op = "list interfaces"

	var out []json.RawMessage
	err := m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		names, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) ([]string, error) {
			return b.ConnectListInterfaces(hypervisor.MaxNames)
		})
		if err != nil {
			return hypervisor.Wrap(hypervisor.KindBackend, op, err)
		}

		out = make([]json.RawMessage, 0, len(names))
		for _, name := range names {
			desc, err := describe(ctx, s, name)
			if err != nil {
				if m.policy == hypervisor.PolicyFail || hypervisor.IsTimeout(err) || ctx.Err() != nil {
					return err
				}
				m.log.Warn("interface description unavailable", "interface", name, "error", err)
				if desc, err = placeholder(name); err != nil {
					return err
				}
			}
			out = append(out, desc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func describe(ctx context.Context, s *hypervisor.Session, name string) (json.RawMessage, error) {
	op := fmt.Sprintf("describe interface %q", name)

	iface, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (libvirt.Interface, error) {
		return b.InterfaceLookupByName(name)
	})
	if err != nil {
		return nil, hypervisor.Classify(hypervisor.KindBackend, op, err)
	}

	doc, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (string, error) {
		return b.InterfaceGetXMLDesc(iface, 0)
	})
	if err != nil {
		return nil, hypervisor.Classify(hypervisor.KindBackend, op, err)
	}

	desc, err := xmljson.Marshal(doc)
	if err != nil {
		return nil, hypervisor.Wrap(hypervisor.KindSerialization, op, err)
	}
	return desc, nil
}

// placeholder is the degraded description: {"interface":{"@name":name}}.
func placeholder(name string) (json.RawMessage, error) {
	inner := orderedmap.New[string, any]()
	inner.Set(xmljson.AttrPrefix+"name", name)
	outer := orderedmap.New[string, any]()
	outer.Set("interface", inner)

	data, err := json.Marshal(outer)
	if err != nil {
		return nil, hypervisor.Wrap(hypervisor.KindSerialization, "describe interface", err)
	}
	return data, nil
}
