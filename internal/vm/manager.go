package vm

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"libvirt.org/go/libvirtxml"

	"github.com/jamesprial/virtweb/internal/hypervisor"
)

// listFlags selects every defined domain, running or not.
const listFlags = libvirt.ConnectListDomainsActive | libvirt.ConnectListDomainsInactive

// Manager implements Service on top of a hypervisor.Client. Every method
// runs on its own backend connection.
type Manager struct {
	client *hypervisor.Client
	policy hypervisor.ItemPolicy
	log    hclog.Logger
}

var _ Service = (*Manager)(nil)

// NewManager returns a Manager. policy governs List when a domain's detail
// queries fail; the empty policy means PolicyDegrade.
func NewManager(client *hypervisor.Client, policy hypervisor.ItemPolicy, logger hclog.Logger) *Manager {
	if policy == "" {
		policy = hypervisor.PolicyDegrade
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{client: client, policy: policy, log: logger}
}

// ----------------------------------------------------------------------------
// Listing
// ----------------------------------------------------------------------------

// List returns every domain, active and inactive, in backend order.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	const op = "list vms"

	var out []Summary
	err := m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		domains, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) ([]libvirt.Domain, error) {
			doms, _, err := b.ConnectListAllDomains(1, listFlags)
			return doms, err
		})
		if err != nil {
			return hypervisor.Wrap(hypervisor.KindBackend, op, err)
		}

		out = make([]Summary, 0, len(domains))
		for _, d := range domains {
			sum, err := m.summarize(ctx, s, d)
			if err != nil {
				return err
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// summarize projects one enumeration record. Under PolicyDegrade a failed
// field falls back to its default; under PolicyFail it aborts the listing.
func (m *Manager) summarize(ctx context.Context, s *hypervisor.Session, d libvirt.Domain) (Summary, error) {
	sum := Summary{Name: d.Name}
	if d.ID > 0 {
		sum.ID = uint32(d.ID)
	}

	if sum.Name == "" {
		err := hypervisor.Errorf(hypervisor.KindBackend, "list vms", "domain %s has no name", uuid.UUID(d.UUID))
		if m.policy == hypervisor.PolicyFail {
			return Summary{}, err
		}
		m.log.Warn("domain name unavailable", "uuid", uuid.UUID(d.UUID).String())
		sum.Name = NoName
	}

	active, err := hypervisor.Call(ctx, s, "vm liveness", func(b hypervisor.Backend) (int32, error) {
		return b.DomainIsActive(d)
	})
	if err != nil {
		if hypervisor.IsTimeout(err) || ctx.Err() != nil || m.policy == hypervisor.PolicyFail {
			return Summary{}, hypervisor.Wrap(hypervisor.KindBackend, fmt.Sprintf("vm %q liveness", sum.Name), err)
		}
		m.log.Warn("domain liveness unavailable", "vm", sum.Name, "error", err)
		return sum, nil
	}
	sum.Active = active == 1
	return sum, nil
}

// ----------------------------------------------------------------------------
// Transitions
// ----------------------------------------------------------------------------

// Start boots a defined domain. Starting a running domain is a no-op.
func (m *Manager) Start(ctx context.Context, name string) error {
	return m.transition(ctx, ActionStart, name, func(b hypervisor.Backend, d libvirt.Domain) error {
		return b.DomainCreate(d)
	})
}

// Suspend pauses a running domain's vCPUs.
func (m *Manager) Suspend(ctx context.Context, name string) error {
	return m.transition(ctx, ActionSuspend, name, func(b hypervisor.Backend, d libvirt.Domain) error {
		return b.DomainSuspend(d)
	})
}

// Resume continues a suspended domain.
func (m *Manager) Resume(ctx context.Context, name string) error {
	return m.transition(ctx, ActionResume, name, func(b hypervisor.Backend, d libvirt.Domain) error {
		return b.DomainResume(d)
	})
}

// Delete force-stops the domain and, when undefine is set, removes its
// definition. Destroying a domain that is already off is a no-op.
func (m *Manager) Delete(ctx context.Context, name string, undefine bool) error {
	op := fmt.Sprintf("%s vm %q", ActionDelete, name)
	return m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		dom, err := lookup(ctx, s, op, name)
		if err != nil {
			return err
		}
		if err := m.apply(ctx, s, op, dom, func(b hypervisor.Backend, d libvirt.Domain) error {
			return b.DomainDestroy(d)
		}); err != nil {
			return err
		}
		if !undefine {
			return nil
		}
		err = hypervisor.Exec(ctx, s, op, func(b hypervisor.Backend) error { return b.DomainUndefine(dom) })
		return hypervisor.Classify(hypervisor.KindTransition, op, err)
	})
}

func (m *Manager) transition(ctx context.Context, action Action, name string, fn func(hypervisor.Backend, libvirt.Domain) error) error {
	op := fmt.Sprintf("%s vm %q", action, name)
	return m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		dom, err := lookup(ctx, s, op, name)
		if err != nil {
			return err
		}
		return m.apply(ctx, s, op, dom, fn)
	})
}

// apply runs one transition call. libvirt reports a domain already in the
// target state as "operation invalid"; that counts as success.
func (m *Manager) apply(ctx context.Context, s *hypervisor.Session, op string, dom libvirt.Domain, fn func(hypervisor.Backend, libvirt.Domain) error) error {
	err := hypervisor.Exec(ctx, s, op, func(b hypervisor.Backend) error { return fn(b, dom) })
	if err != nil && !hypervisor.IsTimeout(err) && hypervisor.IsInvalidState(err) {
		m.log.Debug("transition already satisfied", "op", op, "detail", err)
		return nil
	}
	return hypervisor.Classify(hypervisor.KindTransition, op, err)
}

func lookup(ctx context.Context, s *hypervisor.Session, op, name string) (libvirt.Domain, error) {
	dom, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (libvirt.Domain, error) {
		return b.DomainLookupByName(name)
	})
	if err != nil {
		return libvirt.Domain{}, hypervisor.Classify(hypervisor.KindBackend, op, err)
	}
	return dom, nil
}

// ----------------------------------------------------------------------------
// Define
// ----------------------------------------------------------------------------

// DomainName validates a domain XML document and returns its name.
func DomainName(xml string) (string, error) {
	var doc libvirtxml.Domain
	if err := doc.Unmarshal(xml); err != nil {
		return "", hypervisor.Errorf(hypervisor.KindInvalid, "define vm", "parse domain xml: %v", err)
	}
	if doc.Name == "" {
		return "", hypervisor.Errorf(hypervisor.KindInvalid, "define vm", "domain xml has no <name>")
	}
	return doc.Name, nil
}

// Define registers a persistent domain from its XML description and returns
// its summary. Redefining an existing domain updates it.
func (m *Manager) Define(ctx context.Context, xml string) (*Summary, error) {
	name, err := DomainName(xml)
	if err != nil {
		return nil, err
	}
	op := fmt.Sprintf("%s vm %q", ActionDefine, name)

	var sum Summary
	err = m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		dom, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (libvirt.Domain, error) {
			return b.DomainDefineXML(xml)
		})
		if err != nil {
			return hypervisor.Wrap(hypervisor.KindTransition, op, err)
		}
		m.log.Info("domain defined", "vm", dom.Name, "uuid", uuid.UUID(dom.UUID).String())

		sum, err = m.summarize(ctx, s, dom)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}
