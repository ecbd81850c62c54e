// Package storage lists the volumes of a libvirt storage pool.
package storage

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/hashicorp/go-hclog"

	"github.com/jamesprial/virtweb/internal/hypervisor"
)

// DefaultPool is listed when neither the caller nor the config names one.
const DefaultPool = "default"

// Volume is the listing record for one storage volume. Kind is libvirt's
// virStorageVolType code (0 file, 1 block, 2 dir, 3 network, 4 netdir,
// 5 ploop).
type Volume struct {
	Name            string `json:"name"`
	Path            string `json:"path"`
	Kind            int32  `json:"kind"`
	CapacityBytes   uint64 `json:"capacity"`
	AllocationBytes uint64 `json:"allocation"`
}

// Manager lists volumes through a hypervisor.Client.
type Manager struct {
	client      *hypervisor.Client
	defaultPool string
	policy      hypervisor.ItemPolicy
	log         hclog.Logger
}

// NewManager returns a Manager. An empty defaultPool means DefaultPool and an
// empty policy means PolicyFail.
func NewManager(client *hypervisor.Client, defaultPool string, policy hypervisor.ItemPolicy, logger hclog.Logger) *Manager {
	if defaultPool == "" {
		defaultPool = DefaultPool
	}
	if policy == "" {
		policy = hypervisor.PolicyFail
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{client: client, defaultPool: defaultPool, policy: policy, log: logger}
}

// DefaultPool returns the pool List uses for an empty name.
func (m *Manager) DefaultPool() string { return m.defaultPool }

// List returns the volumes of pool (the default pool when empty) in backend
// order. An empty pool yields an empty, non-nil slice.
func (m *Manager) List(ctx context.Context, pool string) ([]Volume, error) {
	if pool == "" {
		pool = m.defaultPool
	}
	op := fmt.Sprintf("list volumes in pool %q", pool)

	var out []Volume
	err := m.client.Do(ctx, op, func(ctx context.Context, s *hypervisor.Session) error {
		p, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (libvirt.StoragePool, error) {
			return b.StoragePoolLookupByName(pool)
		})
		if err != nil {
			return hypervisor.Classify(hypervisor.KindBackend, op, err)
		}

		names, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) ([]string, error) {
			return b.StoragePoolListVolumes(p, hypervisor.MaxNames)
		})
		if err != nil {
			return hypervisor.Classify(hypervisor.KindBackend, op, err)
		}

		out = make([]Volume, 0, len(names))
		for _, name := range names {
			v, err := describe(ctx, s, p, name)
			if err != nil {
				if m.policy == hypervisor.PolicyFail || hypervisor.IsTimeout(err) || ctx.Err() != nil {
					return err
				}
				m.log.Warn("volume details unavailable", "pool", pool, "volume", name, "error", err)
				v = Volume{Name: name}
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func describe(ctx context.Context, s *hypervisor.Session, p libvirt.StoragePool, name string) (Volume, error) {
	op := fmt.Sprintf("describe volume %q", name)

	vol, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (libvirt.StorageVol, error) {
		return b.StorageVolLookupByName(p, name)
	})
	if err != nil {
		return Volume{}, hypervisor.Classify(hypervisor.KindBackend, op, err)
	}

	type info struct {
		kind                 int8
		capacity, allocation uint64
	}
	in, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (info, error) {
		k, c, a, err := b.StorageVolGetInfo(vol)
		return info{kind: k, capacity: c, allocation: a}, err
	})
	if err != nil {
		return Volume{}, hypervisor.Classify(hypervisor.KindBackend, op, err)
	}

	path, err := hypervisor.Call(ctx, s, op, func(b hypervisor.Backend) (string, error) {
		return b.StorageVolGetPath(vol)
	})
	if err != nil {
		return Volume{}, hypervisor.Classify(hypervisor.KindBackend, op, err)
	}

	return Volume{
		Name:            vol.Name,
		Path:            path,
		Kind:            int32(in.kind),
		CapacityBytes:   in.capacity,
		AllocationBytes: in.allocation,
	}, nil
}
