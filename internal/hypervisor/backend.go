// Package hypervisor is the resource client of the façade: it opens one
// libvirt connection per operation, bounds every backend call by a timeout,
// and translates backend failures into a small error taxonomy.
//
// Callers never hold a connection directly. They run their work inside
// Client.Do, which guarantees the connection is released on every exit path:
//
//	err := client.Do(ctx, "list networks", func(ctx context.Context, s *hypervisor.Session) error {
//	    names, err := hypervisor.Call(ctx, s, "list networks", func(b hypervisor.Backend) ([]string, error) {
//	        return b.ConnectListNetworks(hypervisor.MaxNames)
//	    })
//	    ...
//	})
package hypervisor

import (
	"github.com/digitalocean/go-libvirt"
)

// MaxNames is the largest name list the libvirt remote protocol returns in a
// single call. Passing it avoids a separate "count" round trip whose result
// could be stale by the time the list call runs.
const MaxNames = 16384

// Backend is the subset of the libvirt remote API the façade uses.
// *libvirt.Libvirt satisfies it implicitly.
type Backend interface {
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	DomainIsActive(Dom libvirt.Domain) (int32, error)
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainSuspend(Dom libvirt.Domain) error
	DomainResume(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefine(Dom libvirt.Domain) error
	DomainDefineXML(XML string) (libvirt.Domain, error)

	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolListVolumes(Pool libvirt.StoragePool, Maxnames int32) ([]string, error)
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolGetInfo(Vol libvirt.StorageVol) (int8, uint64, uint64, error)
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)

	ConnectListNetworks(Maxnames int32) ([]string, error)
	ConnectListInterfaces(Maxnames int32) ([]string, error)
	InterfaceLookupByName(Name string) (libvirt.Interface, error)
	InterfaceGetXMLDesc(Iface libvirt.Interface, Flags uint32) (string, error)

	ConnectGetType() (string, error)
	ConnectGetVersion() (uint64, error)
	ConnectGetLibVersion() (uint64, error)
	ConnectGetHostname() (string, error)
	ConnectGetUri() (string, error)
}

// Conn is an open backend connection.
type Conn interface {
	Backend
	Disconnect() error
}

var _ Conn = (*libvirt.Libvirt)(nil)
