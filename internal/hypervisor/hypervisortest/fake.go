// Package hypervisortest provides an in-memory libvirt backend for tests.
//
// The fake follows libvirt's state rules closely enough for the façade's
// purposes: lookups of unknown objects fail with the matching "no such
// object" code and illegal transitions fail with VIR_ERR_OPERATION_INVALID.
package hypervisortest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jamesprial/virtweb/internal/hypervisor"
)

// ErrClosed is returned by calls made on a released connection.
var ErrClosed = errors.New("hypervisortest: connection closed")

// Domain is one fake domain. ID is assigned when the domain starts.
type Domain struct {
	Name   string
	ID     int32
	Active bool
	Paused bool
}

// Volume is one fake storage volume.
type Volume struct {
	Name       string
	Path       string
	Kind       int8
	Capacity   uint64
	Allocation uint64
}

// Interface is one fake host interface with its XML description.
type Interface struct {
	Name string
	MAC  string
	XML  string
}

// Host is what the Connect* info calls return.
type Host struct {
	Type       string
	Version    uint64
	LibVersion uint64
	Hostname   string
	URI        string
}

type fault struct {
	method string
	target string
	err    error
}

// Fake is a shared in-memory hypervisor. Every Dial returns a new connection
// onto the same state.
type Fake struct {
	mu sync.Mutex

	domains    []*Domain
	pools      map[string][]*Volume
	poolOrder  []string
	networks   []string
	interfaces []*Interface
	host       Host
	nextID     int32

	faults  []fault
	hangs   map[string]bool
	panics  map[string]any
	dialErr []error

	// DisconnectErr is returned by every Disconnect.
	DisconnectErr error

	calls    []string
	opened   int
	released int
	open     int
	maxOpen  int
}

// New returns an empty fake with a plausible host description.
func New() *Fake {
	return &Fake{
		pools:  make(map[string][]*Volume),
		hangs:  make(map[string]bool),
		panics: make(map[string]any),
		host: Host{
			Type:       "QEMU",
			Version:    8002000,
			LibVersion: 10000000,
			Hostname:   "hv1",
			URI:        "qemu:///system",
		},
		nextID: 1,
	}
}

// ----------------------------------------------------------------------------
// State setup
// ----------------------------------------------------------------------------

// AddDomain appends a domain. An active domain without an ID gets the next
// free one.
func (f *Fake) AddDomain(d Domain) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	dd := d
	if dd.Active && dd.ID <= 0 {
		dd.ID = f.nextID
	}
	if dd.ID >= f.nextID {
		f.nextID = dd.ID + 1
	}
	f.domains = append(f.domains, &dd)
	return f
}

// AddPool creates a pool holding vols in order.
func (f *Fake) AddPool(name string, vols ...Volume) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pools[name]; !ok {
		f.poolOrder = append(f.poolOrder, name)
	}
	list := make([]*Volume, 0, len(vols))
	for i := range vols {
		v := vols[i]
		list = append(list, &v)
	}
	f.pools[name] = list
	return f
}

// AddNetwork appends network names.
func (f *Fake) AddNetwork(names ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, names...)
	return f
}

// AddInterface appends a host interface.
func (f *Fake) AddInterface(i Interface) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	ii := i
	f.interfaces = append(f.interfaces, &ii)
	return f
}

// SetHost replaces the host description.
func (f *Fake) SetHost(h Host) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host = h
	return f
}

// Fail makes method return err. A non-empty target restricts the fault to
// calls about the object of that name.
func (f *Fake) Fail(method, target string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, fault{method: method, target: target, err: err})
	return f
}

// Hang makes method block until its connection is released.
func (f *Fake) Hang(method string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangs[method] = true
	return f
}

// Panic makes method panic with v.
func (f *Fake) Panic(method string, v any) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[method] = v
	return f
}

// FailDials makes the next len(errs) dials fail with errs in order.
func (f *Fake) FailDials(errs ...error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = append(f.dialErr, errs...)
	return f
}

// ----------------------------------------------------------------------------
// Inspection
// ----------------------------------------------------------------------------

// Domain returns a copy of the named domain.
func (f *Fake) Domain(name string) (Domain, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d := f.domainLocked(name); d != nil {
		return *d, true
	}
	return Domain{}, false
}

// Calls returns the backend calls made so far, as "Method" or
// "Method:target".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Stats reports connections opened, released, and the peak number open at
// once.
func (f *Fake) Stats() (opened, released, maxOpen int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened, f.released, f.maxOpen
}

// Open returns the number of connections not yet released.
func (f *Fake) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// LibvirtError builds the error go-libvirt returns for code.
func LibvirtError(code libvirt.ErrorNumber, msg string) error {
	return libvirt.Error{Code: uint32(code), Message: msg}
}

// ----------------------------------------------------------------------------
// Dialing
// ----------------------------------------------------------------------------

// Dial satisfies hypervisor.DialFunc.
func (f *Fake) Dial(ctx context.Context, _ hypervisor.Endpoint, _ time.Duration) (hypervisor.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dialErr) > 0 {
		err := f.dialErr[0]
		f.dialErr = f.dialErr[1:]
		return nil, err
	}
	f.opened++
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
	return &Conn{f: f, done: make(chan struct{})}, nil
}

// Conn is one connection onto a Fake.
type Conn struct {
	f    *Fake
	once sync.Once
	done chan struct{}
}

var _ hypervisor.Conn = (*Conn)(nil)

// Disconnect releases the connection, unblocking any hung call.
func (c *Conn) Disconnect() error {
	first := false
	c.once.Do(func() {
		first = true
		close(c.done)
	})
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if first {
		c.f.released++
		c.f.open--
	}
	return c.f.DisconnectErr
}

// enter records the call and applies faults and hangs. It returns with the
// fake's lock held on success.
func (c *Conn) enter(method, target string) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.f.mu.Lock()
	name := method
	if target != "" {
		name += ":" + target
	}
	c.f.calls = append(c.f.calls, name)
	hang := c.f.hangs[method]
	p, panics := c.f.panics[method]
	c.f.mu.Unlock()

	if panics {
		panic(p)
	}
	if hang {
		<-c.done
		return ErrClosed
	}

	c.f.mu.Lock()
	for _, ft := range c.f.faults {
		if ft.method == method && (ft.target == "" || ft.target == target) {
			c.f.mu.Unlock()
			return ft.err
		}
	}
	return nil
}

func (c *Conn) leave() { c.f.mu.Unlock() }

// ----------------------------------------------------------------------------
// Domains
// ----------------------------------------------------------------------------

func (f *Fake) domainLocked(name string) *Domain {
	for _, d := range f.domains {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func record(d *Domain) libvirt.Domain {
	id := int32(-1)
	if d.Active {
		id = d.ID
	}
	return libvirt.Domain{Name: d.Name, UUID: uuidFor(d.Name), ID: id}
}

func uuidFor(name string) libvirt.UUID {
	var u libvirt.UUID
	sum := sha256.Sum256([]byte(name))
	copy(u[:], sum[:])
	return u
}

func noDomain(name string) error {
	return LibvirtError(libvirt.ErrNoDomain, fmt.Sprintf("Domain not found: no domain with matching name '%s'", name))
}

func invalid(msg string) error {
	return LibvirtError(libvirt.ErrOperationInvalid, "Requested operation is not valid: "+msg)
}

func (c *Conn) lookupLocked(dom libvirt.Domain) (*Domain, error) {
	d := c.f.domainLocked(dom.Name)
	if d == nil {
		return nil, noDomain(dom.Name)
	}
	return d, nil
}

func (c *Conn) ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	if err := c.enter("ConnectListAllDomains", ""); err != nil {
		return nil, 0, err
	}
	defer c.leave()

	wantActive := Flags&libvirt.ConnectListDomainsActive != 0
	wantInactive := Flags&libvirt.ConnectListDomainsInactive != 0
	if !wantActive && !wantInactive {
		wantActive, wantInactive = true, true
	}

	out := make([]libvirt.Domain, 0, len(c.f.domains))
	for _, d := range c.f.domains {
		if (d.Active && wantActive) || (!d.Active && wantInactive) {
			out = append(out, record(d))
		}
	}
	return out, uint32(len(out)), nil
}

func (c *Conn) DomainIsActive(Dom libvirt.Domain) (int32, error) {
	if err := c.enter("DomainIsActive", Dom.Name); err != nil {
		return 0, err
	}
	defer c.leave()
	d, err := c.lookupLocked(Dom)
	if err != nil {
		return 0, err
	}
	if d.Active {
		return 1, nil
	}
	return 0, nil
}

func (c *Conn) DomainLookupByName(Name string) (libvirt.Domain, error) {
	if err := c.enter("DomainLookupByName", Name); err != nil {
		return libvirt.Domain{}, err
	}
	defer c.leave()
	d := c.f.domainLocked(Name)
	if d == nil {
		return libvirt.Domain{}, noDomain(Name)
	}
	return record(d), nil
}

func (c *Conn) DomainCreate(Dom libvirt.Domain) error {
	if err := c.enter("DomainCreate", Dom.Name); err != nil {
		return err
	}
	defer c.leave()
	d, err := c.lookupLocked(Dom)
	if err != nil {
		return err
	}
	if d.Active {
		return invalid("domain is already running")
	}
	d.Active = true
	d.Paused = false
	d.ID = c.f.nextID
	c.f.nextID++
	return nil
}

func (c *Conn) DomainSuspend(Dom libvirt.Domain) error {
	if err := c.enter("DomainSuspend", Dom.Name); err != nil {
		return err
	}
	defer c.leave()
	d, err := c.lookupLocked(Dom)
	if err != nil {
		return err
	}
	if !d.Active {
		return invalid("domain is not running")
	}
	d.Paused = true
	return nil
}

func (c *Conn) DomainResume(Dom libvirt.Domain) error {
	if err := c.enter("DomainResume", Dom.Name); err != nil {
		return err
	}
	defer c.leave()
	d, err := c.lookupLocked(Dom)
	if err != nil {
		return err
	}
	if !d.Active {
		return invalid("domain is not running")
	}
	d.Paused = false
	return nil
}

func (c *Conn) DomainDestroy(Dom libvirt.Domain) error {
	if err := c.enter("DomainDestroy", Dom.Name); err != nil {
		return err
	}
	defer c.leave()
	d, err := c.lookupLocked(Dom)
	if err != nil {
		return err
	}
	if !d.Active {
		return invalid("domain is not running")
	}
	d.Active = false
	d.Paused = false
	return nil
}

func (c *Conn) DomainUndefine(Dom libvirt.Domain) error {
	if err := c.enter("DomainUndefine", Dom.Name); err != nil {
		return err
	}
	defer c.leave()
	for i, d := range c.f.domains {
		if d.Name == Dom.Name {
			c.f.domains = append(c.f.domains[:i], c.f.domains[i+1:]...)
			return nil
		}
	}
	return noDomain(Dom.Name)
}

func (c *Conn) DomainDefineXML(XML string) (libvirt.Domain, error) {
	if err := c.enter("DomainDefineXML", ""); err != nil {
		return libvirt.Domain{}, err
	}
	defer c.leave()

	var doc libvirtxml.Domain
	if err := doc.Unmarshal(XML); err != nil {
		return libvirt.Domain{}, LibvirtError(libvirt.ErrXMLError, err.Error())
	}
	if doc.Name == "" {
		return libvirt.Domain{}, LibvirtError(libvirt.ErrXMLError, "missing domain name")
	}
	if d := c.f.domainLocked(doc.Name); d != nil {
		return record(d), nil
	}
	d := &Domain{Name: doc.Name}
	c.f.domains = append(c.f.domains, d)
	return record(d), nil
}

// ----------------------------------------------------------------------------
// Storage
// ----------------------------------------------------------------------------

func noPool(name string) error {
	return LibvirtError(libvirt.ErrNoStoragePool, fmt.Sprintf("Storage pool not found: no storage pool with matching name '%s'", name))
}

func noVol(name string) error {
	return LibvirtError(libvirt.ErrNoStorageVol, fmt.Sprintf("Storage volume not found: no storage vol with matching name '%s'", name))
}

func (c *Conn) volumeLocked(v libvirt.StorageVol) (*Volume, error) {
	vols, ok := c.f.pools[v.Pool]
	if !ok {
		return nil, noPool(v.Pool)
	}
	for _, vol := range vols {
		if vol.Name == v.Name {
			return vol, nil
		}
	}
	return nil, noVol(v.Name)
}

func (c *Conn) StoragePoolLookupByName(Name string) (libvirt.StoragePool, error) {
	if err := c.enter("StoragePoolLookupByName", Name); err != nil {
		return libvirt.StoragePool{}, err
	}
	defer c.leave()
	if _, ok := c.f.pools[Name]; !ok {
		return libvirt.StoragePool{}, noPool(Name)
	}
	return libvirt.StoragePool{Name: Name, UUID: uuidFor("pool/" + Name)}, nil
}

func (c *Conn) StoragePoolListVolumes(Pool libvirt.StoragePool, Maxnames int32) ([]string, error) {
	if err := c.enter("StoragePoolListVolumes", Pool.Name); err != nil {
		return nil, err
	}
	defer c.leave()
	vols, ok := c.f.pools[Pool.Name]
	if !ok {
		return nil, noPool(Pool.Name)
	}
	names := make([]string, 0, len(vols))
	for _, v := range vols {
		if int32(len(names)) >= Maxnames {
			break
		}
		names = append(names, v.Name)
	}
	return names, nil
}

func (c *Conn) StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error) {
	if err := c.enter("StorageVolLookupByName", Name); err != nil {
		return libvirt.StorageVol{}, err
	}
	defer c.leave()
	v, err := c.volumeLocked(libvirt.StorageVol{Pool: Pool.Name, Name: Name})
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	return libvirt.StorageVol{Pool: Pool.Name, Name: v.Name, Key: v.Path}, nil
}

func (c *Conn) StorageVolGetInfo(Vol libvirt.StorageVol) (int8, uint64, uint64, error) {
	if err := c.enter("StorageVolGetInfo", Vol.Name); err != nil {
		return 0, 0, 0, err
	}
	defer c.leave()
	v, err := c.volumeLocked(Vol)
	if err != nil {
		return 0, 0, 0, err
	}
	return v.Kind, v.Capacity, v.Allocation, nil
}

func (c *Conn) StorageVolGetPath(Vol libvirt.StorageVol) (string, error) {
	if err := c.enter("StorageVolGetPath", Vol.Name); err != nil {
		return "", err
	}
	defer c.leave()
	v, err := c.volumeLocked(Vol)
	if err != nil {
		return "", err
	}
	return v.Path, nil
}

// ----------------------------------------------------------------------------
// Networks and interfaces
// ----------------------------------------------------------------------------

func (c *Conn) ConnectListNetworks(Maxnames int32) ([]string, error) {
	if err := c.enter("ConnectListNetworks", ""); err != nil {
		return nil, err
	}
	defer c.leave()
	n := len(c.f.networks)
	if int(Maxnames) < n {
		n = int(Maxnames)
	}
	return append([]string{}, c.f.networks[:n]...), nil
}

func (c *Conn) ConnectListInterfaces(Maxnames int32) ([]string, error) {
	if err := c.enter("ConnectListInterfaces", ""); err != nil {
		return nil, err
	}
	defer c.leave()
	names := make([]string, 0, len(c.f.interfaces))
	for _, i := range c.f.interfaces {
		if int32(len(names)) >= Maxnames {
			break
		}
		names = append(names, i.Name)
	}
	return names, nil
}

func (c *Conn) InterfaceLookupByName(Name string) (libvirt.Interface, error) {
	if err := c.enter("InterfaceLookupByName", Name); err != nil {
		return libvirt.Interface{}, err
	}
	defer c.leave()
	for _, i := range c.f.interfaces {
		if i.Name == Name {
			return libvirt.Interface{Name: i.Name, Mac: i.MAC}, nil
		}
	}
	return libvirt.Interface{}, LibvirtError(libvirt.ErrNoInterface, fmt.Sprintf("Interface not found: %s", Name))
}

func (c *Conn) InterfaceGetXMLDesc(Iface libvirt.Interface, Flags uint32) (string, error) {
	if err := c.enter("InterfaceGetXMLDesc", Iface.Name); err != nil {
		return "", err
	}
	defer c.leave()
	for _, i := range c.f.interfaces {
		if i.Name == Iface.Name {
			return i.XML, nil
		}
	}
	return "", LibvirtError(libvirt.ErrNoInterface, fmt.Sprintf("Interface not found: %s", Iface.Name))
}

// ----------------------------------------------------------------------------
// Host
// ----------------------------------------------------------------------------

func (c *Conn) ConnectGetType() (string, error) {
	if err := c.enter("ConnectGetType", ""); err != nil {
		return "", err
	}
	defer c.leave()
	return c.f.host.Type, nil
}

func (c *Conn) ConnectGetVersion() (uint64, error) {
	if err := c.enter("ConnectGetVersion", ""); err != nil {
		return 0, err
	}
	defer c.leave()
	return c.f.host.Version, nil
}

func (c *Conn) ConnectGetLibVersion() (uint64, error) {
	if err := c.enter("ConnectGetLibVersion", ""); err != nil {
		return 0, err
	}
	defer c.leave()
	return c.f.host.LibVersion, nil
}

func (c *Conn) ConnectGetHostname() (string, error) {
	if err := c.enter("ConnectGetHostname", ""); err != nil {
		return "", err
	}
	defer c.leave()
	return c.f.host.Hostname, nil
}

func (c *Conn) ConnectGetUri() (string, error) {
	if err := c.enter("ConnectGetUri", ""); err != nil {
		return "", err
	}
	defer c.leave()
	return c.f.host.URI, nil
}
