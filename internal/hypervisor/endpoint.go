package hypervisor

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultSocket is the system libvirtd socket (qemu:///system).
	DefaultSocket = "/var/run/libvirt/libvirt-sock"
	// DefaultTCPPort is libvirtd's unencrypted TCP listener port.
	DefaultTCPPort = "16509"
)

// Transport is how the façade reaches libvirtd.
type Transport string

const (
	TransportUnix Transport = "unix"
	TransportTCP  Transport = "tcp"
)

// Endpoint is a parsed libvirt connection URI.
type Endpoint struct {
	// Raw is the URI as supplied by the operator.
	Raw string
	// Driver is the URI sent to libvirtd in the open call, with transport and
	// host removed (e.g. "qemu:///system"). Empty lets the daemon choose.
	Driver    string
	Transport Transport
	// Socket is the unix socket path for TransportUnix.
	Socket string
	// Host and Port address the daemon for TransportTCP.
	Host string
	Port string
}

func (e Endpoint) String() string {
	if e.Raw == "" {
		return "(default)"
	}
	return e.Raw
}

// ParseEndpoint interprets a libvirt URI far enough to pick a dialer.
// Anything the daemon itself should judge (driver names, paths) is passed
// through untouched.
func ParseEndpoint(raw string) (Endpoint, error) {
	ep := Endpoint{Raw: raw, Transport: TransportUnix, Socket: DefaultSocket}
	if strings.TrimSpace(raw) == "" {
		return ep, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse libvirt uri %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return Endpoint{}, fmt.Errorf("libvirt uri %q has no scheme", raw)
	}

	driver, transport, _ := strings.Cut(u.Scheme, "+")
	ep.Driver = driver + "://" + u.Path

	switch transport {
	case "", "unix":
		if u.Host != "" && transport == "" {
			return Endpoint{}, fmt.Errorf("libvirt uri %q: remote tls transport is not supported", raw)
		}
		if s := u.Query().Get("socket"); s != "" {
			ep.Socket = s
		} else if u.Path == "/session" {
			if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
				ep.Socket = filepath.Join(dir, "libvirt", "libvirt-sock")
			}
		}
	case "tcp":
		if u.Hostname() == "" {
			return Endpoint{}, fmt.Errorf("libvirt uri %q: tcp transport needs a host", raw)
		}
		ep.Transport = TransportTCP
		ep.Socket = ""
		ep.Host = u.Hostname()
		ep.Port = u.Port()
		if ep.Port == "" {
			ep.Port = DefaultTCPPort
		}
	default:
		return Endpoint{}, fmt.Errorf("libvirt uri %q: transport %q is not supported", raw, transport)
	}

	return ep, nil
}
