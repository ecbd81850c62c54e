package hypervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DialFunc opens a backend connection to ep. timeout bounds the socket dial.
type DialFunc func(ctx context.Context, ep Endpoint, timeout time.Duration) (Conn, error)

// DialLibvirt connects to libvirtd over the endpoint's transport and opens
// the endpoint's driver URI.
func DialLibvirt(ctx context.Context, ep Endpoint, timeout time.Duration) (Conn, error) {
	var dialer socket.Dialer
	switch ep.Transport {
	case TransportTCP:
		dialer = dialers.NewRemote(ep.Host,
			dialers.UsePort(ep.Port),
			dialers.WithRemoteTimeout(timeout),
		)
	default:
		dialer = dialers.NewLocal(
			dialers.WithSocket(ep.Socket),
			dialers.WithLocalTimeout(timeout),
		)
	}

	type result struct {
		l   *libvirt.Libvirt
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		l := libvirt.NewWithDialer(dialer)
		if err := l.ConnectToURI(libvirt.ConnectURI(ep.Driver)); err != nil {
			resultCh <- result{err: err}
			return
		}
		resultCh <- result{l: l}
	}()

	select {
	case <-ctx.Done():
		// The handshake may still complete; make sure it does not leak.
		go func() {
			if res := <-resultCh; res.l != nil {
				_ = res.l.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect to libvirt at %s cancelled: %w", ep, ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("connect to libvirt at %s: %w", ep, res.err)
		}
		return res.l, nil
	}
}
