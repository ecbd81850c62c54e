package hypervisor

import (
	"context"
	"fmt"
)

// Info describes the host behind the connection.
type Info struct {
	Type       string `json:"type"`
	Version    string `json:"version"`
	LibVersion string `json:"libVersion"`
	Hostname   string `json:"hostname"`
	URI        string `json:"uri"`
}

// FormatVersion renders libvirt's packed version number
// (major*1,000,000 + minor*1,000 + release) as "major.minor.release".
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}

// Info queries the host type, versions, hostname and canonical URI.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	const op = "host info"

	var info Info
	err := c.Do(ctx, op, func(ctx context.Context, s *Session) error {
		var err error
		if info.Type, err = Call(ctx, s, op, func(b Backend) (string, error) { return b.ConnectGetType() }); err != nil {
			return Wrap(KindBackend, op, err)
		}
		hv, err := Call(ctx, s, op, func(b Backend) (uint64, error) { return b.ConnectGetVersion() })
		if err != nil {
			return Wrap(KindBackend, op, err)
		}
		lib, err := Call(ctx, s, op, func(b Backend) (uint64, error) { return b.ConnectGetLibVersion() })
		if err != nil {
			return Wrap(KindBackend, op, err)
		}
		if info.Hostname, err = Call(ctx, s, op, func(b Backend) (string, error) { return b.ConnectGetHostname() }); err != nil {
			return Wrap(KindBackend, op, err)
		}
		if info.URI, err = Call(ctx, s, op, func(b Backend) (string, error) { return b.ConnectGetUri() }); err != nil {
			return Wrap(KindBackend, op, err)
		}
		info.Version = FormatVersion(hv)
		info.LibVersion = FormatVersion(lib)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}
