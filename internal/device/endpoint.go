// internal/device/endpoint.go
package device

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// DefaultUnitID is the Modbus unit id the controllers answer on.
const DefaultUnitID = 1

// Endpoint identifies one controller on the network.
// It is comparable and used as a map key throughout the monitor.
type Endpoint struct {
	Addr   netip.Addr
	Port   uint16
	UnitID uint8
}

// NewEndpoint builds an endpoint with the default unit id.
func NewEndpoint(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{Addr: addr, Port: port, UnitID: DefaultUnitID}
}

// ParseEndpoint parses "a.b.c.d:port".
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	ep := NewEndpoint(ap.Addr(), ap.Port())
	if err := ep.Validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

// Validate checks the endpoint is an IPv4 address with a non-zero port.
func (e Endpoint) Validate() error {
	if !e.Addr.IsValid() || !e.Addr.Is4() {
		return fmt.Errorf("endpoint %s: IPv4 address required", e)
	}
	if e.Port == 0 {
		return errors.New("endpoint: port must be > 0")
	}
	return nil
}

// Address returns host:port suitable for dialing.
func (e Endpoint) Address() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

func (e Endpoint) String() string {
	if !e.Addr.IsValid() {
		return ""
	}
	return e.Address()
}

// CacheName is the log cache key prefix for this controller.
func (e Endpoint) CacheName() string {
	return fmt.Sprintf("%s_%d_%d", e.Addr, e.Port, e.UnitID)
}

// MarshalText renders the endpoint as host:port.
func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}
