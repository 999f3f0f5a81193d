// Package netaddr is a small value-object layer over golang.org/x/sys/unix's
// raw Sockaddr types: a listener or dialer wants to talk about "bind to
// 0.0.0.0:8080" or "this unix socket path", not assemble a sockaddr_in by
// hand every time.
//
// Grounded on ljrServer's Address/IPv4Address/IPv6Address/UnixAddress
// (address.h/.cpp). net.TCPAddr/net.ResolveTCPAddr already solve the
// name-resolution half of what Address::Lookup did, so this package keeps
// only the construction/formatting surface the rest of the module needs and
// leans on net for DNS.
package netaddr

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Address is anything that can produce a unix.Sockaddr for bind/connect and
// describe itself for logging, matching Address's getAddr/toString pair.
type Address interface {
	Sockaddr() unix.Sockaddr
	String() string
}

// IPv4 is a dotted-quad address and port.
type IPv4 struct {
	IP   [4]byte
	Port int
}

// ParseIPv4 parses "a.b.c.d:port" or "a.b.c.d" (port 0).
func ParseIPv4(s string) (*IPv4, error) {
	host, port, err := splitHostPort(s)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return nil, fmt.Errorf("netaddr: resolve %q: %w", host, err)
		}
		ip = resolved.IP
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("netaddr: %q is not an IPv4 address", host)
	}
	return &IPv4{IP: [4]byte{ip4[0], ip4[1], ip4[2], ip4[3]}, Port: port}, nil
}

func (a *IPv4) Sockaddr() unix.Sockaddr {
	return &unix.SockaddrInet4{Port: a.Port, Addr: a.IP}
}

func (a *IPv4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// IPv6 is an IPv6 address and port.
type IPv6 struct {
	IP   [16]byte
	Port int
}

// ParseIPv6 parses "[::1]:port" or "::1".
func ParseIPv6(s string) (*IPv6, error) {
	host, port, err := splitHostPort(s)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("netaddr: %q is not an IPv6 address", host)
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return nil, fmt.Errorf("netaddr: %q is not an IPv6 address", host)
	}
	var out [16]byte
	copy(out[:], ip16)
	return &IPv6{IP: out, Port: port}, nil
}

func (a *IPv6) Sockaddr() unix.Sockaddr {
	return &unix.SockaddrInet6{Port: a.Port, Addr: a.IP}
}

func (a *IPv6) String() string {
	ip := net.IP(a.IP[:])
	return fmt.Sprintf("[%s]:%d", ip.String(), a.Port)
}

// Unix is a unix domain socket path.
type Unix struct {
	Path string
}

func (a *Unix) Sockaddr() unix.Sockaddr { return &unix.SockaddrUnix{Name: a.Path} }
func (a *Unix) String() string          { return "unix://" + a.Path }

// Parse dispatches on s's shape: "unix:///path" for Unix, "[...]" for IPv6,
// anything else for IPv4. Matches Address::Create's family dispatch, minus
// the raw-sockaddr entry point Go callers never need.
func Parse(s string) (Address, error) {
	if len(s) > len("unix://") && s[:len("unix://")] == "unix://" {
		return &Unix{Path: s[len("unix://"):]}, nil
	}
	if len(s) > 0 && s[0] == '[' {
		return ParseIPv6(s)
	}
	return ParseIPv4(s)
}

func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("netaddr: invalid port in %q: %w", s, err)
	}
	return host, port, nil
}
