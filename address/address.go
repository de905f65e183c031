// SPDX-License-Identifier: GPL-3.0-or-later

// Package address provides the endpoint address value type shared by every
// flavor of transport (TCP, UDP, TLS): an immutable {family, ip, port} tuple
// with parsing and string rendering.
package address

import (
	"fmt"
	"net"
	"net/netip"
)

// Family identifies the IP address family of an [Endpoint].
type Family int

const (
	// FamilyUnknown is the zero value, used only for the zero [Endpoint].
	FamilyUnknown Family = iota

	// FamilyIPv4 identifies an IPv4 endpoint.
	FamilyIPv4

	// FamilyIPv6 identifies an IPv6 endpoint.
	FamilyIPv6
)

// String implements [fmt.Stringer].
func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Endpoint is an immutable {family, ip, port} tuple identifying one end of a
// connection-oriented or datagram socket.
//
// The zero value is not a valid Endpoint; use [Parse] or [FromAddrPort] to
// construct one.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// Parse parses address (e.g. "127.0.0.1:8080", "[::1]:8080") into an Endpoint.
func Parse(address string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("address: parse %q: %w", address, err)
	}
	return FromAddrPort(ap), nil
}

// FromAddrPort constructs an Endpoint from a [netip.AddrPort].
func FromAddrPort(ap netip.AddrPort) Endpoint {
	return Endpoint{addr: ap.Addr(), port: ap.Port()}
}

// FromTCPAddr constructs an Endpoint from a [*net.TCPAddr].
func FromTCPAddr(a *net.TCPAddr) (Endpoint, error) {
	addr, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return Endpoint{}, fmt.Errorf("address: invalid IP %v", a.IP)
	}
	return Endpoint{addr: addr.Unmap(), port: uint16(a.Port)}, nil
}

// FromUDPAddr constructs an Endpoint from a [*net.UDPAddr].
func FromUDPAddr(a *net.UDPAddr) (Endpoint, error) {
	addr, ok := netip.AddrFromSlice(a.IP)
	if !ok {
		return Endpoint{}, fmt.Errorf("address: invalid IP %v", a.IP)
	}
	return Endpoint{addr: addr.Unmap(), port: uint16(a.Port)}, nil
}

// IsValid reports whether the Endpoint was properly constructed.
func (e Endpoint) IsValid() bool {
	return e.addr.IsValid()
}

// Family returns the address family of the Endpoint.
func (e Endpoint) Family() Family {
	switch {
	case !e.addr.IsValid():
		return FamilyUnknown
	case e.addr.Is4() || e.addr.Is4In6():
		return FamilyIPv4
	default:
		return FamilyIPv6
	}
}

// IP returns the address part of the Endpoint.
func (e Endpoint) IP() netip.Addr {
	return e.addr
}

// Port returns the port part of the Endpoint.
func (e Endpoint) Port() uint16 {
	return e.port
}

// AddrPort returns the Endpoint as a [netip.AddrPort].
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.addr, e.port)
}

// TCPAddr returns the Endpoint as a [*net.TCPAddr].
func (e Endpoint) TCPAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(e.AddrPort())
}

// UDPAddr returns the Endpoint as a [*net.UDPAddr].
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(e.AddrPort())
}

// String implements [fmt.Stringer], rendering "ip:port" (brackets for IPv6).
func (e Endpoint) String() string {
	if !e.addr.IsValid() {
		return ""
	}
	return e.AddrPort().String()
}

// Equal reports whether two Endpoints denote the same address and port.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.addr == other.addr && e.port == other.port
}
