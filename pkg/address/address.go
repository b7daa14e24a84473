// Package address implements family-tagged socket addresses and name
// resolution for the socket library.
package address

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/vitalvas/gosock/pkg/neterr"
)

// StorageSize is the size of the fixed address record, large enough for the
// native IPv6 socket address.
const StorageSize = 28

// Record layout. The family tag lives inside the record so the tag and the
// byte layout can never disagree.
const (
	familyOffset = 0
	portOffset   = 2
	ipv4Offset   = 4
	flowOffset   = 4
	ipv6Offset   = 8
	scopeOffset  = 24
)

var errUnknownFamily = errors.New("unknown address family")

// SocketAddress is an immutable-by-convention socket endpoint address. The
// zero value has an unknown family.
type SocketAddress struct {
	data [StorageSize]byte
}

// Family returns the address family.
func (a SocketAddress) Family() Family {
	return Family(binary.BigEndian.Uint16(a.data[familyOffset:]))
}

// SetFamily sets the address family and clears the rest of the record.
func (a *SocketAddress) SetFamily(f Family) {
	a.data = [StorageSize]byte{}
	binary.BigEndian.PutUint16(a.data[familyOffset:], uint16(f))
}

// IsZero reports whether the address has no known family.
func (a SocketAddress) IsZero() bool {
	return a.Family() == FamilyUnknown
}

// IP returns a copy of the IP bytes: 4 for IPv4, 16 for IPv6, nil otherwise.
func (a SocketAddress) IP() []byte {
	switch a.Family() {
	case FamilyIPv4:
		return bytes.Clone(a.data[ipv4Offset : ipv4Offset+4])
	case FamilyIPv6:
		return bytes.Clone(a.data[ipv6Offset : ipv6Offset+16])
	default:
		return nil
	}
}

// SetIP sets the IP bytes. The slice length must match the family IP size.
func (a *SocketAddress) SetIP(ip []byte) error {
	f := a.Family()
	if f == FamilyUnknown || len(ip) != f.IPSize() {
		return neterr.New(neterr.KindProtocolMismatch, "set ip",
			fmt.Errorf("%d-byte ip for %s address", len(ip), f))
	}

	if f == FamilyIPv4 {
		copy(a.data[ipv4Offset:], ip)
	} else {
		copy(a.data[ipv6Offset:], ip)
	}
	return nil
}

// Port returns the port in host byte order.
func (a SocketAddress) Port() uint16 {
	return binary.BigEndian.Uint16(a.data[portOffset:])
}

// SetPort sets the port, given in host byte order.
func (a *SocketAddress) SetPort(port uint16) {
	binary.BigEndian.PutUint16(a.data[portOffset:], port)
}

// Zone returns the IPv6 scope identifier, 0 for IPv4.
func (a SocketAddress) Zone() uint32 {
	if a.Family() != FamilyIPv6 {
		return 0
	}
	return binary.BigEndian.Uint32(a.data[scopeOffset:])
}

// SetZone sets the IPv6 scope identifier. It is ignored for other families.
func (a *SocketAddress) SetZone(zone uint32) {
	if a.Family() != FamilyIPv6 {
		return
	}
	binary.BigEndian.PutUint32(a.data[scopeOffset:], zone)
}

// AddrPort returns the address as a netip.AddrPort. The zero AddrPort is
// returned for an unknown family.
func (a SocketAddress) AddrPort() netip.AddrPort {
	var ip netip.Addr
	switch a.Family() {
	case FamilyIPv4:
		ip = netip.AddrFrom4([4]byte(a.data[ipv4Offset : ipv4Offset+4]))
	case FamilyIPv6:
		ip = netip.AddrFrom16([16]byte(a.data[ipv6Offset : ipv6Offset+16]))
		if zone := a.Zone(); zone != 0 {
			ip = ip.WithZone(strconv.FormatUint(uint64(zone), 10))
		}
	default:
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ip, a.Port())
}

// Host returns the numeric host string. Names are never looked up.
func (a SocketAddress) Host() (string, error) {
	if a.IsZero() {
		return "", neterr.New(neterr.KindResolution, "host", errUnknownFamily)
	}
	return a.AddrPort().Addr().String(), nil
}

// Service returns the numeric service string.
func (a SocketAddress) Service() (string, error) {
	if a.IsZero() {
		return "", neterr.New(neterr.KindResolution, "service", errUnknownFamily)
	}
	return strconv.FormatUint(uint64(a.Port()), 10), nil
}

// HostService returns the numeric host and service strings.
func (a SocketAddress) HostService() (string, string, error) {
	host, err := a.Host()
	if err != nil {
		return "", "", err
	}
	service, _ := a.Service()
	return host, service, nil
}

// String returns "host:port", bracketing IPv6 hosts.
func (a SocketAddress) String() string {
	host, service, err := a.HostService()
	if err != nil {
		return "<unknown>"
	}
	return net.JoinHostPort(host, service)
}

// UDPAddr converts the address for use with the net package.
func (a SocketAddress) UDPAddr() *net.UDPAddr {
	if a.IsZero() {
		return nil
	}
	return net.UDPAddrFromAddrPort(a.AddrPort())
}

// TCPAddr converts the address for use with the net package.
func (a SocketAddress) TCPAddr() *net.TCPAddr {
	if a.IsZero() {
		return nil
	}
	return net.TCPAddrFromAddrPort(a.AddrPort())
}

// Equal reports whether both addresses hold identical records.
func (a SocketAddress) Equal(b SocketAddress) bool {
	return Compare(a, b) == 0
}

// Compare orders addresses by family first, then by raw record bytes. It
// returns 0 only for identical records, so addresses of different families
// never compare equal.
func Compare(a, b SocketAddress) int {
	fa, fb := a.Family(), b.Family()
	if fa != fb {
		if fa < fb {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.data[:], b.data[:])
}

// FromAddrPort builds an address from a netip.AddrPort. IPv4-mapped IPv6
// addresses are stored as IPv4.
func FromAddrPort(ap netip.AddrPort) (SocketAddress, error) {
	var a SocketAddress

	ip := ap.Addr()
	if !ip.IsValid() {
		return a, neterr.New(neterr.KindProtocolMismatch, "from addrport", errUnknownFamily)
	}

	if ip.Is4In6() {
		ip = ip.Unmap()
	}

	if ip.Is4() {
		a.SetFamily(FamilyIPv4)
		raw := ip.As4()
		copy(a.data[ipv4Offset:], raw[:])
	} else {
		a.SetFamily(FamilyIPv6)
		raw := ip.As16()
		copy(a.data[ipv6Offset:], raw[:])
		if zone := ip.Zone(); zone != "" {
			a.SetZone(zoneIndex(zone))
		}
	}
	a.SetPort(ap.Port())

	return a, nil
}

// FromNetAddr converts a net.Addr of the IP families.
func FromNetAddr(addr net.Addr) (SocketAddress, error) {
	switch v := addr.(type) {
	case *net.UDPAddr:
		if v != nil {
			return FromAddrPort(v.AddrPort())
		}
	case *net.TCPAddr:
		if v != nil {
			return FromAddrPort(v.AddrPort())
		}
	case nil:
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err == nil {
			return FromAddrPort(ap)
		}
	}
	return SocketAddress{}, neterr.New(neterr.KindProtocolMismatch, "from net addr",
		fmt.Errorf("unsupported address %v", addr))
}

// Any returns the "any" bind address of the family with a system-assigned port.
func Any(f Family) (SocketAddress, error) {
	switch f {
	case FamilyIPv4:
		return Parse(AnyIPv4, AnyPort)
	case FamilyIPv6:
		return Parse(AnyIPv6, AnyPort)
	default:
		return SocketAddress{}, neterr.New(neterr.KindProtocolMismatch, "any address", errUnknownFamily)
	}
}

// Loopback returns the loopback address of the family with the given port.
func Loopback(f Family, port uint16) (SocketAddress, error) {
	var host string
	switch f {
	case FamilyIPv4:
		host = LoopbackIPv4
	case FamilyIPv6:
		host = LoopbackIPv6
	default:
		return SocketAddress{}, neterr.New(neterr.KindProtocolMismatch, "loopback address", errUnknownFamily)
	}

	a, err := Parse(host, AnyPort)
	if err != nil {
		return a, err
	}
	a.SetPort(port)
	return a, nil
}

// zoneIndex maps an IPv6 zone to a scope identifier: numeric zones are used
// as is, interface names are looked up.
func zoneIndex(zone string) uint32 {
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n)
	}
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index)
	}
	return 0
}
