//go:build unix

package socket

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/vitalvas/gosock/pkg/address"
)

func setReuseAddr(fd uintptr) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func getNoDelay(fd uintptr) (bool, error) {
	v, err := unix.GetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// connectSocket connects an already bound datagram socket.
func connectSocket(fd uintptr, addr address.SocketAddress) error {
	return unix.Connect(int(fd), sockaddr(addr))
}

func shutdownSocket(fd uintptr, dir Direction) error {
	how := unix.SHUT_RDWR
	switch dir {
	case ShutdownReceive:
		how = unix.SHUT_RD
	case ShutdownSend:
		how = unix.SHUT_WR
	}
	return unix.Shutdown(int(fd), how)
}

// getSockName returns the address the kernel picked for a socket connected
// after binding to the any address.
func getSockName(fd uintptr) (address.SocketAddress, error) {
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return address.SocketAddress{}, err
	}

	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return address.FromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)))
	case *unix.SockaddrInet6:
		addr, err := address.FromAddrPort(netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)))
		if err == nil && addr.Family() == address.FamilyIPv6 {
			addr.SetZone(v.ZoneId)
		}
		return addr, err
	default:
		return address.SocketAddress{}, errUnsupportedSockaddr
	}
}

func sockaddr(addr address.SocketAddress) unix.Sockaddr {
	ap := addr.AddrPort()
	if addr.Family() == address.FamilyIPv4 {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), ZoneId: addr.Zone(), Addr: ap.Addr().As16()}
}
