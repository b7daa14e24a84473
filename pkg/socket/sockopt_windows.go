//go:build windows

package socket

import (
	"net/netip"

	"golang.org/x/sys/windows"

	"github.com/vitalvas/gosock/pkg/address"
)

// SO_REUSEADDR on Windows lets another process bind the same port.
func setReuseAddr(uintptr) error {
	return nil
}

func getNoDelay(fd uintptr) (bool, error) {
	v, err := windows.GetsockoptInt(windows.Handle(fd), windows.IPPROTO_TCP, windows.TCP_NODELAY)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// connectSocket connects an already bound datagram socket.
func connectSocket(fd uintptr, addr address.SocketAddress) error {
	return windows.Connect(windows.Handle(fd), sockaddr(addr))
}

func shutdownSocket(fd uintptr, dir Direction) error {
	how := windows.SHUT_RDWR
	switch dir {
	case ShutdownReceive:
		how = windows.SHUT_RD
	case ShutdownSend:
		how = windows.SHUT_WR
	}
	return windows.Shutdown(windows.Handle(fd), how)
}

// getSockName returns the address the kernel picked for a socket connected
// after binding to the any address.
func getSockName(fd uintptr) (address.SocketAddress, error) {
	sa, err := windows.Getsockname(windows.Handle(fd))
	if err != nil {
		return address.SocketAddress{}, err
	}

	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return address.FromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)))
	case *windows.SockaddrInet6:
		addr, err := address.FromAddrPort(netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port)))
		if err == nil && addr.Family() == address.FamilyIPv6 {
			addr.SetZone(v.ZoneId)
		}
		return addr, err
	default:
		return address.SocketAddress{}, errUnsupportedSockaddr
	}
}

func sockaddr(addr address.SocketAddress) windows.Sockaddr {
	ap := addr.AddrPort()
	if addr.Family() == address.FamilyIPv4 {
		return &windows.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}
	}
	return &windows.SockaddrInet6{Port: int(ap.Port()), ZoneId: addr.Zone(), Addr: ap.Addr().As16()}
}
