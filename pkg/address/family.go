package address

// Well-known literal addresses and services.
const (
	// AnyIPv4 binds every IPv4 interface.
	AnyIPv4 = "0.0.0.0"
	// AnyIPv6 binds every IPv6 interface.
	AnyIPv6 = "::"

	// LoopbackIPv4 is the IPv4 loopback address.
	LoopbackIPv4 = "127.0.0.1"
	// LoopbackIPv6 is the IPv6 loopback address.
	LoopbackIPv6 = "::1"

	// Localhost names the current computer.
	Localhost = "localhost"

	// AnyPort lets the system pick a dynamic port.
	AnyPort = "0"
)

// Maximum lengths of formatted host and service strings (NI_MAXHOST, NI_MAXSERV).
const (
	MaxHostLength    = 1025
	MaxServiceLength = 32
)

// Family is the internet protocol address family of a socket or address.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

// String returns a string representation of the address family
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

// IPSize returns the IP byte array size of the family: 4 for IPv4, 16 for IPv6
// and 0 for an unknown family.
func (f Family) IPSize() int {
	switch f {
	case FamilyIPv4:
		return 4
	case FamilyIPv6:
		return 16
	default:
		return 0
	}
}

// IPSize returns the IP byte array size of the given family.
func IPSize(f Family) int {
	return f.IPSize()
}

// ParseFamily parses "ipv4"/"ip4"/"4" and "ipv6"/"ip6"/"6".
func ParseFamily(s string) Family {
	switch s {
	case "ipv4", "ip4", "4", "inet":
		return FamilyIPv4
	case "ipv6", "ip6", "6", "inet6":
		return FamilyIPv6
	default:
		return FamilyUnknown
	}
}

func (f Family) ipNetwork() string {
	switch f {
	case FamilyIPv4:
		return "ip4"
	case FamilyIPv6:
		return "ip6"
	default:
		return "ip"
	}
}

// SocketType is the communication type of a socket.
type SocketType uint8

const (
	TypeUnknown SocketType = iota
	TypeStream
	TypeDatagram
)

// String returns a string representation of the socket type
func (t SocketType) String() string {
	switch t {
	case TypeStream:
		return "stream"
	case TypeDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

func (t SocketType) transport() string {
	switch t {
	case TypeStream:
		return "tcp"
	case TypeDatagram:
		return "udp"
	default:
		// the resolver treats an empty network as any transport
		return ""
	}
}

// Network returns the Go network name ("tcp4", "udp6", ...) for a socket of
// type t and family f, or "" when either is unknown.
func Network(t SocketType, f Family) string {
	if t == TypeUnknown || f == FamilyUnknown {
		return ""
	}

	suffix := "4"
	if f == FamilyIPv6 {
		suffix = "6"
	}
	return t.transport() + suffix
}
