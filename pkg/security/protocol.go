package security

import "strings"

// Protocol selects the security protocol and version.
type Protocol uint8

const (
	ProtocolUnknown Protocol = 0
	TLS13           Protocol = 1
	DTLS13          Protocol = 2
	TLS12           Protocol = 3
	DTLS12          Protocol = 4

	// TLS is the current TLS version.
	TLS = TLS13
	// DTLS is the current DTLS version.
	DTLS = DTLS13
)

// String returns a string representation of the protocol
func (p Protocol) String() string {
	switch p {
	case TLS13:
		return "tls1.3"
	case DTLS13:
		return "dtls1.3"
	case TLS12:
		return "tls1.2"
	case DTLS12:
		return "dtls1.2"
	default:
		return "unknown"
	}
}

// IsValid reports whether p is a recognized protocol.
func (p Protocol) IsValid() bool {
	return p >= TLS13 && p <= DTLS12
}

// IsDatagram reports whether p secures datagram sockets.
func (p Protocol) IsDatagram() bool {
	return p == DTLS13 || p == DTLS12
}

// ParseProtocol parses protocol names such as "tls", "tls1.2" or "dtls1.3".
func ParseProtocol(s string) Protocol {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tls", "tls1.3", "tls13":
		return TLS13
	case "tls1.2", "tls12":
		return TLS12
	case "dtls", "dtls1.3", "dtls13":
		return DTLS13
	case "dtls1.2", "dtls12":
		return DTLS12
	default:
		return ProtocolUnknown
	}
}

// Mode tells whether a context verifies peers or serves a certificate.
type Mode uint8

const (
	ModeVerify Mode = iota
	ModeServe
)

// String returns a string representation of the mode
func (m Mode) String() string {
	if m == ModeServe {
		return "serve"
	}
	return "verify"
}
