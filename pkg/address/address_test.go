package address

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitalvas/gosock/pkg/neterr"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		service string
		family  Family
		ip      []byte
		port    uint16
	}{
		{"ipv4 any", AnyIPv4, AnyPort, FamilyIPv4, []byte{0, 0, 0, 0}, 0},
		{"ipv4 loopback", LoopbackIPv4, "8080", FamilyIPv4, []byte{127, 0, 0, 1}, 8080},
		{"ipv6 any", AnyIPv6, "53", FamilyIPv6, make([]byte, 16), 53},
		{"ipv6 loopback", LoopbackIPv6, "65535", FamilyIPv6, append(make([]byte, 15), 1), 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.host, tt.service)
			require.NoError(t, err)

			assert.Equal(t, tt.family, a.Family())
			assert.Equal(t, tt.ip, a.IP())
			assert.Len(t, a.IP(), IPSize(tt.family))
			assert.Equal(t, tt.port, a.Port())

			host, service, err := a.HostService()
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.service, service)
		})
	}
}

func TestParseRejectsNames(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		service string
	}{
		{"host name", Localhost, "80"},
		{"service name", LoopbackIPv4, "http"},
		{"port overflow", LoopbackIPv4, "65536"},
		{"empty host", "", "80"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.host, tt.service)
			require.Error(t, err)
			assert.ErrorIs(t, err, neterr.ErrResolution)
		})
	}
}

func TestPortByteOrder(t *testing.T) {
	var a SocketAddress
	a.SetFamily(FamilyIPv4)
	a.SetPort(0x1234)

	assert.Equal(t, uint16(0x1234), a.Port())
	assert.Equal(t, byte(0x12), a.data[portOffset])
	assert.Equal(t, byte(0x34), a.data[portOffset+1])
}

func TestSetIP(t *testing.T) {
	var a SocketAddress
	assert.ErrorIs(t, a.SetIP([]byte{1, 2, 3, 4}), neterr.ErrProtocolMismatch)

	a.SetFamily(FamilyIPv4)
	require.NoError(t, a.SetIP([]byte{10, 0, 0, 1}))
	a.SetPort(9000)
	assert.Equal(t, "10.0.0.1:9000", a.String())

	assert.ErrorIs(t, a.SetIP(make([]byte, 16)), neterr.ErrProtocolMismatch)

	a.SetFamily(FamilyIPv6)
	assert.Equal(t, uint16(0), a.Port())
	ip := netip.MustParseAddr("2001:db8::1").As16()
	require.NoError(t, a.SetIP(ip[:]))
	a.SetPort(443)
	assert.Equal(t, "[2001:db8::1]:443", a.String())
}

func TestZone(t *testing.T) {
	a, err := Parse("fe80::1%7", "22")
	require.NoError(t, err)

	assert.Equal(t, uint32(7), a.Zone())
	host, err := a.Host()
	require.NoError(t, err)
	assert.Equal(t, "fe80::1%7", host)

	v4, err := Parse(LoopbackIPv4, "22")
	require.NoError(t, err)
	v4.SetZone(3)
	assert.Equal(t, uint32(0), v4.Zone())
}

func TestCompare(t *testing.T) {
	a, err := Parse(LoopbackIPv4, "1000")
	require.NoError(t, err)
	b, err := Parse(LoopbackIPv4, "1001")
	require.NoError(t, err)
	c, err := Parse(LoopbackIPv6, "1000")
	require.NoError(t, err)

	copyA := a
	assert.Equal(t, 0, Compare(a, copyA))
	assert.True(t, a.Equal(copyA))

	assert.Equal(t, -1, Compare(a, b))
	assert.Equal(t, 1, Compare(b, a))

	assert.NotEqual(t, 0, Compare(a, c))
	assert.Equal(t, -1, Compare(a, c))
	assert.Equal(t, 1, Compare(c, a))

	var zero SocketAddress
	assert.Equal(t, -1, Compare(zero, a))

	list := []SocketAddress{c, b, a}
	sort.Slice(list, func(i, j int) bool { return Compare(list[i], list[j]) < 0 })
	assert.Equal(t, []SocketAddress{a, b, c}, list)
}

func TestUnknownFamily(t *testing.T) {
	var a SocketAddress

	assert.True(t, a.IsZero())
	assert.Nil(t, a.IP())
	assert.Nil(t, a.UDPAddr())
	assert.Nil(t, a.TCPAddr())
	assert.Equal(t, "<unknown>", a.String())

	_, err := a.Host()
	assert.ErrorIs(t, err, neterr.ErrResolution)
	_, err = a.Service()
	assert.ErrorIs(t, err, neterr.ErrResolution)
}

func TestNetConversions(t *testing.T) {
	a, err := Parse(LoopbackIPv4, "5000")
	require.NoError(t, err)

	udp := a.UDPAddr()
	assert.Equal(t, 5000, udp.Port)
	assert.True(t, udp.IP.Equal(net.IPv4(127, 0, 0, 1)))

	back, err := FromNetAddr(udp)
	require.NoError(t, err)
	assert.True(t, a.Equal(back))

	legacy := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}
	fromTCP, err := FromNetAddr(legacy)
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv4, fromTCP.Family())
	assert.True(t, a.Equal(fromTCP))

	_, err = FromNetAddr(nil)
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)
	_, err = FromNetAddr(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"})
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)
}

func TestAnyAndLoopback(t *testing.T) {
	any4, err := Any(FamilyIPv4)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:0", any4.String())

	any6, err := Any(FamilyIPv6)
	require.NoError(t, err)
	assert.Equal(t, "[::]:0", any6.String())

	lo, err := Loopback(FamilyIPv6, 80)
	require.NoError(t, err)
	assert.Equal(t, "[::1]:80", lo.String())

	_, err = Any(FamilyUnknown)
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)
	_, err = Loopback(FamilyUnknown, 0)
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)
}

func TestResolveRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name       string
		host       string
		service    string
		family     Family
		socketType SocketType
	}{
		{"ipv4 stream", LoopbackIPv4, "80", FamilyIPv4, TypeStream},
		{"ipv4 datagram", LoopbackIPv4, "53", FamilyIPv4, TypeDatagram},
		{"ipv6 stream", LoopbackIPv6, "443", FamilyIPv6, TypeStream},
		{"any port", AnyIPv4, AnyPort, FamilyIPv4, TypeDatagram},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Resolve(ctx, tt.host, tt.service, tt.family, tt.socketType)
			require.NoError(t, err)

			assert.Equal(t, tt.family, a.Family())
			host, service, err := a.HostService()
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.service, service)
		})
	}
}

func TestResolveServiceName(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := Resolve(ctx, LoopbackIPv4, "https", FamilyIPv4, TypeStream)
	require.NoError(t, err)
	assert.Equal(t, uint16(443), a.Port())
}

func TestResolveServiceNameAnyType(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrs, err := ResolveAll(ctx, LoopbackIPv4, "http", FamilyUnknown, TypeUnknown)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	assert.Equal(t, uint16(80), addrs[0].Port())
	assert.Equal(t, FamilyIPv4, addrs[0].Family())
}

func TestResolveLocalhost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addrs, err := ResolveAll(ctx, Localhost, "8080", FamilyIPv4, TypeStream)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	for _, a := range addrs {
		assert.Equal(t, FamilyIPv4, a.Family())
		assert.Equal(t, uint16(8080), a.Port())
	}
}

func TestResolveFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Resolve(ctx, LoopbackIPv4, "no-such-service-name", FamilyIPv4, TypeStream)
	assert.ErrorIs(t, err, neterr.ErrResolution)

	_, err = Resolve(ctx, LoopbackIPv4, "80", FamilyIPv6, TypeStream)
	assert.ErrorIs(t, err, neterr.ErrResolution)
}

func TestByteOrder(t *testing.T) {
	assert.Equal(t, uint16(0x1234), NetToHost16(HostToNet16(0x1234)))
	assert.Equal(t, uint32(0x12345678), NetToHost32(HostToNet32(0x12345678)))
}

func TestFamilyAndType(t *testing.T) {
	assert.Equal(t, "tcp4", Network(TypeStream, FamilyIPv4))
	assert.Equal(t, "udp6", Network(TypeDatagram, FamilyIPv6))
	assert.Equal(t, "", Network(TypeUnknown, FamilyIPv4))
	assert.Equal(t, "", Network(TypeStream, FamilyUnknown))

	assert.Equal(t, FamilyIPv4, ParseFamily("ipv4"))
	assert.Equal(t, FamilyIPv6, ParseFamily("6"))
	assert.Equal(t, FamilyUnknown, ParseFamily("ipx"))

	assert.Equal(t, "stream", TypeStream.String())
	assert.Equal(t, "ipv6", FamilyIPv6.String())
	assert.Equal(t, 0, IPSize(FamilyUnknown))
}
