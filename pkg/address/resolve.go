package address

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/vitalvas/gosock/pkg/neterr"
)

// Parse creates an address from a numeric host and a numeric service. No name
// lookup is performed: non-numeric input fails.
func Parse(host, service string) (SocketAddress, error) {
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return SocketAddress{}, neterr.New(neterr.KindResolution, "parse address", err)
	}

	port, err := strconv.ParseUint(service, 10, 16)
	if err != nil {
		return SocketAddress{}, neterr.New(neterr.KindResolution, "parse address",
			fmt.Errorf("non-numeric service %q", service))
	}

	return FromAddrPort(netip.AddrPortFrom(ip, uint16(port)))
}

// Resolver resolves host and service names through a net.Resolver.
type Resolver struct {
	resolver *net.Resolver
}

// NewResolver creates a resolver. A nil r uses net.DefaultResolver.
func NewResolver(r *net.Resolver) *Resolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Resolver{resolver: r}
}

// DefaultResolver resolves through net.DefaultResolver.
var DefaultResolver = NewResolver(nil)

// Resolve returns the best matching address, the first one reported by the
// name service.
func (r *Resolver) Resolve(ctx context.Context, host, service string, family Family, socketType SocketType) (SocketAddress, error) {
	addrs, err := r.ResolveAll(ctx, host, service, family, socketType)
	if err != nil {
		return SocketAddress{}, err
	}
	return addrs[0], nil
}

// ResolveAll returns every address of the requested family (any family when
// FamilyUnknown) the name service reports for host and service.
func (r *Resolver) ResolveAll(ctx context.Context, host, service string, family Family, socketType SocketType) ([]SocketAddress, error) {
	port, err := r.resolver.LookupPort(ctx, socketType.transport(), service)
	if err != nil {
		return nil, neterr.New(neterr.KindResolution, "resolve service", err)
	}

	ips, err := r.resolver.LookupNetIP(ctx, family.ipNetwork(), host)
	if err != nil {
		return nil, neterr.New(neterr.KindResolution, "resolve host", err)
	}

	addrs := make([]SocketAddress, 0, len(ips))
	for _, ip := range ips {
		a, err := FromAddrPort(netip.AddrPortFrom(ip, uint16(port)))
		if err != nil {
			continue
		}
		if family != FamilyUnknown && a.Family() != family {
			continue
		}
		addrs = append(addrs, a)
	}

	if len(addrs) == 0 {
		return nil, neterr.New(neterr.KindResolution, "resolve",
			fmt.Errorf("no %s address for %s", family, host))
	}

	return addrs, nil
}

// Resolve resolves through DefaultResolver.
func Resolve(ctx context.Context, host, service string, family Family, socketType SocketType) (SocketAddress, error) {
	return DefaultResolver.Resolve(ctx, host, service, family, socketType)
}

// ResolveAll resolves through DefaultResolver.
func ResolveAll(ctx context.Context, host, service string, family Family, socketType SocketType) ([]SocketAddress, error) {
	return DefaultResolver.ResolveAll(ctx, host, service, family, socketType)
}
