package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"

	"github.com/pion/dtls/v2"

	"github.com/vitalvas/gosock/pkg/neterr"
)

var (
	errStreamProtocol   = errors.New("stream socket needs a TLS protocol")
	errDatagramProtocol = errors.New("datagram socket needs a DTLS protocol")
	errNoCertificate    = errors.New("server role needs a certificate context")
	errNoPeerCert       = errors.New("peer presented no certificate")
)

func (c *Context) tlsVersion() uint16 {
	if c.protocol == TLS12 {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// ClientTLSConfig returns the crypto/tls configuration of the client role.
// Without a server name only the certificate chain is verified.
func (c *Context) ClientTLSConfig(serverName string) *tls.Config {
	cfg := &tls.Config{
		MinVersion: c.tlsVersion(),
		MaxVersion: c.tlsVersion(),
		RootCAs:    c.roots,
	}

	if c.mode == ModeServe {
		cfg.Certificates = []tls.Certificate{c.certificate}
	}

	if serverName != "" {
		cfg.ServerName = serverName
	} else {
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = c.verifyChain
	}

	return cfg
}

// ServerTLSConfig returns the crypto/tls configuration of the server role.
func (c *Context) ServerTLSConfig() (*tls.Config, error) {
	if c.mode != ModeServe {
		return nil, neterr.New(neterr.KindProtocolMismatch, "server tls config", errNoCertificate)
	}

	return &tls.Config{
		MinVersion:   c.tlsVersion(),
		MaxVersion:   c.tlsVersion(),
		Certificates: []tls.Certificate{c.certificate},
	}, nil
}

// StreamClient wraps a connected stream as the client end of a TLS session.
// The handshake runs on first I/O or through Handshake.
func (c *Context) StreamClient(conn net.Conn, serverName string) (*tls.Conn, error) {
	if c.protocol.IsDatagram() {
		return nil, neterr.New(neterr.KindProtocolMismatch, "tls client", errStreamProtocol)
	}
	return tls.Client(conn, c.ClientTLSConfig(serverName)), nil
}

// StreamServer wraps an accepted stream as the server end of a TLS session.
func (c *Context) StreamServer(conn net.Conn) (*tls.Conn, error) {
	if c.protocol.IsDatagram() {
		return nil, neterr.New(neterr.KindProtocolMismatch, "tls server", errStreamProtocol)
	}

	cfg, err := c.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Server(conn, cfg), nil
}

// Handshake drives a TLS handshake to completion. Without a deadline on ctx
// the context handshake timeout applies.
func (c *Context) Handshake(ctx context.Context, conn *tls.Conn) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}

	if err := conn.HandshakeContext(ctx); err != nil {
		return neterr.New(neterr.KindHandshake, "tls handshake", err)
	}
	return nil
}

// DTLSConfig returns the pion/dtls configuration for the given role.
// The engine implements DTLS 1.2, which serves both DTLS protocol values.
func (c *Context) DTLSConfig(serverName string, server bool) (*dtls.Config, error) {
	cfg := &dtls.Config{
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		RootCAs:              c.roots,
		LoggerFactory:        &loggerFactory{logger: c.logger},
		ConnectContextMaker:  c.handshakeContext,
	}

	if c.mode == ModeServe {
		cfg.Certificates = []tls.Certificate{c.certificate}
	} else if server {
		return nil, neterr.New(neterr.KindProtocolMismatch, "dtls config", errNoCertificate)
	}

	if !server {
		if serverName != "" {
			cfg.ServerName = serverName
		} else {
			cfg.InsecureSkipVerify = true
			cfg.VerifyPeerCertificate = c.verifyChain
		}
	}

	return cfg, nil
}

// DatagramClient performs a DTLS client handshake over a connected datagram
// conn and returns the secured conn.
func (c *Context) DatagramClient(ctx context.Context, conn net.Conn, serverName string) (*dtls.Conn, error) {
	if !c.protocol.IsDatagram() {
		return nil, neterr.New(neterr.KindProtocolMismatch, "dtls client", errDatagramProtocol)
	}

	cfg, err := c.DTLSConfig(serverName, false)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}

	secured, err := dtls.ClientWithContext(ctx, conn, cfg)
	if err != nil {
		return nil, neterr.New(neterr.KindHandshake, "dtls handshake", err)
	}
	return secured, nil
}

// DatagramServer performs the DTLS server handshake for one peer conn, as
// accepted from a datagram listener.
func (c *Context) DatagramServer(ctx context.Context, conn net.Conn) (*dtls.Conn, error) {
	if !c.protocol.IsDatagram() {
		return nil, neterr.New(neterr.KindProtocolMismatch, "dtls server", errDatagramProtocol)
	}

	cfg, err := c.DTLSConfig("", true)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}

	secured, err := dtls.ServerWithContext(ctx, conn, cfg)
	if err != nil {
		return nil, neterr.New(neterr.KindHandshake, "dtls handshake", err)
	}
	return secured, nil
}

func (c *Context) handshakeContext() (context.Context, func()) {
	return context.WithTimeout(context.Background(), c.handshakeTimeout)
}

// verifyChain checks that the peer certificate chains to the trust roots
// without checking the host name.
func (c *Context) verifyChain(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errNoPeerCert
	}

	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("failed to parse peer certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}

	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         c.roots,
		Intermediates: intermediates,
	})
	return err
}
