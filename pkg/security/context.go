// Package security holds the shared security configuration of secured
// sockets and the secure transport provider wrapping them: crypto/tls for
// stream sockets, pion/dtls for datagram sockets.
package security

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/neterr"
)

// DefaultHandshakeTimeout bounds handshakes started without a deadline.
const DefaultHandshakeTimeout = 10 * time.Second

// Context is an immutable security configuration shared by every socket
// created with it. It must outlive those sockets.
type Context struct {
	protocol Protocol
	mode     Mode

	trustPath string
	certPath  string
	keyPath   string

	roots       *x509.CertPool
	certificate tls.Certificate

	handshakeTimeout time.Duration
	logger           log.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger handed to the DTLS engine.
func WithLogger(l log.Logger) Option {
	return func(c *Context) {
		c.logger = l
	}
}

// WithHandshakeTimeout bounds handshakes performed without a caller deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Context) {
		c.handshakeTimeout = d
	}
}

// NewVerifyContext creates a client context verifying peers against the
// trusted certificates at trustPath, a PEM file or a directory of PEM files.
// An empty trustPath uses the platform trust roots.
func NewVerifyContext(protocol Protocol, trustPath string, opts ...Option) (*Context, error) {
	c, err := newContext(protocol, ModeVerify, opts)
	if err != nil {
		return nil, err
	}

	if trustPath != "" {
		roots, err := loadTrustStore(trustPath)
		if err != nil {
			return nil, neterr.New(neterr.KindAllocation, "load trust store", err)
		}
		c.roots = roots
		c.trustPath = trustPath
	}

	return c, nil
}

// NewCertificateContext creates a server context presenting the certificate
// and private key loaded from PEM files.
func NewCertificateContext(protocol Protocol, certPath, keyPath string, opts ...Option) (*Context, error) {
	c, err := newContext(protocol, ModeServe, opts)
	if err != nil {
		return nil, err
	}

	certificate, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, neterr.New(neterr.KindAllocation, "load certificate", err)
	}

	c.certificate = certificate
	c.certPath = certPath
	c.keyPath = keyPath

	return c, nil
}

func newContext(protocol Protocol, mode Mode, opts []Option) (*Context, error) {
	if !protocol.IsValid() {
		return nil, neterr.New(neterr.KindProtocolMismatch, "create security context",
			fmt.Errorf("unrecognized protocol %d", protocol))
	}

	c := &Context{
		protocol:         protocol,
		mode:             mode,
		handshakeTimeout: DefaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrDiscard(c.logger)

	return c, nil
}

// Protocol returns the security protocol.
func (c *Context) Protocol() Protocol {
	return c.protocol
}

// Mode returns whether the context verifies peers or serves a certificate.
func (c *Context) Mode() Mode {
	return c.mode
}

// TrustPath returns the trust store location, empty for platform roots.
func (c *Context) TrustPath() string {
	return c.trustPath
}

// CertificatePaths returns the certificate and private key locations.
func (c *Context) CertificatePaths() (string, string) {
	return c.certPath, c.keyPath
}

// HandshakeTimeout returns the handshake bound used without a caller deadline.
func (c *Context) HandshakeTimeout() time.Duration {
	return c.handshakeTimeout
}

// loadTrustStore reads PEM certificates from a file or every .pem, .crt and
// .cer file below a directory.
func loadTrustStore(path string) (*x509.CertPool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	files := []string{path}
	if info.IsDir() {
		files, err = scanCertificates(path)
		if err != nil {
			return nil, fmt.Errorf("failed to scan directory %s: %w", path, err)
		}
	}

	pool := x509.NewCertPool()
	loaded := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		if pool.AppendCertsFromPEM(data) {
			loaded++
		}
	}

	if loaded == 0 {
		return nil, errors.New("no certificates found in trust store")
	}

	return pool, nil
}

func scanCertificates(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".pem" || ext == ".crt" || ext == ".cer" {
			files = append(files, path)
		}

		return nil
	})

	return files, err
}
