// Package config describes endpoints, security material and server tuning in
// YAML or JSON documents and turns them into component configurations.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/datagram"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/security"
	"github.com/vitalvas/gosock/pkg/stream"
)

// Config is the root configuration document.
type Config struct {
	Log            LogConfig             `yaml:"log" json:"log"`
	StreamServer   *StreamServerConfig   `yaml:"stream_server,omitempty" json:"stream_server,omitempty"`
	DatagramServer *DatagramServerConfig `yaml:"datagram_server,omitempty" json:"datagram_server,omitempty"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// SecurityConfig names the protocol and the trust material of a secure
// endpoint. Certificate and PrivateKey select serve mode; otherwise peers
// are verified against TrustStore, or the system roots when it is empty.
type SecurityConfig struct {
	Protocol         string   `yaml:"protocol" json:"protocol"`
	TrustStore       string   `yaml:"trust_store,omitempty" json:"trust_store,omitempty"`
	Certificate      string   `yaml:"certificate,omitempty" json:"certificate,omitempty"`
	PrivateKey       string   `yaml:"private_key,omitempty" json:"private_key,omitempty"`
	HandshakeTimeout Duration `yaml:"handshake_timeout,omitempty" json:"handshake_timeout,omitempty"`
}

// EndpointConfig is a host and service to resolve for one address family.
type EndpointConfig struct {
	Host    string `yaml:"host" json:"host"`
	Service string `yaml:"service" json:"service"`
	Family  string `yaml:"family,omitempty" json:"family,omitempty"`
}

// StreamServerConfig configures a stream.Server.
type StreamServerConfig struct {
	EndpointConfig `yaml:",inline"`

	MaxSessions    int             `yaml:"max_sessions,omitempty" json:"max_sessions,omitempty"`
	BufferSize     int             `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	ReceiveTimeout Duration        `yaml:"receive_timeout,omitempty" json:"receive_timeout,omitempty"`
	Security       *SecurityConfig `yaml:"security,omitempty" json:"security,omitempty"`
}

// DatagramServerConfig configures a datagram.Server.
type DatagramServerConfig struct {
	EndpointConfig `yaml:",inline"`

	BufferSize int             `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	RetryDelay Duration        `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
	Security   *SecurityConfig `yaml:"security,omitempty" json:"security,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Validate checks the document for values the components would reject.
func (c *Config) Validate() error {
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	if s := c.StreamServer; s != nil {
		if err := s.validate(); err != nil {
			return fmt.Errorf("stream_server: %w", err)
		}
		if s.MaxSessions < 0 {
			return fmt.Errorf("stream_server: negative max_sessions %d", s.MaxSessions)
		}
		if s.BufferSize < 0 {
			return fmt.Errorf("stream_server: negative buffer_size %d", s.BufferSize)
		}
		if err := s.Security.validate(false); err != nil {
			return fmt.Errorf("stream_server: security: %w", err)
		}
	}

	if d := c.DatagramServer; d != nil {
		if err := d.validate(); err != nil {
			return fmt.Errorf("datagram_server: %w", err)
		}
		if d.BufferSize < 0 {
			return fmt.Errorf("datagram_server: negative buffer_size %d", d.BufferSize)
		}
		if err := d.Security.validate(true); err != nil {
			return fmt.Errorf("datagram_server: security: %w", err)
		}
	}

	return nil
}

// Logger builds the logger for the configured level.
func (c *Config) Logger() log.Logger {
	if c.Log.Level == "" {
		return log.NewDefaultLogger()
	}
	return log.NewLoggerWithLevel(c.Log.Level)
}

func (e *EndpointConfig) validate() error {
	if e.Service == "" {
		return fmt.Errorf("service is required")
	}
	if e.Family != "" && address.ParseFamily(e.Family) == address.FamilyUnknown {
		return fmt.Errorf("unknown family %q", e.Family)
	}
	return nil
}

// AddressFamily returns the configured family, IPv4 when unset.
func (e *EndpointConfig) AddressFamily() address.Family {
	if e.Family == "" {
		return address.FamilyIPv4
	}
	return address.ParseFamily(e.Family)
}

// Address resolves the endpoint for sockets of socketType. An empty host
// is the any address of the family.
func (e *EndpointConfig) Address(ctx context.Context, socketType address.SocketType) (address.SocketAddress, error) {
	family := e.AddressFamily()

	host := e.Host
	if host == "" {
		host = address.AnyIPv4
		if family == address.FamilyIPv6 {
			host = address.AnyIPv6
		}
	}

	return address.Resolve(ctx, host, e.Service, family, socketType)
}

func (s *SecurityConfig) validate(datagram bool) error {
	if s == nil {
		return nil
	}

	protocol := security.ParseProtocol(s.Protocol)
	if !protocol.IsValid() {
		return fmt.Errorf("unknown protocol %q", s.Protocol)
	}
	if protocol.IsDatagram() != datagram {
		return fmt.Errorf("protocol %s does not fit the socket type", protocol)
	}
	if (s.Certificate == "") != (s.PrivateKey == "") {
		return fmt.Errorf("certificate and private_key must be set together")
	}
	if s.Certificate == "" {
		return fmt.Errorf("a server needs certificate and private_key")
	}
	return nil
}

// Context loads the trust material into a security context.
func (s *SecurityConfig) Context(logger log.Logger) (*security.Context, error) {
	protocol := security.ParseProtocol(s.Protocol)

	opts := []security.Option{security.WithLogger(logger)}
	if s.HandshakeTimeout > 0 {
		opts = append(opts, security.WithHandshakeTimeout(time.Duration(s.HandshakeTimeout)))
	}

	if s.Certificate != "" {
		return security.NewCertificateContext(protocol, s.Certificate, s.PrivateKey, opts...)
	}
	return security.NewVerifyContext(protocol, s.TrustStore, opts...)
}

// ServerConfig resolves the endpoint and loads the security material. The
// caller sets the callbacks.
func (s *StreamServerConfig) ServerConfig(ctx context.Context, logger log.Logger) (stream.ServerConfig, error) {
	addr, err := s.Address(ctx, address.TypeStream)
	if err != nil {
		return stream.ServerConfig{}, fmt.Errorf("stream server address: %w", err)
	}

	cfg := stream.ServerConfig{
		Address:        addr,
		MaxSessions:    s.MaxSessions,
		BufferSize:     s.BufferSize,
		ReceiveTimeout: time.Duration(s.ReceiveTimeout),
		Logger:         logger,
	}

	if s.Security != nil {
		if cfg.Security, err = s.Security.Context(logger); err != nil {
			return stream.ServerConfig{}, fmt.Errorf("stream server security: %w", err)
		}
	}

	return cfg, nil
}

// ServerConfig resolves the endpoint and loads the security material. The
// caller sets the callbacks.
func (d *DatagramServerConfig) ServerConfig(ctx context.Context, logger log.Logger) (datagram.ServerConfig, error) {
	addr, err := d.Address(ctx, address.TypeDatagram)
	if err != nil {
		return datagram.ServerConfig{}, fmt.Errorf("datagram server address: %w", err)
	}

	cfg := datagram.ServerConfig{
		Address:    addr,
		BufferSize: d.BufferSize,
		RetryDelay: time.Duration(d.RetryDelay),
		Logger:     logger,
	}

	if d.Security != nil {
		if cfg.Security, err = d.Security.Context(logger); err != nil {
			return datagram.ServerConfig{}, fmt.Errorf("datagram server security: %w", err)
		}
	}

	return cfg, nil
}
