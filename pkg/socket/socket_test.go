package socket

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"github.com/vitalvas/gosock/internal/testcert"
	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/neterr"
	"github.com/vitalvas/gosock/pkg/security"
)

func loopback(t *testing.T, family address.Family) *address.SocketAddress {
	t.Helper()
	addr, err := address.Loopback(family, 0)
	require.NoError(t, err)
	return &addr
}

func listenStream(t *testing.T, family address.Family, ctx *security.Context) *Handle {
	t.Helper()
	h, err := Create(Options{
		Type:      address.TypeStream,
		Family:    family,
		Bind:      loopback(t, family),
		Listening: true,
		Security:  ctx,
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// connectedPair returns a connected client handle and its accepted peer.
func connectedPair(t *testing.T, family address.Family, serverCtx, clientCtx *security.Context) (*Handle, *Handle) {
	t.Helper()

	listener := listenStream(t, family, serverCtx)
	addr, err := listener.LocalAddress()
	require.NoError(t, err)

	accepted := make(chan *Handle, 1)
	go func() {
		h, err := listener.Accept()
		if err == nil {
			err = h.Handshake(context.Background())
		}
		if err != nil {
			t.Errorf("accept: %v", err)
		}
		accepted <- h
	}()

	client, err := Create(Options{Type: address.TypeStream, Family: family, Security: clientCtx})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.Connect(addr))

	var server *Handle
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
	}
	require.NotNil(t, server)
	t.Cleanup(func() { server.Close() })

	return client, server
}

func TestCreateValidation(t *testing.T) {
	files := testcert.Generate(t)
	tlsCtx, err := security.NewVerifyContext(security.TLS, files.Cert)
	require.NoError(t, err)

	v6, err := address.Loopback(address.FamilyIPv6, 0)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
		kind error
	}{
		{
			name: "listening datagram",
			opts: Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4), Listening: true},
			kind: neterr.ErrProtocolMismatch,
		},
		{
			name: "unknown family",
			opts: Options{Type: address.TypeStream},
			kind: neterr.ErrProtocolMismatch,
		},
		{
			name: "bind family mismatch",
			opts: Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: &v6},
			kind: neterr.ErrProtocolMismatch,
		},
		{
			name: "listening without bind",
			opts: Options{Type: address.TypeStream, Family: address.FamilyIPv4, Listening: true},
			kind: neterr.ErrListen,
		},
		{
			name: "tls on datagram",
			opts: Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Security: tlsCtx},
			kind: neterr.ErrProtocolMismatch,
		},
		{
			name: "verify-mode listener",
			opts: Options{Type: address.TypeStream, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4), Listening: true, Security: tlsCtx},
			kind: neterr.ErrProtocolMismatch,
		},
		{
			name: "unknown type",
			opts: Options{Family: address.FamilyIPv4},
			kind: neterr.ErrProtocolMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Create(tt.opts)
			assert.Nil(t, h)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestBindInUse(t *testing.T) {
	first := listenStream(t, address.FamilyIPv4, nil)

	addr, err := first.LocalAddress()
	require.NoError(t, err)

	_, err = Create(Options{Type: address.TypeStream, Family: address.FamilyIPv4, Bind: &addr, Listening: true})
	assert.ErrorIs(t, err, neterr.ErrBind)
}

func TestStreamExchange(t *testing.T) {
	families := []address.Family{address.FamilyIPv4}
	if nettest.SupportsIPv6() {
		families = append(families, address.FamilyIPv6)
	}

	for _, family := range families {
		t.Run(family.String(), func(t *testing.T) {
			client, server := connectedPair(t, family, nil, nil)

			assert.True(t, client.IsConnected())
			assert.Equal(t, address.TypeStream, server.Type())
			assert.Equal(t, family, server.Family())

			clientLocal, err := client.LocalAddress()
			require.NoError(t, err)
			serverRemote, err := server.RemoteAddress()
			require.NoError(t, err)
			assert.True(t, clientLocal.Equal(serverRemote))

			n, err := client.Send([]byte("ping"))
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			buf := make([]byte, 64)
			n, err = server.Receive(buf)
			require.NoError(t, err)
			assert.Equal(t, "ping", string(buf[:n]))

			_, err = server.Send([]byte("pong"))
			require.NoError(t, err)

			n, err = client.Receive(buf)
			require.NoError(t, err)
			assert.Equal(t, "pong", string(buf[:n]))

			require.NoError(t, client.Close())

			n, err = server.Receive(buf)
			assert.Equal(t, 0, n)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestShutdownSend(t *testing.T) {
	client, server := connectedPair(t, address.FamilyIPv4, nil, nil)

	require.NoError(t, client.Shutdown(ShutdownSend))

	buf := make([]byte, 16)
	_, err := server.Receive(buf)
	assert.ErrorIs(t, err, io.EOF)

	// the other direction still works
	_, err = server.Send([]byte("late"))
	require.NoError(t, err)

	n, err := client.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf[:n]))
}

func TestNonBlocking(t *testing.T) {
	t.Run("accept", func(t *testing.T) {
		listener := listenStream(t, address.FamilyIPv4, nil)
		listener.SetBlocking(false)
		assert.False(t, listener.IsBlocking())

		_, err := listener.Accept()
		assert.ErrorIs(t, err, neterr.ErrWouldBlock)
	})

	t.Run("receive", func(t *testing.T) {
		client, _ := connectedPair(t, address.FamilyIPv4, nil, nil)
		client.SetBlocking(false)

		_, err := client.Receive(make([]byte, 16))
		assert.ErrorIs(t, err, neterr.ErrWouldBlock)
	})

	t.Run("receive from", func(t *testing.T) {
		h, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, NonBlocking: true})
		require.NoError(t, err)
		defer h.Close()

		_, _, err = h.ReceiveFrom(make([]byte, 16))
		assert.ErrorIs(t, err, neterr.ErrWouldBlock)
	})
}

func TestReceiveTimeout(t *testing.T) {
	client, _ := connectedPair(t, address.FamilyIPv4, nil, nil)

	client.SetReceiveTimeout(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, client.ReceiveTimeout())

	start := time.Now()
	_, err := client.Receive(make([]byte, 16))
	assert.ErrorIs(t, err, neterr.ErrIO)
	assert.False(t, errors.Is(err, neterr.ErrWouldBlock))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	client.SetSendTimeout(time.Second)
	assert.Equal(t, time.Second, client.SendTimeout())
}

func TestUnblock(t *testing.T) {
	t.Run("receive", func(t *testing.T) {
		client, _ := connectedPair(t, address.FamilyIPv4, nil, nil)

		done := make(chan error, 1)
		go func() {
			_, err := client.Receive(make([]byte, 16))
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		client.Unblock()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, neterr.ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("receive was not unblocked")
		}

		// later receives fail fast; the socket is still allocated
		_, err := client.Receive(make([]byte, 16))
		assert.ErrorIs(t, err, neterr.ErrClosed)
		_, err = client.LocalAddress()
		assert.NoError(t, err)
	})

	t.Run("accept", func(t *testing.T) {
		listener := listenStream(t, address.FamilyIPv4, nil)

		done := make(chan error, 1)
		go func() {
			_, err := listener.Accept()
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		listener.Unblock()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, neterr.ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("accept was not unblocked")
		}
	})

	t.Run("receive from", func(t *testing.T) {
		h, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4})
		require.NoError(t, err)
		defer h.Close()

		done := make(chan error, 1)
		go func() {
			_, _, err := h.ReceiveFrom(make([]byte, 16))
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		h.Unblock()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, neterr.ErrClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("receive from was not unblocked")
		}
	})
}

func TestInvalidOperations(t *testing.T) {
	listener := listenStream(t, address.FamilyIPv4, nil)
	assert.True(t, listener.IsListening())

	_, err := listener.Receive(make([]byte, 8))
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)

	unconnected, err := Create(Options{Type: address.TypeStream, Family: address.FamilyIPv4})
	require.NoError(t, err)
	defer unconnected.Close()

	_, err = unconnected.Send([]byte("x"))
	assert.ErrorIs(t, err, neterr.ErrNotConnected)
	_, err = unconnected.RemoteAddress()
	assert.ErrorIs(t, err, neterr.ErrNotConnected)
	_, err = unconnected.LocalAddress()
	assert.ErrorIs(t, err, neterr.ErrNotConnected)
	_, err = unconnected.Accept()
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)

	client, _ := connectedPair(t, address.FamilyIPv4, nil, nil)
	_, err = client.Send(nil)
	assert.ErrorIs(t, err, neterr.ErrIO)
	_, err = client.Receive(nil)
	assert.ErrorIs(t, err, neterr.ErrIO)

	v6, err := address.Loopback(address.FamilyIPv6, 80)
	require.NoError(t, err)
	assert.ErrorIs(t, unconnected.Connect(v6), neterr.ErrProtocolMismatch)
}

func TestConnectRefused(t *testing.T) {
	listener := listenStream(t, address.FamilyIPv4, nil)
	addr, err := listener.LocalAddress()
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	client, err := Create(Options{Type: address.TypeStream, Family: address.FamilyIPv4})
	require.NoError(t, err)
	defer client.Close()

	assert.ErrorIs(t, client.Connect(addr), neterr.ErrConnect)
	assert.False(t, client.IsConnected())
}

func TestNoDelay(t *testing.T) {
	client, server := connectedPair(t, address.FamilyIPv4, nil, nil)

	for _, enabled := range []bool{true, false, true} {
		require.NoError(t, client.SetNoDelay(enabled))
		got, err := client.NoDelay()
		require.NoError(t, err)
		assert.Equal(t, enabled, got)
	}

	_, err := server.NoDelay()
	assert.NoError(t, err)

	dgram, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4})
	require.NoError(t, err)
	defer dgram.Close()

	_, err = dgram.NoDelay()
	assert.ErrorIs(t, err, neterr.ErrProtocolMismatch)
	assert.ErrorIs(t, dgram.SetNoDelay(true), neterr.ErrProtocolMismatch)
}

func TestDatagramSendTo(t *testing.T) {
	a, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4)})
	require.NoError(t, err)
	defer a.Close()

	b, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4)})
	require.NoError(t, err)
	defer b.Close()

	aAddr, err := a.LocalAddress()
	require.NoError(t, err)
	bAddr, err := b.LocalAddress()
	require.NoError(t, err)

	n, err := b.SendTo([]byte("datagram"), aAddr)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	a.SetReceiveTimeout(2 * time.Second)
	buf := make([]byte, 64)
	n, from, err := a.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "datagram", string(buf[:n]))
	assert.True(t, from.Equal(bAddr))

	_, err = a.SendTo(nil, bAddr)
	assert.ErrorIs(t, err, neterr.ErrIO)
}

func TestDatagramConnect(t *testing.T) {
	server, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4)})
	require.NoError(t, err)
	defer server.Close()

	client, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4)})
	require.NoError(t, err)
	defer client.Close()

	serverAddr, err := server.LocalAddress()
	require.NoError(t, err)
	require.NoError(t, client.Connect(serverAddr))

	remote, err := client.RemoteAddress()
	require.NoError(t, err)
	assert.True(t, remote.Equal(serverAddr))

	_, err = client.Send([]byte("hello"))
	require.NoError(t, err)

	server.SetReceiveTimeout(2 * time.Second)
	buf := make([]byte, 64)
	n, from, err := server.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = server.SendTo([]byte("world"), from)
	require.NoError(t, err)

	client.SetReceiveTimeout(2 * time.Second)
	n, err = client.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	require.NoError(t, client.Shutdown(ShutdownBoth))
	assert.ErrorIs(t, client.Connect(serverAddr), neterr.ErrConnect)
}

func TestSecureStream(t *testing.T) {
	files := testcert.Generate(t)

	serverCtx, err := security.NewCertificateContext(security.TLS, files.Cert, files.Key)
	require.NoError(t, err)
	clientCtx, err := security.NewVerifyContext(security.TLS, files.Cert)
	require.NoError(t, err)

	client, server := connectedPair(t, address.FamilyIPv4, serverCtx, clientCtx)
	assert.True(t, client.IsSecure())
	assert.Same(t, serverCtx, server.SecureContext())

	_, err = client.Send([]byte("secret"))
	require.NoError(t, err)

	server.SetReceiveTimeout(5 * time.Second)
	buf := make([]byte, 64)
	n, err := server.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(buf[:n]))

	_, err = server.Send(buf[:n])
	require.NoError(t, err)

	n, err = client.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(buf[:n]))
}

func TestSecureStreamVerification(t *testing.T) {
	files := testcert.Generate(t)
	other := testcert.Generate(t)

	serverCtx, err := security.NewCertificateContext(security.TLS12, files.Cert, files.Key)
	require.NoError(t, err)

	listener := listenStream(t, address.FamilyIPv4, serverCtx)
	addr, err := listener.LocalAddress()
	require.NoError(t, err)

	go func() {
		for {
			h, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				_ = h.Handshake(context.Background())
				h.Close()
			}()
		}
	}()

	tests := []struct {
		name       string
		trust      string
		serverName string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "matching name",
			trust:      files.Cert,
			serverName: "localhost",
		},
		{
			name:  "chain only",
			trust: files.Cert,
		},
		{
			name:       "wrong name",
			trust:      files.Cert,
			serverName: "example.com",
			check: func(t *testing.T, err error) {
				var hostErr x509.HostnameError
				assert.ErrorAs(t, err, &hostErr)
			},
		},
		{
			name:  "untrusted chain only",
			trust: other.Cert,
			check: func(t *testing.T, err error) {
				var authErr x509.UnknownAuthorityError
				assert.ErrorAs(t, err, &authErr)
			},
		},
		{
			name:       "untrusted named",
			trust:      other.Cert,
			serverName: "localhost",
			check: func(t *testing.T, err error) {
				var verifyErr *tls.CertificateVerificationError
				assert.ErrorAs(t, err, &verifyErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientCtx, err := security.NewVerifyContext(security.TLS12, tt.trust)
			require.NoError(t, err)

			client, err := Create(Options{Type: address.TypeStream, Family: address.FamilyIPv4, Security: clientCtx})
			require.NoError(t, err)
			defer client.Close()

			client.SetServerName(tt.serverName)
			assert.Equal(t, tt.serverName, client.ServerName())

			started := time.Now()
			err = client.Connect(addr)

			if tt.check == nil {
				require.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, neterr.ErrHandshake)
			assert.Less(t, time.Since(started), time.Second)
			tt.check(t, err)
		})
	}
}

func TestSecureDatagram(t *testing.T) {
	files := testcert.Generate(t)

	serverCtx, err := security.NewCertificateContext(security.DTLS, files.Cert, files.Key)
	require.NoError(t, err)
	clientCtx, err := security.NewVerifyContext(security.DTLS, files.Cert)
	require.NoError(t, err)

	server, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4), Security: serverCtx})
	require.NoError(t, err)
	defer server.Close()

	serverAddr, err := server.LocalAddress()
	require.NoError(t, err)
	assert.ErrorIs(t, server.Connect(serverAddr), neterr.ErrProtocolMismatch)

	client, err := Create(Options{Type: address.TypeDatagram, Family: address.FamilyIPv4, Bind: loopback(t, address.FamilyIPv4), Security: clientCtx})
	require.NoError(t, err)
	defer client.Close()

	client.SetServerName("localhost")
	require.NoError(t, client.Connect(serverAddr))

	_, err = client.Send([]byte("hello"))
	require.NoError(t, err)

	server.SetReceiveTimeout(5 * time.Second)
	buf := make([]byte, 64)
	n, from, err := server.ReceiveFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	clientAddr, err := client.LocalAddress()
	require.NoError(t, err)
	assert.True(t, from.Equal(clientAddr))
	assert.Equal(t, 1, server.packet.(*securePacketConn).Sessions())

	_, err = server.SendTo([]byte("world"), from)
	require.NoError(t, err)

	client.SetReceiveTimeout(5 * time.Second)
	n, err = client.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	// no session with an unknown peer
	stranger, err := address.Loopback(address.FamilyIPv4, 9)
	require.NoError(t, err)
	_, err = server.SendTo([]byte("x"), stranger)
	assert.ErrorIs(t, err, neterr.ErrIO)
}

func TestCloseIdempotent(t *testing.T) {
	client, _ := connectedPair(t, address.FamilyIPv4, nil, nil)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())

	_, err := client.Send([]byte("x"))
	assert.ErrorIs(t, err, neterr.ErrClosed)
	assert.ErrorIs(t, client.Shutdown(ShutdownBoth), neterr.ErrClosed)
}

func TestNetworkInit(t *testing.T) {
	require.NoError(t, Initialize())
	assert.True(t, IsInitialized())
	require.NoError(t, Initialize())

	Terminate()
	assert.False(t, IsInitialized())
	Terminate()

	require.NoError(t, Initialize())
	assert.True(t, IsInitialized())
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "receive", ShutdownReceive.String())
	assert.Equal(t, "send", ShutdownSend.String())
	assert.Equal(t, "receive-send", ShutdownBoth.String())
	assert.Equal(t, "unknown", Direction(9).String())
}
