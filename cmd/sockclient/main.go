package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/datagram"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/security"
	"github.com/vitalvas/gosock/pkg/socket"
	"github.com/vitalvas/gosock/pkg/stream"
)

type options struct {
	server     string
	datagram   bool
	ipv6       bool
	protocol   string
	trustStore string
	serverName string
	timeout    time.Duration
}

func main() {
	var opts options

	flag.StringVar(&opts.server, "server", "", "Server address (host:port)")
	flag.BoolVar(&opts.datagram, "udp", false, "Use datagram sockets instead of a stream connection")
	flag.BoolVar(&opts.ipv6, "6", false, "Use IPv6")
	flag.StringVar(&opts.protocol, "protocol", "", "Security protocol: tls, tls1.2, dtls, dtls1.2 (default plain)")
	flag.StringVar(&opts.trustStore, "ca", "", "Trusted certificate file or directory (default system roots)")
	flag.StringVar(&opts.serverName, "server-name", "", "Name verified against the server certificate")
	flag.DurationVar(&opts.timeout, "timeout", 2*time.Second, "Connect and reply timeout")
	level := flag.String("log-level", "warn", "Log level")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -server <host:port> [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEvery stdin line is sent as one message and the replies are printed.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  echo ping | %s -server 127.0.0.1:9000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  echo ping | %s -server 127.0.0.1:9000 -udp -protocol dtls -ca ca.pem -server-name localhost\n", os.Args[0])
	}

	flag.Parse()

	if opts.server == "" {
		fmt.Fprintf(os.Stderr, "Error: -server is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.NewLoggerWithLevel(*level)

	if err := socket.Initialize(); err != nil {
		logger.Fatalf("Failed to initialize network: %v", err)
	}
	defer socket.Terminate()

	if err := run(opts, logger); err != nil {
		logger.Errorf("%v", err)
		socket.Terminate()
		os.Exit(1)
	}
}

func run(opts options, logger log.Logger) error {
	family := address.FamilyIPv4
	if opts.ipv6 {
		family = address.FamilyIPv6
	}
	socketType := address.TypeStream
	if opts.datagram {
		socketType = address.TypeDatagram
	}

	host, service, err := net.SplitHostPort(opts.server)
	if err != nil {
		return fmt.Errorf("invalid server address: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	remote, err := address.Resolve(ctx, host, service, family, socketType)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", opts.server, err)
	}

	var secure *security.Context
	if opts.protocol != "" {
		secure, err = security.NewVerifyContext(security.ParseProtocol(opts.protocol), opts.trustStore, security.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to load trust store: %w", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	if opts.datagram {
		return runDatagram(ctx, scanner, remote, secure, opts, logger)
	}
	return runStream(scanner, remote, secure, opts, logger)
}

func runStream(scanner *bufio.Scanner, remote address.SocketAddress, secure *security.Context, opts options, logger log.Logger) error {
	var received int

	client, err := stream.NewClient(stream.ClientConfig{
		Family: remote.Family(),
		Receive: func(_ *stream.Client, data []byte) {
			if len(data) == 0 {
				fmt.Println("Remote host has closed connection.")
				return
			}
			received += len(data)
			fmt.Printf("%s", data)
		},
		Security:   secure,
		ServerName: opts.serverName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(remote, opts.timeout); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", remote, err)
	}

	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if err := client.Send(line); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		want := received + len(line)
		deadline := time.Now().Add(opts.timeout)
		for received < want && client.IsConnected() && time.Now().Before(deadline) {
			if err := client.Update(); err != nil {
				return fmt.Errorf("receive failed: %w", err)
			}
		}
	}

	return scanner.Err()
}

func runDatagram(ctx context.Context, scanner *bufio.Scanner, remote address.SocketAddress, secure *security.Context, opts options, logger log.Logger) error {
	replies := make(chan struct{}, 1)

	client, err := datagram.NewClientContext(ctx, datagram.ClientConfig{
		Remote: remote,
		Receive: func(_ *datagram.Client, data []byte) bool {
			fmt.Printf("%s\n", data)
			select {
			case replies <- struct{}{}:
			default:
			}
			return true
		},
		Security:   secure,
		ServerName: opts.serverName,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", remote, err)
	}
	defer client.Close()

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := client.Send(scanner.Bytes()); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		select {
		case <-replies:
		case <-time.After(opts.timeout):
			logger.Warnf("No reply within %s", opts.timeout)
		}
	}

	return scanner.Err()
}
