package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitalvas/gosock/pkg/address"
	"github.com/vitalvas/gosock/pkg/config"
	"github.com/vitalvas/gosock/pkg/datagram"
	"github.com/vitalvas/gosock/pkg/log"
	"github.com/vitalvas/gosock/pkg/socket"
	"github.com/vitalvas/gosock/pkg/stream"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (YAML or JSON)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -config <file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Echoes every received stream chunk and datagram back to its sender.\n\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -config is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Logger()

	if err := socket.Initialize(); err != nil {
		logger.Fatalf("Failed to initialize network: %v", err)
	}

	err = run(cfg, logger)
	socket.Terminate()

	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	srv, err := start(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig

	logger.Infof("Received %s, shutting down", s)
	return nil
}

// servers holds whichever echo servers the configuration enables.
type servers struct {
	stream   *stream.Server
	datagram *datagram.Server
}

func (s *servers) Close() {
	if s.datagram != nil {
		s.datagram.Close()
	}
	if s.stream != nil {
		s.stream.Close()
	}
}

// start brings up the configured servers. On failure the ones already
// running are closed.
func start(ctx context.Context, cfg *config.Config, logger log.Logger) (*servers, error) {
	if cfg.StreamServer == nil && cfg.DatagramServer == nil {
		return nil, fmt.Errorf("nothing to serve: configure stream_server or datagram_server")
	}

	srv := &servers{}

	if cfg.StreamServer != nil {
		s, err := startStream(ctx, cfg.StreamServer, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start stream server: %w", err)
		}
		srv.stream = s
	}

	if cfg.DatagramServer != nil {
		d, err := startDatagram(ctx, cfg.DatagramServer, logger)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("failed to start datagram server: %w", err)
		}
		srv.datagram = d
	}

	return srv, nil
}

func startStream(ctx context.Context, cfg *config.StreamServerConfig, logger log.Logger) (*stream.Server, error) {
	serverCfg, err := cfg.ServerConfig(ctx, logger)
	if err != nil {
		return nil, err
	}

	serverCfg.Receive = func(s *stream.Session, data []byte) bool {
		if err := s.Send(data); err != nil {
			logger.Warnf("Echo to %s failed: %v", s.RemoteAddress(), err)
			return false
		}
		return true
	}
	serverCfg.OnClose = func(s *stream.Session, reason stream.CloseReason, err error) {
		if err != nil {
			logger.Infof("Session %d from %s ended (%s): %v", s.ID(), s.RemoteAddress(), reason, err)
			return
		}
		logger.Infof("Session %d from %s ended (%s)", s.ID(), s.RemoteAddress(), reason)
	}

	return stream.NewServer(serverCfg)
}

func startDatagram(ctx context.Context, cfg *config.DatagramServerConfig, logger log.Logger) (*datagram.Server, error) {
	serverCfg, err := cfg.ServerConfig(ctx, logger)
	if err != nil {
		return nil, err
	}

	serverCfg.Receive = func(s *datagram.Server, from address.SocketAddress, data []byte) {
		if err := s.SendTo(data, from); err != nil {
			logger.Warnf("Echo to %s failed: %v", from, err)
		}
	}

	return datagram.NewServer(serverCfg)
}
