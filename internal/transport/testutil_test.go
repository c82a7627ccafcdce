package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"learn-to-share/internal/netx"
	"learn-to-share/internal/proto"
	"learn-to-share/internal/telemetry"
)

type commTestOpt func(*Config)

func withSeed(id, addr string) commTestOpt {
	return func(cfg *Config) { cfg.SeedID, cfg.SeedAddress = id, addr }
}

func withRecvTimeout(d time.Duration) commTestOpt {
	return func(cfg *Config) { cfg.RecvTimeout = d }
}

func withLogger(l telemetry.Logger) commTestOpt {
	return func(cfg *Config) { cfg.Logger = l }
}

func withMetrics(m Metrics) commTestOpt {
	return func(cfg *Config) { cfg.Metrics = m }
}

// newTestComm binds a communicator to an ephemeral loopback port.
func newTestComm(t *testing.T, id string, opts ...commTestOpt) *Communicator {
	t.Helper()
	cfg := Config{
		ID:          id,
		BindAddr:    "127.0.0.1:0",
		RecvTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// serveAll answers every inbound request with dispatch until the test ends.
func serveAll(t *testing.T, c *Communicator, dispatch func(proto.Message) proto.Message) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := c.Accept(50 * time.Millisecond)
			if err != nil {
				if errors.Is(err, netx.ErrTimeout) {
					continue
				}
				return
			}
			_ = c.Serve(conn, dispatch)
		}
	}()
	t.Cleanup(func() {
		_ = c.Close()
		<-done
	})
}

// ackAll is a dispatch that handles DHT_SUBSCRIBE and acks everything.
func ackAll(c *Communicator) func(proto.Message) proto.Message {
	return func(m proto.Message) proto.Message {
		if m.Type == proto.TypeDHTSubscribe {
			var pi proto.PeerInfo
			if err := proto.DecodeContent(m.Content, &pi); err == nil {
				c.Table().Add(pi.ID, pi.Address, 0)
			}
		}
		return proto.Ack(c.ID(), m)
	}
}

// deadAddr returns a loopback address nobody listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}
