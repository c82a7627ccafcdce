package agent

import (
	"testing"
	"time"

	"learn-to-share/internal/telemetry"
	"learn-to-share/internal/transport"
)

type agentTestOpt func(*Config)

// withSeed bootstraps the new agent from s.
func withSeed(s *Agent) agentTestOpt {
	return func(cfg *Config) {
		cfg.SeedID = s.ID()
		cfg.SeedAddress = s.Communicator().Address()
	}
}

func withRecvTimeout(d time.Duration) agentTestOpt {
	return func(cfg *Config) { cfg.RecvTimeout = d }
}

func withHeartbeat(d time.Duration) agentTestOpt {
	return func(cfg *Config) { cfg.Heartbeat = d }
}

func withBroadcastTerminate() agentTestOpt {
	return func(cfg *Config) { cfg.BroadcastTerminate = true }
}

func withHandler(h Handler) agentTestOpt {
	return func(cfg *Config) { cfg.Handler = h }
}

func withLogger(l telemetry.Logger) agentTestOpt {
	return func(cfg *Config) { cfg.Logger = l }
}

func withMetrics(m transport.Metrics) agentTestOpt {
	return func(cfg *Config) { cfg.Metrics = m }
}

func withNamespaces(ns ...string) agentTestOpt {
	return func(cfg *Config) { cfg.Namespaces = ns }
}

func withDataPath(p string) agentTestOpt {
	return func(cfg *Config) { cfg.DataPath = p }
}

// newTestAgent starts an agent on an ephemeral loopback port and terminates it
// when the test ends. Gossip is effectively off unless withHeartbeat is given.
func newTestAgent(t *testing.T, id string, opts ...agentTestOpt) *Agent {
	t.Helper()
	cfg := Config{
		ID:          id,
		BindAddr:    "127.0.0.1:0",
		RecvTimeout: 5 * time.Second,
		Heartbeat:   time.Hour,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s) error: %v", id, err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start(%s) error: %v", id, err)
	}
	t.Cleanup(a.Terminate)
	return a
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func knows(a *Agent, id string) func() bool {
	return func() bool {
		_, ok := a.Table().Address(id)
		return ok
	}
}
