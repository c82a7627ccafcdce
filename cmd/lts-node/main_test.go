package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learn-to-share/internal/agent"
	"learn-to-share/internal/transport"
)

func startAgent(t *testing.T, cfg agent.Config) *agent.Agent {
	t.Helper()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.RecvTimeout = 5 * time.Second
	cfg.Heartbeat = time.Hour
	a, err := agent.New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(a.Terminate)
	return a
}

func TestReport_IncludesSendMetrics(t *testing.T) {
	seed := startAgent(t, agent.Config{ID: "seed"})
	m := &transport.AtomicMetrics{}
	a := startAgent(t, agent.Config{
		ID:          "a",
		SeedID:      seed.ID(),
		SeedAddress: seed.Communicator().Address(),
		Metrics:     m,
	})

	_, err := a.Communicator().Send("seed", "hi")
	require.NoError(t, err)

	raw, err := json.Marshal(newReport(a, m))
	require.NoError(t, err)
	var got struct {
		Agent   map[string]any    `json:"agent"`
		Metrics map[string]uint64 `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "a", got.Agent["id"])
	assert.GreaterOrEqual(t, got.Metrics["send_ok"], uint64(1))
	assert.Equal(t, uint64(1), m.Sent("USER_DEFINED"))
}

func TestReport_NoMetrics(t *testing.T) {
	a := startAgent(t, agent.Config{ID: "a"})
	r := newReport(a, nil)
	assert.Nil(t, r.Metrics)
	assert.Equal(t, "a", r.Agent.ID)
}
