package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learn-to-share/internal/proto"
	"learn-to-share/internal/telemetry"
)

func TestNew_RegistersSelf(t *testing.T) {
	c := newTestComm(t, "alice")
	addr, ok := c.Table().Address("alice")
	require.True(t, ok)
	assert.Equal(t, string(c.ListenAddr()), addr)
	assert.Equal(t, "alice", c.SeedID(), "no seed means self is the seed")
	assert.Equal(t, "alice", c.Name())
}

func TestNew_EmptyID(t *testing.T) {
	_, err := New(Config{BindAddr: "127.0.0.1:0"})
	assert.Error(t, err)
}

func TestNew_SubscribesToSeed(t *testing.T) {
	seed := newTestComm(t, "seed")
	serveAll(t, seed, ackAll(seed))

	joiner := newTestComm(t, "joiner", withSeed("seed", seed.Address()))

	addr, ok := seed.Table().Address("joiner")
	require.True(t, ok, "seed should learn about the joiner")
	assert.Equal(t, joiner.Address(), addr)

	lat, ok := joiner.Table().Latency("seed")
	require.True(t, ok)
	assert.Greater(t, lat, int64(0), "subscribe round trip should be measured")
}

func TestSendMessage_UnknownPeer(t *testing.T) {
	rec := &telemetry.Recorder{}
	c := newTestComm(t, "a", withLogger(rec))

	resp, err := c.Send("ghost", "hello")
	assert.True(t, errors.Is(err, ErrUnknownPeer))
	assert.True(t, resp.IsEmpty())
	assert.Equal(t, 1, rec.Count(telemetry.LevelWarn, "not in table"))
}

func TestSendMessage_Unreachable(t *testing.T) {
	c := newTestComm(t, "a")
	c.Table().Add("gone", deadAddr(t), 0)

	resp, err := c.Send("gone", "hello")
	assert.True(t, errors.Is(err, ErrUnreachable), "got %v", err)
	assert.True(t, resp.IsEmpty())
	lat, _ := c.Table().Latency("gone")
	assert.Zero(t, lat)
}

func TestSendMessage_TimeoutIsNotRetried(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	var mu sync.Mutex
	accepted := 0
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
			defer conn.Close() // hold it open, never reply
		}
	}()

	c := newTestComm(t, "a", withRecvTimeout(100*time.Millisecond))
	c.Table().Add("mute", l.Addr().String(), 0)

	start := time.Now()
	resp, err := c.Send("mute", "anyone?")
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.True(t, resp.IsEmpty())
	assert.Less(t, time.Since(start), 2*time.Second)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, accepted)
	mu.Unlock()
}

func TestSendMessage_RecordsLatencyAndMetrics(t *testing.T) {
	b := newTestComm(t, "b")
	serveAll(t, b, func(m proto.Message) proto.Message {
		return proto.NewMessage(proto.TypeResponse, "echo:"+m.Content, "b", m.FromID)
	})

	m := &AtomicMetrics{}
	a := newTestComm(t, "a", withMetrics(m))
	a.Table().Add("b", b.Address(), 0)

	resp, err := a.Send("b", "ping")
	require.NoError(t, err)
	assert.Equal(t, proto.TypeResponse, resp.Type)
	assert.Equal(t, "echo:ping", resp.Content)

	lat, _ := a.Table().Latency("b")
	assert.Greater(t, lat, int64(0))
	assert.Equal(t, uint64(1), m.Snapshot()["send_ok"])
	assert.Equal(t, uint64(1), m.Sent("USER_DEFINED"))
}

func TestBroadcast_PartialFailureIsolation(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	record := func(self string) func(proto.Message) proto.Message {
		return func(m proto.Message) proto.Message {
			mu.Lock()
			got[self] = m.Content
			mu.Unlock()
			return proto.Ack(self, m)
		}
	}

	b := newTestComm(t, "b")
	c := newTestComm(t, "c")
	serveAll(t, b, record("b"))
	serveAll(t, c, record("c"))

	rec := &telemetry.Recorder{}
	a := newTestComm(t, "a", withLogger(rec), withRecvTimeout(500*time.Millisecond))
	a.Table().Add("b", b.Address(), 0)
	a.Table().Add("c", c.Address(), 0)
	a.Table().Add("dead", deadAddr(t), 0)

	delivered := a.Broadcast("news")
	assert.Equal(t, 2, delivered)

	mu.Lock()
	assert.Equal(t, map[string]string{"b": "news", "c": "news"}, got)
	mu.Unlock()
	assert.Equal(t, 1, rec.Count(telemetry.LevelInfo, "broadcast to peer failed"))
}

func TestBroadcastMessage_AddressesEachPeer(t *testing.T) {
	var mu sync.Mutex
	var tos []string
	b := newTestComm(t, "b")
	serveAll(t, b, func(m proto.Message) proto.Message {
		mu.Lock()
		tos = append(tos, m.ToID)
		mu.Unlock()
		return proto.Ack("b", m)
	})

	a := newTestComm(t, "a")
	a.Table().Add("b", b.Address(), 0)
	a.BroadcastMessage(proto.NewMessage(proto.TypeTerminate, "", "a", ""))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b"}, tos)
}

func TestPopulate(t *testing.T) {
	b := newTestComm(t, "b")
	serveAll(t, b, func(m proto.Message) proto.Message {
		if m.Type == proto.TypeDHTGetPeer {
			return b.Table().DispatchGetPeer(m)
		}
		return proto.Ack("b", m)
	})
	b.Table().Add("carol", "10.1.1.1:7000", 250)

	a := newTestComm(t, "a")
	a.Table().Add("b", b.Address(), 0)

	_, ok := a.Populate()
	assert.False(t, ok, "unmeasured table has no gossip target")

	_, err := a.Send("b", "measure me")
	require.NoError(t, err)

	id, ok := a.Populate()
	require.True(t, ok)
	assert.Equal(t, "carol", id)
	addr, _ := a.Table().Address("carol")
	assert.Equal(t, "10.1.1.1:7000", addr)
}

func TestPopulate_EmptyReply(t *testing.T) {
	b := newTestComm(t, "b")
	serveAll(t, b, func(m proto.Message) proto.Message {
		return b.Table().DispatchGetPeer(m)
	})
	a := newTestComm(t, "a")
	a.Table().Add("b", b.Address(), 0)
	_, err := a.Send("b", "x")
	require.NoError(t, err)

	_, ok := a.Populate()
	assert.False(t, ok, "b only knows a and itself")
}

func TestServe_RejectsGarbage(t *testing.T) {
	b := newTestComm(t, "b")
	called := make(chan struct{}, 1)
	serveAll(t, b, func(m proto.Message) proto.Message {
		called <- struct{}{}
		return proto.Ack("b", m)
	})

	conn, err := net.Dial("tcp", b.Address())
	require.NoError(t, err)
	_, _ = conn.Write([]byte(`{"type":"CORE_ACK","bogus":1}` + "\n"))
	buf := make([]byte, 16)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	assert.Error(t, err, "server should close without replying")
	_ = conn.Close()

	select {
	case <-called:
		t.Fatalf("dispatch must not run for an undecodable request")
	default:
	}
}
