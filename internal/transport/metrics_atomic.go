package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// AtomicMetrics counts sends per message type and keeps round-trip totals.
type AtomicMetrics struct {
	sendOK    atomic.Uint64
	sendFail  atomic.Uint64
	roundTrip atomic.Uint64
	rttMicros atomic.Uint64

	mu     sync.Mutex
	byKind map[string]uint64
}

func (m *AtomicMetrics) IncSend(kind string, ok bool) {
	if ok {
		m.sendOK.Add(1)
	} else {
		m.sendFail.Add(1)
	}
	m.mu.Lock()
	if m.byKind == nil {
		m.byKind = make(map[string]uint64)
	}
	m.byKind[kind]++
	m.mu.Unlock()
}

func (m *AtomicMetrics) ObserveRoundTrip(d time.Duration) {
	m.roundTrip.Add(1)
	m.rttMicros.Add(uint64(d.Microseconds()))
}

// Sent returns how many messages of the given type were attempted.
func (m *AtomicMetrics) Sent(kind string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byKind[kind]
}

func (m *AtomicMetrics) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"send_ok":    m.sendOK.Load(),
		"send_fail":  m.sendFail.Load(),
		"round_trip": m.roundTrip.Load(),
		"rtt_us_sum": m.rttMicros.Load(),
	}
}
