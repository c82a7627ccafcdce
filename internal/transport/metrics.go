package transport

import "time"

// Metrics is intentionally tiny and dependency-free.
// Implementations must be thread-safe.
type Metrics interface {
	IncSend(kind string, ok bool)
	ObserveRoundTrip(d time.Duration)
}

// NoopMetrics is the default.
type NoopMetrics struct{}

func (NoopMetrics) IncSend(kind string, ok bool)     {}
func (NoopMetrics) ObserveRoundTrip(d time.Duration) {}
