package telemetry

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one captured log call.
type Entry struct {
	Level Level
	Msg   string
	Args  []any
}

func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Level.String())
	b.WriteByte(' ')
	b.WriteString(e.Msg)
	for i := 0; i+1 < len(e.Args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", e.Args[i], e.Args[i+1])
	}
	return b.String()
}

// Recorder is a Logger that keeps every entry in memory. Tests use it to
// assert that failures surfaced as log lines.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) add(l Level, msg string, args []any) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: l, Msg: msg, Args: append([]any(nil), args...)})
	r.mu.Unlock()
}

func (r *Recorder) Debug(msg string, args ...any) { r.add(LevelDebug, msg, args) }
func (r *Recorder) Info(msg string, args ...any) { r.add(LevelInfo, msg, args) }
func (r *Recorder) Warn(msg string, args ...any) { r.add(LevelWarn, msg, args) }
func (r *Recorder) Error(msg string, args ...any) { r.add(LevelError, msg, args) }

// Entries returns a copy of what has been logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns how many entries at level l contain substr in their message.
func (r *Recorder) Count(l Level, substr string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == l && strings.Contains(e.Msg, substr) {
			n++
		}
	}
	return n
}
