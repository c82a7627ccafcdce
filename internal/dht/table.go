package dht

import (
	"sort"
	"sync"
	"time"

	"learn-to-share/internal/proto"
	"learn-to-share/internal/telemetry"
)

// Entry is one row of the peer directory. LatencyUS == 0 means the peer has
// never been measured.
type Entry struct {
	PeerID    string    `json:"peer_id"`
	Address   string    `json:"address"`
	LatencyUS int64     `json:"latency_us"`
	CreatedAt time.Time `json:"created_at"`
}

// Measured reports whether at least one round trip to the peer succeeded.
func (e Entry) Measured() bool { return e.LatencyUS != 0 }

// PeerTable maps peer ids to addresses and measured latency. All methods are
// safe for concurrent use; the lock is never held while talking to the Store.
type PeerTable struct {
	self string

	mu    sync.Mutex
	peers map[string]Entry

	store Store
	log   telemetry.Logger
	now   func() time.Time
}

type Option func(*PeerTable)

func WithStore(s Store) Option {
	return func(t *PeerTable) { t.store = s }
}

func WithLogger(l telemetry.Logger) Option {
	return func(t *PeerTable) { t.log = l }
}

// New returns an empty table owned by selfID. With a Store, previously saved
// peers are reloaded with their latency reset to the unmeasured sentinel.
func New(selfID string, opts ...Option) *PeerTable {
	t := &PeerTable{
		self:  selfID,
		peers: make(map[string]Entry),
		log:   telemetry.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = telemetry.With(t.log, "component", "dht", "self", selfID)

	if t.store != nil {
		t.reload()
	}
	return t
}

func (t *PeerTable) reload() {
	saved, err := t.store.LoadPeers()
	if err != nil {
		t.log.Warn("peer store reload failed", "err", err)
		return
	}
	t.mu.Lock()
	for _, e := range saved {
		if e.PeerID == "" || e.Address == "" || e.PeerID == t.self {
			continue
		}
		e.LatencyUS = 0
		t.peers[e.PeerID] = e
	}
	n := len(t.peers)
	t.mu.Unlock()
	t.log.Info("peer table reloaded", "peers", n)
}

// SelfID returns the id of the owning agent.
func (t *PeerTable) SelfID() string { return t.self }

// Add inserts or overwrites the entry for id (last writer wins).
func (t *PeerTable) Add(id, addr string, latencyUS int64) {
	e := Entry{PeerID: id, Address: addr, LatencyUS: latencyUS, CreatedAt: t.now()}

	t.mu.Lock()
	t.peers[id] = e
	t.mu.Unlock()

	t.log.Info("peer add", "peer", id, "address", addr)
	if t.store != nil {
		if err := t.store.SavePeer(e); err != nil {
			t.log.Warn("peer store save failed", "peer", id, "err", err)
		}
	}
}

// Remove deletes id and returns the removed entry.
func (t *PeerTable) Remove(id string) (Entry, bool) {
	t.mu.Lock()
	e, ok := t.peers[id]
	if ok {
		delete(t.peers, id)
	}
	t.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	t.log.Info("peer remove", "peer", id, "address", e.Address)
	if t.store != nil {
		if err := t.store.DeletePeer(id); err != nil {
			t.log.Warn("peer store delete failed", "peer", id, "err", err)
		}
	}
	return e, true
}

func (t *PeerTable) Address(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[id]
	return e.Address, ok
}

func (t *PeerTable) Latency(id string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[id]
	return e.LatencyUS, ok
}

// SetLatency records a measurement and returns the previous value. It does
// nothing for unknown ids.
func (t *PeerTable) SetLatency(id string, latencyUS int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.peers[id]
	if !ok {
		return 0, false
	}
	prev := e.LatencyUS
	e.LatencyUS = latencyUS
	t.peers[id] = e
	return prev, true
}

// BestLatencyPeer returns the measured peer with the lowest latency, ignoring
// self and exclude. Unmeasured peers never qualify, so a table where nothing
// has been measured yet reports none.
func (t *PeerTable) BestLatencyPeer(exclude string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best Entry
	found := false
	for id, e := range t.peers {
		if id == t.self || id == exclude || !e.Measured() {
			continue
		}
		if !found || e.LatencyUS < best.LatencyUS || (e.LatencyUS == best.LatencyUS && id < best.PeerID) {
			best = e
			found = true
		}
	}
	return best, found
}

// PeerIDs returns every known id except self, sorted.
func (t *PeerTable) PeerIDs() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		if id != t.self {
			ids = append(ids, id)
		}
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Len counts every entry, self included.
func (t *PeerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Snapshot copies all entries, self included, sorted by id.
func (t *PeerTable) Snapshot() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.peers))
	for _, e := range t.peers {
		out = append(out, e)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// DispatchGetPeer answers a DHT_GET_PEER request with the best peer other than
// the requester, or CORE_NONE when no measured peer qualifies.
func (t *PeerTable) DispatchGetPeer(req proto.Message) proto.Message {
	best, ok := t.BestLatencyPeer(req.FromID)
	if !ok {
		return proto.NewMessage(proto.TypeNone, "", t.self, req.FromID)
	}
	info := proto.PeerInfo{ID: best.PeerID, Address: best.Address}
	return proto.NewMessage(proto.TypeResponse, proto.MustContent(info), t.self, req.FromID)
}
