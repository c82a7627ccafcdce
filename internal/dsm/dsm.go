// Package dsm is a distributed shared memory of single-owner chunks. Writers
// own what they first touch; other agents learn about chunks through
// advertisements and fetch content on first read.
package dsm

import (
	"learn-to-share/internal/proto"
	"learn-to-share/internal/telemetry"
)

// Sender is the slice of the communicator the DSM needs.
type Sender interface {
	ID() string
	SendMessage(to string, m proto.Message) (proto.Message, error)
	BroadcastMessage(m proto.Message) int
}

// Handler matches the agent's dispatch handler contract.
type Handler interface {
	DispatchMessage(m proto.Message) (proto.Message, bool)
}

// ChunkStore persists chunks owned by this agent.
type ChunkStore interface {
	SaveChunk(c Chunk) error
	DeleteChunk(id string) error
	LoadChunks() ([]Chunk, error)
}

type Config struct {
	Capacity int              // chunk slots, DefaultCapacity if zero
	Store    ChunkStore       // optional persistence of owned chunks
	Next     Handler          // receives USER_DEFINED and application messages
	Logger   telemetry.Logger // system logger
}

type DSM struct {
	id    string
	comm  Sender
	mem   *MemoryStore
	store ChunkStore
	next  Handler
	log   telemetry.Logger
}

// New builds a DSM on top of comm. Owned chunks found in cfg.Store are
// reloaded.
func New(comm Sender, cfg Config) *DSM {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Nop()
	}
	d := &DSM{
		id:    comm.ID(),
		comm:  comm,
		mem:   NewMemoryStore(cfg.Capacity),
		store: cfg.Store,
		next:  cfg.Next,
		log:   telemetry.With(cfg.Logger, "component", "dsm", "agent", comm.ID()),
	}
	d.log.Info("dsm running", "capacity", d.mem.Capacity())
	if d.store != nil {
		d.reload()
	}
	return d
}

func (d *DSM) reload() {
	chunks, err := d.store.LoadChunks()
	if err != nil {
		d.log.Warn("chunk store reload failed", "err", err)
		return
	}
	n := 0
	for _, c := range chunks {
		if c.OwnerID != d.id || c.Content == nil {
			continue
		}
		if !d.mem.Add(c) {
			d.log.Warn("memory full while reloading", "chunk", c.ChunkID)
			break
		}
		n++
	}
	d.log.Info("owned chunks reloaded", "chunks", n)
}

// Memory exposes the local store.
func (d *DSM) Memory() *MemoryStore { return d.mem }

// Write stores content under id. An existing chunk gets new content and the
// next version; an unknown id is first-touched at version 0 with this agent as
// owner. It returns false when the store is full and id was unknown.
func (d *DSM) Write(id, content string) (string, bool) {
	_, known := d.mem.Get(id)
	c, ok := d.mem.Write(id, d.id, content)
	if !ok {
		d.log.Warn("memory full, write rejected", "chunk", id)
		return "", false
	}
	if !known {
		d.log.Info("first touch", "chunk", id)
	}
	if d.store != nil && c.OwnerID == d.id {
		if err := d.store.SaveChunk(c); err != nil {
			d.log.Warn("chunk store save failed", "chunk", id, "err", err)
		}
	}
	return id, true
}

// Read returns the content of id. Cached content is served locally; a
// metadata-only chunk is fetched from its owner once and cached. Ids with no
// local record are never fetched.
func (d *DSM) Read(id string) (string, bool) {
	c, ok := d.mem.Get(id)
	if !ok {
		d.log.Warn("read of chunk not in memory", "chunk", id)
		return "", false
	}
	if c.Content != nil {
		return *c.Content, true
	}
	if c.OwnerID == "" || c.OwnerID == d.id {
		return "", false
	}

	d.log.Info("fetching chunk from owner", "chunk", id, "owner", c.OwnerID)
	req := proto.NewMessage(proto.TypeDSMChunkGet, proto.MustContent(c.Metadata().Wire()), d.id, c.OwnerID)
	resp, err := d.comm.SendMessage(c.OwnerID, req)
	if err != nil {
		return "", false
	}

	var w proto.ChunkWire
	if err := proto.DecodeContent(resp.Content, &w); err != nil {
		d.log.Warn("bad chunk reply", "chunk", id, "owner", c.OwnerID, "err", err)
		return "", false
	}
	if w.Content == nil || w.ChunkID != id {
		d.log.Warn("owner does not hold chunk", "chunk", id, "owner", c.OwnerID)
		return "", false
	}
	full := FromWire(w)
	d.mem.Add(full)
	return *full.Content, true
}

// Advertize broadcasts the metadata of id to every known peer. It returns the
// number of peers reached, or false when id is not in memory.
func (d *DSM) Advertize(id string) (int, bool) {
	md, ok := d.mem.Metadata(id)
	if !ok {
		d.log.Warn("advertize of chunk not in memory", "chunk", id)
		return 0, false
	}
	m := proto.NewMessage(proto.TypeDSMChunkAdvertize, proto.MustContent(md.Wire()), d.id, "")
	return d.comm.BroadcastMessage(m), true
}

// Drop forgets id locally.
func (d *DSM) Drop(id string) bool {
	c, ok := d.mem.Remove(id)
	if ok && d.store != nil && c.OwnerID == d.id {
		if err := d.store.DeleteChunk(id); err != nil {
			d.log.Warn("chunk store delete failed", "chunk", id, "err", err)
		}
	}
	return ok
}

// DispatchMessage serves the DSM protocol and forwards everything else to the
// next handler.
func (d *DSM) DispatchMessage(m proto.Message) (proto.Message, bool) {
	switch m.Type {
	case proto.TypeDSMChunkAdvertize:
		d.handleAdvertize(m)
		return proto.Ack(d.id, m), true
	case proto.TypeDSMChunkGet:
		return d.handleGet(m), true
	}
	if d.next != nil {
		return d.next.DispatchMessage(m)
	}
	d.log.Error("message for dsm with unhandled type", "from", m.FromID, "type", m.Type.String())
	return proto.Message{}, false
}

func (d *DSM) handleAdvertize(m proto.Message) {
	var w proto.ChunkWire
	if err := proto.DecodeContent(m.Content, &w); err != nil || w.ChunkID == "" {
		d.log.Warn("bad advertisement", "from", m.FromID, "err", err)
		return
	}
	if local, ok := d.mem.Get(w.ChunkID); ok && local.OwnerID == d.id && local.Content != nil {
		// Two first touches of the same id; keep the local replica.
		d.log.Warn("advertisement for locally owned chunk ignored", "chunk", w.ChunkID, "owner", w.OwnerID)
		return
	}
	md := FromWire(w).Metadata()
	if !d.mem.Add(md) {
		d.log.Warn("memory full, advertisement dropped", "chunk", w.ChunkID)
	}
}

func (d *DSM) handleGet(m proto.Message) proto.Message {
	var w proto.ChunkWire
	if err := proto.DecodeContent(m.Content, &w); err == nil {
		if c, ok := d.mem.Get(w.ChunkID); ok && c.Content != nil {
			return proto.NewMessage(proto.TypeResponse, proto.MustContent(c.Wire()), d.id, m.FromID)
		}
	}
	echo := proto.Ack(d.id, m)
	echo.Content = m.Content
	return echo
}
