package dsm

import (
	"sort"
	"sync"
)

const DefaultCapacity = 64

// MemoryStore is a fixed-capacity chunk map. Inserting a new id into a full
// store fails; replacing an existing id always succeeds. Chunks are copied in
// and out so callers never share content pointers with the store.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	chunks   map[string]Chunk
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{capacity: capacity, chunks: make(map[string]Chunk)}
}

func (m *MemoryStore) Capacity() int { return m.capacity }

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks)
}

// Add inserts or replaces c. It returns false only when c is new and the store
// is full.
func (m *MemoryStore) Add(c Chunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chunks[c.ChunkID]; !ok && len(m.chunks) >= m.capacity {
		return false
	}
	m.chunks[c.ChunkID] = c.clone()
	return true
}

func (m *MemoryStore) Get(id string) (Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	return c.clone(), ok
}

// Metadata returns the chunk without its content.
func (m *MemoryStore) Metadata(id string) (Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	return c.Metadata(), ok
}

func (m *MemoryStore) Remove(id string) (Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chunks[id]
	if ok {
		delete(m.chunks, id)
	}
	return c, ok
}

// Write replaces the content of an existing chunk and bumps its version, or
// creates the chunk at version 0 owned by ownerID (first touch). The second
// result is false when a first touch hit a full store.
func (m *MemoryStore) Write(id, ownerID, content string) (Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.chunks[id]; ok {
		c.Content = strPtr(content)
		c.Version++
		m.chunks[id] = c
		return c.clone(), true
	}
	if len(m.chunks) >= m.capacity {
		return Chunk{}, false
	}
	c := Chunk{ChunkID: id, OwnerID: ownerID, Version: 0, Content: strPtr(content)}
	m.chunks[id] = c
	return c.clone(), true
}

// Snapshot copies every chunk, sorted by id.
func (m *MemoryStore) Snapshot() []Chunk {
	m.mu.Lock()
	out := make([]Chunk, 0, len(m.chunks))
	for _, c := range m.chunks {
		out = append(out, c.clone())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out
}
