package dsm

import "learn-to-share/internal/proto"

// Chunk is one unit of shared memory. A chunk with a nil Content and an owner
// is metadata-only: known to exist elsewhere, not cached here.
type Chunk struct {
	ChunkID string
	OwnerID string
	Version uint64
	Content *string
}

// MetadataOnly reports whether c points at a remote owner without data.
func (c Chunk) MetadataOnly() bool { return c.Content == nil && c.OwnerID != "" }

// Metadata returns c without its content.
func (c Chunk) Metadata() Chunk {
	c.Content = nil
	return c
}

func (c Chunk) clone() Chunk {
	if c.Content != nil {
		s := *c.Content
		c.Content = &s
	}
	return c
}

func (c Chunk) Wire() proto.ChunkWire {
	c = c.clone()
	return proto.ChunkWire{ChunkID: c.ChunkID, OwnerID: c.OwnerID, Version: c.Version, Content: c.Content}
}

func FromWire(w proto.ChunkWire) Chunk {
	return Chunk{ChunkID: w.ChunkID, OwnerID: w.OwnerID, Version: w.Version, Content: w.Content}
}

func strPtr(s string) *string { return &s }
