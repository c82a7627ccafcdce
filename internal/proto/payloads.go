package proto

// PeerInfo carries a peer identity and the address it can be reached at.
// It is the content of DHT_SUBSCRIBE and of a successful DHT_GET_PEER reply.
type PeerInfo struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// ChunkWire is a chunk on the wire. A nil Content marks a metadata-only chunk.
type ChunkWire struct {
	ChunkID string  `json:"chunk_id"`
	OwnerID string  `json:"owner_id,omitempty"`
	Version uint64  `json:"version"`
	Content *string `json:"content"`
}

// RPCCall asks a peer to run a procedure.
type RPCCall struct {
	CallID     string `json:"call_id"`
	Procedure  string `json:"procedure"`
	Parameters string `json:"parameters"`
}

// RPCResults returns the result of an RPCCall to its origin.
type RPCResults struct {
	CallID    string `json:"call_id"`
	Procedure string `json:"procedure"`
	Result    string `json:"result"`
}
