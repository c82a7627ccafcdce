package dht

// Store persists the peer directory across restarts. Implementations must be
// safe for concurrent use.
type Store interface {
	SavePeer(e Entry) error
	DeletePeer(id string) error
	LoadPeers() ([]Entry, error)
}
