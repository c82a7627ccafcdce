// Package boltstore keeps an agent's peer directory and owned chunks in a
// BoltDB file so a restarted agent can rejoin without its seed.
package boltstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/blake2b"

	"learn-to-share/internal/dht"
	"learn-to-share/internal/dsm"
)

const (
	bPeers  = "peers"
	bChunks = "chunks"

	defaultTO = 2 * time.Second
)

// Store is a BoltDB-backed implementation of dht.Store and dsm.ChunkStore.
type Store struct {
	db *bolt.DB
}

type chunkRecord struct {
	ChunkID string  `json:"chunk_id"`
	OwnerID string  `json:"owner_id"`
	Version uint64  `json:"version"`
	Content *string `json:"content"`
	Digest  []byte  `json:"digest"`
}

// Open opens (or creates) a BoltDB database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bPeers)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bChunks)); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SavePeer(e dht.Entry) error {
	if e.PeerID == "" {
		return errors.New("missing peer id")
	}
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bPeers)).Put([]byte(e.PeerID), val)
	})
}

func (s *Store) DeletePeer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bPeers)).Delete([]byte(id))
	})
}

func (s *Store) LoadPeers() ([]dht.Entry, error) {
	var out []dht.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bPeers)).ForEach(func(k, v []byte) error {
			var e dht.Entry
			if err := json.Unmarshal(v, &e); err != nil || e.PeerID != string(k) {
				return nil
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (s *Store) SaveChunk(c dsm.Chunk) error {
	if c.ChunkID == "" {
		return errors.New("missing chunk id")
	}
	rec := chunkRecord{
		ChunkID: c.ChunkID,
		OwnerID: c.OwnerID,
		Version: c.Version,
		Content: c.Content,
		Digest:  digest(c),
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bChunks)).Put([]byte(c.ChunkID), val)
	})
}

func (s *Store) DeleteChunk(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bChunks)).Delete([]byte(id))
	})
}

// LoadChunks returns every stored chunk whose digest still matches. Corrupt
// records are skipped.
func (s *Store) LoadChunks() ([]dsm.Chunk, error) {
	var out []dsm.Chunk
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bChunks)).ForEach(func(k, v []byte) error {
			var rec chunkRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			c := dsm.Chunk{ChunkID: rec.ChunkID, OwnerID: rec.OwnerID, Version: rec.Version, Content: rec.Content}
			if c.ChunkID != string(k) || !bytes.Equal(rec.Digest, digest(c)) {
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

func digest(c dsm.Chunk) []byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(c.ChunkID))
	h.Write([]byte{0})
	h.Write([]byte(c.OwnerID))
	h.Write([]byte{0})
	if c.Content != nil {
		h.Write([]byte(*c.Content))
	}
	return h.Sum(nil)
}

// Compile-time checks that Store satisfies both interfaces.
var (
	_ dht.Store      = (*Store)(nil)
	_ dsm.ChunkStore = (*Store)(nil)
)
