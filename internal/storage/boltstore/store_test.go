package boltstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"learn-to-share/internal/dht"
	"learn-to-share/internal/dsm"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "agent.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, path
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestPeers_RoundTripAcrossReopen(t *testing.T) {
	s, path := openTemp(t)
	now := time.Unix(1700000000, 0).UTC()
	if err := s.SavePeer(dht.Entry{PeerID: "b", Address: "127.0.0.1:9001", LatencyUS: 40, CreatedAt: now}); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := s.SavePeer(dht.Entry{PeerID: "c", Address: "127.0.0.1:9002"}); err != nil {
		t.Fatalf("save c: %v", err)
	}
	if err := s.DeletePeer("c"); err != nil {
		t.Fatalf("delete c: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	peers, err := s.LoadPeers()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(peers) != 1 || peers[0].PeerID != "b" || peers[0].Address != "127.0.0.1:9001" {
		t.Fatalf("unexpected peers: %+v", peers)
	}
	if !peers[0].CreatedAt.Equal(now) {
		t.Fatalf("created_at lost: %v", peers[0].CreatedAt)
	}
}

func TestPeers_FeedPeerTable(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	tab := dht.New("a", dht.WithStore(s))
	tab.Add("b", "127.0.0.1:9001", 0)
	tab.SetLatency("b", 500)

	again := dht.New("a", dht.WithStore(s))
	addr, ok := again.Address("b")
	if !ok || addr != "127.0.0.1:9001" {
		t.Fatalf("reloaded address = %q, %v", addr, ok)
	}
	if lat, _ := again.Latency("b"); lat != 0 {
		t.Fatalf("reloaded latency = %d, want 0", lat)
	}
}

func TestChunks_RoundTripAndDelete(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	v := "64"
	if err := s.SaveChunk(dsm.Chunk{ChunkID: "x", OwnerID: "a", Version: 1, Content: &v}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveChunk(dsm.Chunk{ChunkID: "y", OwnerID: "a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteChunk("y"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := s.LoadChunks()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(got))
	}
	c := got[0]
	if c.ChunkID != "x" || c.OwnerID != "a" || c.Version != 1 || c.Content == nil || *c.Content != "64" {
		t.Fatalf("unexpected chunk: %+v", c)
	}
}

func TestChunks_CorruptRecordSkipped(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	v := "good"
	if err := s.SaveChunk(dsm.Chunk{ChunkID: "ok", OwnerID: "a", Content: &v}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveChunk(dsm.Chunk{ChunkID: "bad", OwnerID: "a", Content: &v}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Tamper with the stored content without fixing the digest.
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bChunks))
		var rec chunkRecord
		if err := json.Unmarshal(b.Get([]byte("bad")), &rec); err != nil {
			return err
		}
		evil := "evil"
		rec.Content = &evil
		raw, _ := json.Marshal(rec)
		if err := b.Put([]byte("bad"), raw); err != nil {
			return err
		}
		return b.Put([]byte("junk"), []byte("{not json"))
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}

	got, err := s.LoadChunks()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "ok" {
		t.Fatalf("want only the intact chunk, got %+v", got)
	}
}
