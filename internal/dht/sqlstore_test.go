package dht

import (
	"context"
	"path/filepath"
	"testing"
)

func setupSQLStore(t *testing.T, path string) *SQLStore {
	t.Helper()
	store, err := OpenSQLStore(path)
	if err != nil {
		t.Fatalf("OpenSQLStore failed: %v", err)
	}
	return store
}

func TestSQLStoreNode(t *testing.T) {
	n := NewNode(setupSQLStore(t, ":memory:"), nil)
	defer func() { _ = n.Close() }()

	exerciseDHT(t, n)
}

func TestSQLStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dht.sqlite3")
	ctx := context.Background()
	kp := testKeyPair(t)
	topic := []byte("persisted-topic")

	n := NewNode(setupSQLStore(t, path), nil)
	if err := n.MutablePut(ctx, kp, []byte("kept")); err != nil {
		t.Fatalf("MutablePut failed: %v", err)
	}
	if err := n.Announce(ctx, topic, kp); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := NewNode(setupSQLStore(t, path), nil)
	defer func() { _ = reopened.Close() }()

	rec, err := reopened.MutableGet(ctx, kp.PublicKey, GetOptions{})
	if err != nil {
		t.Fatalf("MutableGet failed: %v", err)
	}
	if rec == nil || string(rec.Value) != "kept" {
		t.Fatalf("Expected persisted value, got %v", rec)
	}
	if !rec.Verify() {
		t.Error("Expected persisted record to verify")
	}

	peers, err := reopened.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 1 {
		t.Errorf("Expected 1 persisted announcement, got %d", len(peers))
	}
}
