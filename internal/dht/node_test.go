package dht

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
)

func testKeyPair(t *testing.T) crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	return kp
}

// exerciseDHT runs the same checks against any DHT implementation.
func exerciseDHT(t *testing.T, d DHT) {
	t.Helper()
	ctx := context.Background()
	kp := testKeyPair(t)

	rec, err := d.MutableGet(ctx, kp.PublicKey, GetOptions{Latest: true})
	if err != nil {
		t.Fatalf("MutableGet failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("Expected empty slot, got %v", rec)
	}

	if err := d.MutablePut(ctx, kp, []byte("hello")); err != nil {
		t.Fatalf("MutablePut failed: %v", err)
	}
	if err := d.MutablePut(ctx, kp, []byte("hello")); err != nil {
		t.Errorf("Expected identical re-put to succeed, got %v", err)
	}
	if err := d.MutablePut(ctx, kp, []byte("other")); !errors.Is(err, ErrSeqReused) {
		t.Errorf("Expected ErrSeqReused, got %v", err)
	}

	rec, err = d.MutableGet(ctx, kp.PublicKey, GetOptions{})
	if err != nil {
		t.Fatalf("MutableGet failed: %v", err)
	}
	if rec == nil || string(rec.Value) != "hello" {
		t.Fatalf("Expected hello, got %v", rec)
	}

	topic := crypto.Hash([]byte("topic"))
	other := testKeyPair(t)
	for _, k := range []crypto.KeyPair{kp, other, kp} {
		if err := d.Announce(ctx, topic, k); err != nil {
			t.Fatalf("Announce failed: %v", err)
		}
	}

	peers, err := d.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(peers))
	}
	if !bytes.Equal(peers[0].PublicKey, kp.PublicKey) {
		t.Error("Expected announcement order to be kept")
	}

	if err := d.Unannounce(ctx, topic, kp); err != nil {
		t.Fatalf("Unannounce failed: %v", err)
	}
	peers, err = d.Lookup(ctx, topic)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(peers) != 1 || !bytes.Equal(peers[0].PublicKey, other.PublicKey) {
		t.Errorf("Expected only the other key, got %v", peers)
	}
}

func TestNodeMemory(t *testing.T) {
	n := NewMemory()
	defer func() { _ = n.Close() }()

	exerciseDHT(t, n)
}

func TestNodeRejectsForgedRecord(t *testing.T) {
	n := NewMemory()
	ctx := context.Background()
	kp := testKeyPair(t)

	rec := SignRecord(kp, 0, []byte("value"))
	rec.Value = []byte("tampered")
	if err := n.Put(ctx, rec); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Expected ErrBadSignature, got %v", err)
	}

	other := testKeyPair(t)
	topic := []byte("topic")
	if err := n.AddAnnouncement(ctx, topic, kp.PublicKey, SignAnnounce(other, topic)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Expected ErrBadSignature, got %v", err)
	}
	if err := n.RemoveAnnouncement(ctx, topic, kp.PublicKey, SignAnnounce(kp, topic)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Expected announce signature to not unannounce, got %v", err)
	}
}

func TestNodeSeq(t *testing.T) {
	n := NewMemory()
	ctx := context.Background()
	kp := testKeyPair(t)

	if err := n.Put(ctx, SignRecord(kp, 5, []byte("a"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := n.Put(ctx, SignRecord(kp, 4, []byte("b"))); !errors.Is(err, ErrSeqTooLow) {
		t.Errorf("Expected ErrSeqTooLow, got %v", err)
	}
	if err := n.Put(ctx, SignRecord(kp, 6, []byte("c"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rec, _ := n.Get(ctx, kp.PublicKey)
	if rec.Seq != 6 || string(rec.Value) != "c" {
		t.Errorf("Expected seq 6 value c, got %d %q", rec.Seq, rec.Value)
	}
}

func TestNodeValueTooLarge(t *testing.T) {
	n := NewMemory()
	kp := testKeyPair(t)

	err := n.MutablePut(context.Background(), kp, make([]byte, MaxValueSize+1))
	if !errors.Is(err, ErrValueTooLarge) {
		t.Errorf("Expected ErrValueTooLarge, got %v", err)
	}
}

func TestNodeClosed(t *testing.T) {
	n := NewMemory()
	if err := n.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("Expected second Close to succeed, got %v", err)
	}
	if _, err := n.Lookup(context.Background(), []byte("t")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
