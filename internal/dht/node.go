package dht

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
)

// Node is a single DHT participant holding every record itself. It checks
// signatures and sequence numbers before anything reaches the store.
type Node struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger
	closed bool
}

func NewNode(store Store, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		store:  store,
		logger: logger,
	}
}

// NewMemory returns a Node backed by a MemoryStore, a one-node testnet.
func NewMemory() *Node {
	return NewNode(NewMemoryStore(), nil)
}

// Put stores a signed record. A record at the stored seq is accepted only if
// it carries the same value, so two writers racing for one slot cannot both
// win.
func (n *Node) Put(ctx context.Context, rec *Record) error {
	if len(rec.Value) > MaxValueSize {
		return ErrValueTooLarge
	}
	if !rec.Verify() {
		return ErrBadSignature
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	existing, err := n.store.Get(ctx, rec.PublicKey)
	if err != nil {
		return err
	}
	if existing != nil {
		switch {
		case rec.Seq < existing.Seq:
			return ErrSeqTooLow
		case rec.Seq == existing.Seq:
			if bytes.Equal(rec.Value, existing.Value) {
				return nil
			}
			return ErrSeqReused
		}
	}

	n.logger.Debug("Stored record", "key", shortKey(rec.PublicKey), "seq", rec.Seq, "size", len(rec.Value))
	return n.store.Put(ctx, rec)
}

func (n *Node) Get(ctx context.Context, publicKey []byte) (*Record, error) {
	if n.isClosed() {
		return nil, ErrClosed
	}
	return n.store.Get(ctx, publicKey)
}

func (n *Node) AddAnnouncement(ctx context.Context, topic, publicKey, sig []byte) error {
	if !crypto.Verify(publicKey, announceSignable(topic, publicKey), sig) {
		return ErrBadSignature
	}
	if n.isClosed() {
		return ErrClosed
	}
	n.logger.Debug("Announced", "topic", shortKey(topic), "key", shortKey(publicKey))
	return n.store.AddAnnouncement(ctx, topic, publicKey)
}

func (n *Node) RemoveAnnouncement(ctx context.Context, topic, publicKey, sig []byte) error {
	if !crypto.Verify(publicKey, unannounceSignable(topic, publicKey), sig) {
		return ErrBadSignature
	}
	if n.isClosed() {
		return ErrClosed
	}
	n.logger.Debug("Unannounced", "topic", shortKey(topic), "key", shortKey(publicKey))
	return n.store.RemoveAnnouncement(ctx, topic, publicKey)
}

func (n *Node) Lookup(ctx context.Context, topic []byte) ([]Peer, error) {
	if n.isClosed() {
		return nil, ErrClosed
	}
	keys, err := n.store.Announced(ctx, topic)
	if err != nil {
		return nil, err
	}
	peers := make([]Peer, len(keys))
	for i, k := range keys {
		peers[i] = Peer{PublicKey: k}
	}
	return peers, nil
}

func (n *Node) MutableGet(ctx context.Context, publicKey []byte, _ GetOptions) (*Record, error) {
	return n.Get(ctx, publicKey)
}

func (n *Node) MutablePut(ctx context.Context, kp crypto.KeyPair, value []byte) error {
	return n.Put(ctx, SignRecord(kp, 0, value))
}

func (n *Node) Announce(ctx context.Context, topic []byte, kp crypto.KeyPair) error {
	return n.AddAnnouncement(ctx, topic, kp.PublicKey, SignAnnounce(kp, topic))
}

func (n *Node) Unannounce(ctx context.Context, topic []byte, kp crypto.KeyPair) error {
	return n.RemoveAnnouncement(ctx, topic, kp.PublicKey, SignUnannounce(kp, topic))
}

func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return n.store.Close()
}

func (n *Node) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

func shortKey(k []byte) string {
	if len(k) > 4 {
		k = k[:4]
	}
	return hex.EncodeToString(k)
}
