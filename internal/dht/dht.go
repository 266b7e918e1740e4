// Package dht provides the mutable-slot and topic-announcement service that
// pairing runs over. A Node keeps the records locally; Server exposes a Node
// over QUIC and Client talks to one.
package dht

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/rudransh-shrivastava/blind-pairing/internal/crypto"
)

var (
	ErrBadSignature  = errors.New("bad signature")
	ErrSeqReused     = errors.New("seq reused with a different value")
	ErrSeqTooLow     = errors.New("seq older than stored record")
	ErrValueTooLarge = errors.New("value too large")
	ErrClosed        = errors.New("dht closed")
)

// MaxValueSize bounds a mutable record.
const MaxValueSize = 1000

type Peer struct {
	PublicKey []byte
}

// Record is the content of a mutable slot.
type Record struct {
	PublicKey []byte
	Value     []byte
	Seq       uint64
	Signature []byte
}

type GetOptions struct {
	// Latest asks for the freshest copy. Without it a cached value may be
	// returned.
	Latest bool
}

// DHT is what the pairing state machines need from the network.
type DHT interface {
	// Lookup lists the keys announced under topic.
	Lookup(ctx context.Context, topic []byte) ([]Peer, error)
	// MutableGet returns nil and no error when the slot is empty.
	MutableGet(ctx context.Context, publicKey []byte, opts GetOptions) (*Record, error)
	// MutablePut writes value at seq 0 under kp's public key.
	MutablePut(ctx context.Context, kp crypto.KeyPair, value []byte) error
	Announce(ctx context.Context, topic []byte, kp crypto.KeyPair) error
	Unannounce(ctx context.Context, topic []byte, kp crypto.KeyPair) error
}

func recordSignable(seq uint64, value []byte) []byte {
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	return crypto.Hash([]byte("mutable"), s[:], value)
}

func announceSignable(topic, publicKey []byte) []byte {
	return crypto.Hash([]byte("announce"), topic, publicKey)
}

func unannounceSignable(topic, publicKey []byte) []byte {
	return crypto.Hash([]byte("unannounce"), topic, publicKey)
}

// SignRecord builds a record for kp at seq.
func SignRecord(kp crypto.KeyPair, seq uint64, value []byte) *Record {
	return &Record{
		PublicKey: kp.PublicKey,
		Value:     value,
		Seq:       seq,
		Signature: crypto.Sign(kp.SecretKey, recordSignable(seq, value)),
	}
}

func (r *Record) Verify() bool {
	return crypto.Verify(r.PublicKey, recordSignable(r.Seq, r.Value), r.Signature)
}

func SignAnnounce(kp crypto.KeyPair, topic []byte) []byte {
	return crypto.Sign(kp.SecretKey, announceSignable(topic, kp.PublicKey))
}

func SignUnannounce(kp crypto.KeyPair, topic []byte) []byte {
	return crypto.Sign(kp.SecretKey, unannounceSignable(topic, kp.PublicKey))
}

var (
	_ DHT = (*Node)(nil)
	_ DHT = (*Client)(nil)
)
