package dht

import (
	"bytes"
	"context"
	"encoding/hex"
	"slices"
	"sync"
)

// Store persists records and announcements. Validation is the Node's job.
type Store interface {
	Get(ctx context.Context, publicKey []byte) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	AddAnnouncement(ctx context.Context, topic, publicKey []byte) error
	RemoveAnnouncement(ctx context.Context, topic, publicKey []byte) error
	// Announced returns keys in announcement order.
	Announced(ctx context.Context, topic []byte) ([][]byte, error)
	Close() error
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	topics  map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		topics:  make(map[string][][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, publicKey []byte) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[hex.EncodeToString(publicKey)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records[hex.EncodeToString(rec.PublicKey)] = &cp
	return nil
}

func (s *MemoryStore) AddAnnouncement(_ context.Context, topic, publicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(topic)
	if slices.ContainsFunc(s.topics[key], func(k []byte) bool { return bytes.Equal(k, publicKey) }) {
		return nil
	}
	s.topics[key] = append(s.topics[key], bytes.Clone(publicKey))
	return nil
}

func (s *MemoryStore) RemoveAnnouncement(_ context.Context, topic, publicKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(topic)
	s.topics[key] = slices.DeleteFunc(s.topics[key], func(k []byte) bool { return bytes.Equal(k, publicKey) })
	if len(s.topics[key]) == 0 {
		delete(s.topics, key)
	}
	return nil
}

func (s *MemoryStore) Announced(_ context.Context, topic []byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.topics[hex.EncodeToString(topic)]), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
