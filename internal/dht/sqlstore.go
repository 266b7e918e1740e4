package dht

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/blind-pairing/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore keeps a node's state in sqlite so it survives restarts.
type SQLStore struct {
	DB *gorm.DB
}

func OpenSQLStore(path string) (*SQLStore, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(conn), nil
}

func NewSQLStore(conn *gorm.DB) *SQLStore {
	return &SQLStore{DB: conn}
}

func (s *SQLStore) Get(ctx context.Context, publicKey []byte) (*Record, error) {
	var row db.MutableRecord
	err := s.DB.WithContext(ctx).First(&row, "public_key = ?", hex.EncodeToString(publicKey)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading record: %w", err)
	}
	return &Record{
		PublicKey: append([]byte(nil), publicKey...),
		Value:     row.Value,
		Seq:       row.Seq,
		Signature: row.Signature,
	}, nil
}

func (s *SQLStore) Put(ctx context.Context, rec *Record) error {
	row := db.MutableRecord{
		PublicKey: hex.EncodeToString(rec.PublicKey),
		Value:     rec.Value,
		Seq:       rec.Seq,
		Signature: rec.Signature,
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "public_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "seq", "signature", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing record: %w", err)
	}
	return nil
}

func (s *SQLStore) AddAnnouncement(ctx context.Context, topic, publicKey []byte) error {
	row := db.Announcement{
		Topic:     hex.EncodeToString(topic),
		PublicKey: hex.EncodeToString(publicKey),
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storing announcement: %w", err)
	}
	return nil
}

func (s *SQLStore) RemoveAnnouncement(ctx context.Context, topic, publicKey []byte) error {
	err := s.DB.WithContext(ctx).
		Where("topic = ? AND public_key = ?", hex.EncodeToString(topic), hex.EncodeToString(publicKey)).
		Delete(&db.Announcement{}).Error
	if err != nil {
		return fmt.Errorf("removing announcement: %w", err)
	}
	return nil
}

func (s *SQLStore) Announced(ctx context.Context, topic []byte) ([][]byte, error) {
	var rows []db.Announcement
	err := s.DB.WithContext(ctx).
		Where("topic = ?", hex.EncodeToString(topic)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading announcements: %w", err)
	}

	keys := make([][]byte, 0, len(rows))
	for _, row := range rows {
		k, err := hex.DecodeString(row.PublicKey)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *SQLStore) Close() error {
	return db.Close(s.DB)
}
