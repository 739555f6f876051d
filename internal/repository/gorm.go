package repository

import (
	"context"
	"errors"
	"time"

	"boardroom/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProvider stores room keys as rows of room_records.
type GormProvider struct {
	db *gorm.DB
}

// NewGormProvider wraps an open, migrated database.
func NewGormProvider(db *gorm.DB) *GormProvider {
	return &GormProvider{db: db}
}

func (p *GormProvider) ForRoom(roomID string) Store {
	return &gormStore{db: p.db, roomID: roomID}
}

func (p *GormProvider) Name() string { return p.db.Dialector.Name() }

func (p *GormProvider) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (p *GormProvider) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormStore struct {
	db     *gorm.DB
	roomID string
}

func (s *gormStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var rec models.RoomRecord
	err := s.db.WithContext(ctx).
		Where(&models.RoomRecord{RoomID: s.roomID, Key: key}).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Value, true, nil
}

func (s *gormStore) Put(ctx context.Context, key string, value []byte) error {
	rec := models.RoomRecord{
		RoomID:    s.roomID,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
}
