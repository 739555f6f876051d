package models

import "time"

// RoomRecord is one persisted key of one room in the SQL store.
type RoomRecord struct {
	RoomID    string    `gorm:"primaryKey;size:64" json:"room_id"`
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     []byte    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName pins the table name used by every SQL dialect.
func (RoomRecord) TableName() string {
	return "room_records"
}
