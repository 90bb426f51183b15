package model

import "time"

// コミットと同じTxで書き、後から配信する
type OutboxEvent struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID   string     `gorm:"type:uuid;not null;uniqueIndex" json:"event_id"`
	EventType string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Key       string     `gorm:"type:varchar(255);not null" json:"key"`
	Payload   string     `gorm:"type:jsonb;not null" json:"payload"`
	Attempts  int        `gorm:"not null;default:0" json:"attempts"`
	LastError string     `gorm:"type:text" json:"last_error"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	SentAt    *time.Time `gorm:"index" json:"sent_at"`
}
