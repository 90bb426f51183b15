package model

import "time"

// ゲートウェイから受け取ったイベント。GatewayEventIDで重複排除する
type PaymentEvent struct {
	GatewayEventID   string     `gorm:"type:varchar(255);primaryKey" json:"gateway_event_id"`
	PaymentReference string     `gorm:"type:varchar(255);not null;index" json:"payment_reference"`
	EventType        string     `gorm:"type:varchar(100);not null" json:"event_type"`
	ReceivedAt       time.Time  `gorm:"not null" json:"received_at"`
	Processed        bool       `gorm:"not null;default:false" json:"processed"`
	ProcessedAt      *time.Time `json:"processed_at"`
	Outcome          string     `gorm:"type:varchar(50)" json:"outcome"`
}
