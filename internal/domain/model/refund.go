package model

import "time"

type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "REQUESTED"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// 1決済につき返金は1件（PaymentReferenceがunique）
type Refund struct {
	ID               int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentReference string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"payment_reference"`
	CheckoutID       string       `gorm:"type:varchar(64);index" json:"checkout_id"`
	Amount           int64        `gorm:"not null" json:"amount"`
	Currency         string       `gorm:"type:varchar(3);not null" json:"currency"`
	Reason           string       `gorm:"type:varchar(100);not null" json:"reason"`
	Status           RefundStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	GatewayRefundID  string       `gorm:"type:varchar(255)" json:"gateway_refund_id"`
	LastError        string       `gorm:"type:text" json:"last_error"`
	Attempts         int          `gorm:"not null;default:0" json:"attempts"`
	CreatedAt        time.Time    `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
