package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// 許可される遷移
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed},
	OrderStatusConfirmed: {OrderStatusFulfilled, OrderStatusCancelled},
}

// from→toに遷移できるか
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// 注文は決済確定後にCONFIRMEDで保存する。
// PaymentReferenceは1決済1注文を保証するためunique。
type Order struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64           `gorm:"not null;index" json:"user_id"`
	CheckoutID       string          `gorm:"type:uuid;not null;index" json:"checkout_id"`
	Status           OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	Subtotal         int64           `gorm:"not null" json:"subtotal"`
	ShippingCost     int64           `gorm:"not null" json:"shipping_cost"`
	Tax              int64           `gorm:"not null" json:"tax"`
	Total            int64           `gorm:"not null" json:"total"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	ShippingAddress  ShippingAddress `gorm:"embedded;embeddedPrefix:ship_" json:"shipping_address"`
	ContactEmail     string          `gorm:"type:varchar(255);not null" json:"contact_email"`
	PaymentReference string          `gorm:"type:varchar(255);not null;uniqueIndex" json:"payment_reference"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
