package model

import "time"

type CartStatus string

const (
	CartStatusActive CartStatus = "ACTIVE"
	// 注文確定で閉じたカート。明細は購入履歴として残す
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
)

// 1ユーザーにつきACTIVEは1つ。確定したら次の追加で新しいカートを作る
type Cart struct {
	ID     int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64      `gorm:"not null;index:idx_carts_user_status;uniqueIndex:idx_carts_one_active,where:status = 'ACTIVE'" json:"user_id"`
	Status CartStatus `gorm:"type:varchar(20);not null;index:idx_carts_user_status" json:"status"`
	// このカートを閉じた決済試行
	CheckoutID *string   `gorm:"type:uuid;uniqueIndex" json:"checkout_id,omitempty"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (c Cart) IsOpen() bool { return c.Status == CartStatusActive }
