package model

import "time"

type CheckoutStatus string

const (
	CheckoutStatusPending        CheckoutStatus = "PENDING"
	CheckoutStatusRequiresAction CheckoutStatus = "REQUIRES_ACTION"
	CheckoutStatusCaptured       CheckoutStatus = "CAPTURED"
	CheckoutStatusCompleted      CheckoutStatus = "COMPLETED"
	CheckoutStatusDeclined       CheckoutStatus = "DECLINED"
	CheckoutStatusFailed         CheckoutStatus = "FAILED"
	CheckoutStatusCanceled       CheckoutStatus = "CANCELED"
	CheckoutStatusRefunded       CheckoutStatus = "REFUNDED"
	CheckoutStatusRefundFailed   CheckoutStatus = "REFUND_FAILED"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusPending: {
		CheckoutStatusRequiresAction, CheckoutStatusCaptured, CheckoutStatusCompleted,
		CheckoutStatusDeclined, CheckoutStatusFailed, CheckoutStatusCanceled,
		CheckoutStatusRefunded, CheckoutStatusRefundFailed,
	},
	CheckoutStatusRequiresAction: {
		CheckoutStatusCaptured, CheckoutStatusCompleted, CheckoutStatusDeclined,
		CheckoutStatusCanceled, CheckoutStatusRefunded, CheckoutStatusRefundFailed,
	},
	CheckoutStatusCaptured: {
		CheckoutStatusCompleted, CheckoutStatusRefunded, CheckoutStatusRefundFailed,
	},
}

func (s CheckoutStatus) CanMoveTo(to CheckoutStatus) bool {
	for _, n := range checkoutTransitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// これ以上状態が変わらない
func (s CheckoutStatus) IsTerminal() bool {
	return len(checkoutTransitions[s]) == 0
}

// まだ決済結果待ち（Webhookで確定しうる）
func (s CheckoutStatus) IsAwaitingPayment() bool {
	return s == CheckoutStatusPending || s == CheckoutStatusRequiresAction
}

// カートを押さえている間は同じカートで次の試行を作らない
func (s CheckoutStatus) HoldsCart() bool {
	return s.IsAwaitingPayment() || s == CheckoutStatusCaptured
}

// スナップショット時点で凍結した明細
type CheckoutLine struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

// 決済1回分の保留状態。
// IDはゲートウェイのIdempotency-Keyとmetadata.checkout_idにも使う。
// CartIDはスナップショットを取ったカートで、確定時はこのカートだけ閉じる。
type CheckoutAttempt struct {
	ID               string          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           int64           `gorm:"not null;uniqueIndex:idx_checkout_user_key" json:"user_id"`
	IdempotencyKey   string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_checkout_user_key" json:"-"`
	CartID           int64           `gorm:"not null;index" json:"-"`
	Status           CheckoutStatus  `gorm:"type:varchar(20);not null;index" json:"status"`
	Lines            []CheckoutLine  `gorm:"type:jsonb;serializer:json;not null" json:"lines"`
	Subtotal         int64           `gorm:"not null" json:"subtotal"`
	ShippingCost     int64           `gorm:"not null" json:"shipping_cost"`
	Tax              int64           `gorm:"not null" json:"tax"`
	Total            int64           `gorm:"not null" json:"total"`
	Currency         string          `gorm:"type:varchar(3);not null" json:"currency"`
	ShippingAddress  ShippingAddress `gorm:"embedded;embeddedPrefix:ship_" json:"shipping_address"`
	ContactEmail     string          `gorm:"type:varchar(255);not null" json:"-"`
	PaymentMethodRef string          `gorm:"type:varchar(255);not null" json:"-"`
	PaymentReference *string         `gorm:"type:varchar(255);uniqueIndex" json:"payment_reference,omitempty"`
	NextActionURL    string          `gorm:"type:text" json:"next_action_url,omitempty"`
	OrderID          *int64          `gorm:"index" json:"order_id,omitempty"`
	FailureReason    string          `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (a CheckoutAttempt) Reference() string {
	if a.PaymentReference == nil {
		return ""
	}
	return *a.PaymentReference
}
