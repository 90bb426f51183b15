// Package contracts はoutbox経由で外に出すイベントの形。
package contracts

import "time"

const (
	EventOrderConfirmed      = "order.confirmed"
	EventPaymentRefunded     = "payment.refunded"
	EventRefundFailedAlert   = "alert.refund_failed"
	EventPaymentAnomalyAlert = "alert.payment_anomaly"
	EventNotificationEmitted = "notification.order_confirmation"
	EventProductSoldOut      = "product.sold_out"
)

type OrderLine struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
}

type OrderConfirmed struct {
	OrderID          int64       `json:"order_id"`
	UserID           int64       `json:"user_id"`
	CheckoutID       string      `json:"checkout_id"`
	PaymentReference string      `json:"payment_reference"`
	ContactEmail     string      `json:"contact_email"`
	Lines            []OrderLine `json:"lines"`
	Subtotal         int64       `json:"subtotal"`
	ShippingCost     int64       `json:"shipping_cost"`
	Tax              int64       `json:"tax"`
	Total            int64       `json:"total"`
	Currency         string      `json:"currency"`
	ConfirmedAt      time.Time   `json:"confirmed_at"`
}

type PaymentRefunded struct {
	PaymentReference string    `json:"payment_reference"`
	CheckoutID       string    `json:"checkout_id"`
	GatewayRefundID  string    `json:"gateway_refund_id"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	Reason           string    `json:"reason"`
	RefundedAt       time.Time `json:"refunded_at"`
}

// 注文確定で在庫が0になった（カタログ・検索側が非表示にする用）
type ProductSoldOut struct {
	ProductID int64     `json:"product_id"`
	OrderID   int64     `json:"order_id"`
	SoldOutAt time.Time `json:"sold_out_at"`
}

// 人手対応が必要なもの
type Alert struct {
	Kind             string    `json:"kind"`
	PaymentReference string    `json:"payment_reference"`
	CheckoutID       string    `json:"checkout_id,omitempty"`
	OrderID          int64     `json:"order_id,omitempty"`
	Detail           string    `json:"detail"`
	RaisedAt         time.Time `json:"raised_at"`
}

// 通知サービスに渡す注文確認
type OrderConfirmation struct {
	Recipient string         `json:"recipient"`
	Order     OrderConfirmed `json:"order"`
}
