package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

// 明細は注文時点の商品名・単価のコピー
type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
	// order_id -> 明細（id昇順）。明細の無い注文はキーなし
	ListByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error)
}
