package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"

	"gorm.io/gorm"
)

const orderItemBatchSize = 100

type OrderItemGormRepository struct {
	db *gorm.DB
}

func NewOrderItemGormRepository(db *gorm.DB) *OrderItemGormRepository {
	return &OrderItemGormRepository{db: db}
}

// 明細は注文と同じTxで入れる
func (r *OrderItemGormRepository) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = orderID
	}
	return r.db.WithContext(ctx).CreateInBatches(&items, orderItemBatchSize).Error
}

func (r *OrderItemGormRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	byOrder, err := r.ListByOrderIDs(ctx, []int64{orderID})
	if err != nil {
		return []model.OrderItem{}, err
	}
	if items, ok := byOrder[orderID]; ok {
		return items, nil
	}
	return []model.OrderItem{}, nil
}

// 一覧画面用。1クエリでまとめて取る
func (r *OrderItemGormRepository) ListByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	out := make(map[int64][]model.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}

	var items []model.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id IN ?", orderIDs).
		Order("order_id asc").
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}
