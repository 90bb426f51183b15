package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	o, err := r.first(ctx, "id = ?", orderID)
	if isNotFound(err) {
		return model.Order{}, repo.ErrNotFound
	}
	return o, err
}

// 新しい順
func (r *OrderGormRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return []model.Order{}, 0, err
	}
	if total == 0 {
		return []model.Order{}, 0, nil
	}

	var items []model.Order
	if err := q.Order("id desc").Scopes(paginate(page, limit)).Find(&items).Error; err != nil {
		return []model.Order{}, 0, err
	}
	return items, total, nil
}

// payment_referenceのunique制約に当たったらErrConflict
func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&order).Error; err != nil {
		return 0, mapWriteError(err)
	}
	return order.ID, nil
}

func (r *OrderGormRepository) FindByPaymentReference(ctx context.Context, ref string) (model.Order, bool, error) {
	o, err := r.first(ctx, "payment_reference = ?", ref)
	switch {
	case isNotFound(err):
		return model.Order{}, false, nil
	case err != nil:
		return model.Order{}, false, err
	}
	return o, true, nil
}

func (r *OrderGormRepository) first(ctx context.Context, query string, args ...interface{}) (model.Order, error) {
	var o model.Order
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&o).Error; err != nil {
		return model.Order{}, err
	}
	return o, nil
}
