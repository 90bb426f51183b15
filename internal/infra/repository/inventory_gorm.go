package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 条件付きUPDATE1本。RETURNINGで減算後の在庫を受け取る
func (r *InventoryGormRepository) Decrease(ctx context.Context, productID int64, qty int64) (int64, bool, error) {
	var p model.Product
	res := r.db.WithContext(ctx).
		Model(&p).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "stock"}}}).
		Where("id = ? AND stock >= ?", productID, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	return p.Stock, true, nil
}
