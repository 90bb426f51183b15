package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
)

type addressGormRepository struct {
	db *gorm.DB
}

// DI
func NewAddressGormRepository(db *gorm.DB) repo.AddressRepository {
	return &addressGormRepository{db: db}
}

// 住所IDで1件取得
func (r *addressGormRepository) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	var a model.Address
	if err := r.db.WithContext(ctx).First(&a, addressID).Error; err != nil {
		if isNotFound(err) {
			return model.Address{}, repo.ErrNotFound
		}
		return model.Address{}, err
	}
	return a, nil
}

func (r *addressGormRepository) ListByUserID(ctx context.Context, userID int64) ([]model.Address, error) {
	var list []model.Address
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default desc").
		Order("id desc").
		Find(&list).Error; err != nil {
		return []model.Address{}, err
	}
	return list, nil
}

// 最初の1件は自動でデフォルトにする
func (r *addressGormRepository) Create(ctx context.Context, a model.Address) (model.Address, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Address{}).Where("user_id = ?", a.UserID).Count(&n).Error; err != nil {
		return model.Address{}, err
	}
	a.IsDefault = n == 0
	if err := r.db.WithContext(ctx).Create(&a).Error; err != nil {
		return model.Address{}, err
	}
	return a, nil
}
