package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartGormRepository struct {
	db *gorm.DB
}

func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// 無ければ作る。同時作成はidx_carts_one_activeで1つに絞られる
func (r *CartGormRepository) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	cart, err := r.FindActiveByUserID(ctx, userID)
	if !errors.Is(err, repo.ErrNotFound) {
		return cart, err
	}

	cart = model.Cart{UserID: userID, Status: model.CartStatusActive}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&cart).Error; err != nil {
		return model.Cart{}, err
	}
	if cart.ID != 0 {
		return cart, nil
	}
	// 先に作られていた
	return r.FindActiveByUserID(ctx, userID)
}

func (r *CartGormRepository) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var cart model.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.CartStatusActive).
		Take(&cart).Error
	if isNotFound(err) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// 確定処理と明細の書き込みはこの行ロックで順番になる
func (r *CartGormRepository) LockByID(ctx context.Context, cartID int64) (model.Cart, error) {
	var cart model.Cart
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartID).
		Take(&cart).Error
	if isNotFound(err) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// 明細は消さずにカートごと閉じる
func (r *CartGormRepository) MarkCheckedOut(ctx context.Context, cartID int64, checkoutID string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Cart{}).
		Where("id = ? AND status = ?", cartID, model.CartStatusActive).
		Updates(map[string]interface{}{
			"status":      model.CartStatusCheckedOut,
			"checkout_id": checkoutID,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
