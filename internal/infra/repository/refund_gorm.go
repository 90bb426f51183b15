package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RefundGormRepository struct {
	db *gorm.DB
}

func NewRefundGormRepository(db *gorm.DB) *RefundGormRepository {
	return &RefundGormRepository{db: db}
}

// payment_referenceが既にあれば作らずErrConflict
func (r *RefundGormRepository) Create(ctx context.Context, rf model.Refund) (model.Refund, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_reference"}},
			DoNothing: true,
		}).
		Create(&rf)
	if res.Error != nil {
		return model.Refund{}, mapWriteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return model.Refund{}, repo.ErrConflict
	}
	return rf, nil
}

func (r *RefundGormRepository) FindByPaymentReference(ctx context.Context, ref string) (model.Refund, error) {
	var rf model.Refund
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("payment_reference = ?", ref).
		First(&rf).Error
	if isNotFound(err) {
		return model.Refund{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Refund{}, err
	}
	return rf, nil
}

func (r *RefundGormRepository) Update(ctx context.Context, rf model.Refund) error {
	res := r.db.WithContext(ctx).Model(&model.Refund{}).
		Where("id = ?", rf.ID).
		Updates(map[string]interface{}{
			"status":            rf.Status,
			"gateway_refund_id": rf.GatewayRefundID,
			"last_error":        rf.LastError,
			"attempts":          rf.Attempts,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *RefundGormRepository) ListByStatus(ctx context.Context, status model.RefundStatus, before time.Time, limit int) ([]model.Refund, error) {
	var list []model.Refund
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at <= ?", status, before).
		Order("id asc").
		Limit(limit).
		Find(&list).Error; err != nil {
		return []model.Refund{}, err
	}
	return list, nil
}
