package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentEventGormRepository struct {
	db *gorm.DB
}

func NewPaymentEventGormRepository(db *gorm.DB) *PaymentEventGormRepository {
	return &PaymentEventGormRepository{db: db}
}

// INSERT ... ON CONFLICT DO NOTHING のあと FOR UPDATE で読み直す。
// 同じイベントの同時配送は2つめがここで待つ
func (r *PaymentEventGormRepository) Claim(ctx context.Context, ev model.PaymentEvent) (model.PaymentEvent, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ev).Error; err != nil {
		return model.PaymentEvent{}, err
	}

	var got model.PaymentEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_event_id = ?", ev.GatewayEventID).
		First(&got).Error
	if isNotFound(err) {
		return model.PaymentEvent{}, repo.ErrNotFound
	}
	if err != nil {
		return model.PaymentEvent{}, err
	}
	return got, nil
}

func (r *PaymentEventGormRepository) MarkProcessed(ctx context.Context, gatewayEventID string, outcome string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.PaymentEvent{}).
		Where("gateway_event_id = ?", gatewayEventID).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": at,
			"outcome":      outcome,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
