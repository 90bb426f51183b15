package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxGormRepository struct {
	db *gorm.DB
}

func NewOutboxGormRepository(db *gorm.DB) *OutboxGormRepository {
	return &OutboxGormRepository{db: db}
}

func (r *OutboxGormRepository) Create(ctx context.Context, e model.OutboxEvent) error {
	return mapWriteError(r.db.WithContext(ctx).Create(&e).Error)
}

// 複数の配信プロセスが同じ行を取らないようにSKIP LOCKED
func (r *OutboxGormRepository) FetchPending(ctx context.Context, limit int, maxAttempts int) ([]model.OutboxEvent, error) {
	var list []model.OutboxEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("sent_at IS NULL AND attempts < ?", maxAttempts).
		Order("id asc").
		Limit(limit).
		Find(&list).Error; err != nil {
		return []model.OutboxEvent{}, err
	}
	return list, nil
}

func (r *OutboxGormRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	return r.update(ctx, id, map[string]interface{}{
		"sent_at":  at,
		"attempts": gorm.Expr("attempts + 1"),
	})
}

func (r *OutboxGormRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.update(ctx, id, map[string]interface{}{
		"last_error": reason,
		"attempts":   gorm.Expr("attempts + 1"),
	})
}

func (r *OutboxGormRepository) update(ctx context.Context, id int64, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
