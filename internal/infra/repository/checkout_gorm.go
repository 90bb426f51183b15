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

type CheckoutGormRepository struct {
	db *gorm.DB
}

func NewCheckoutGormRepository(db *gorm.DB) *CheckoutGormRepository {
	return &CheckoutGormRepository{db: db}
}

func (r *CheckoutGormRepository) Create(ctx context.Context, a model.CheckoutAttempt) error {
	return mapWriteError(r.db.WithContext(ctx).Create(&a).Error)
}

func (r *CheckoutGormRepository) FindByID(ctx context.Context, id string) (model.CheckoutAttempt, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// 行ロック付きで取得
func (r *CheckoutGormRepository) LockByID(ctx context.Context, id string) (model.CheckoutAttempt, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *CheckoutGormRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.CheckoutAttempt, bool, error) {
	a, err := r.first(r.db.WithContext(ctx).Where("user_id = ? AND idempotency_key = ?", userID, key))
	if errors.Is(err, repo.ErrNotFound) {
		return model.CheckoutAttempt{}, false, nil
	}
	if err != nil {
		return model.CheckoutAttempt{}, false, err
	}
	return a, true, nil
}

func (r *CheckoutGormRepository) FindByPaymentReference(ctx context.Context, ref string) (model.CheckoutAttempt, bool, error) {
	a, err := r.first(r.db.WithContext(ctx).Where("payment_reference = ?", ref))
	if errors.Is(err, repo.ErrNotFound) {
		return model.CheckoutAttempt{}, false, nil
	}
	if err != nil {
		return model.CheckoutAttempt{}, false, err
	}
	return a, true, nil
}

// 全カラム保存（行はLockByIDで取ってから更新する）
func (r *CheckoutGormRepository) Update(ctx context.Context, a model.CheckoutAttempt) error {
	a.UpdatedAt = time.Now()
	res := r.db.WithContext(ctx).Model(&model.CheckoutAttempt{}).
		Where("id = ?", a.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(&a)
	if res.Error != nil {
		return mapWriteError(res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *CheckoutGormRepository) FindHoldingCart(ctx context.Context, cartID int64) (model.CheckoutAttempt, bool, error) {
	a, err := r.first(r.db.WithContext(ctx).
		Where("cart_id = ? AND status IN ?", cartID, []model.CheckoutStatus{
			model.CheckoutStatusPending, model.CheckoutStatusRequiresAction, model.CheckoutStatusCaptured,
		}).
		Order("created_at desc"))
	if errors.Is(err, repo.ErrNotFound) {
		return model.CheckoutAttempt{}, false, nil
	}
	if err != nil {
		return model.CheckoutAttempt{}, false, err
	}
	return a, true, nil
}

func (r *CheckoutGormRepository) ListStale(ctx context.Context, statuses []model.CheckoutStatus, before time.Time, limit int) ([]model.CheckoutAttempt, error) {
	var list []model.CheckoutAttempt
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at <= ?", statuses, before).
		Order("updated_at asc").
		Limit(limit).
		Find(&list).Error; err != nil {
		return []model.CheckoutAttempt{}, err
	}
	return list, nil
}

func (r *CheckoutGormRepository) first(q *gorm.DB) (model.CheckoutAttempt, error) {
	var a model.CheckoutAttempt
	err := q.First(&a).Error
	if isNotFound(err) {
		return model.CheckoutAttempt{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CheckoutAttempt{}, err
	}
	return a, nil
}
