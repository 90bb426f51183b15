package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

// 決済試行（保留状態）の保存
type CheckoutRepository interface {
	// 同じユーザー・同じキーが既にあればErrConflict
	Create(ctx context.Context, a model.CheckoutAttempt) error
	FindByID(ctx context.Context, id string) (model.CheckoutAttempt, error)
	// Tx内専用
	LockByID(ctx context.Context, id string) (model.CheckoutAttempt, error)
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.CheckoutAttempt, bool, error)
	FindByPaymentReference(ctx context.Context, ref string) (model.CheckoutAttempt, bool, error)
	Update(ctx context.Context, a model.CheckoutAttempt) error
	// カートを押さえている試行（PENDING/REQUIRES_ACTION/CAPTURED）
	FindHoldingCart(ctx context.Context, cartID int64) (model.CheckoutAttempt, bool, error)

	// updated_atがbefore以前で、指定ステータスのもの（古い順）
	ListStale(ctx context.Context, statuses []model.CheckoutStatus, before time.Time, limit int) ([]model.CheckoutAttempt, error)
}
