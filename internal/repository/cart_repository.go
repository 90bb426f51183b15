package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

type CartRepository interface {
	GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	// 状態に関係なく行ロックして返す（Tx内専用）
	LockByID(ctx context.Context, cartID int64) (model.Cart, error)
	// ACTIVEのカートだけ閉じる。無ければErrNotFound
	MarkCheckedOut(ctx context.Context, cartID int64, checkoutID string) error
}
