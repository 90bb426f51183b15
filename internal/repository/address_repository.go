package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

// 住所帳
type AddressRepository interface {
	//住所IDから住所を1件取得
	FindByID(ctx context.Context, addressID int64) (model.Address, error)
	// デフォルトを先頭、あとは新しい順
	ListByUserID(ctx context.Context, userID int64) ([]model.Address, error)
	Create(ctx context.Context, a model.Address) (model.Address, error)
}
