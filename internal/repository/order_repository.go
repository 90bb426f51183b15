package repository

import (
	"context"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)
	// payment_referenceが重複したらErrConflict
	Create(ctx context.Context, order model.Order) (int64, error)

	//1決済1注文の確認に使う
	FindByPaymentReference(ctx context.Context, ref string) (model.Order, bool, error)
}
