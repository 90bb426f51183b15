package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

type RefundRepository interface {
	// 同じpayment_referenceが既にあればErrConflict
	Create(ctx context.Context, r model.Refund) (model.Refund, error)
	FindByPaymentReference(ctx context.Context, ref string) (model.Refund, error)
	Update(ctx context.Context, r model.Refund) error
	ListByStatus(ctx context.Context, status model.RefundStatus, before time.Time, limit int) ([]model.Refund, error)
}
