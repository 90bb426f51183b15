package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

type PaymentEventRepository interface {
	// 無ければ作り、行ロックして返す（Tx内専用）
	Claim(ctx context.Context, ev model.PaymentEvent) (model.PaymentEvent, error)
	MarkProcessed(ctx context.Context, gatewayEventID string, outcome string, at time.Time) error
}
