package repository

import (
	"context"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

type OutboxRepository interface {
	Create(ctx context.Context, e model.OutboxEvent) error
	// 未送信で、試行回数がmaxAttempts未満のもの（古い順）
	FetchPending(ctx context.Context, limit int, maxAttempts int) ([]model.OutboxEvent, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}
