package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

// 同じTxでoutboxに積む。配信はdispatch側
func enqueue(ctx context.Context, r repo.TxRepos, eventType, key string, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	return r.Outbox().Create(ctx, model.OutboxEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Key:       key,
		Payload:   string(b),
	})
}
