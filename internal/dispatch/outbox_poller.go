// Package dispatch はコミット後のイベント配信と、止まった決済の拾い直しを定期実行する。
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/contracts"
	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/messaging"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

type OrderNotifier interface {
	SendOrderConfirmation(ctx context.Context, eventID string, order contracts.OrderConfirmed, recipient string) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (usecase.RecoveryReport, error)
}

type Options struct {
	EventTick    time.Duration
	RecoveryTick time.Duration
	BatchSize    int
	MaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.EventTick <= 0 {
		o.EventTick = time.Second
	}
	if o.RecoveryTick <= 0 {
		o.RecoveryTick = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	return o
}

// outboxの未送信行をPublisherに流す。配信は少なくとも1回（受け手はevent_idで重複排除）
type OutboxPoller struct {
	tx       repo.TransactionManager
	pub      messaging.Publisher
	notifier OrderNotifier
	recovery Sweeper
	log      *slog.Logger
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

func NewOutboxPoller(
	tx repo.TransactionManager,
	pub messaging.Publisher,
	notifier OrderNotifier,
	recovery Sweeper,
	log *slog.Logger,
	m *metrics.Metrics,
	opts Options,
) *OutboxPoller {
	if log == nil {
		log = slog.Default()
	}
	return &OutboxPoller{
		tx:       tx,
		pub:      pub,
		notifier: notifier,
		recovery: recovery,
		log:      log,
		metrics:  m,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// ctxが終わるまで回る
func (p *OutboxPoller) Run(ctx context.Context) error {
	eventTicker := time.NewTicker(p.opts.EventTick)
	recoveryTicker := time.NewTicker(p.opts.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()

	for {
		select {
		case <-eventTicker.C:
			if _, err := p.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "outbox dispatch", "error", err)
			}
		case <-recoveryTicker.C:
			if p.recovery == nil {
				continue
			}
			if _, err := p.recovery.Sweep(ctx); err != nil && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "recovery sweep", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// 1バッチ分を配信して、送れた件数を返す
func (p *OutboxPoller) DispatchOnce(ctx context.Context) (int, error) {
	var events []model.OutboxEvent
	err := p.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		events, err = r.Outbox().FetchPending(ctx, p.opts.BatchSize, p.opts.MaxAttempts)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fetch pending outbox: %w", err)
	}

	sent := 0
	for _, e := range events {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		log := p.log.With("event_id", e.EventID, "event_type", e.EventType)

		if perr := p.deliver(ctx, e); perr != nil {
			log.WarnContext(ctx, "outbox delivery failed", "attempts", e.Attempts+1, "error", perr)
			p.metrics.OutboxDispatch("failed")
			if e.Attempts+1 >= p.opts.MaxAttempts {
				// これ以上は自動で出さない
				log.ErrorContext(ctx, "outbox event gave up", "alert", true, "error", perr)
			}
			if err := p.mark(ctx, func(r repo.TxRepos) error {
				return r.Outbox().MarkFailed(ctx, e.ID, perr.Error())
			}); err != nil {
				return sent, err
			}
			continue
		}

		if err := p.mark(ctx, func(r repo.TxRepos) error {
			return r.Outbox().MarkSent(ctx, e.ID, p.now())
		}); err != nil {
			return sent, err
		}
		p.metrics.OutboxDispatch("sent")
		sent++
	}
	return sent, nil
}

func (p *OutboxPoller) deliver(ctx context.Context, e model.OutboxEvent) error {
	if err := p.pub.Publish(ctx, messaging.Message{
		EventID:   e.EventID,
		EventType: e.EventType,
		Key:       e.Key,
		Payload:   []byte(e.Payload),
	}); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if e.EventType != contracts.EventOrderConfirmed || p.notifier == nil {
		return nil
	}
	var order contracts.OrderConfirmed
	if err := json.Unmarshal([]byte(e.Payload), &order); err != nil {
		return fmt.Errorf("decode order.confirmed: %w", err)
	}
	if order.ContactEmail == "" {
		return nil
	}
	if err := p.notifier.SendOrderConfirmation(ctx, e.EventID, order, order.ContactEmail); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (p *OutboxPoller) mark(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := p.tx.WithinTx(ctx, fn); err != nil {
		return fmt.Errorf("mark outbox: %w", err)
	}
	return nil
}
