package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
)

// ゲートウェイ呼び出しの約束（*gateway.Clientが満たす）
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, p gateway.CreateIntentParams) (gateway.PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string, idempotencyKey string) (gateway.PaymentIntent, error)
	CreateRefund(ctx context.Context, p gateway.RefundParams) (gateway.Refund, error)
}

type PaymentOutcome string

const (
	PaymentSucceeded      PaymentOutcome = "SUCCEEDED"
	PaymentRequiresAction PaymentOutcome = "REQUIRES_ACTION"
	PaymentDeclined       PaymentOutcome = "DECLINED"
	PaymentGatewayError   PaymentOutcome = "GATEWAY_ERROR"
)

type ChargeRequest struct {
	Amount           int64
	Currency         string
	PaymentMethodRef string
	// 同じキーで再送すれば同じ決済が返る
	IdempotencyKey string
	CheckoutID     string
}

type PaymentResult struct {
	Outcome          PaymentOutcome
	PaymentReference string
	NextActionURL    string
	DeclineReason    string
	// GatewayErrorのときだけ意味がある
	Transient bool
	Err       error
}

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}
}

type PaymentOrchestrator struct {
	gw    PaymentGateway
	retry RetryPolicy
	log   *slog.Logger
}

func NewPaymentOrchestrator(gw PaymentGateway, retry RetryPolicy, log *slog.Logger) *PaymentOrchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentOrchestrator{gw: gw, retry: retry, log: log}
}

// エラーも結果として返す（呼び出し側が状態を決める）
func (o *PaymentOrchestrator) Charge(ctx context.Context, req ChargeRequest) PaymentResult {
	pi, err := retryTransient(ctx, o.retry, func() (gateway.PaymentIntent, error) {
		return o.gw.CreatePaymentIntent(ctx, gateway.CreateIntentParams{
			Amount:         req.Amount,
			Currency:       req.Currency,
			PaymentMethod:  req.PaymentMethodRef,
			CheckoutID:     req.CheckoutID,
			IdempotencyKey: req.IdempotencyKey,
		})
	})
	if err != nil {
		return o.fromError(ctx, req, err)
	}

	if pi.Status == gateway.StatusRequiresConfirmation {
		pi, err = retryTransient(ctx, o.retry, func() (gateway.PaymentIntent, error) {
			return o.gw.ConfirmPaymentIntent(ctx, pi.ID, req.IdempotencyKey+"_confirm")
		})
		if err != nil {
			return o.fromError(ctx, req, err)
		}
	}
	return fromIntent(pi)
}

func (o *PaymentOrchestrator) fromError(ctx context.Context, req ChargeRequest, err error) PaymentResult {
	if gateway.IsDeclined(err) {
		return PaymentResult{Outcome: PaymentDeclined, DeclineReason: gateway.DeclineReason(err), Err: err}
	}
	transient := isTransient(err)
	o.log.WarnContext(ctx, "payment gateway error",
		"checkout_id", req.CheckoutID, "transient", transient, "error", err)
	return PaymentResult{Outcome: PaymentGatewayError, Transient: transient, Err: err}
}

func fromIntent(pi gateway.PaymentIntent) PaymentResult {
	switch pi.Status {
	case gateway.StatusSucceeded:
		return PaymentResult{Outcome: PaymentSucceeded, PaymentReference: pi.ID}
	case gateway.StatusRequiresAction, gateway.StatusProcessing:
		res := PaymentResult{Outcome: PaymentRequiresAction, PaymentReference: pi.ID}
		if pi.NextAction != nil {
			res.NextActionURL = pi.NextAction.RedirectURL
		}
		return res
	case gateway.StatusRequiresPaymentMethod, gateway.StatusCanceled:
		reason := pi.DeclineReason()
		if reason == "" {
			reason = "payment_failed"
		}
		return PaymentResult{Outcome: PaymentDeclined, PaymentReference: pi.ID, DeclineReason: reason}
	default:
		return PaymentResult{
			Outcome:          PaymentGatewayError,
			PaymentReference: pi.ID,
			Err:              fmt.Errorf("unexpected payment status %q", pi.Status),
		}
	}
}

// タイムアウトは「失敗」ではなく「不明」
func isTransient(err error) bool {
	return gateway.IsTransient(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// 一時エラーだけ指数バックオフで再試行する
func retryTransient[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !gateway.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}
