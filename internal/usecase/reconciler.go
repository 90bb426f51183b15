package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/contracts"
	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

type WebhookOutcome string

const (
	AckCommitted        WebhookOutcome = "committed"
	AckAlreadyCommitted WebhookOutcome = "already_committed"
	AckDuplicate        WebhookOutcome = "duplicate"
	AckCompensated      WebhookOutcome = "compensated"
	AckRefundPending    WebhookOutcome = "refund_pending"
	AckRefundFailed     WebhookOutcome = "refund_failed"
	AckCanceled         WebhookOutcome = "canceled"
	AckRequiresAction   WebhookOutcome = "requires_action"
	AckAnomaly          WebhookOutcome = "anomaly"
	AckIgnored          WebhookOutcome = "ignored"
)

type WebhookResult struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Outcome   WebhookOutcome `json:"outcome"`
	OrderID   int64          `json:"order_id,omitempty"`
}

// 同じイベントの同時処理を先に弾く（DBが正、こちらは最適化）
type InFlightGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type Reconciler struct {
	tx           repo.TransactionManager
	verifier     *gateway.Verifier
	committer    *OrderCommitter
	compensation *CompensationHandler
	guard        InFlightGuard
	log          *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func NewReconciler(
	tx repo.TransactionManager,
	verifier *gateway.Verifier,
	committer *OrderCommitter,
	compensation *CompensationHandler,
	guard InFlightGuard,
	log *slog.Logger,
	m *metrics.Metrics,
) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		tx:           tx,
		verifier:     verifier,
		committer:    committer,
		compensation: compensation,
		guard:        guard,
		log:          log,
		metrics:      m,
		now:          time.Now,
	}
}

// 署名検証→パース→処理
func (r *Reconciler) HandleDelivery(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	ev, err := r.verifier.Parse(body, signature)
	if errors.Is(err, gateway.ErrInvalidSignature) {
		r.log.WarnContext(ctx, "webhook signature rejected", "error", err)
		r.metrics.WebhookEvent("unknown", "invalid_signature")
		return WebhookResult{}, WrapHTTPError(http.StatusBadRequest, "invalid signature", err)
	}
	if err != nil {
		r.log.WarnContext(ctx, "webhook payload rejected", "error", err)
		return WebhookResult{}, WrapHTTPError(http.StatusBadRequest, "invalid payload", err)
	}
	return r.HandleEvent(ctx, ev)
}

func (r *Reconciler) HandleEvent(ctx context.Context, ev gateway.Event) (WebhookResult, error) {
	log := r.log.With("event_id", ev.ID, "event_type", ev.Type, "payment_reference", ev.Data.Object.ID)

	if r.guard != nil {
		ok, err := r.guard.Claim(ctx, ev.ID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "in-flight claim unavailable", "error", err)
		case !ok:
			r.metrics.WebhookEvent(ev.Type, "in_flight")
			return WebhookResult{}, WrapHTTPError(http.StatusConflict, "event in flight", ErrEventInFlight)
		default:
			defer func() {
				if err := r.guard.Release(context.WithoutCancel(ctx), ev.ID); err != nil {
					log.WarnContext(ctx, "release in-flight claim", "error", err)
				}
			}()
		}
	}

	res, err := r.process(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "webhook processing failed", "error", err)
		r.metrics.WebhookEvent(ev.Type, "error")
		return WebhookResult{}, WrapHTTPError(http.StatusInternalServerError, "processing failed", err)
	}
	log.InfoContext(ctx, "webhook processed", "outcome", res.Outcome, "order_id", res.OrderID)
	r.metrics.WebhookEvent(ev.Type, string(res.Outcome))
	return res, nil
}

// Txをロールバックさせて、Txの外で返金する
type compensationNeeded struct {
	input RefundInput
	cause error
}

func (c *compensationNeeded) Error() string {
	return fmt.Sprintf("compensation needed (%s): %v", c.input.Reason, c.cause)
}

func (r *Reconciler) process(ctx context.Context, ev gateway.Event) (WebhookResult, error) {
	res := WebhookResult{EventID: ev.ID, EventType: ev.Type}

	err := r.tx.WithinTx(ctx, func(tx repo.TxRepos) error {
		pe, err := r.claim(ctx, tx, ev)
		if err != nil {
			return err
		}
		if pe.Processed {
			res.Outcome = AckDuplicate
			return nil
		}

		pi := ev.Data.Object
		switch ev.Type {
		case gateway.EventPaymentSucceeded:
			res.Outcome, res.OrderID, err = r.onSucceeded(ctx, tx, pi)
		case gateway.EventPaymentFailed, gateway.EventPaymentCanceled:
			res.Outcome, err = r.onFailed(ctx, tx, ev.Type, pi)
		case gateway.EventPaymentRequiresAction:
			res.Outcome, err = r.onRequiresAction(ctx, tx, pi)
		default:
			res.Outcome = AckIgnored
		}
		if err != nil {
			return err
		}
		return tx.PaymentEvents().MarkProcessed(ctx, ev.ID, string(res.Outcome), r.now())
	})

	var cn *compensationNeeded
	if !errors.As(err, &cn) {
		return res, err
	}

	// 返金してから処理済みにする
	res.Outcome = r.compensate(ctx, cn)
	err = r.tx.WithinTx(ctx, func(tx repo.TxRepos) error {
		pe, err := r.claim(ctx, tx, ev)
		if err != nil {
			return err
		}
		if pe.Processed {
			return nil
		}
		return tx.PaymentEvents().MarkProcessed(ctx, ev.ID, string(res.Outcome), r.now())
	})
	return res, err
}

func (r *Reconciler) claim(ctx context.Context, tx repo.TxRepos, ev gateway.Event) (model.PaymentEvent, error) {
	return tx.PaymentEvents().Claim(ctx, model.PaymentEvent{
		GatewayEventID:   ev.ID,
		PaymentReference: ev.Data.Object.ID,
		EventType:        ev.Type,
		ReceivedAt:       r.now(),
	})
}

func (r *Reconciler) compensate(ctx context.Context, cn *compensationNeeded) WebhookOutcome {
	r.log.WarnContext(ctx, "captured payment cannot become an order, compensating",
		"payment_reference", cn.input.PaymentReference,
		"checkout_id", cn.input.CheckoutID,
		"reason", cn.input.Reason,
		"error", cn.cause)

	_, err := r.compensation.Refund(ctx, cn.input)
	var rfe *RefundFailedError
	switch {
	case err == nil:
		return AckCompensated
	case errors.Is(err, ErrRefundInProgress):
		return AckRefundPending
	case errors.As(err, &rfe):
		// アラート済み。再送されても結果は変わらない
		return AckRefundFailed
	default:
		// 返金行を作れなかった。次の再送かリカバリで拾う
		r.log.ErrorContext(ctx, "compensation could not start",
			"alert", true, "payment_reference", cn.input.PaymentReference, "error", err)
		return AckRefundPending
	}
}

func (r *Reconciler) findAttempt(ctx context.Context, tx repo.TxRepos, pi gateway.PaymentIntent) (model.CheckoutAttempt, bool, error) {
	id := pi.CheckoutID()
	byRef, found, err := tx.Checkouts().FindByPaymentReference(ctx, pi.ID)
	if err != nil {
		return model.CheckoutAttempt{}, false, err
	}
	if found {
		id = byRef.ID
	}
	if id == "" {
		return model.CheckoutAttempt{}, false, nil
	}
	a, err := tx.Checkouts().LockByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CheckoutAttempt{}, false, nil
	}
	if err != nil {
		return model.CheckoutAttempt{}, false, err
	}
	return a, true, nil
}

func (r *Reconciler) onSucceeded(ctx context.Context, tx repo.TxRepos, pi gateway.PaymentIntent) (WebhookOutcome, int64, error) {
	ref := pi.ID
	if o, found, err := tx.Orders().FindByPaymentReference(ctx, ref); err != nil {
		return "", 0, err
	} else if found {
		return AckAlreadyCommitted, o.ID, nil
	}

	a, found, err := r.findAttempt(ctx, tx, pi)
	if err != nil {
		return "", 0, err
	}
	refund := RefundInput{PaymentReference: ref, Amount: pi.Amount, Currency: pi.Currency}
	if !found {
		refund.Reason = RefundReasonOrphanPayment
		return "", 0, &compensationNeeded{input: refund, cause: errors.New("no checkout for payment")}
	}
	refund.CheckoutID = a.ID
	if refund.Currency == "" {
		refund.Currency = a.Currency
	}

	// 試行のロックを待つ間に同期側が確定していることがある
	if o, ok, err := tx.Orders().FindByPaymentReference(ctx, ref); err != nil {
		return "", 0, err
	} else if ok {
		return AckAlreadyCommitted, o.ID, nil
	}

	switch a.Status {
	case model.CheckoutStatusRefunded, model.CheckoutStatusRefundFailed:
		return AckCompensated, 0, nil
	case model.CheckoutStatusCanceled, model.CheckoutStatusDeclined, model.CheckoutStatusFailed:
		refund.Reason = RefundReasonCheckoutClosed
		return "", 0, &compensationNeeded{input: refund, cause: fmt.Errorf("checkout is %s", a.Status)}
	case model.CheckoutStatusCompleted:
		// 同じ試行に別の決済が成功した
		refund.Reason = RefundReasonCheckoutClosed
		return "", 0, &compensationNeeded{input: refund, cause: errors.New("checkout already completed by another payment")}
	}

	if pi.Amount != 0 && pi.Amount != a.Total {
		refund.Reason = RefundReasonAmountMismatch
		return "", 0, &compensationNeeded{input: refund, cause: fmt.Errorf("captured %d, expected %d", pi.Amount, a.Total)}
	}

	order, err := r.committer.CommitTx(ctx, tx, CommitInputFromAttempt(a, ref))
	if isUnfulfillable(err) {
		refund.Reason = refundReasonFor(err)
		return "", 0, &compensationNeeded{input: refund, cause: err}
	}
	if errors.Is(err, ErrCheckoutClosed) {
		if o, ok, ferr := tx.Orders().FindByPaymentReference(ctx, ref); ferr == nil && ok {
			return AckAlreadyCommitted, o.ID, nil
		}
		refund.Reason = RefundReasonCheckoutClosed
		return "", 0, &compensationNeeded{input: refund, cause: err}
	}
	if err != nil {
		return "", 0, err
	}
	return AckCommitted, order.ID, nil
}

func (r *Reconciler) onFailed(ctx context.Context, tx repo.TxRepos, eventType string, pi gateway.PaymentIntent) (WebhookOutcome, error) {
	if o, found, err := tx.Orders().FindByPaymentReference(ctx, pi.ID); err != nil {
		return "", err
	} else if found {
		// 成功後の失敗通知。注文は戻さず人手に回す
		r.log.ErrorContext(ctx, "payment failure reported after order was committed",
			"alert", true, "payment_reference", pi.ID, "order_id", o.ID, "event_type", eventType)
		return AckAnomaly, enqueue(ctx, tx, contracts.EventPaymentAnomalyAlert, pi.ID, contracts.Alert{
			Kind:             "failure_after_success",
			PaymentReference: pi.ID,
			CheckoutID:       o.CheckoutID,
			OrderID:          o.ID,
			Detail:           eventType,
			RaisedAt:         r.now(),
		})
	}

	a, found, err := r.findAttempt(ctx, tx, pi)
	if err != nil {
		return "", err
	}
	if !found {
		return AckIgnored, nil
	}
	a, err = tx.Checkouts().LockByID(ctx, a.ID)
	if err != nil {
		return "", err
	}

	if a.Status == model.CheckoutStatusCaptured {
		// 同期応答は成功だった
		r.log.ErrorContext(ctx, "payment failure reported for captured checkout",
			"alert", true, "payment_reference", pi.ID, "checkout_id", a.ID, "event_type", eventType)
		return AckAnomaly, enqueue(ctx, tx, contracts.EventPaymentAnomalyAlert, pi.ID, contracts.Alert{
			Kind:             "failure_after_capture",
			PaymentReference: pi.ID,
			CheckoutID:       a.ID,
			Detail:           eventType,
			RaisedAt:         r.now(),
		})
	}
	if !a.Status.IsAwaitingPayment() {
		return AckIgnored, nil
	}

	a.Status = model.CheckoutStatusCanceled
	a.FailureReason = pi.DeclineReason()
	if a.FailureReason == "" {
		a.FailureReason = eventType
	}
	if a.PaymentReference == nil {
		ref := pi.ID
		a.PaymentReference = &ref
	}
	a.NextActionURL = ""
	if err := tx.Checkouts().Update(ctx, a); err != nil {
		return "", err
	}
	return AckCanceled, nil
}

func (r *Reconciler) onRequiresAction(ctx context.Context, tx repo.TxRepos, pi gateway.PaymentIntent) (WebhookOutcome, error) {
	a, found, err := r.findAttempt(ctx, tx, pi)
	if err != nil {
		return "", err
	}
	if !found {
		return AckIgnored, nil
	}
	a, err = tx.Checkouts().LockByID(ctx, a.ID)
	if err != nil {
		return "", err
	}
	if a.Status != model.CheckoutStatusPending {
		return AckIgnored, nil
	}
	a.Status = model.CheckoutStatusRequiresAction
	ref := pi.ID
	a.PaymentReference = &ref
	if pi.NextAction != nil {
		a.NextActionURL = pi.NextAction.RedirectURL
	}
	if err := tx.Checkouts().Update(ctx, a); err != nil {
		return "", err
	}
	return AckRequiresAction, nil
}
