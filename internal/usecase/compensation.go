package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/contracts"
	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

const (
	RefundReasonInsufficientInventory = "insufficient_inventory"
	RefundReasonOrphanPayment         = "orphan_payment"
	RefundReasonCheckoutClosed        = "checkout_closed"
	RefundReasonAmountMismatch        = "amount_mismatch"
)

type RefundInput struct {
	PaymentReference string
	CheckoutID       string
	Amount           int64
	Currency         string
	Reason           string
}

// 決済済みでコミットできなかったときの返金。1決済につき1回だけ
type CompensationHandler struct {
	tx      repo.TransactionManager
	gw      PaymentGateway
	retry   RetryPolicy
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	// これを超えて一時エラーが続いたらFAILEDにする
	maxAttempts int
}

func NewCompensationHandler(tx repo.TransactionManager, gw PaymentGateway, retry RetryPolicy, log *slog.Logger, m *metrics.Metrics) *CompensationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CompensationHandler{
		tx:          tx,
		gw:          gw,
		retry:       retry,
		log:         log,
		metrics:     m,
		now:         time.Now,
		maxAttempts: 5,
	}
}

func (h *CompensationHandler) Refund(ctx context.Context, in RefundInput) (model.Refund, error) {
	var rf model.Refund
	var created bool

	err := h.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, err := r.Refunds().FindByPaymentReference(ctx, in.PaymentReference)
		if err == nil {
			rf = existing
			return nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		rf, err = r.Refunds().Create(ctx, model.Refund{
			PaymentReference: in.PaymentReference,
			CheckoutID:       in.CheckoutID,
			Amount:           in.Amount,
			Currency:         in.Currency,
			Reason:           in.Reason,
			Status:           model.RefundStatusRequested,
		})
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, repo.ErrConflict) {
		//同時に別経路が作った
		return model.Refund{}, ErrRefundInProgress
	}
	if err != nil {
		return model.Refund{}, err
	}

	switch rf.Status {
	case model.RefundStatusSucceeded:
		return rf, nil
	case model.RefundStatusFailed:
		return rf, &RefundFailedError{PaymentReference: rf.PaymentReference, Reason: rf.LastError}
	}
	if !created {
		return rf, ErrRefundInProgress
	}
	return h.execute(ctx, rf)
}

// REQUESTEDのまま残った返金を同じキーで出し直す（リカバリ用）
func (h *CompensationHandler) Resume(ctx context.Context, rf model.Refund) (model.Refund, error) {
	if rf.Status != model.RefundStatusRequested {
		return rf, nil
	}
	return h.execute(ctx, rf)
}

func (h *CompensationHandler) execute(ctx context.Context, rf model.Refund) (model.Refund, error) {
	res, err := retryTransient(ctx, h.retry, func() (gateway.Refund, error) {
		return h.gw.CreateRefund(ctx, gateway.RefundParams{
			PaymentIntent:  rf.PaymentReference,
			Amount:         rf.Amount,
			Reason:         rf.Reason,
			IdempotencyKey: "refund_" + rf.PaymentReference,
		})
	})
	rf.Attempts++

	switch {
	case err == nil && res.Status != "failed":
		rf.Status = model.RefundStatusSucceeded
		rf.GatewayRefundID = res.ID
		rf.LastError = ""
	case err != nil && isTransient(err) && rf.Attempts < h.maxAttempts:
		// REQUESTEDのまま。リカバリが同じキーで出し直す
		rf.LastError = err.Error()
		if uerr := h.saveRefund(ctx, rf); uerr != nil {
			return rf, uerr
		}
		h.log.WarnContext(ctx, "refund pending after transient error",
			"payment_reference", rf.PaymentReference, "attempts", rf.Attempts, "error", err)
		return rf, ErrRefundInProgress
	default:
		rf.Status = model.RefundStatusFailed
		if err != nil {
			rf.LastError = err.Error()
		} else {
			rf.LastError = "gateway refund status failed"
			rf.GatewayRefundID = res.ID
		}
	}

	if err := h.finish(ctx, rf); err != nil {
		return rf, err
	}
	h.metrics.Refund(string(rf.Status))

	if rf.Status == model.RefundStatusFailed {
		h.metrics.RefundFailure()
		h.log.ErrorContext(ctx, "refund failed, manual intervention required",
			"alert", true,
			"payment_reference", rf.PaymentReference,
			"checkout_id", rf.CheckoutID,
			"amount", rf.Amount,
			"error", rf.LastError)
		return rf, &RefundFailedError{PaymentReference: rf.PaymentReference, Reason: rf.LastError}
	}
	h.log.InfoContext(ctx, "payment refunded",
		"payment_reference", rf.PaymentReference, "checkout_id", rf.CheckoutID, "reason", rf.Reason)
	return rf, nil
}

func (h *CompensationHandler) saveRefund(ctx context.Context, rf model.Refund) error {
	return h.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Refunds().Update(ctx, rf)
	})
}

// 返金結果・決済試行の状態・通知を1つのTxで書く
func (h *CompensationHandler) finish(ctx context.Context, rf model.Refund) error {
	now := h.now()
	return h.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if err := r.Refunds().Update(ctx, rf); err != nil {
			return err
		}

		if rf.CheckoutID != "" {
			next := model.CheckoutStatusRefunded
			if rf.Status == model.RefundStatusFailed {
				next = model.CheckoutStatusRefundFailed
			}
			a, err := r.Checkouts().LockByID(ctx, rf.CheckoutID)
			switch {
			case errors.Is(err, repo.ErrNotFound):
			case err != nil:
				return err
			case a.Status.CanMoveTo(next):
				a.Status = next
				a.FailureReason = rf.Reason
				if a.PaymentReference == nil {
					ref := rf.PaymentReference
					a.PaymentReference = &ref
				}
				if err := r.Checkouts().Update(ctx, a); err != nil {
					return err
				}
			}
		}

		if rf.Status == model.RefundStatusSucceeded {
			return enqueue(ctx, r, contracts.EventPaymentRefunded, rf.PaymentReference, contracts.PaymentRefunded{
				PaymentReference: rf.PaymentReference,
				CheckoutID:       rf.CheckoutID,
				GatewayRefundID:  rf.GatewayRefundID,
				Amount:           rf.Amount,
				Currency:         rf.Currency,
				Reason:           rf.Reason,
				RefundedAt:       now,
			})
		}
		return enqueue(ctx, r, contracts.EventRefundFailedAlert, rf.PaymentReference, contracts.Alert{
			Kind:             "refund_failed",
			PaymentReference: rf.PaymentReference,
			CheckoutID:       rf.CheckoutID,
			Detail:           rf.LastError,
			RaisedAt:         now,
		})
	})
}
