package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

type RecoveryReport struct {
	Committed   int
	Compensated int
	Refunds     int
	Failed      int
}

// 決済済みで止まった試行と、結果待ちの返金を拾い直す
type Recovery struct {
	tx           repo.TransactionManager
	committer    *OrderCommitter
	compensation *CompensationHandler
	log          *slog.Logger
	staleAfter   time.Duration
	batch        int
	now          func() time.Time
}

func NewRecovery(tx repo.TransactionManager, committer *OrderCommitter, compensation *CompensationHandler, staleAfter time.Duration, log *slog.Logger) *Recovery {
	if log == nil {
		log = slog.Default()
	}
	return &Recovery{
		tx:           tx,
		committer:    committer,
		compensation: compensation,
		log:          log,
		staleAfter:   staleAfter,
		batch:        50,
		now:          time.Now,
	}
}

func (r *Recovery) Sweep(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	before := r.now().Add(-r.staleAfter)

	var attempts []model.CheckoutAttempt
	var refunds []model.Refund
	err := r.tx.WithinTx(ctx, func(tx repo.TxRepos) error {
		var err error
		attempts, err = tx.Checkouts().ListStale(ctx, []model.CheckoutStatus{model.CheckoutStatusCaptured}, before, r.batch)
		if err != nil {
			return err
		}
		refunds, err = tx.Refunds().ListByStatus(ctx, model.RefundStatusRequested, before, r.batch)
		return err
	})
	if err != nil {
		return rep, err
	}

	for _, a := range attempts {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		r.recoverCaptured(ctx, a, &rep)
	}
	for _, rf := range refunds {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		_, err := r.compensation.Resume(ctx, rf)
		switch {
		case err == nil:
			rep.Refunds++
		case errors.Is(err, ErrRefundInProgress):
		default:
			rep.Failed++
		}
	}

	if rep != (RecoveryReport{}) {
		r.log.InfoContext(ctx, "recovery sweep",
			"committed", rep.Committed, "compensated", rep.Compensated, "refunds", rep.Refunds, "failed", rep.Failed)
	}
	return rep, nil
}

func (r *Recovery) recoverCaptured(ctx context.Context, a model.CheckoutAttempt, rep *RecoveryReport) {
	ref := a.Reference()
	log := r.log.With("checkout_id", a.ID, "payment_reference", ref)

	_, err := r.committer.Commit(ctx, CommitInputFromAttempt(a, ref))
	if err == nil {
		rep.Committed++
		return
	}
	if errors.Is(err, ErrCheckoutClosed) {
		return
	}
	if !isUnfulfillable(err) {
		log.ErrorContext(ctx, "recover captured checkout", "error", err)
		rep.Failed++
		return
	}

	_, cerr := r.compensation.Refund(ctx, RefundInput{
		PaymentReference: ref,
		CheckoutID:       a.ID,
		Amount:           a.Total,
		Currency:         a.Currency,
		Reason:           refundReasonFor(err),
	})
	if cerr != nil && !errors.Is(cerr, ErrRefundInProgress) {
		rep.Failed++
		return
	}
	rep.Compensated++
}
