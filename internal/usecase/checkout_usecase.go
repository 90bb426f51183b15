package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/metrics"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

type CheckoutInput struct {
	AddressID        int64
	PaymentMethodRef string
	IdempotencyKey   string
	ContactEmail     string
}

type CheckoutOutput struct {
	CheckoutID       string       `json:"checkout_id"`
	Status           string       `json:"status"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	NextActionURL    string       `json:"next_action_url,omitempty"`
	Totals           Totals       `json:"totals"`
	Order            *OrderOutput `json:"order,omitempty"`
}

// 200ではなく202で返す状態（決済結果待ち・確定処理中）
func (o CheckoutOutput) Accepted() bool {
	switch model.CheckoutStatus(o.Status) {
	case model.CheckoutStatusPending, model.CheckoutStatusRequiresAction, model.CheckoutStatusCaptured:
		return true
	}
	return false
}

// スナップショット→決済→コミット、失敗時は返金
type CheckoutUsecase struct {
	tx           repo.TransactionManager
	pricing      PricingPolicy
	payments     *PaymentOrchestrator
	committer    *OrderCommitter
	compensation *CompensationHandler
	log          *slog.Logger
	metrics      *metrics.Metrics
	newID        func() string
}

func NewCheckoutUsecase(
	tx repo.TransactionManager,
	pricing PricingPolicy,
	payments *PaymentOrchestrator,
	committer *OrderCommitter,
	compensation *CompensationHandler,
	log *slog.Logger,
	m *metrics.Metrics,
) *CheckoutUsecase {
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutUsecase{
		tx:           tx,
		pricing:      pricing,
		payments:     payments,
		committer:    committer,
		compensation: compensation,
		log:          log,
		metrics:      m,
		newID:        uuid.NewString,
	}
}

func (u *CheckoutUsecase) Checkout(ctx context.Context, userID int64, in CheckoutInput) (CheckoutOutput, error) {
	if userID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.AddressID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid address_id")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}
	if strings.TrimSpace(in.PaymentMethodRef) == "" {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment_method")
	}
	email := strings.TrimSpace(in.ContactEmail)
	if email == "" || len(email) > 255 || !strings.Contains(email, "@") {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid contact_email")
	}

	attempt, replay, err := u.openAttempt(ctx, userID, key, in.AddressID, in.PaymentMethodRef, email)
	if err != nil {
		return CheckoutOutput{}, err
	}
	if replay {
		// 同じキーの再送は保存済みの状態から続ける
		return u.resume(ctx, attempt)
	}
	return u.pay(ctx, attempt)
}

// 状態確認（RequiresActionのポーリング用）
func (u *CheckoutUsecase) GetCheckout(ctx context.Context, userID int64, checkoutID string) (CheckoutOutput, error) {
	if userID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if _, err := uuid.Parse(checkoutID); err != nil {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out CheckoutOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		a, err := r.Checkouts().FindByID(ctx, checkoutID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if a.UserID != userID {
			//他人の決済は存在しない扱い
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		out, err = u.outputWithOrder(ctx, r, a)
		return err
	})
	if err != nil {
		return CheckoutOutput{}, err
	}
	return out, nil
}

// 既存の試行を返すか、カートから新しい試行を作る
func (u *CheckoutUsecase) openAttempt(ctx context.Context, userID int64, key string, addressID int64, methodRef, email string) (model.CheckoutAttempt, bool, error) {
	var attempt model.CheckoutAttempt
	var replay bool

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, found, err := r.Checkouts().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			attempt, replay = existing, true
			return nil
		}

		addr, err := r.Addresses().FindByID(ctx, addressID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if addr.UserID != userID {
			return NewHTTPError(http.StatusForbidden, "forbidden")
		}

		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return WrapHTTPError(http.StatusBadRequest, "cart empty", ErrInvalidCart)
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		// 同じカートの試行作成と確定はこのロックで順番になる
		cart, err = r.Carts().LockByID(ctx, cart.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !cart.IsOpen() {
			return WrapHTTPError(http.StatusConflict, "cart changed, please retry", ErrCartConsumed)
		}
		holder, held, err := r.Checkouts().FindHoldingCart(ctx, cart.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if held {
			return WrapHTTPError(http.StatusConflict, "checkout "+holder.ID+" is already in progress", ErrCheckoutInProgress)
		}

		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if len(items) == 0 {
			return WrapHTTPError(http.StatusBadRequest, "cart empty", ErrInvalidCart)
		}

		snaps, err := snapshotLines(ctx, r, toCartLines(items))
		if err != nil {
			return snapshotHTTPError(err)
		}
		totals := PriceLines(snaps, u.pricing)

		attempt = model.CheckoutAttempt{
			ID:               u.newID(),
			UserID:           userID,
			IdempotencyKey:   key,
			CartID:           cart.ID,
			Status:           model.CheckoutStatusPending,
			Lines:            toCheckoutLines(snaps),
			Subtotal:         totals.Subtotal,
			ShippingCost:     totals.ShippingCost,
			Tax:              totals.Tax,
			Total:            totals.Total,
			Currency:         totals.Currency,
			ShippingAddress:  addr.ToShipping(),
			ContactEmail:     email,
			PaymentMethodRef: methodRef,
		}
		return r.Checkouts().Create(ctx, attempt)
	})

	if errors.Is(err, repo.ErrConflict) {
		//同じキーが同時に来た。先に入った方を使う
		lookupErr := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			existing, found, err := r.Checkouts().FindByIdempotencyKey(ctx, userID, key)
			if err != nil {
				return err
			}
			if !found {
				return repo.ErrNotFound
			}
			attempt = existing
			return nil
		})
		if lookupErr != nil {
			return model.CheckoutAttempt{}, false, NewHTTPError(http.StatusConflict, "idempotency conflict")
		}
		return attempt, true, nil
	}
	if _, ok := AsHTTPError(err); ok {
		return model.CheckoutAttempt{}, false, err
	}
	if err != nil {
		return model.CheckoutAttempt{}, false, WrapHTTPError(http.StatusInternalServerError, "db error", err)
	}
	return attempt, replay, nil
}

func (u *CheckoutUsecase) resume(ctx context.Context, a model.CheckoutAttempt) (CheckoutOutput, error) {
	switch a.Status {
	case model.CheckoutStatusPending:
		// 同じゲートウェイキーなので二重課金にはならない
		return u.pay(ctx, a)
	case model.CheckoutStatusCaptured:
		return u.commit(ctx, a)
	case model.CheckoutStatusRequiresAction:
		return toCheckoutOutput(a, nil), nil
	case model.CheckoutStatusCompleted:
		return u.GetCheckout(ctx, a.UserID, a.ID)
	case model.CheckoutStatusDeclined:
		return CheckoutOutput{}, declinedError(a.FailureReason)
	case model.CheckoutStatusFailed:
		return CheckoutOutput{}, NewHTTPError(http.StatusBadGateway, "payment could not be processed")
	case model.CheckoutStatusCanceled:
		return CheckoutOutput{}, NewHTTPError(http.StatusConflict, "checkout canceled")
	case model.CheckoutStatusRefunded:
		return CheckoutOutput{}, WrapHTTPError(http.StatusConflict, "checkout could not be completed; payment refunded", ErrCheckoutClosed)
	case model.CheckoutStatusRefundFailed:
		return CheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, "checkout could not be completed; refund pending manual review")
	}
	return CheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, "unknown checkout status")
}

func (u *CheckoutUsecase) pay(ctx context.Context, a model.CheckoutAttempt) (CheckoutOutput, error) {
	res := u.payments.Charge(ctx, ChargeRequest{
		Amount:           a.Total,
		Currency:         a.Currency,
		PaymentMethodRef: a.PaymentMethodRef,
		IdempotencyKey:   a.ID,
		CheckoutID:       a.ID,
	})
	log := u.log.With("checkout_id", a.ID, "payment_reference", res.PaymentReference)

	switch res.Outcome {
	case PaymentSucceeded:
		updated, err := u.transition(ctx, a.ID, model.CheckoutStatusCaptured, func(x *model.CheckoutAttempt) {
			ref := res.PaymentReference
			x.PaymentReference = &ref
		})
		if err != nil {
			return u.afterTransitionError(ctx, a, err)
		}
		return u.commit(ctx, updated)

	case PaymentRequiresAction:
		updated, err := u.transition(ctx, a.ID, model.CheckoutStatusRequiresAction, func(x *model.CheckoutAttempt) {
			ref := res.PaymentReference
			x.PaymentReference = &ref
			x.NextActionURL = res.NextActionURL
		})
		if err != nil {
			return u.afterTransitionError(ctx, a, err)
		}
		u.metrics.CheckoutOutcome("requires_action")
		log.InfoContext(ctx, "payment requires action")
		return toCheckoutOutput(updated, nil), nil

	case PaymentDeclined:
		_, err := u.transition(ctx, a.ID, model.CheckoutStatusDeclined, func(x *model.CheckoutAttempt) {
			x.FailureReason = res.DeclineReason
			if res.PaymentReference != "" {
				ref := res.PaymentReference
				x.PaymentReference = &ref
			}
		})
		if err != nil {
			return u.afterTransitionError(ctx, a, err)
		}
		u.metrics.CheckoutOutcome("declined")
		log.InfoContext(ctx, "payment declined", "reason", res.DeclineReason)
		return CheckoutOutput{}, declinedError(res.DeclineReason)
	}

	// GatewayError
	if res.Transient {
		// 課金されたか不明。PENDINGのまま残してWebhookか再送で確定させる
		u.metrics.CheckoutOutcome("gateway_transient")
		return CheckoutOutput{}, WrapHTTPError(http.StatusServiceUnavailable, "payment service unavailable, please try again", res.Err)
	}
	if _, err := u.transition(ctx, a.ID, model.CheckoutStatusFailed, func(x *model.CheckoutAttempt) {
		if res.Err != nil {
			x.FailureReason = res.Err.Error()
		}
	}); err != nil {
		log.ErrorContext(ctx, "record failed checkout", "error", err)
	}
	u.metrics.CheckoutOutcome("gateway_permanent")
	return CheckoutOutput{}, WrapHTTPError(http.StatusBadGateway, "payment could not be processed", res.Err)
}

// 決済済みの試行を注文にする。在庫切れなら返金
func (u *CheckoutUsecase) commit(ctx context.Context, a model.CheckoutAttempt) (CheckoutOutput, error) {
	ref := a.Reference()
	log := u.log.With("checkout_id", a.ID, "payment_reference", ref)

	_, err := u.committer.Commit(ctx, CommitInputFromAttempt(a, ref))
	if err == nil {
		u.metrics.CheckoutOutcome("completed")
		return u.GetCheckout(ctx, a.UserID, a.ID)
	}

	if isUnfulfillable(err) {
		log.WarnContext(ctx, "commit failed after capture, compensating", "error", err)
		_, cerr := u.compensation.Refund(ctx, RefundInput{
			PaymentReference: ref,
			CheckoutID:       a.ID,
			Amount:           a.Total,
			Currency:         a.Currency,
			Reason:           refundReasonFor(err),
		})
		u.metrics.CheckoutOutcome("compensated")

		cause := "insufficient inventory"
		if errors.Is(err, ErrCartConsumed) {
			cause = "cart already checked out"
		}
		var rfe *RefundFailedError
		switch {
		case cerr == nil:
			return CheckoutOutput{}, WrapHTTPError(http.StatusConflict, cause+"; payment refunded", err)
		case errors.Is(cerr, ErrRefundInProgress):
			return CheckoutOutput{}, WrapHTTPError(http.StatusConflict, cause+"; refund in progress", err)
		case errors.As(cerr, &rfe):
			return CheckoutOutput{}, WrapHTTPError(http.StatusInternalServerError, cause+"; refund failed", cerr)
		default:
			// 返金行が書けなかった。CAPTUREDのままなのでリカバリが拾う
			log.ErrorContext(ctx, "compensation could not start", "error", cerr)
			return CheckoutOutput{}, WrapHTTPError(http.StatusInternalServerError, "checkout could not be completed", cerr)
		}
	}

	if errors.Is(err, ErrCheckoutClosed) {
		//Webhook側が先に確定・返金した
		current, ferr := u.load(ctx, a.ID)
		if ferr != nil {
			return CheckoutOutput{}, WrapHTTPError(http.StatusInternalServerError, "db error", ferr)
		}
		return u.resume(ctx, current)
	}

	// 保存エラー。決済はCAPTUREDで記録済みなのでWebhook/リカバリで確定する
	log.ErrorContext(ctx, "commit failed after capture", "error", err)
	u.metrics.CheckoutOutcome("commit_deferred")
	return toCheckoutOutput(a, nil), nil
}

// 状態遷移を1Txで保存する
func (u *CheckoutUsecase) transition(ctx context.Context, id string, to model.CheckoutStatus, mutate func(*model.CheckoutAttempt)) (model.CheckoutAttempt, error) {
	var out model.CheckoutAttempt
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		a, err := r.Checkouts().LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !a.Status.CanMoveTo(to) {
			return ErrCheckoutClosed
		}
		a.Status = to
		mutate(&a)
		if err := r.Checkouts().Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// 遷移できなかった＝Webhookが先に進めた。保存エラーならPENDINGのまま返す
func (u *CheckoutUsecase) afterTransitionError(ctx context.Context, a model.CheckoutAttempt, err error) (CheckoutOutput, error) {
	if errors.Is(err, ErrCheckoutClosed) {
		current, ferr := u.load(ctx, a.ID)
		if ferr == nil {
			return u.resume(ctx, current)
		}
	}
	u.log.ErrorContext(ctx, "record payment result", "checkout_id", a.ID, "error", err)
	return toCheckoutOutput(a, nil), nil
}

func (u *CheckoutUsecase) load(ctx context.Context, id string) (model.CheckoutAttempt, error) {
	var a model.CheckoutAttempt
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		found, err := r.Checkouts().FindByID(ctx, id)
		a = found
		return err
	})
	return a, err
}

func (u *CheckoutUsecase) outputWithOrder(ctx context.Context, r repo.TxRepos, a model.CheckoutAttempt) (CheckoutOutput, error) {
	if a.OrderID == nil {
		return toCheckoutOutput(a, nil), nil
	}
	o, err := r.Orders().FindByID(ctx, *a.OrderID)
	if err != nil {
		return CheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return CheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	out := toOrderOutput(o, items)
	return toCheckoutOutput(a, &out), nil
}

func toCheckoutOutput(a model.CheckoutAttempt, order *OrderOutput) CheckoutOutput {
	return CheckoutOutput{
		CheckoutID:       a.ID,
		Status:           string(a.Status),
		PaymentReference: a.Reference(),
		NextActionURL:    a.NextActionURL,
		Totals: Totals{
			Subtotal:     a.Subtotal,
			ShippingCost: a.ShippingCost,
			Tax:          a.Tax,
			Total:        a.Total,
			Currency:     a.Currency,
		},
		Order: order,
	}
}

func declinedError(reason string) error {
	msg := "payment declined"
	if reason != "" {
		msg += ": " + reason
	}
	return NewHTTPError(http.StatusPaymentRequired, msg)
}

func snapshotHTTPError(err error) error {
	var inv *InsufficientInventoryError
	var nf *ProductNotFoundError
	switch {
	case errors.As(err, &inv):
		return WrapHTTPError(http.StatusConflict, "insufficient inventory", err)
	case errors.As(err, &nf):
		return WrapHTTPError(http.StatusBadRequest, "product not found", err)
	case errors.Is(err, ErrInvalidCart):
		return WrapHTTPError(http.StatusBadRequest, "invalid cart", err)
	}
	return WrapHTTPError(http.StatusInternalServerError, "db error", err)
}
