package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
)

// 決済済み（CAPTURED）で止まった試行を作る
func (f *fixture) seedCaptured(t *testing.T, id string, qty int64, ref string) {
	t.Helper()
	f.seedAttempt(t, id, qty)
	_, err := f.checkout.transition(context.Background(), id, model.CheckoutStatusCaptured, func(a *model.CheckoutAttempt) {
		a.PaymentReference = &ref
	})
	require.NoError(t, err)
}

func (f *fixture) sweepLater() func() time.Time {
	return func() time.Time { return time.Now().Add(time.Hour) }
}

func TestSweep_CommitsStaleCaptured(t *testing.T) {
	f := newFixture(t)
	f.store.SeedCartItem(testUserID, f.product.ID, 2)
	f.seedCaptured(t, checkoutA, 2, "pay_123")

	// まだ新しいものは触らない
	rep, err := f.recovery.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{}, rep)
	assert.Empty(t, f.store.AllOrders())

	f.recovery.now = f.sweepLater()
	rep, err = f.recovery.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Committed)

	assert.Len(t, f.store.AllOrders(), 1)
	assert.Equal(t, model.CheckoutStatusCompleted, f.store.Checkout(checkoutA).Status)
	assert.Equal(t, int64(3), f.store.Product(f.product.ID).Stock)

	// 2回目は何もしない
	rep, err = f.recovery.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{}, rep)
}

func TestSweep_CompensatesUnfulfillableCaptured(t *testing.T) {
	f := newFixture(t)
	f.seedCaptured(t, checkoutA, 2, "pay_123")
	f.takeStock(t, f.product.ID, 5)
	f.refundSucceeds()
	f.recovery.now = f.sweepLater()

	rep, err := f.recovery.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Compensated)
	assert.Empty(t, f.store.AllOrders())
	assert.Equal(t, model.CheckoutStatusRefunded, f.store.Checkout(checkoutA).Status)
	f.gw.AssertNumberOfCalls(t, "CreateRefund", 1)
}

func TestSweep_ResumesRequestedRefunds(t *testing.T) {
	f := newFixture(t)
	f.seedAttempt(t, checkoutA, 2)
	f.gw.On("CreateRefund", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Kind: gateway.KindTransient}).Times(3)
	f.refundSucceeds()

	_, err := f.compensation.Refund(context.Background(), refundInput())
	require.ErrorIs(t, err, ErrRefundInProgress)

	f.recovery.now = f.sweepLater()
	rep, err := f.recovery.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Refunds)

	refunds := f.store.AllRefunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, model.RefundStatusSucceeded, refunds[0].Status)
	assert.Equal(t, model.CheckoutStatusRefunded, f.store.Checkout(checkoutA).Status)
}

func TestSweep_StopsOnCanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.recovery.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
