package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
	"github.com/rs-labo46/ec-checkout/internal/infra/memstore"
	repo "github.com/rs-labo46/ec-checkout/internal/repository"
)

// =====================
// Gateway mock
// =====================

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreatePaymentIntent(ctx context.Context, p gateway.CreateIntentParams) (gateway.PaymentIntent, error) {
	args := m.Called(ctx, p)
	if fn, ok := args.Get(0).(func(context.Context, gateway.CreateIntentParams) gateway.PaymentIntent); ok {
		return fn(ctx, p), args.Error(1)
	}
	pi, _ := args.Get(0).(gateway.PaymentIntent)
	return pi, args.Error(1)
}

func (m *GatewayMock) ConfirmPaymentIntent(ctx context.Context, id string, idempotencyKey string) (gateway.PaymentIntent, error) {
	args := m.Called(ctx, id, idempotencyKey)
	pi, _ := args.Get(0).(gateway.PaymentIntent)
	return pi, args.Error(1)
}

func (m *GatewayMock) CreateRefund(ctx context.Context, p gateway.RefundParams) (gateway.Refund, error) {
	args := m.Called(ctx, p)
	rf, _ := args.Get(0).(gateway.Refund)
	return rf, args.Error(1)
}

// =====================
// fixture
// =====================

const testUserID int64 = 1

type fixture struct {
	store        *memstore.Store
	gw           *GatewayMock
	committer    *OrderCommitter
	compensation *CompensationHandler
	checkout     *CheckoutUsecase
	reconciler   *Reconciler
	recovery     *Recovery
	orders       *OrderUsecase
	carts        *CartUsecase

	product model.Product
	address model.Address
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func testPricing() PricingPolicy {
	return PricingPolicy{Currency: "USD", TaxRate: decimal.Zero}
}

// 価格1000・在庫5の商品1つと、ユーザー1の住所
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	gw := &GatewayMock{}
	log := discardLogger()

	committer := NewOrderCommitter(store, log, nil)
	compensation := NewCompensationHandler(store, gw, testRetry(), log, nil)
	payments := NewPaymentOrchestrator(gw, testRetry(), log)

	f := &fixture{
		store:        store,
		gw:           gw,
		committer:    committer,
		compensation: compensation,
		checkout:     NewCheckoutUsecase(store, testPricing(), payments, committer, compensation, log, nil),
		reconciler:   NewReconciler(store, gateway.NewVerifier("whsec_test", 5*time.Minute), committer, compensation, nil, log, nil),
		recovery:     NewRecovery(store, committer, compensation, time.Minute, log),
		orders:       NewOrderUsecase(store),
		carts:        NewCartUsecase(store, testPricing()),
	}
	f.product = store.SeedProduct(model.Product{Name: "Widget", Price: 1000, Stock: 5, IsActive: true})
	f.address = store.SeedAddress(model.Address{
		UserID:     testUserID,
		Name:       "Taro",
		PostalCode: "100-0001",
		Prefecture: "Tokyo",
		City:       "Chiyoda",
		Line1:      "1-1",
	})
	return f
}

func (f *fixture) input(key string) CheckoutInput {
	return CheckoutInput{
		AddressID:        f.address.ID,
		PaymentMethodRef: "pm_card_visa",
		IdempotencyKey:   key,
		ContactEmail:     "taro@example.com",
	}
}

// 成功するPaymentIntentを返す（IDはpay_<checkoutID>）
func succeededIntent(p gateway.CreateIntentParams) gateway.PaymentIntent {
	return gateway.PaymentIntent{
		ID:       "pay_" + p.CheckoutID,
		Status:   gateway.StatusSucceeded,
		Amount:   p.Amount,
		Currency: p.Currency,
		Metadata: map[string]string{gateway.MetadataCheckoutID: p.CheckoutID},
	}
}

func (f *fixture) chargeSucceeds() *mock.Call {
	return f.gw.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return(func(_ context.Context, p gateway.CreateIntentParams) gateway.PaymentIntent {
			return succeededIntent(p)
		}, nil)
}

func (f *fixture) refundSucceeds() *mock.Call {
	return f.gw.On("CreateRefund", mock.Anything, mock.Anything).
		Return(gateway.Refund{ID: "re_1", Status: "succeeded"}, nil)
}

// 在庫を直接減らす（他の購入が先に入った状態を作る）
func (f *fixture) takeStock(t *testing.T, productID, qty int64) {
	t.Helper()
	err := f.store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		_, ok, err := r.Inventory().Decrease(context.Background(), productID, qty)
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)
}

// PENDINGの試行を直接作る（Webhook経路のテスト用）。カートはユーザーのACTIVEカート
func (f *fixture) seedAttempt(t *testing.T, id string, qty int64) model.CheckoutAttempt {
	t.Helper()
	a := model.CheckoutAttempt{
		ID:             id,
		UserID:         testUserID,
		IdempotencyKey: "key-" + id,
		Status:         model.CheckoutStatusPending,
		Lines: []model.CheckoutLine{
			{ProductID: f.product.ID, Name: f.product.Name, UnitPrice: f.product.Price, Quantity: qty},
		},
		Subtotal:         f.product.Price * qty,
		Total:            f.product.Price * qty,
		Currency:         "USD",
		ShippingAddress:  f.address.ToShipping(),
		ContactEmail:     "taro@example.com",
		PaymentMethodRef: "pm_card_visa",
	}
	err := f.store.WithinTx(context.Background(), func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateActiveByUserID(context.Background(), testUserID)
		if err != nil {
			return err
		}
		a.CartID = cart.ID
		return r.Checkouts().Create(context.Background(), a)
	})
	require.NoError(t, err)
	return f.store.Checkout(id)
}
