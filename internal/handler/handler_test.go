package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
	"github.com/rs-labo46/ec-checkout/internal/infra/gateway"
	"github.com/rs-labo46/ec-checkout/internal/infra/memstore"
	"github.com/rs-labo46/ec-checkout/internal/middleware"
	"github.com/rs-labo46/ec-checkout/internal/usecase"
)

const (
	testSecret  = "test-secret"
	hookSecret  = "whsec_test"
	testUserID  = int64(1)
	otherUserID = int64(2)
)

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) CreatePaymentIntent(ctx context.Context, p gateway.CreateIntentParams) (gateway.PaymentIntent, error) {
	args := m.Called(ctx, p)
	if fn, ok := args.Get(0).(func(gateway.CreateIntentParams) gateway.PaymentIntent); ok {
		return fn(p), args.Error(1)
	}
	pi, _ := args.Get(0).(gateway.PaymentIntent)
	return pi, args.Error(1)
}

func (m *GatewayMock) ConfirmPaymentIntent(ctx context.Context, id string, key string) (gateway.PaymentIntent, error) {
	args := m.Called(ctx, id, key)
	pi, _ := args.Get(0).(gateway.PaymentIntent)
	return pi, args.Error(1)
}

func (m *GatewayMock) CreateRefund(ctx context.Context, p gateway.RefundParams) (gateway.Refund, error) {
	args := m.Called(ctx, p)
	rf, _ := args.Get(0).(gateway.Refund)
	return rf, args.Error(1)
}

type testApp struct {
	e       *echo.Echo
	store   *memstore.Store
	gw      *GatewayMock
	product model.Product
	address model.Address
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := memstore.New()
	gw := &GatewayMock{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	retry := usecase.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	pricing := usecase.PricingPolicy{Currency: "USD", TaxRate: decimal.Zero}

	committer := usecase.NewOrderCommitter(store, log, nil)
	compensation := usecase.NewCompensationHandler(store, gw, retry, log, nil)
	checkout := usecase.NewCheckoutUsecase(store, pricing, usecase.NewPaymentOrchestrator(gw, retry, log), committer, compensation, log, nil)
	reconciler := usecase.NewReconciler(store, gateway.NewVerifier(hookSecret, 5*time.Minute), committer, compensation, nil, log, nil)

	e := echo.New()
	auth := middleware.AuthJWT(testSecret)
	NewProductHandler(usecase.NewProductUsecase(store)).RegisterRoutes(e)
	NewAddressHandler(usecase.NewAddressUsecase(store)).RegisterRoutes(e, auth)
	NewCartHandler(usecase.NewCartUsecase(store, pricing)).RegisterRoutes(e, auth)
	NewCheckoutHandler(checkout).RegisterRoutes(e, auth)
	NewOrderHandler(usecase.NewOrderUsecase(store)).RegisterRoutes(e, auth)
	NewWebhookHandler(reconciler).RegisterRoutes(e)

	return &testApp{
		e:       e,
		store:   store,
		gw:      gw,
		product: store.SeedProduct(model.Product{Name: "Widget", Price: 1000, Stock: 5, IsActive: true}),
		address: store.SeedAddress(model.Address{UserID: testUserID, Name: "Taro", Line1: "1-1"}),
	}
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (a *testApp) do(t *testing.T, method, path string, userID int64, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID > 0 {
		req.Header.Set("Authorization", bearer(t, userID))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) checkoutBody() CheckoutRequest {
	return CheckoutRequest{AddressID: a.address.ID, PaymentMethod: "pm_card_visa", ContactEmail: "taro@example.com"}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func succeeded(p gateway.CreateIntentParams) gateway.PaymentIntent {
	return gateway.PaymentIntent{
		ID:       "pay_" + p.CheckoutID,
		Status:   gateway.StatusSucceeded,
		Amount:   p.Amount,
		Metadata: map[string]string{gateway.MetadataCheckoutID: p.CheckoutID},
	}
}

func TestCheckoutFlow_CartToOrder(t *testing.T) {
	a := newTestApp(t)
	a.gw.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(succeeded, nil)

	rec := a.do(t, http.MethodPost, "/cart", testUserID, AddCartRequest{ProductID: a.product.ID, Quantity: 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cart := decode[usecase.CartResponse](t, rec)
	assert.Equal(t, int64(2000), cart.Subtotal)

	headers := map[string]string{IdempotencyHeader: "key-1"}
	rec = a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.CheckoutOutput](t, rec)
	assert.Equal(t, string(model.CheckoutStatusCompleted), out.Status)
	require.NotNil(t, out.Order)
	assert.Equal(t, int64(2000), out.Order.Total)

	// 同じキーの再送は同じ結果
	rec = a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, out.Order.ID, decode[usecase.CheckoutOutput](t, rec).Order.ID)

	rec = a.do(t, http.MethodGet, "/checkout/"+out.CheckoutID, testUserID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/orders?page=1&limit=10", testUserID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[usecase.OrderListOutput](t, rec)
	assert.Equal(t, int64(1), list.Total)

	rec = a.do(t, http.MethodGet, "/orders/"+strconv.FormatInt(out.Order.ID, 10), otherUserID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/cart", testUserID, nil, nil)
	assert.Empty(t, decode[usecase.CartResponse](t, rec).Items)
	a.gw.AssertNumberOfCalls(t, "CreatePaymentIntent", 1)
}

func TestCheckout_Errors(t *testing.T) {
	a := newTestApp(t)

	rec := a.do(t, http.MethodPost, "/checkout", 0, a.checkoutBody(), map[string]string{IdempotencyHeader: "k"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid idempotency_key", decode[ErrorResponse](t, rec).Error)

	// カートが空
	rec = a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), map[string]string{IdempotencyHeader: "k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	a.store.SeedCartItem(testUserID, a.product.ID, 9)
	rec = a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), map[string]string{IdempotencyHeader: "k2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodGet, "/checkout/not-a-uuid", testUserID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/orders?page=x", testUserID, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckout_RequiresActionIsAccepted(t *testing.T) {
	a := newTestApp(t)
	a.store.SeedCartItem(testUserID, a.product.ID, 1)
	a.gw.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(gateway.PaymentIntent{
		ID:         "pay_3ds",
		Status:     gateway.StatusRequiresAction,
		NextAction: &gateway.NextAction{RedirectURL: "https://bank.example/3ds"},
	}, nil)

	rec := a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), map[string]string{IdempotencyHeader: "k"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	out := decode[usecase.CheckoutOutput](t, rec)
	assert.Equal(t, "https://bank.example/3ds", out.NextActionURL)

	// 認証待ちの間は別キーで同じカートを決済できない
	rec = a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), map[string]string{IdempotencyHeader: "k2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, out.CheckoutID)
	a.gw.AssertNumberOfCalls(t, "CreatePaymentIntent", 1)
}

func TestCheckout_DeclinedIs402(t *testing.T) {
	a := newTestApp(t)
	a.store.SeedCartItem(testUserID, a.product.ID, 1)
	a.gw.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return(nil, &gateway.Error{Kind: gateway.KindDeclined, StatusCode: 402, Reason: "card_declined"})

	rec := a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), map[string]string{IdempotencyHeader: "k"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "card_declined")
}

func TestWebhook(t *testing.T) {
	a := newTestApp(t)
	a.store.SeedCartItem(testUserID, a.product.ID, 1)
	a.gw.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return(func(p gateway.CreateIntentParams) gateway.PaymentIntent {
			return gateway.PaymentIntent{
				ID:         "pay_hook",
				Status:     gateway.StatusRequiresAction,
				Metadata:   map[string]string{gateway.MetadataCheckoutID: p.CheckoutID},
				NextAction: &gateway.NextAction{RedirectURL: "https://bank.example/3ds"},
			}
		}, nil)
	rec := a.do(t, http.MethodPost, "/checkout", testUserID, a.checkoutBody(), map[string]string{IdempotencyHeader: "k"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body, err := json.Marshal(gateway.Event{
		ID:   "evt_1",
		Type: gateway.EventPaymentSucceeded,
		Data: gateway.EventData{Object: gateway.PaymentIntent{ID: "pay_hook", Status: gateway.StatusSucceeded, Amount: 1000}},
	})
	require.NoError(t, err)

	send := func(sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
		req.Header.Set(gateway.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		a.e.ServeHTTP(rec, req)
		return rec
	}

	rec = send(gateway.Sign("whsec_wrong", body, time.Now()))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid signature", decode[ErrorResponse](t, rec).Error)

	rec = send(gateway.Sign(hookSecret, body, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, usecase.AckCommitted, decode[usecase.WebhookResult](t, rec).Outcome)

	rec = send(gateway.Sign(hookSecret, body, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.AckDuplicate, decode[usecase.WebhookResult](t, rec).Outcome)

	assert.Len(t, a.store.AllOrders(), 1)
	assert.Equal(t, int64(4), a.store.Product(a.product.ID).Stock)
}

func TestHandler_ProductsArePublic(t *testing.T) {
	a := newTestApp(t)
	hidden := a.store.SeedProduct(model.Product{Name: "Hidden", Price: 10, Stock: 1})

	rec := a.do(t, http.MethodGet, "/products?sort=price_asc", 0, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[usecase.ProductListOutput](t, rec)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, a.product.ID, list.Items[0].ID)

	rec = a.do(t, http.MethodGet, "/products/"+strconv.FormatInt(hidden.ID, 10), 0, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/products?min_price=abc", 0, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/products?sort=random", 0, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_AddressesThenCheckout(t *testing.T) {
	a := newTestApp(t)
	a.gw.On("CreatePaymentIntent", mock.Anything, mock.Anything).Return(succeeded, nil)

	rec := a.do(t, http.MethodPost, "/addresses", 0, usecase.AddressCreateInput{Name: "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodPost, "/addresses", otherUserID, usecase.AddressCreateInput{Name: "Jiro"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/addresses", otherUserID, usecase.AddressCreateInput{
		PostalCode: "530-0001", Prefecture: "Osaka", City: "Kita", Line1: "2-2", Name: "Jiro",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Address](t, rec)
	assert.True(t, created.IsDefault)

	rec = a.do(t, http.MethodGet, "/addresses", otherUserID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Address](t, rec), 1)

	rec = a.do(t, http.MethodPost, "/cart", otherUserID, AddCartRequest{ProductID: a.product.ID, Quantity: 1}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/checkout", otherUserID,
		CheckoutRequest{AddressID: created.ID, PaymentMethod: "pm_card_visa", ContactEmail: "jiro@example.com"},
		map[string]string{IdempotencyHeader: "addr-key"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[usecase.CheckoutOutput](t, rec)
	require.NotNil(t, out.Order)
	assert.Equal(t, "Osaka", out.Order.ShippingAddress.Prefecture)
}
