package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 注文を1件作って返す
func (f *fixture) placeOrder(t *testing.T, key string, qty int64) CheckoutOutput {
	t.Helper()
	f.store.SeedCartItem(testUserID, f.product.ID, qty)
	out, err := f.checkout.Checkout(context.Background(), testUserID, f.input(key))
	require.NoError(t, err)
	require.NotNil(t, out.Order)
	return out
}

func TestListMyOrders(t *testing.T) {
	f := newFixture(t)
	f.chargeSucceeds()
	f.placeOrder(t, "key-1", 1)
	f.placeOrder(t, "key-2", 2)

	list, err := f.orders.ListMyOrders(context.Background(), testUserID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)
	require.Len(t, list.Items, 1)
	// 新しい順
	assert.Equal(t, int64(2000), list.Items[0].Subtotal)
	require.Len(t, list.Items[0].Items, 1)
	assert.Equal(t, "Widget", list.Items[0].Items[0].Name)

	other, err := f.orders.ListMyOrders(context.Background(), 2, 1, 20)
	require.NoError(t, err)
	assert.Zero(t, other.Total)
	assert.NotNil(t, other.Items)
}

func TestListMyOrders_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name        string
		userID      int64
		page, limit int
		status      int
	}{
		{"no user", 0, 1, 20, http.StatusUnauthorized},
		{"page zero", testUserID, 0, 20, http.StatusBadRequest},
		{"limit zero", testUserID, 1, 0, http.StatusBadRequest},
		{"limit too large", testUserID, 1, 101, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orders.ListMyOrders(context.Background(), tc.userID, tc.page, tc.limit)
			requireHTTPStatus(t, err, tc.status)
		})
	}
}

func TestGetMyOrderDetail(t *testing.T) {
	f := newFixture(t)
	f.chargeSucceeds()
	out := f.placeOrder(t, "key-1", 2)

	got, err := f.orders.GetMyOrderDetail(context.Background(), testUserID, out.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, out.CheckoutID, got.CheckoutID)
	assert.Equal(t, "pay_"+out.CheckoutID, got.PaymentReference)
	assert.Equal(t, "Taro", got.ShippingAddress.Name)
	assert.Equal(t, got.Subtotal+got.ShippingCost+got.Tax, got.Total)

	_, err = f.orders.GetMyOrderDetail(context.Background(), 2, out.Order.ID)
	requireHTTPStatus(t, err, http.StatusNotFound)

	_, err = f.orders.GetMyOrderDetail(context.Background(), testUserID, 9999)
	requireHTTPStatus(t, err, http.StatusNotFound)

	_, err = f.orders.GetMyOrderDetail(context.Background(), testUserID, 0)
	requireHTTPStatus(t, err, http.StatusBadRequest)
}

func TestListMyOrders_ItemLookupFails(t *testing.T) {
	f := newFixture(t)
	f.chargeSucceeds()
	f.placeOrder(t, "key-1", 1)
	f.store.FailOn("order_items.list", errors.New("db down"))

	_, err := f.orders.ListMyOrders(context.Background(), testUserID, 1, 20)
	requireHTTPStatus(t, err, http.StatusInternalServerError)
}

// 確定したカートは閉じて、次の追加は新しいカートに入る
func TestPlacedOrderClosesCart(t *testing.T) {
	f := newFixture(t)
	f.chargeSucceeds()
	f.placeOrder(t, "key-1", 2)
	assert.Empty(t, f.store.CartItemsOf(testUserID))

	cart, err := f.carts.AddToCart(context.Background(), testUserID, AddCartInput{ProductID: f.product.ID, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(1), cart.Items[0].Quantity)
}
