package usecase

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rs-labo46/ec-checkout/internal/domain/model"
)

func TestCart_AddDuplicateUpdateDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 初回は空
	cart, err := f.carts.GetCart(ctx, testUserID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Subtotal)

	_, err = f.carts.AddToCart(ctx, testUserID, AddCartInput{ProductID: f.product.ID, Quantity: 2})
	require.NoError(t, err)
	// 同じ商品は数量加算
	cart, err = f.carts.AddToCart(ctx, testUserID, AddCartInput{ProductID: f.product.ID, Quantity: 1})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(3), cart.Items[0].Quantity)
	assert.Equal(t, int64(3000), cart.Subtotal)
	assert.True(t, cart.Items[0].InStock)

	_, err = f.carts.AddToCart(ctx, testUserID, AddCartInput{ProductID: f.product.ID, Quantity: 3})
	he := requireHTTPStatus(t, err, http.StatusBadRequest)
	assert.Equal(t, "stock exceeded", he.Message)

	itemID := cart.Items[0].ID
	cart, err = f.carts.UpdateCartItem(ctx, testUserID, itemID, UpdateCartItemInput{Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), cart.Estimate.Total)

	_, err = f.carts.UpdateCartItem(ctx, testUserID, itemID, UpdateCartItemInput{Quantity: 6})
	requireHTTPStatus(t, err, http.StatusBadRequest)

	// 他人の明細は見えない
	_, err = f.carts.UpdateCartItem(ctx, 2, itemID, UpdateCartItemInput{Quantity: 1})
	requireHTTPStatus(t, err, http.StatusNotFound)
	_, err = f.carts.DeleteCartItem(ctx, 2, itemID)
	requireHTTPStatus(t, err, http.StatusNotFound)

	cart, err = f.carts.DeleteCartItem(ctx, testUserID, itemID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCart_RejectsInactiveAndUnknownProducts(t *testing.T) {
	f := newFixture(t)
	hidden := f.store.SeedProduct(model.Product{Name: "Hidden", Price: 100, Stock: 10, IsActive: false})

	_, err := f.carts.AddToCart(context.Background(), testUserID, AddCartInput{ProductID: hidden.ID, Quantity: 1})
	requireHTTPStatus(t, err, http.StatusBadRequest)
	_, err = f.carts.AddToCart(context.Background(), testUserID, AddCartInput{ProductID: 9999, Quantity: 1})
	requireHTTPStatus(t, err, http.StatusBadRequest)
	_, err = f.carts.AddToCart(context.Background(), testUserID, AddCartInput{ProductID: f.product.ID, Quantity: 0})
	requireHTTPStatus(t, err, http.StatusBadRequest)
	_, err = f.carts.GetCart(context.Background(), 0)
	requireHTTPStatus(t, err, http.StatusUnauthorized)
}

// カートは現在価格で見積もる
func TestCart_EstimateFollowsCatalogPrice(t *testing.T) {
	f := newFixture(t)
	f.carts.pricing = PricingPolicy{
		Currency:              "USD",
		TaxRate:               decimal.RequireFromString("0.1"),
		ShippingFlat:          500,
		FreeShippingThreshold: 3000,
	}
	f.store.SeedCartItem(testUserID, f.product.ID, 2)

	cart, err := f.carts.GetCart(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), cart.Estimate.Subtotal)
	assert.Equal(t, int64(500), cart.Estimate.ShippingCost)
	assert.Equal(t, int64(200), cart.Estimate.Tax)
	assert.Equal(t, int64(2700), cart.Estimate.Total)

	f.store.SetPrice(f.product.ID, 1500)
	cart, err = f.carts.GetCart(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), cart.Items[0].Price)
	assert.Equal(t, int64(0), cart.Estimate.ShippingCost)
	assert.Equal(t, int64(3300), cart.Estimate.Total)
}

// 確定済みカートの明細は購入履歴なので変更できない
func TestCart_CheckedOutItemsAreFrozen(t *testing.T) {
	f := newFixture(t)
	f.chargeSucceeds()
	ctx := context.Background()

	f.store.SeedCartItem(testUserID, f.product.ID, 1)
	items := f.store.CartItemsOf(testUserID)
	require.Len(t, items, 1)

	out, err := f.checkout.Checkout(ctx, testUserID, f.input("key-1"))
	require.NoError(t, err)
	require.NotNil(t, out.Order)

	_, err = f.carts.UpdateCartItem(ctx, testUserID, items[0].ID, UpdateCartItemInput{Quantity: 3})
	requireHTTPStatus(t, err, http.StatusNotFound)
	_, err = f.carts.DeleteCartItem(ctx, testUserID, items[0].ID)
	requireHTTPStatus(t, err, http.StatusNotFound)
}
